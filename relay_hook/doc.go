// Package relayhook relays docflow lifecycle events to an HTTP endpoint.
// When registered as an extension, it posts one JSON envelope per event
// (docflow.run.completed, docflow.step.failed, etc.) through a
// notify.Sink, so deliveries share the sink's rate limit, secret header
// and deduplication.
//
// Usage:
//
//	sink := notify.NewHTTPSink()
//	hook := relayhook.New(sink, "https://hooks.example.com/docflow")
//	engine.WithExtension(hook)
//
// To restrict which events are emitted:
//
//	hook := relayhook.New(sink, url,
//	    relayhook.WithEvents(
//	        relayhook.EventRunFailed,
//	        relayhook.EventRunSuspended,
//	    ),
//	)
package relayhook
