// Package audithook is a docflow extension that streams run and step
// lifecycle events to an audit backend as they happen.
//
// The executor already writes one audit batch per run when the run stops.
// This extension is for deployments that also want every event delivered
// as it occurs, for example to a SIEM. Each hook emits a structured
// [AuditEvent] through the [Recorder] interface with a severity (info for
// normal progress, warning for retries and suspensions, critical for
// failures) and metadata.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return siem.Send(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionStepFailed,
//	        audithook.ActionRunFailed,
//	    ),
//	)
package audithook
