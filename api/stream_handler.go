package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/scope"
	"github.com/medocr/docflow/stream"
)

// heartbeatInterval spaces the SSE comment lines that keep idle
// connections open through proxies.
const heartbeatInterval = 15 * time.Second

func (a *API) registerEventRoutes(mux *http.ServeMux) {
	mux.Handle("GET /v1/events", a.guard(a.streamEvents))
}

// streamEvents serves run lifecycle events as server-sent events. With
// ?runId= the feed is limited to one run. A caller with an organization
// scope only sees that organization's runs; without one it gets every
// run.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	if a.broker == nil {
		writeError(w, http.StatusNotFound, "event stream not enabled")
		return
	}

	orgID, scoped := scope.OrgFrom(r.Context())
	topic := stream.TopicFirehose
	if scoped {
		topic = stream.OrgTopic(orgID)
	}
	var filter func(*stream.Event) bool
	if raw := strings.TrimSpace(r.URL.Query().Get("runId")); raw != "" {
		runID, err := id.ParseRunID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid run id")
			return
		}
		topic = stream.RunTopic(runID.String())
		if scoped {
			filter = func(evt *stream.Event) bool { return evt.OrgID == orgID }
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	// The server write timeout is sized for a single run, not a feed.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sub := a.broker.Subscribe(id.NewSubscriberID().String(), filter, topic)
	defer a.broker.RemoveSubscriber(sub.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				a.logger.Debug("event stream write failed", slog.String("error", err.Error()))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt *stream.Event) error {
	blob, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", evt.Type, strconv.FormatInt(evt.Seq, 10), blob)
	return err
}
