package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medocr/docflow/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSink() *notify.HTTPSink {
	return notify.NewHTTPSink(notify.WithRateLimit(0, 0), notify.WithLogger(discardLogger()))
}

func TestHTTPSink_SendsHeaders(t *testing.T) {
	var got http.Header
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	rcpt, err := newSink().Deliver(context.Background(), notify.Delivery{
		IdempotencyKey: "run_1:webhook",
		URL:            srv.URL,
		Secret:         "s3cret",
		Headers:        map[string]string{"X-Extra": "1"},
		Body:           []byte(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if rcpt.StatusCode != http.StatusAccepted || rcpt.Body != "ok" {
		t.Fatalf("receipt = %+v", rcpt)
	}
	if got.Get("User-Agent") != notify.UserAgent {
		t.Errorf("User-Agent = %q", got.Get("User-Agent"))
	}
	if got.Get("X-Webhook-Secret") != "s3cret" {
		t.Errorf("X-Webhook-Secret = %q", got.Get("X-Webhook-Secret"))
	}
	if got.Get("Idempotency-Key") != "run_1:webhook" {
		t.Errorf("Idempotency-Key = %q", got.Get("Idempotency-Key"))
	}
	if got.Get("Content-Type") != "application/json" || got.Get("X-Extra") != "1" {
		t.Errorf("headers = %v", got)
	}
	if string(body) != `{"a":1}` {
		t.Errorf("body = %s", body)
	}
}

func TestHTTPSink_TruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer srv.Close()

	rcpt, err := newSink().Deliver(context.Background(), notify.Delivery{URL: srv.URL})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(rcpt.Body) != notify.MaxResponseBody {
		t.Fatalf("body length = %d, want %d", len(rcpt.Body), notify.MaxResponseBody)
	}
}

func TestHTTPSink_StatusClassification(t *testing.T) {
	cases := map[int]bool{
		http.StatusBadRequest:          false,
		http.StatusNotFound:            false,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusServiceUnavailable:  true,
	}
	for code, retryable := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))
		rcpt, err := newSink().Deliver(context.Background(), notify.Delivery{URL: srv.URL})
		srv.Close()

		var de *notify.DeliveryError
		if !errors.As(err, &de) {
			t.Fatalf("status %d: expected DeliveryError, got %v", code, err)
		}
		if de.StatusCode != code || rcpt.StatusCode != code {
			t.Errorf("status %d: error status %d, receipt %d", code, de.StatusCode, rcpt.StatusCode)
		}
		if notify.IsRetryable(err) != retryable {
			t.Errorf("status %d: retryable = %v, want %v", code, !retryable, retryable)
		}
	}
}

func TestHTTPSink_TransportErrorRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newSink().Deliver(context.Background(), notify.Delivery{URL: url})
	if err == nil {
		t.Fatal("expected error")
	}
	if !notify.IsRetryable(err) {
		t.Fatalf("transport error should be retryable: %v", err)
	}
}

func TestHTTPSink_DeadlineBoundsCall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newSink().Deliver(ctx, notify.Delivery{URL: srv.URL})
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("delivery did not respect the context deadline")
	}
}

func TestIsRetryable(t *testing.T) {
	if notify.IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if notify.IsRetryable(context.Canceled) {
		t.Error("cancellation should not be retryable")
	}
	if !notify.IsRetryable(errors.New("boom")) {
		t.Error("unknown errors are retryable")
	}
	if notify.IsRetryable(&notify.DeliveryError{StatusCode: 400}) {
		t.Error("400 should not be retryable")
	}
}

func TestDeduplicated_SkipsDeliveredKey(t *testing.T) {
	var calls atomic.Int32
	inner := notify.SinkFunc(func(context.Context, notify.Delivery) (notify.Receipt, error) {
		calls.Add(1)
		return notify.Receipt{StatusCode: 201}, nil
	})
	sink := notify.Deduplicated(inner, notify.NewMemoryDeduper(), time.Hour, discardLogger())

	d := notify.Delivery{IdempotencyKey: "run_1:notify"}
	first, err := sink.Deliver(context.Background(), d)
	if err != nil || first.Duplicate {
		t.Fatalf("first delivery: %+v, %v", first, err)
	}
	second, err := sink.Deliver(context.Background(), d)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("second delivery should be a duplicate")
	}
	if calls.Load() != 1 {
		t.Fatalf("inner sink called %d times, want 1", calls.Load())
	}
}

func TestDeduplicated_FailureNotMarked(t *testing.T) {
	var calls atomic.Int32
	inner := notify.SinkFunc(func(context.Context, notify.Delivery) (notify.Receipt, error) {
		if calls.Add(1) == 1 {
			return notify.Receipt{StatusCode: 503}, &notify.DeliveryError{StatusCode: 503, Retryable: true}
		}
		return notify.Receipt{StatusCode: 200}, nil
	})
	sink := notify.Deduplicated(inner, notify.NewMemoryDeduper(), time.Hour, discardLogger())

	d := notify.Delivery{IdempotencyKey: "k"}
	if _, err := sink.Deliver(context.Background(), d); err == nil {
		t.Fatal("expected first delivery to fail")
	}
	rcpt, err := sink.Deliver(context.Background(), d)
	if err != nil || rcpt.Duplicate {
		t.Fatalf("retry: %+v, %v", rcpt, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestDeduplicated_ConcurrentDeliveriesSendOnce(t *testing.T) {
	var calls atomic.Int32
	inner := notify.SinkFunc(func(context.Context, notify.Delivery) (notify.Receipt, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return notify.Receipt{StatusCode: 200}, nil
	})
	sink := notify.Deduplicated(inner, notify.NewMemoryDeduper(), time.Hour, discardLogger())

	var (
		wg   sync.WaitGroup
		dups atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rcpt, err := sink.Deliver(context.Background(), notify.Delivery{IdempotencyKey: "run_1:hook"})
			if err == nil && rcpt.Duplicate {
				dups.Add(1)
			}
		}()
	}
	wg.Wait()
	if calls.Load() != 1 || dups.Load() != 9 {
		t.Fatalf("calls = %d, duplicates = %d", calls.Load(), dups.Load())
	}
}

func TestParseRecipients(t *testing.T) {
	got := notify.ParseRecipients("a@x.com, b@x.com;A@X.com  nope\nc@x.com")
	want := []string{"a@x.com", "b@x.com", "c@x.com"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRender(t *testing.T) {
	subject, text := notify.Render(notify.EventWorkflowError, notify.Content{
		OrgName:      "Acme",
		DocumentName: "invoice.pdf",
		RunID:        "run_1",
		Reason:       "timeout",
	})
	if subject != "[Acme] Workflow failed: invoice.pdf" {
		t.Errorf("subject = %q", subject)
	}
	if !strings.Contains(text, "run_1") || !strings.Contains(text, "timeout") {
		t.Errorf("text = %q", text)
	}
}

func TestHTTPNotifier_PostsMessage(t *testing.T) {
	var msg notify.Message
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&msg)
	}))
	defer srv.Close()

	n := notify.NewHTTPNotifier(newSink(), srv.URL, "")
	_, err := n.Notify(context.Background(), notify.Message{
		Event: notify.EventNeedsReview,
		To:    []string{"ops@x.com"},
		RunID: "run_9",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if msg.Event != notify.EventNeedsReview || len(msg.To) != 1 {
		t.Fatalf("message = %+v", msg)
	}
	if key != "run_9:notify:needs_review" {
		t.Fatalf("idempotency key = %q", key)
	}
}
