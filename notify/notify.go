// Package notify delivers outbound calls to systems outside the process:
// webhooks, EMR endpoints and notification relays.
//
// A [Sink] performs one delivery. [HTTPSink] is the production sink;
// [Deduplicated] wraps any sink so a delivery whose idempotency key was
// already delivered is not sent again.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/medocr/docflow/id"
)

// MaxResponseBody is how much of a response body a Receipt keeps.
const MaxResponseBody = 1000

// Delivery is one outbound request.
type Delivery struct {
	ID id.ID
	// IdempotencyKey is sent as the Idempotency-Key header and used for
	// deduplication. Steps use "<runID>:<stepID>".
	IdempotencyKey string
	URL            string
	Method         string
	Headers        map[string]string
	// Secret is sent as the X-Webhook-Secret header when set.
	Secret string
	Body   []byte
}

// Receipt describes a completed delivery.
type Receipt struct {
	StatusCode int
	Body       string
	// Duplicate is set when the delivery was skipped because its key was
	// already delivered.
	Duplicate bool
	Elapsed   time.Duration
}

// Sink performs deliveries.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) (Receipt, error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, d Delivery) (Receipt, error)

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, d Delivery) (Receipt, error) { return f(ctx, d) }

// DeliveryError reports a failed delivery and whether trying again may
// succeed.
type DeliveryError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("notify: endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("notify: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a delivery failure worth retrying.
// Errors that are not a *DeliveryError are treated as transport failures
// and are retryable, except for caller cancellation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return true
}

// RetryableStatus reports whether an HTTP status is transient: 408, 429
// and every 5xx.
func RetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
