package notify

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// UserAgent is sent on every HTTP delivery.
const UserAgent = "MedOCR-Webhook/1.0"

// HTTPSink delivers over HTTP. A shared token-bucket limiter caps the
// request rate across all runs in the process.
type HTTPSink struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// HTTPOption configures an HTTPSink.
type HTTPOption func(*HTTPSink)

// WithHTTPClient sets the client. The default has no timeout of its own;
// the request context bounds each call.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSink) { s.client = c }
}

// WithRateLimit caps deliveries to rps per second with the given burst.
// rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(s *HTTPSink) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(s *HTTPSink) { s.logger = l }
}

// NewHTTPSink creates an HTTP sink. The default limit is 50 requests per
// second with a burst of 10.
func NewHTTPSink(opts ...HTTPOption) *HTTPSink {
	s := &HTTPSink{
		client:  &http.Client{},
		limiter: rate.NewLimiter(50, 10),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Sink = (*HTTPSink)(nil)

// Deliver sends d. A non-2xx status returns the receipt together with a
// *DeliveryError whose Retryable flag follows RetryableStatus.
func (s *HTTPSink) Deliver(ctx context.Context, d Delivery) (Receipt, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Receipt{}, &DeliveryError{Retryable: ctx.Err() == nil, Err: err}
		}
	}

	method := d.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, d.URL, bytes.NewReader(d.Body))
	if err != nil {
		return Receipt{}, &DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if d.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", d.IdempotencyKey)
	}
	if d.Secret != "" {
		req.Header.Set("X-Webhook-Secret", d.Secret)
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("delivery failed",
			slog.String("url", d.URL),
			slog.String("idempotency_key", d.IdempotencyKey),
			slog.String("error", err.Error()),
		)
		return Receipt{Elapsed: time.Since(start)}, &DeliveryError{Retryable: ctx.Err() != context.Canceled, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	rcpt := Receipt{StatusCode: resp.StatusCode, Body: string(body), Elapsed: time.Since(start)}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug("delivered",
			slog.String("url", d.URL),
			slog.Int("status", resp.StatusCode),
			slog.Duration("elapsed", rcpt.Elapsed),
		)
		return rcpt, nil
	}
	return rcpt, &DeliveryError{StatusCode: resp.StatusCode, Retryable: RetryableStatus(resp.StatusCode)}
}
