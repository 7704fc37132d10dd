package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medocr/docflow/ext"
	"github.com/medocr/docflow/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Broker)(nil)
	_ ext.RunStarted    = (*Broker)(nil)
	_ ext.StepCompleted = (*Broker)(nil)
	_ ext.StepRetrying  = (*Broker)(nil)
	_ ext.StepFailed    = (*Broker)(nil)
	_ ext.RunCompleted  = (*Broker)(nil)
	_ ext.RunSuspended  = (*Broker)(nil)
	_ ext.RunFailed     = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker receives lifecycle events as an extension and fans them out to
// subscribers via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	now    func() time.Time

	subscribers sync.Map // subscriberID → *Subscriber

	seq            atomic.Int64
	totalPublished atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithClock sets the time source for event timestamps.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		now:        time.Now,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a subscriber on the given topics. filter may be nil.
func (b *Broker) Subscribe(subscriberID string, filter func(*Event) bool, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	sub.SetFilter(filter)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// Close closes every subscriber. Their channels drain and close, which
// ends open streams.
func (b *Broker) Close() {
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:errcheck // keys are subscriber IDs
		value.(*Subscriber).Close()           //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Debug("stream broker closed")
}

// publish stamps evt and broadcasts it to every matching topic.
func (b *Broker) publish(evt *Event) {
	evt.Seq = b.seq.Add(1)
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now().UTC()
	}
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

func (b *Broker) publishRun(typ EventType, runID, orgID string, data RunEventData) {
	raw, err := json.Marshal(data)
	if err != nil {
		// RunEventData holds only strings and integers.
		panic("stream: marshal event data: " + err.Error())
	}
	b.publish(&Event{Type: typ, RunID: runID, OrgID: orgID, Data: raw})
}

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (b *Broker) OnRunStarted(_ context.Context, run ext.RunInfo) error {
	b.publishRun(EventRunStarted, run.RunID.String(), run.OrgID, RunEventData{
		WorkflowID: run.WorkflowID,
		DocumentID: run.DocumentID,
	})
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (b *Broker) OnRunCompleted(_ context.Context, res *workflow.RunResult, elapsed time.Duration) error {
	data := resultData(res)
	data.ElapsedMs = elapsed.Milliseconds()
	b.publishRun(EventRunCompleted, res.RunID.String(), res.OrgID, data)
	return nil
}

// OnRunSuspended implements ext.RunSuspended.
func (b *Broker) OnRunSuspended(_ context.Context, res *workflow.RunResult) error {
	b.publishRun(EventRunSuspended, res.RunID.String(), res.OrgID, resultData(res))
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (b *Broker) OnRunFailed(_ context.Context, res *workflow.RunResult, runErr error) error {
	data := resultData(res)
	if runErr != nil {
		data.Error = runErr.Error()
	}
	b.publishRun(EventRunFailed, res.RunID.String(), res.OrgID, data)
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (b *Broker) OnStepCompleted(_ context.Context, run ext.RunInfo, res workflow.StepResult) error {
	b.publishRun(EventStepCompleted, run.RunID.String(), run.OrgID, stepData(run, res))
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (b *Broker) OnStepFailed(_ context.Context, run ext.RunInfo, res workflow.StepResult) error {
	b.publishRun(EventStepFailed, run.RunID.String(), run.OrgID, stepData(run, res))
	return nil
}

// OnStepRetrying implements ext.StepRetrying.
func (b *Broker) OnStepRetrying(_ context.Context, run ext.RunInfo, stepID string, attempt int, delay time.Duration, reason string) error {
	b.publishRun(EventStepRetrying, run.RunID.String(), run.OrgID, RunEventData{
		WorkflowID: run.WorkflowID,
		DocumentID: run.DocumentID,
		StepID:     stepID,
		Attempt:    attempt,
		DelayMs:    delay.Milliseconds(),
		Error:      reason,
	})
	return nil
}

func resultData(res *workflow.RunResult) RunEventData {
	return RunEventData{
		WorkflowID:     res.WorkflowID,
		DocumentID:     res.DocumentID,
		Outcome:        string(res.Outcome),
		TerminalStepID: res.TerminalStepID,
		Error:          res.Error,
	}
}

func stepData(run ext.RunInfo, res workflow.StepResult) RunEventData {
	return RunEventData{
		WorkflowID: run.WorkflowID,
		DocumentID: run.DocumentID,
		StepID:     res.StepID,
		StepType:   res.StepType,
		Attempt:    res.Attempts,
		Label:      res.Label,
		Error:      res.Error,
	}
}
