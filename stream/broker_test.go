package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/medocr/docflow/ext"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func expectNone(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("subscriber %s got unexpected %s event", sub.ID(), evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func runInfo(orgID string) ext.RunInfo {
	return ext.RunInfo{
		RunID:      id.NewRunID(),
		WorkflowID: "wf-1",
		DocumentID: "doc-1",
		OrgID:      orgID,
		StartedAt:  time.Now(),
	}
}

// ──────────────────────────────────────────────────
// Broker
// ──────────────────────────────────────────────────

func TestBroker_RunStartedReachesOrgAndRunTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	run := runInfo("org-1")

	orgSub := b.Subscribe("org-sub", nil, OrgTopic("org-1"))
	runSub := b.Subscribe("run-sub", nil, RunTopic(run.RunID.String()))
	otherSub := b.Subscribe("other-sub", nil, OrgTopic("org-2"))

	if err := b.OnRunStarted(context.Background(), run); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}

	for _, sub := range []*Subscriber{orgSub, runSub} {
		evt := receive(t, sub)
		if evt.Type != EventRunStarted || evt.RunID != run.RunID.String() || evt.OrgID != "org-1" {
			t.Fatalf("event = %+v", evt)
		}
		var data RunEventData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
		if data.WorkflowID != "wf-1" || data.DocumentID != "doc-1" {
			t.Fatalf("data = %+v", data)
		}
	}
	expectNone(t, otherSub)
}

func TestBroker_StepAndOutcomeEvents(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	run := runInfo("org-1")
	sub := b.Subscribe("sub", nil, TopicFirehose)
	ctx := context.Background()

	step := workflow.StepResult{StepID: "extract", StepType: "extract", Attempts: 2, Status: workflow.StepSucceeded}
	res := &workflow.RunResult{
		RunID:          run.RunID,
		WorkflowID:     run.WorkflowID,
		DocumentID:     run.DocumentID,
		OrgID:          run.OrgID,
		Outcome:        workflow.OutcomeFailed,
		TerminalStepID: "export",
		Error:          "endpoint returned 500",
	}

	_ = b.OnStepRetrying(ctx, run, "extract", 1, 250*time.Millisecond, "timeout")
	_ = b.OnStepCompleted(ctx, run, step)
	_ = b.OnRunFailed(ctx, res, errors.New("deadline"))

	want := []EventType{EventStepRetrying, EventStepCompleted, EventRunFailed}
	var last int64
	for i, typ := range want {
		evt := receive(t, sub)
		if evt.Type != typ {
			t.Fatalf("event %d type = %s, want %s", i, evt.Type, typ)
		}
		if evt.Seq <= last {
			t.Fatalf("seq %d not increasing after %d", evt.Seq, last)
		}
		last = evt.Seq

		var data RunEventData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		switch typ {
		case EventStepRetrying:
			if data.StepID != "extract" || data.Attempt != 1 || data.DelayMs != 250 || data.Error != "timeout" {
				t.Fatalf("retry data = %+v", data)
			}
		case EventStepCompleted:
			if data.StepType != "extract" || data.Attempt != 2 {
				t.Fatalf("step data = %+v", data)
			}
		case EventRunFailed:
			if data.Outcome != "failed" || data.TerminalStepID != "export" || data.Error != "deadline" {
				t.Fatalf("run data = %+v", data)
			}
		}
	}
}

func TestBroker_RemoveSubscriberClosesChannel(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("sub", nil, TopicFirehose)
	b.RemoveSubscriber("sub")

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel should be closed")
	}
	if b.Topics().SubscriberCount(TopicFirehose) != 0 {
		t.Fatal("subscriber still registered")
	}
	// Publishing after removal must not panic.
	_ = b.OnRunStarted(context.Background(), runInfo("org-1"))
}

func TestBroker_CloseEndsAllSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	a := b.Subscribe("a", nil, TopicFirehose)
	c := b.Subscribe("c", nil, OrgTopic("org-1"))
	b.Close()

	for _, sub := range []*Subscriber{a, c} {
		if _, ok := <-sub.C(); ok {
			t.Fatalf("%s still open", sub.ID())
		}
	}
	if s := b.Stats(); s.SubscriberCount != 0 || s.TopicCount != 0 {
		t.Fatalf("stats after close = %+v", s)
	}
}

func TestBroker_Stats(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	b.Subscribe("s1", nil, TopicFirehose)
	b.Subscribe("s2", nil, TopicFirehose, OrgTopic("org-1"))

	_ = b.OnRunStarted(context.Background(), runInfo("org-1"))

	s := b.Stats()
	if s.SubscriberCount != 2 || s.TopicCount != 2 || s.TotalPublished != 2 {
		t.Fatalf("stats = %+v", s)
	}
}

// ──────────────────────────────────────────────────
// Subscriber
// ──────────────────────────────────────────────────

func TestSubscriber_FullBufferDrops(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithBufferSize(1))
	sub := b.Subscribe("slow", nil, TopicFirehose)

	_ = b.OnRunStarted(context.Background(), runInfo("org-1"))
	_ = b.OnRunStarted(context.Background(), runInfo("org-1"))

	if got := sub.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
	receive(t, sub)
	expectNone(t, sub)
}

func TestSubscriber_Filter(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	onlyFailures := func(evt *Event) bool { return evt.Type == EventRunFailed }
	sub := b.Subscribe("failures", onlyFailures, TopicFirehose)

	run := runInfo("org-1")
	_ = b.OnRunStarted(context.Background(), run)
	_ = b.OnRunFailed(context.Background(), &workflow.RunResult{RunID: run.RunID, OrgID: "org-1", Outcome: workflow.OutcomeFailed}, nil)

	if evt := receive(t, sub); evt.Type != EventRunFailed {
		t.Fatalf("type = %s", evt.Type)
	}
	expectNone(t, sub)
}

// ──────────────────────────────────────────────────
// Topics
// ──────────────────────────────────────────────────

func TestValidateTopic(t *testing.T) {
	t.Parallel()

	valid := []string{TopicFirehose, RunTopic("run_abc"), OrgTopic("org-1")}
	for _, topic := range valid {
		if err := ValidateTopic(topic); err != nil {
			t.Errorf("ValidateTopic(%q) = %v", topic, err)
		}
	}
	invalid := []string{"", "runs", "run:", "job:123", "org"}
	for _, topic := range invalid {
		if err := ValidateTopic(topic); err == nil {
			t.Errorf("ValidateTopic(%q) should fail", topic)
		}
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub := NewSubscriber("sub", 10)
	tr.Subscribe(TopicFirehose, sub)
	tr.Subscribe(OrgTopic("org-1"), sub)

	evt := &Event{Type: EventRunStarted, OrgID: "org-1"}
	if n := tr.Broadcast(resolveTopics(evt), evt); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}

	tr.UnsubscribeAll("sub")
	if tr.TopicCount() != 0 {
		t.Fatalf("TopicCount = %d, want 0", tr.TopicCount())
	}
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	got := resolveTopics(&Event{RunID: "run_1", OrgID: "org-1"})
	want := []string{TopicFirehose, OrgTopic("org-1"), RunTopic("run_1")}
	if len(got) != len(want) {
		t.Fatalf("topics = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("topics = %v, want %v", got, want)
		}
	}
}
