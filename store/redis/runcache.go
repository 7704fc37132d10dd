package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/workflow"
)

// DefaultRunTTL is how long a cached run result lives.
const DefaultRunTTL = time.Hour

// RunCache is a workflow.RunStore that writes through to a backing store
// and serves GetRun from Redis. Cache errors are logged and fall back to
// the backing store.
type RunCache struct {
	s       *Store
	backing workflow.RunStore
	ttl     time.Duration
}

var _ workflow.RunStore = (*RunCache)(nil)

// RunCache wraps backing. A ttl of zero means DefaultRunTTL.
func (s *Store) RunCache(backing workflow.RunStore, ttl time.Duration) *RunCache {
	if ttl <= 0 {
		ttl = DefaultRunTTL
	}
	return &RunCache{s: s, backing: backing, ttl: ttl}
}

// SaveRun stores run in the backing store, then caches it.
func (c *RunCache) SaveRun(ctx context.Context, run *workflow.RunResult) error {
	if err := c.backing.SaveRun(ctx, run); err != nil {
		return err
	}
	c.put(ctx, run)
	return nil
}

// GetRun returns the cached run, loading it from the backing store on a
// miss.
func (c *RunCache) GetRun(ctx context.Context, runID id.RunID) (*workflow.RunResult, error) {
	data, err := c.s.client.Get(ctx, c.s.keys.run(runID.String())).Bytes()
	switch {
	case err == nil:
		run, decErr := decodeRun(data)
		if decErr == nil {
			return run, nil
		}
		c.s.logger.Warn("run cache decode failed",
			slog.String("run_id", runID.String()),
			slog.String("error", decErr.Error()),
		)
	case !errors.Is(err, goredis.Nil):
		c.s.logger.Warn("run cache read failed",
			slog.String("run_id", runID.String()),
			slog.String("error", err.Error()),
		)
	}

	run, err := c.backing.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, run)
	return run, nil
}

// ListRuns reads from the backing store.
func (c *RunCache) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.RunResult, error) {
	return c.backing.ListRuns(ctx, opts)
}

// Invalidate drops a cached run.
func (c *RunCache) Invalidate(ctx context.Context, runID id.RunID) error {
	if err := c.s.client.Del(ctx, c.s.keys.run(runID.String())).Err(); err != nil {
		return fmt.Errorf("docflow/redis: invalidate run: %w", err)
	}
	return nil
}

func (c *RunCache) put(ctx context.Context, run *workflow.RunResult) {
	data, err := encodeRun(run)
	if err == nil {
		err = c.s.client.Set(ctx, c.s.keys.run(run.RunID.String()), data, c.ttl).Err()
	}
	if err != nil {
		c.s.logger.Warn("run cache write failed",
			slog.String("run_id", run.RunID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// cachedRun is the msgpack shape of a run. IDs travel as strings.
type cachedRun struct {
	RunID          string                `msgpack:"run_id"`
	WorkflowID     string                `msgpack:"workflow_id"`
	DocumentID     string                `msgpack:"document_id"`
	OrgID          string                `msgpack:"org_id"`
	Outcome        string                `msgpack:"outcome"`
	Steps          []workflow.StepResult `msgpack:"steps"`
	TerminalStepID string                `msgpack:"terminal_step_id"`
	Error          string                `msgpack:"error,omitempty"`
	StartedAt      time.Time             `msgpack:"started_at"`
	FinishedAt     time.Time             `msgpack:"finished_at"`
}

func encodeRun(run *workflow.RunResult) ([]byte, error) {
	return msgpack.Marshal(cachedRun{
		RunID:          run.RunID.String(),
		WorkflowID:     run.WorkflowID,
		DocumentID:     run.DocumentID,
		OrgID:          run.OrgID,
		Outcome:        string(run.Outcome),
		Steps:          run.Steps,
		TerminalStepID: run.TerminalStepID,
		Error:          run.Error,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
	})
}

func decodeRun(data []byte) (*workflow.RunResult, error) {
	var c cachedRun
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	runID, err := id.ParseRunID(c.RunID)
	if err != nil {
		return nil, err
	}
	return &workflow.RunResult{
		RunID:          runID,
		WorkflowID:     c.WorkflowID,
		DocumentID:     c.DocumentID,
		OrgID:          c.OrgID,
		Outcome:        workflow.RunOutcome(c.Outcome),
		Steps:          c.Steps,
		TerminalStepID: c.TerminalStepID,
		Error:          c.Error,
		StartedAt:      c.StartedAt,
		FinishedAt:     c.FinishedAt,
	}, nil
}
