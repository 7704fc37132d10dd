package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/id"
	"github.com/medocr/docflow/store/internal/sqlmodel"
	"github.com/medocr/docflow/workflow"
)

const runColumns = `id, workflow_id, COALESCE(document_id, ''), org_id, outcome,
	terminal_step_id, COALESCE(error, ''), started_at, finished_at`

// SaveRun writes a run and its step logs, replacing an earlier record
// with the same id.
func (s *Store) SaveRun(ctx context.Context, run *workflow.RunResult) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO workflow_runs (
				id, workflow_id, document_id, org_id, status, outcome,
				terminal_step_id, error, started_at, finished_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				outcome = EXCLUDED.outcome,
				terminal_step_id = EXCLUDED.terminal_step_id,
				error = EXCLUDED.error,
				finished_at = EXCLUDED.finished_at`,
			run.RunID.String(), run.WorkflowID, nullable(run.DocumentID), run.OrgID,
			sqlmodel.RunStatus(run.Outcome), string(run.Outcome),
			run.TerminalStepID, nullable(run.Error), run.StartedAt, run.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("docflow/postgres: save run: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM workflow_logs WHERE workflow_run_id = $1`, run.RunID.String()); err != nil {
			return fmt.Errorf("docflow/postgres: clear step logs: %w", err)
		}

		batch := &pgx.Batch{}
		for _, st := range run.Steps {
			data, err := sqlmodel.EncodeJSON(st.Output)
			if err != nil {
				return fmt.Errorf("docflow/postgres: step %s output: %w", st.StepID, err)
			}
			batch.Queue(`
				INSERT INTO workflow_logs (
					workflow_run_id, step_order, node_id, node_type, status, attempts,
					label, suspended, message, data, started_at, finished_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				run.RunID.String(), st.Sequence, st.StepID, st.StepType, string(st.Status), st.Attempts,
				st.Label, st.Suspended, nullable(st.Error), data, st.StartedAt, st.FinishedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("docflow/postgres: save step logs: %w", err)
		}
		return nil
	})
}

// GetRun reads a run with its step logs.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.RunResult, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, runID.String())
	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", docflow.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("docflow/postgres: get run: %w", err)
	}
	if run.Steps, err = s.stepLogs(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first, each with its step logs.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.RunResult, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if opts.WorkflowID != "" {
		add("workflow_id = $%d", opts.WorkflowID)
	}
	if opts.DocumentID != "" {
		add("document_id = $%d", opts.DocumentID)
	}
	if opts.Outcome != "" {
		add("outcome = $%d", string(opts.Outcome))
	}

	query := `SELECT ` + runColumns + ` FROM workflow_runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*workflow.RunResult, error) {
		return scanRun(row)
	})
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: scan runs: %w", err)
	}

	for _, run := range runs {
		if run.Steps, err = s.stepLogs(ctx, run.RunID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) stepLogs(ctx context.Context, runID id.RunID) ([]workflow.StepResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT step_order, node_id, node_type, status, attempts, label, suspended,
			COALESCE(message, ''), data, started_at, finished_at
		FROM workflow_logs WHERE workflow_run_id = $1
		ORDER BY step_order`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: load step logs: %w", err)
	}
	steps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (workflow.StepResult, error) {
		var (
			st     workflow.StepResult
			status string
			data   []byte
		)
		err := row.Scan(&st.Sequence, &st.StepID, &st.StepType, &status, &st.Attempts, &st.Label,
			&st.Suspended, &st.Error, &data, &st.StartedAt, &st.FinishedAt)
		if err != nil {
			return st, err
		}
		st.Status = workflow.StepStatus(status)
		st.Output, err = sqlmodel.DecodeMap(data)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: scan step logs: %w", err)
	}
	return steps, nil
}

func scanRun(row pgx.Row) (*workflow.RunResult, error) {
	var (
		run      workflow.RunResult
		rawID    string
		outcome  string
		finished *time.Time
	)
	err := row.Scan(&rawID, &run.WorkflowID, &run.DocumentID, &run.OrgID, &outcome,
		&run.TerminalStepID, &run.Error, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if run.RunID, err = id.ParseRunID(rawID); err != nil {
		return nil, fmt.Errorf("run id %q: %w", rawID, err)
	}
	run.Outcome = workflow.RunOutcome(outcome)
	if finished != nil {
		run.FinishedAt = *finished
	}
	return &run, nil
}
