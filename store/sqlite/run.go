package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

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
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_runs (
				id, workflow_id, document_id, org_id, status, outcome,
				terminal_step_id, error, started_at, finished_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				status = excluded.status,
				outcome = excluded.outcome,
				terminal_step_id = excluded.terminal_step_id,
				error = excluded.error,
				finished_at = excluded.finished_at`,
			run.RunID.String(), run.WorkflowID, nullableString(run.DocumentID), run.OrgID,
			sqlmodel.RunStatus(run.Outcome), string(run.Outcome),
			run.TerminalStepID, nullableString(run.Error), formatTime(run.StartedAt), formatTime(run.FinishedAt),
		)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_logs WHERE workflow_run_id = ?`, run.RunID.String()); err != nil {
			return err
		}
		for _, st := range run.Steps {
			data, err := sqlmodel.EncodeJSON(st.Output)
			if err != nil {
				return fmt.Errorf("step %s output: %w", st.StepID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO workflow_logs (
					workflow_run_id, step_order, node_id, node_type, status, attempts,
					label, suspended, message, data, started_at, finished_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				run.RunID.String(), st.Sequence, st.StepID, st.StepType, string(st.Status), st.Attempts,
				st.Label, boolToInt(st.Suspended), nullableString(st.Error), nullableBytes(data),
				formatTime(st.StartedAt), formatTime(st.FinishedAt),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("docflow/sqlite: save run: %w", err)
	}
	return nil
}

// GetRun reads a run with its step logs.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.RunResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, runID.String())
	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", docflow.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("docflow/sqlite: get run: %w", err)
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
	if opts.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, opts.WorkflowID)
	}
	if opts.DocumentID != "" {
		where = append(where, "document_id = ?")
		args = append(args, opts.DocumentID)
	}
	if opts.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(opts.Outcome))
	}

	query := `SELECT ` + runColumns + ` FROM workflow_runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docflow/sqlite: list runs: %w", err)
	}
	var runs []*workflow.RunResult
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("docflow/sqlite: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("docflow/sqlite: iterate runs: %w", err)
	}
	_ = rows.Close()

	for _, run := range runs {
		if run.Steps, err = s.stepLogs(ctx, run.RunID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) stepLogs(ctx context.Context, runID id.RunID) ([]workflow.StepResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_order, node_id, node_type, status, attempts, label, suspended,
			COALESCE(message, ''), data, started_at, finished_at
		FROM workflow_logs WHERE workflow_run_id = ?
		ORDER BY step_order`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/sqlite: load step logs: %w", err)
	}
	defer rows.Close()

	var steps []workflow.StepResult
	for rows.Next() {
		var (
			st                workflow.StepResult
			status            string
			suspended         int
			data              sql.NullString
			started, finished string
		)
		err := rows.Scan(&st.Sequence, &st.StepID, &st.StepType, &status, &st.Attempts, &st.Label,
			&suspended, &st.Error, &data, &started, &finished)
		if err != nil {
			return nil, fmt.Errorf("docflow/sqlite: scan step log: %w", err)
		}
		st.Status = workflow.StepStatus(status)
		st.Suspended = suspended != 0
		if st.Output, err = sqlmodel.DecodeMap([]byte(data.String)); err != nil {
			return nil, fmt.Errorf("docflow/sqlite: step %s data: %w", st.StepID, err)
		}
		if st.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("docflow/sqlite: step %s started_at: %w", st.StepID, err)
		}
		if st.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("docflow/sqlite: step %s finished_at: %w", st.StepID, err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docflow/sqlite: iterate step logs: %w", err)
	}
	return steps, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*workflow.RunResult, error) {
	var (
		run      workflow.RunResult
		rawID    string
		outcome  string
		started  string
		finished sql.NullString
	)
	err := scanner.Scan(&rawID, &run.WorkflowID, &run.DocumentID, &run.OrgID, &outcome,
		&run.TerminalStepID, &run.Error, &started, &finished)
	if err != nil {
		return nil, err
	}
	if run.RunID, err = id.ParseRunID(rawID); err != nil {
		return nil, fmt.Errorf("run id %q: %w", rawID, err)
	}
	run.Outcome = workflow.RunOutcome(outcome)
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("run %s started_at: %w", rawID, err)
	}
	if finished.Valid {
		if run.FinishedAt, err = parseTime(finished.String); err != nil {
			return nil, fmt.Errorf("run %s finished_at: %w", rawID, err)
		}
	}
	return &run, nil
}
