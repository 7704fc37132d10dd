package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/store/internal/sqlmodel"
	"github.com/medocr/docflow/workflow"
)

// LoadDefinition reads a workflow with its nodes and edges.
func (s *Store) LoadDefinition(ctx context.Context, workflowID string) (*workflow.Definition, error) {
	def := &workflow.Definition{ID: workflowID}
	err := s.pool.QueryRow(ctx, `
		SELECT org_id, name, doc_type, is_active, entry_node_id
		FROM workflows WHERE id = $1`,
		workflowID,
	).Scan(&def.OrgID, &def.Name, &def.DocType, &def.Active, &def.Entry)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", docflow.ErrWorkflowNotFound, workflowID)
		}
		return nil, fmt.Errorf("docflow/postgres: load workflow: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT node_id, type, config, sort_order
		FROM workflow_nodes WHERE workflow_id = $1
		ORDER BY sort_order, node_id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: load nodes: %w", err)
	}
	nodes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sqlmodel.Node, error) {
		var n sqlmodel.Node
		err := row.Scan(&n.ID, &n.Type, &n.Config, &n.Order)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: scan nodes: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT edge_id, source, target, COALESCE(source_handle, '')
		FROM workflow_edges WHERE workflow_id = $1
		ORDER BY id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: load edges: %w", err)
	}
	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sqlmodel.Edge, error) {
		var e sqlmodel.Edge
		err := row.Scan(&e.ID, &e.Source, &e.Target, &e.Handle)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("docflow/postgres: scan edges: %w", err)
	}

	if def.Steps, err = sqlmodel.Steps(nodes, edges); err != nil {
		return nil, fmt.Errorf("docflow/postgres: workflow %s: %w", workflowID, err)
	}
	return def, nil
}

// FindActiveDefinition returns the oldest active workflow of orgID for
// docType.
func (s *Store) FindActiveDefinition(ctx context.Context, orgID, docType string) (*workflow.Definition, error) {
	var workflowID string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM workflows
		WHERE org_id = $1 AND doc_type = $2 AND is_active
		ORDER BY created_at, id
		LIMIT 1`,
		orgID, docType,
	).Scan(&workflowID)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: no active workflow for org %s, doc type %q", docflow.ErrWorkflowNotFound, orgID, docType)
		}
		return nil, fmt.Errorf("docflow/postgres: find workflow: %w", err)
	}
	return s.LoadDefinition(ctx, workflowID)
}

// SaveDefinition writes a workflow, replacing its nodes and edges.
func (s *Store) SaveDefinition(ctx context.Context, def *workflow.Definition) error {
	nodes, edges, err := sqlmodel.Flatten(def)
	if err != nil {
		return fmt.Errorf("docflow/postgres: save workflow %s: %w", def.ID, err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO workflows (id, org_id, name, doc_type, is_active, entry_node_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				org_id = EXCLUDED.org_id,
				name = EXCLUDED.name,
				doc_type = EXCLUDED.doc_type,
				is_active = EXCLUDED.is_active,
				entry_node_id = EXCLUDED.entry_node_id`,
			def.ID, def.OrgID, def.Name, def.DocType, def.Active, def.Entry,
		)
		if err != nil {
			return fmt.Errorf("docflow/postgres: upsert workflow: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM workflow_nodes WHERE workflow_id = $1`, def.ID); err != nil {
			return fmt.Errorf("docflow/postgres: clear nodes: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM workflow_edges WHERE workflow_id = $1`, def.ID); err != nil {
			return fmt.Errorf("docflow/postgres: clear edges: %w", err)
		}

		batch := &pgx.Batch{}
		for _, n := range nodes {
			cfg := n.Config
			if cfg == nil {
				cfg = []byte("{}")
			}
			batch.Queue(`
				INSERT INTO workflow_nodes (workflow_id, node_id, type, config, sort_order)
				VALUES ($1, $2, $3, $4, $5)`,
				def.ID, n.ID, n.Type, cfg, n.Order,
			)
		}
		for _, e := range edges {
			batch.Queue(`
				INSERT INTO workflow_edges (workflow_id, edge_id, source, target, source_handle)
				VALUES ($1, $2, $3, $4, $5)`,
				def.ID, e.ID, e.Source, e.Target, nullable(e.Handle),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("docflow/postgres: insert graph: %w", err)
		}
		return nil
	})
}
