package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medocr/docflow"
	"github.com/medocr/docflow/store/internal/sqlmodel"
	"github.com/medocr/docflow/workflow"
)

// LoadDefinition reads a workflow with its nodes and edges.
func (s *Store) LoadDefinition(ctx context.Context, workflowID string) (*workflow.Definition, error) {
	def := &workflow.Definition{ID: workflowID}
	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT org_id, name, doc_type, is_active, entry_node_id
		FROM workflows WHERE id = ?`,
		workflowID,
	).Scan(&def.OrgID, &def.Name, &def.DocType, &active, &def.Entry)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", docflow.ErrWorkflowNotFound, workflowID)
		}
		return nil, fmt.Errorf("docflow/sqlite: load workflow: %w", err)
	}
	def.Active = active != 0

	nodes, err := s.nodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	edges, err := s.edges(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if def.Steps, err = sqlmodel.Steps(nodes, edges); err != nil {
		return nil, fmt.Errorf("docflow/sqlite: workflow %s: %w", workflowID, err)
	}
	return def, nil
}

// FindActiveDefinition returns the oldest active workflow of orgID for
// docType.
func (s *Store) FindActiveDefinition(ctx context.Context, orgID, docType string) (*workflow.Definition, error) {
	var workflowID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM workflows
		WHERE org_id = ? AND doc_type = ? AND is_active <> 0
		ORDER BY created_at, id
		LIMIT 1`,
		orgID, docType,
	).Scan(&workflowID)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: no active workflow for org %s, doc type %q", docflow.ErrWorkflowNotFound, orgID, docType)
		}
		return nil, fmt.Errorf("docflow/sqlite: find workflow: %w", err)
	}
	return s.LoadDefinition(ctx, workflowID)
}

func (s *Store) nodes(ctx context.Context, workflowID string) ([]sqlmodel.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, type, config, sort_order
		FROM workflow_nodes WHERE workflow_id = ?
		ORDER BY sort_order, node_id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/sqlite: load nodes: %w", err)
	}
	defer rows.Close()

	var nodes []sqlmodel.Node
	for rows.Next() {
		var (
			n   sqlmodel.Node
			cfg sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.Type, &cfg, &n.Order); err != nil {
			return nil, fmt.Errorf("docflow/sqlite: scan node: %w", err)
		}
		n.Config = []byte(cfg.String)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docflow/sqlite: iterate nodes: %w", err)
	}
	return nodes, nil
}

func (s *Store) edges(ctx context.Context, workflowID string) ([]sqlmodel.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT edge_id, source, target, COALESCE(source_handle, '')
		FROM workflow_edges WHERE workflow_id = ?
		ORDER BY id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("docflow/sqlite: load edges: %w", err)
	}
	defer rows.Close()

	var edges []sqlmodel.Edge
	for rows.Next() {
		var e sqlmodel.Edge
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &e.Handle); err != nil {
			return nil, fmt.Errorf("docflow/sqlite: scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docflow/sqlite: iterate edges: %w", err)
	}
	return edges, nil
}

// SaveDefinition writes a workflow, replacing its nodes and edges.
func (s *Store) SaveDefinition(ctx context.Context, def *workflow.Definition) error {
	nodes, edges, err := sqlmodel.Flatten(def)
	if err != nil {
		return fmt.Errorf("docflow/sqlite: save workflow %s: %w", def.ID, err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflows (id, org_id, name, doc_type, is_active, entry_node_id)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				org_id = excluded.org_id,
				name = excluded.name,
				doc_type = excluded.doc_type,
				is_active = excluded.is_active,
				entry_node_id = excluded.entry_node_id`,
			def.ID, def.OrgID, def.Name, def.DocType, boolToInt(def.Active), def.Entry,
		)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_nodes WHERE workflow_id = ?`, def.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_edges WHERE workflow_id = ?`, def.ID); err != nil {
			return err
		}
		for _, n := range nodes {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO workflow_nodes (workflow_id, node_id, type, config, sort_order)
				VALUES (?, ?, ?, ?, ?)`,
				def.ID, n.ID, n.Type, nullableBytes(n.Config), n.Order,
			)
			if err != nil {
				return err
			}
		}
		for _, e := range edges {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO workflow_edges (workflow_id, edge_id, source, target, source_handle)
				VALUES (?, ?, ?, ?, ?)`,
				def.ID, e.ID, e.Source, e.Target, nullableString(e.Handle),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("docflow/sqlite: save workflow %s: %w", def.ID, err)
	}
	return nil
}
