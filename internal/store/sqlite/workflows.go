package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/store"
)

// workflowRow is the workflows table DAO.
type workflowRow struct {
	Seq        int64     `db:"seq"`
	ID         string    `db:"id"`
	SourceID   string    `db:"source_id"`
	Name       string    `db:"name"`
	Hash       string    `db:"hash"`
	CreateTime time.Time `db:"create_time"`
	Body       string    `db:"body"`
}

func (r *workflowRow) decode() (*ir.WorkflowSource, error) {
	var w ir.WorkflowSource
	if err := json.Unmarshal([]byte(r.Body), &w); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", r.ID, err)
	}
	return &w, nil
}

// GenerateWorkflowID returns a fresh definition id.
func (s *Store) GenerateWorkflowID() string { return s.ids.Generate() }

// InsertWorkflow stores a deployed definition together with its content hash.
func (s *Store) InsertWorkflow(ctx context.Context, w *ir.WorkflowSource) error {
	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", w.ID, err)
	}
	hash, err := ir.WorkflowHash(w)
	if err != nil {
		return err
	}

	row := workflowRow{
		ID:         w.ID,
		SourceID:   w.SourceID,
		Name:       w.Name,
		Hash:       hash,
		CreateTime: w.CreateTime,
		Body:       string(body),
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO workflows (id, source_id, name, hash, create_time, body)
		VALUES (:id, :source_id, :name, :hash, :create_time, :body)
	`, row)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert workflow %s: %w", w.ID, err)
	}
	return nil
}

// LoadWorkflowByID returns the definition or store.ErrNotFound.
func (s *Store) LoadWorkflowByID(ctx context.Context, id string) (*ir.WorkflowSource, error) {
	var row workflowRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM workflows WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return row.decode()
}

// FindLatestWorkflowIDBySource returns the most recently inserted id for
// the source.
func (s *Store) FindLatestWorkflowIDBySource(ctx context.Context, sourceID string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `
		SELECT id FROM workflows WHERE source_id = ? ORDER BY seq DESC LIMIT 1
	`, sourceID)
	if err != nil {
		return "", notFound(err)
	}
	return id, nil
}

// WorkflowHash returns the stored content hash of a definition.
func (s *Store) WorkflowHash(ctx context.Context, id string) (string, error) {
	var hash string
	if err := s.db.GetContext(ctx, &hash, `SELECT hash FROM workflows WHERE id = ?`, id); err != nil {
		return "", notFound(err)
	}
	return hash, nil
}

// FindWorkflows returns matching definitions in insertion order.
func (s *Store) FindWorkflows(ctx context.Context, q ir.WorkflowQuery) ([]*ir.WorkflowSource, error) {
	rows, err := selectWorkflows(ctx, s.db, q)
	if err != nil {
		return nil, err
	}
	out := make([]*ir.WorkflowSource, 0, len(rows))
	for i := range rows {
		w, err := rows[i].decode()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// DeleteWorkflows removes matching definitions and returns how many.
func (s *Store) DeleteWorkflows(ctx context.Context, q ir.WorkflowQuery) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := selectWorkflows(ctx, tx, q)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	query, args, err := sqlx.In(`DELETE FROM workflows WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("delete workflows: %w", err)
	}
	return len(ids), tx.Commit()
}

func selectWorkflows(ctx context.Context, q queryer, wq ir.WorkflowQuery) ([]workflowRow, error) {
	var (
		where []string
		args  []any
	)
	if wq.ID != "" {
		where = append(where, "id = ?")
		args = append(args, wq.ID)
	}
	if wq.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, wq.SourceID)
	}
	if wq.Name != "" {
		where = append(where, "name = ?")
		args = append(args, wq.Name)
	}

	query := `SELECT * FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if wq.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", wq.Limit)
	}

	var rows []workflowRow
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select workflows: %w", err)
	}
	return rows, nil
}
