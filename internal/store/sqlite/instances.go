package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/store"
)

// instanceRow is the workflow_instances table DAO.
type instanceRow struct {
	Seq        int64          `db:"seq"`
	ID         string         `db:"id"`
	WorkflowID string         `db:"workflow_id"`
	Ended      bool           `db:"ended"`
	LockOwner  sql.NullString `db:"lock_owner"`
	LockTime   sql.NullTime   `db:"lock_time"`
	StartTime  time.Time      `db:"start_time"`
	EndTime    sql.NullTime   `db:"end_time"`
	Body       string         `db:"body"`
}

func newInstanceRow(wi *ir.WorkflowInstance) (*instanceRow, error) {
	// The lock lives in its own columns only.
	bodyInstance := *wi
	bodyInstance.Lock = nil
	body, err := json.Marshal(&bodyInstance)
	if err != nil {
		return nil, fmt.Errorf("encode instance %s: %w", wi.ID, err)
	}

	row := &instanceRow{
		ID:         wi.ID,
		WorkflowID: wi.WorkflowID,
		Ended:      wi.Ended,
		StartTime:  wi.Start,
		Body:       string(body),
	}
	if wi.Lock != nil {
		row.LockOwner = sql.NullString{String: wi.Lock.Owner, Valid: true}
		row.LockTime = sql.NullTime{Time: wi.Lock.Time, Valid: true}
	}
	if wi.End != nil {
		row.EndTime = sql.NullTime{Time: *wi.End, Valid: true}
	}
	return row, nil
}

func (r *instanceRow) decode() (*ir.WorkflowInstance, error) {
	var wi ir.WorkflowInstance
	if err := json.Unmarshal([]byte(r.Body), &wi); err != nil {
		return nil, fmt.Errorf("decode instance %s: %w", r.ID, err)
	}
	wi.Lock = nil
	if r.LockOwner.Valid {
		wi.Lock = &ir.Lock{Owner: r.LockOwner.String, Time: r.LockTime.Time}
	}
	return &wi, nil
}

// GenerateInstanceID returns a fresh instance id.
func (s *Store) GenerateInstanceID() string { return s.ids.Generate() }

// InsertInstance stores a new instance, lock included.
func (s *Store) InsertInstance(ctx context.Context, wi *ir.WorkflowInstance) error {
	row, err := newInstanceRow(wi)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO workflow_instances
			(id, workflow_id, ended, lock_owner, lock_time, start_time, end_time, body)
		VALUES
			(:id, :workflow_id, :ended, :lock_owner, :lock_time, :start_time, :end_time, :body)
	`, row)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert instance %s: %w", wi.ID, err)
	}
	return nil
}

// LockInstance acquires the lock with a single conditional UPDATE, so two
// sessions can never both succeed.
func (s *Store) LockInstance(ctx context.Context, id string, lock ir.Lock) (*ir.WorkflowInstance, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances SET lock_owner = ?, lock_time = ?
		WHERE id = ? AND lock_owner IS NULL
	`, lock.Owner, lock.Time, id)
	if err != nil {
		return nil, fmt.Errorf("lock instance %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		if err := s.exists(ctx, id); err != nil {
			return nil, err
		}
		return nil, store.ErrLocked
	}
	return s.GetInstance(ctx, id)
}

// Flush persists the instance while keeping the lock.
func (s *Store) Flush(ctx context.Context, wi *ir.WorkflowInstance) error {
	return s.write(ctx, wi, false)
}

// FlushAndUnlock persists the instance and releases the lock atomically.
func (s *Store) FlushAndUnlock(ctx context.Context, wi *ir.WorkflowInstance) error {
	if err := s.write(ctx, wi, true); err != nil {
		return err
	}
	wi.Lock = nil
	return nil
}

func (s *Store) write(ctx context.Context, wi *ir.WorkflowInstance, unlock bool) error {
	if wi.Lock == nil {
		return store.ErrNotLocked
	}
	row, err := newInstanceRow(wi)
	if err != nil {
		return err
	}

	set := "body = :body, ended = :ended, end_time = :end_time"
	if unlock {
		set += ", lock_owner = NULL, lock_time = NULL"
	}
	res, err := s.db.NamedExecContext(ctx,
		`UPDATE workflow_instances SET `+set+` WHERE id = :id AND lock_owner = :lock_owner`, row)
	if err != nil {
		return fmt.Errorf("flush instance %s: %w", wi.ID, err)
	}
	return s.checkAffected(ctx, res, wi.ID)
}

// UnlockInstance releases the lock, discarding unflushed changes.
func (s *Store) UnlockInstance(ctx context.Context, wi *ir.WorkflowInstance) error {
	if wi.Lock == nil {
		return store.ErrNotLocked
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances SET lock_owner = NULL, lock_time = NULL
		WHERE id = ? AND lock_owner = ?
	`, wi.ID, wi.Lock.Owner)
	if err != nil {
		return fmt.Errorf("unlock instance %s: %w", wi.ID, err)
	}
	if err := s.checkAffected(ctx, res, wi.ID); err != nil {
		return err
	}
	wi.Lock = nil
	return nil
}

// checkAffected turns a zero-row owner-checked UPDATE into ErrNotFound or
// ErrNotLocked.
func (s *Store) checkAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	return store.ErrNotLocked
}

func (s *Store) exists(ctx context.Context, id string) error {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM workflow_instances WHERE id = ?`, id); err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetInstance returns a snapshot without locking.
func (s *Store) GetInstance(ctx context.Context, id string) (*ir.WorkflowInstance, error) {
	var row instanceRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM workflow_instances WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return row.decode()
}

// FindInstances returns matching instances in insertion order. Column
// filters run in SQL; the open-activity filter runs on decoded bodies.
func (s *Store) FindInstances(ctx context.Context, q ir.InstanceQuery) ([]*ir.WorkflowInstance, error) {
	return findInstances(ctx, s.db, q)
}

// DeleteInstances removes matching instances and returns how many.
func (s *Store) DeleteInstances(ctx context.Context, q ir.InstanceQuery) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	found, err := findInstances(ctx, tx, q)
	if err != nil {
		return 0, err
	}
	if len(found) == 0 {
		return 0, nil
	}
	ids := make([]string, len(found))
	for i, wi := range found {
		ids[i] = wi.ID
	}

	query, args, err := sqlx.In(`DELETE FROM workflow_instances WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("delete instances: %w", err)
	}
	return len(ids), tx.Commit()
}

func findInstances(ctx context.Context, q queryer, iq ir.InstanceQuery) ([]*ir.WorkflowInstance, error) {
	var (
		where []string
		args  []any
	)
	if len(iq.IDs) > 0 {
		clause, inArgs, err := sqlx.In("id IN (?)", iq.IDs)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, inArgs...)
	}
	if iq.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, iq.WorkflowID)
	}
	if iq.Ended != nil {
		where = append(where, "ended = ?")
		args = append(args, *iq.Ended)
	}

	query := `SELECT * FROM workflow_instances`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	var rows []instanceRow
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select instances: %w", err)
	}

	var out []*ir.WorkflowInstance
	for i := range rows {
		wi, err := rows[i].decode()
		if err != nil {
			return nil, err
		}
		if !iq.Matches(wi) {
			continue
		}
		out = append(out, wi)
		if iq.Limit > 0 && len(out) >= iq.Limit {
			break
		}
	}
	return out, nil
}
