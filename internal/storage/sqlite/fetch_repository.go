package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/italolelis/seedbox_aria2/internal/fetch"
	"github.com/italolelis/seedbox_aria2/internal/storage"
)

const fetchColumns = `id, title, url, urls, info_hash, torrent, fields, overrides,
	status, gid, error_kind, message, created_at, updated_at, locked_by`

type FetchRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.FetchRepository = (*FetchRepository)(nil)

func NewFetchRepository(dbConn *sql.DB) *FetchRepository {
	return &FetchRepository{
		db:  dbConn,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *FetchRepository) Enqueue(ctx context.Context, req fetch.FetchRequest) error {
	urls, err := json.Marshal(nonNilSlice(req.URLs))
	if err != nil {
		return fmt.Errorf("encoding urls: %w", err)
	}

	fields, err := json.Marshal(nonNilMap(req.Fields))
	if err != nil {
		return fmt.Errorf("encoding fields: %w", err)
	}

	overrides, err := json.Marshal(req.Overrides)
	if err != nil {
		return fmt.Errorf("encoding overrides: %w", err)
	}

	now := r.now()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO fetch_requests (id, title, url, urls, info_hash, torrent, fields, overrides, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)`,
		req.ID, req.Title, req.URL, string(urls), req.InfoHash, req.Torrent, string(fields), string(overrides), now, now,
	)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return storage.ErrDuplicate
	}

	return err
}

// ClaimPending atomically sets status to 'processing' and locked_by to instanceID
// for the oldest unlocked pending records.
func (r *FetchRepository) ClaimPending(ctx context.Context, instanceID string, limit int) ([]storage.FetchRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM fetch_requests
		WHERE status = 'pending' AND (locked_by IS NULL OR locked_by = '')
		ORDER BY created_at, rowid
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()

			return nil, err
		}

		ids = append(ids, id)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{instanceID, r.now()}

	for _, id := range ids {
		args = append(args, id)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE fetch_requests SET status = 'processing', locked_by = ?, updated_at = ?
		WHERE status = 'pending' AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}

	claimed, err := tx.QueryContext(ctx, `SELECT `+fetchColumns+` FROM fetch_requests
		WHERE id IN (`+placeholders+`)
		ORDER BY created_at, rowid`, args[2:]...)
	if err != nil {
		return nil, err
	}

	records, err := scanRecords(claimed)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return records, nil
}

func (r *FetchRepository) RecordOutcome(ctx context.Context, outcome fetch.Outcome) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE fetch_requests
		SET status = ?, gid = ?, error_kind = ?, message = ?, updated_at = ?, locked_by = NULL
		WHERE id = ?`,
		string(outcome.Status), outcome.GID, string(outcome.Kind()), outcome.Reason, r.now(), outcome.RequestID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (r *FetchRepository) RequeueStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE fetch_requests SET status = 'pending', locked_by = NULL, updated_at = ?
		WHERE status = 'processing' AND updated_at < ?`,
		r.now(), before.UTC(),
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r *FetchRepository) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM fetch_requests
		WHERE status IN ('accepted', 'rejected', 'failed') AND updated_at < ?`,
		before.UTC(),
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r *FetchRepository) GetFetch(ctx context.Context, id string) (*storage.FetchRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+fetchColumns+` FROM fetch_requests WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}

	return &records[0], nil
}

// ListFetches returns records newest first.
func (r *FetchRepository) ListFetches(ctx context.Context, filter storage.ListFilter) ([]storage.FetchRecord, error) {
	var (
		where []string
		args  []any
	)

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + fetchColumns + ` FROM fetch_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]storage.FetchRecord, error) {
	defer rows.Close()

	var records []storage.FetchRecord

	for rows.Next() {
		var (
			record                  storage.FetchRecord
			urls, fields, overrides string
			lockedBy                sql.NullString
		)

		req := &record.Request

		err := rows.Scan(
			&req.ID, &req.Title, &req.URL, &urls, &req.InfoHash, &req.Torrent, &fields, &overrides,
			&record.Status, &record.GID, &record.ErrorKind, &record.Message,
			&record.CreatedAt, &record.UpdatedAt, &lockedBy,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(urls), &req.URLs); err != nil {
			return nil, fmt.Errorf("decoding urls of %s: %w", req.ID, err)
		}

		if err := json.Unmarshal([]byte(fields), &req.Fields); err != nil {
			return nil, fmt.Errorf("decoding fields of %s: %w", req.ID, err)
		}

		if err := json.Unmarshal([]byte(overrides), &req.Overrides); err != nil {
			return nil, fmt.Errorf("decoding overrides of %s: %w", req.ID, err)
		}

		if len(req.URLs) == 0 {
			req.URLs = nil
		}

		if len(req.Fields) == 0 {
			req.Fields = nil
		}

		record.LockedBy = lockedBy.String

		records = append(records, record)
	}

	return records, rows.Err()
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}

	return m
}
