package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/fetcher/internal/storage"
)

// timeLayout keeps finished_at lexically ordered so it can be compared in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// TransferWriteRepository implements storage.TransferWriteRepository.
type TransferWriteRepository struct {
	db *sql.DB
}

func NewTransferWriteRepository(db *sql.DB) *TransferWriteRepository {
	return &TransferWriteRepository{db: db}
}

// RecordResult inserts rec, replacing an earlier record with the same id.
func (r *TransferWriteRepository) RecordResult(ctx context.Context, rec storage.TransferRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transfers (id, run_id, url, path, staging_path, bytes, attempts, status, kind, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			path = excluded.path,
			staging_path = excluded.staging_path,
			bytes = excluded.bytes,
			attempts = excluded.attempts,
			status = excluded.status,
			kind = excluded.kind,
			error = excluded.error,
			finished_at = excluded.finished_at,
			staging_removed = 0
	`, rec.ID, rec.RunID, rec.URL, rec.Path, rec.StagingPath, rec.Bytes, rec.Attempts,
		rec.Status, rec.Kind, rec.Error, rec.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("recording transfer %s: %w", rec.ID, err)
	}

	return nil
}

// MarkStagingRemoved flags the staging file of a record as cleaned up.
func (r *TransferWriteRepository) MarkStagingRemoved(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transfers SET staging_removed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking staging removed for %s: %w", id, err)
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

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}

	return t
}
