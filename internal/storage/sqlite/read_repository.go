package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/fetcher/internal/storage"
)

const selectColumns = `SELECT id, run_id, url, path, staging_path, bytes, attempts, status, kind, error, finished_at FROM transfers`

type TransferReadRepository struct {
	db *sql.DB
}

func NewTransferReadRepository(dbConn *sql.DB) *TransferReadRepository {
	return &TransferReadRepository{db: dbConn}
}

func (r *TransferReadRepository) GetTransfer(ctx context.Context, id string) (storage.TransferRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.TransferRecord{}, storage.ErrNotFound
	}

	return rec, err
}

// GetTransfers returns the most recent records first, up to limit.
func (r *TransferReadRepository) GetTransfers(ctx context.Context, limit int) ([]storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transfers: %w", err)
	}

	return collect(rows)
}

// GetFailed skips records whose staging path was reused by a newer transfer:
// the file now belongs to that transfer.
func (r *TransferReadRepository) GetFailed(ctx context.Context, before time.Time) ([]storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` AS t
		WHERE t.status = ?
		AND t.staging_removed = 0
		AND t.staging_path != ''
		AND t.finished_at < ?
		AND NOT EXISTS (
			SELECT 1 FROM transfers n
			WHERE n.staging_path = t.staging_path
			AND n.finished_at > t.finished_at
		)
		ORDER BY t.finished_at`, storage.StatusFailed, before.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("querying failed transfers: %w", err)
	}

	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (storage.TransferRecord, error) {
	var (
		rec                                     storage.TransferRecord
		runID, path, staging, kind, msg, stamp sql.NullString
	)

	err := s.Scan(&rec.ID, &runID, &rec.URL, &path, &staging, &rec.Bytes, &rec.Attempts,
		&rec.Status, &kind, &msg, &stamp)
	if err != nil {
		return storage.TransferRecord{}, err
	}

	rec.RunID = runID.String
	rec.Path = path.String
	rec.StagingPath = staging.String
	rec.Kind = kind.String
	rec.Error = msg.String
	rec.FinishedAt = parseTime(stamp.String)

	return rec, nil
}

func collect(rows *sql.Rows) ([]storage.TransferRecord, error) {
	defer rows.Close()

	var records []storage.TransferRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
