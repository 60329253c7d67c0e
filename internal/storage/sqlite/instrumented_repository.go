package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/fetcher/internal/storage"
	"github.com/italolelis/fetcher/internal/telemetry"
)

// InstrumentedTransferRepository wraps TransferRepository with telemetry.
type InstrumentedTransferRepository struct {
	repo      *TransferRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedTransferRepository creates a new instrumented transfer repository.
func NewInstrumentedTransferRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedTransferRepository {
	return &InstrumentedTransferRepository{
		repo:      NewTransferRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedTransferRepository) GetTransfer(ctx context.Context, id string) (storage.TransferRecord, error) {
	var result storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_transfer", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetTransfer(ctx, id)

		return err
	})

	return result, err
}

func (r *InstrumentedTransferRepository) GetTransfers(ctx context.Context, limit int) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_transfers", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetTransfers(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedTransferRepository) GetFailed(ctx context.Context, before time.Time) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_failed", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetFailed(ctx, before)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedTransferRepository) RecordResult(ctx context.Context, rec storage.TransferRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_result", func(ctx context.Context) error {
		return r.repo.RecordResult(ctx, rec)
	})
}

func (r *InstrumentedTransferRepository) MarkStagingRemoved(ctx context.Context, id string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_staging_removed", func(ctx context.Context) error {
		return r.repo.MarkStagingRemoved(ctx, id)
	})
}
