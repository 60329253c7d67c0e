package storage

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/fetcher/internal/transfer"
)

// ErrNotFound is returned when no journal record matches.
var ErrNotFound = errors.New("transfer record not found")

const (
	StatusInstalled = "installed"
	StatusFailed    = "failed"
)

// TransferRecord is the journal entry written for every finished transfer.
type TransferRecord struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	URL         string    `json:"url"`
	Path        string    `json:"path,omitempty"`
	StagingPath string    `json:"staging_path,omitempty"`
	Bytes       int64     `json:"bytes"`
	Attempts    int       `json:"attempts"`
	Status      string    `json:"status"`
	Kind        string    `json:"kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// NewTransferRecord converts a terminal result into a journal record.
func NewTransferRecord(runID string, res transfer.Result, finishedAt time.Time) TransferRecord {
	rec := TransferRecord{
		ID:          res.Request.ID,
		RunID:       runID,
		URL:         res.Request.URL,
		Path:        res.Path,
		StagingPath: res.Staging,
		Bytes:       res.Bytes,
		Attempts:    res.Attempts,
		Status:      StatusInstalled,
		FinishedAt:  finishedAt.UTC(),
	}

	if !res.OK() {
		rec.Status = StatusFailed
		rec.Kind = string(res.Kind)
		rec.Error = res.Err.Error()
	}

	return rec
}

type TransferReadRepository interface {
	GetTransfer(ctx context.Context, id string) (TransferRecord, error)
	GetTransfers(ctx context.Context, limit int) ([]TransferRecord, error)
	// GetFailed returns failed records finished before the given time whose
	// staging file has not been cleaned up yet and was not reused by a newer
	// transfer.
	GetFailed(ctx context.Context, before time.Time) ([]TransferRecord, error)
}

type TransferWriteRepository interface {
	RecordResult(ctx context.Context, rec TransferRecord) error
	MarkStagingRemoved(ctx context.Context, id string) error
}

type TransferRepository interface {
	TransferReadRepository
	TransferWriteRepository
}
