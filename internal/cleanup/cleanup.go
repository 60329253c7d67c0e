package cleanup

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/fetcher/internal/logctx"
	"github.com/italolelis/fetcher/internal/storage"
	"github.com/italolelis/fetcher/internal/transfer"
)

// DeleteStaleStaging removes the staging files of transfers that failed more
// than keepDuration ago. Newer staging files are kept so a later run can
// resume them, including files a later attempt wrote to after the cutoff.
// It returns how many files were removed.
func DeleteStaleStaging(ctx context.Context, repo storage.TransferRepository, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	cutoff := time.Now().Add(-keepDuration)

	records, err := repo.GetFailed(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing failed transfers: %w", err)
	}

	var removed int

	for _, rec := range records {
		// Never touch anything that is not a staging file.
		if !strings.HasSuffix(rec.StagingPath, transfer.StagingSuffix) {
			continue
		}

		info, err := os.Stat(rec.StagingPath)

		switch {
		case os.IsNotExist(err):
			// Resumed and installed by a later run, or removed by hand.
		case err != nil:
			logger.ErrorContext(ctx, "failed to stat staging file", "file", rec.StagingPath, "err", err)

			return removed, err
		case info.ModTime().After(cutoff):
			logger.DebugContext(ctx, "staging file still in use, keeping it",
				"file", rec.StagingPath,
				"modified_at", info.ModTime())

			continue
		default:
			if err := os.Remove(rec.StagingPath); err != nil && !os.IsNotExist(err) {
				logger.ErrorContext(ctx, "failed to delete stale staging file", "file", rec.StagingPath, "err", err)

				return removed, err
			}

			removed++

			logger.InfoContext(ctx, "deleted stale staging file",
				"file", rec.StagingPath,
				"size", humanize.Bytes(uint64(info.Size())),
				"failed_at", rec.FinishedAt)
		}

		if err := repo.MarkStagingRemoved(ctx, rec.ID); err != nil {
			return removed, fmt.Errorf("updating journal: %w", err)
		}
	}

	return removed, nil
}
