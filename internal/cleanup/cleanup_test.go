package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/fetcher/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	storage.TransferRepository

	failed  []storage.TransferRecord
	before  time.Time
	removed []string
}

func (f *fakeRepo) GetFailed(_ context.Context, before time.Time) ([]storage.TransferRecord, error) {
	f.before = before

	return f.failed, nil
}

func (f *fakeRepo) MarkStagingRemoved(_ context.Context, id string) error {
	f.removed = append(f.removed, id)

	return nil
}

func TestDeleteStaleStaging(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "tool.bin.part")
	require.NoError(t, os.WriteFile(stale, make([]byte, 2048), 0o644))

	old := time.Now().Add(-96 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	notStaging := filepath.Join(dir, "tool.bin")
	require.NoError(t, os.WriteFile(notStaging, []byte("installed"), 0o644))

	repo := &fakeRepo{failed: []storage.TransferRecord{
		{ID: "stale", StagingPath: stale},
		{ID: "gone", StagingPath: filepath.Join(dir, "gone.bin.part")},
		{ID: "foreign", StagingPath: notStaging},
	}}

	removed, err := DeleteStaleStaging(context.Background(), repo, 72*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, notStaging)
	assert.Equal(t, []string{"stale", "gone"}, repo.removed)
	assert.WithinDuration(t, time.Now().Add(-72*time.Hour), repo.before, time.Minute)
}

func TestDeleteStaleStaging_KeepsRecentlyWrittenFile(t *testing.T) {
	dir := t.TempDir()

	// An old failure whose staging file a later run has since resumed and
	// written to.
	reused := filepath.Join(dir, "tool.bin.part")
	require.NoError(t, os.WriteFile(reused, make([]byte, 4096), 0o644))

	recent := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(reused, recent, recent))

	repo := &fakeRepo{failed: []storage.TransferRecord{
		{ID: "day-1", StagingPath: reused, FinishedAt: time.Now().Add(-96 * time.Hour)},
	}}

	removed, err := DeleteStaleStaging(context.Background(), repo, 72*time.Hour)
	require.NoError(t, err)

	assert.Zero(t, removed)
	assert.FileExists(t, reused)
	assert.Empty(t, repo.removed)
}

type failingRepo struct {
	fakeRepo
}

func (f *failingRepo) GetFailed(context.Context, time.Time) ([]storage.TransferRecord, error) {
	return nil, errors.New("database is locked")
}

func TestDeleteStaleStaging_ListError(t *testing.T) {
	_, err := DeleteStaleStaging(context.Background(), &failingRepo{}, time.Hour)
	assert.ErrorContains(t, err, "database is locked")
}
