package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/fetcher/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAttempter fails with the scripted errors in order and then writes
// content to the staging file.
type scriptedAttempter struct {
	dir     string
	content []byte
	errs    []error

	mu    sync.Mutex
	calls int
}

func (s *scriptedAttempter) Execute(_ context.Context, req transfer.Request) (*transfer.State, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()

	final := filepath.Join(s.dir, filepath.Base(req.URL))
	state := &transfer.State{FinalPath: final, StagingPath: final + transfer.StagingSuffix, Total: -1}

	if call < len(s.errs) {
		state.Transferred = 10
		return state, s.errs[call]
	}

	if err := os.WriteFile(state.StagingPath, s.content, 0o644); err != nil {
		return state, err
	}

	state.Written = int64(len(s.content))
	state.Transferred = int64(len(s.content))

	return state, nil
}

func (s *scriptedAttempter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

type retryCall struct {
	attempt int
	next    time.Duration
}

func newTestRunner(exec transfer.Attempter, retries *[]retryCall, opts ...RunnerOption) *Runner {
	opts = append([]RunnerOption{
		WithBackoff(time.Millisecond, 3*time.Millisecond),
		WithRetryNotify(func(attempt int, _ error, next time.Duration) {
			*retries = append(*retries, retryCall{attempt: attempt, next: next})
		}),
	}, opts...)

	return NewRunner(exec, opts...)
}

func TestRunner_RetriesTransientFailures(t *testing.T) {
	dir := t.TempDir()
	exec := &scriptedAttempter{
		dir:     dir,
		content: []byte("artifact"),
		errs: []error{
			&transfer.NetworkError{Operation: "get", Err: errors.New("connection reset")},
			&transfer.StatusError{Code: 503},
		},
	}

	var retries []retryCall

	res := newTestRunner(exec, &retries).Run(context.Background(), transfer.NewRequest("https://example.com/tool.bin", dir))

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, filepath.Join(dir, "tool.bin"), res.Path)
	assert.Equal(t, int64(10+10+len("artifact")), res.Bytes)
	assert.Equal(t, []retryCall{{1, 2 * time.Millisecond}, {2, 3 * time.Millisecond}}, retries)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "artifact", string(got))
	assert.NoFileExists(t, res.Path+transfer.StagingSuffix)
}

func TestRunner_GivesUpAfterAttempts(t *testing.T) {
	dir := t.TempDir()
	netErr := &transfer.NetworkError{Operation: "read_body", Err: transfer.ErrShortBody}
	exec := &scriptedAttempter{dir: dir, errs: []error{netErr, netErr, netErr, netErr}}

	var retries []retryCall

	res := newTestRunner(exec, &retries, WithAttempts(3)).Run(context.Background(), transfer.NewRequest("https://example.com/tool.bin", dir))

	require.ErrorIs(t, res.Err, transfer.ErrShortBody)
	assert.Equal(t, transfer.KindNetwork, res.Kind)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, exec.Calls())
	assert.Len(t, retries, 2)
	assert.Empty(t, res.Path)
	assert.Equal(t, filepath.Join(dir, "tool.bin"+transfer.StagingSuffix), res.Staging)
}

func TestRunner_ConflictIsNotRetried(t *testing.T) {
	dir := t.TempDir()
	exec := &scriptedAttempter{dir: dir, errs: []error{&transfer.ConflictError{Path: "x", Reason: "exists"}}}

	var retries []retryCall

	res := newTestRunner(exec, &retries).Run(context.Background(), transfer.NewRequest("https://example.com/tool.bin", dir))

	assert.Equal(t, transfer.KindConflict, res.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, retries)

	var conflict *transfer.ConflictError
	assert.ErrorAs(t, res.Err, &conflict)
}

func TestRunner_TerminalStatus(t *testing.T) {
	dir := t.TempDir()
	exec := &scriptedAttempter{dir: dir, errs: []error{&transfer.StatusError{Code: 404}}}

	var retries []retryCall

	res := newTestRunner(exec, &retries, WithTerminalStatus(404, 410)).
		Run(context.Background(), transfer.NewRequest("https://example.com/tool.bin", dir))

	assert.Equal(t, transfer.KindStatus, res.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, retries)
}

func TestRunner_IntegrityFailureIsRetried(t *testing.T) {
	dir := t.TempDir()
	exec := &scriptedAttempter{dir: dir, content: []byte("artifact")}

	var retries []retryCall

	runner := newTestRunner(exec, &retries)

	verifyCalls := 0
	runner.verify = func(path, _ string) error {
		verifyCalls++
		if verifyCalls == 1 {
			_ = os.Remove(path)
			return &transfer.IntegrityError{Path: path, Expected: "a", Actual: "b"}
		}

		return nil
	}

	res := runner.Run(context.Background(), transfer.NewRequest("https://example.com/tool.bin", dir))

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, retries, 1)
	assert.FileExists(t, res.Path)
}

func TestRunner_DigestMismatchFails(t *testing.T) {
	dir := t.TempDir()
	exec := &scriptedAttempter{dir: dir, content: []byte("artifact")}

	var retries []retryCall

	req := transfer.NewRequest("https://example.com/tool.bin", dir)
	req.Digest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	res := newTestRunner(exec, &retries, WithAttempts(2)).Run(context.Background(), req)

	assert.Equal(t, transfer.KindIntegrity, res.Kind)
	assert.Equal(t, 2, res.Attempts)
	assert.NoFileExists(t, filepath.Join(dir, "tool.bin"))
	assert.NoFileExists(t, filepath.Join(dir, "tool.bin"+transfer.StagingSuffix))
}

func TestRunner_CanceledDuringBackoff(t *testing.T) {
	dir := t.TempDir()
	netErr := &transfer.NetworkError{Operation: "get", Err: errors.New("reset")}
	exec := &scriptedAttempter{dir: dir, errs: []error{netErr, netErr}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := NewRunner(exec,
		WithBackoff(time.Hour, time.Hour),
		WithRetryNotify(func(int, error, time.Duration) { cancel() }))

	res := runner.Run(ctx, transfer.NewRequest("https://example.com/tool.bin", dir))

	assert.Equal(t, transfer.KindCanceled, res.Kind)
	assert.Equal(t, 1, res.Attempts)
}

func TestCappedExponential(t *testing.T) {
	b := newCappedExponential(time.Second, DefaultBackoffCap)

	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 5*time.Second, b.NextBackOff())

	for range 40 {
		b.NextBackOff()
	}

	assert.Equal(t, 5*time.Second, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 2*time.Second, b.NextBackOff())
}
