package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/fetcher/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	run func(ctx context.Context, req transfer.Request) transfer.Result
}

func (f fakeRunner) Run(ctx context.Context, req transfer.Request) transfer.Result {
	return f.run(ctx, req)
}

func requests(n int) []transfer.Request {
	reqs := make([]transfer.Request, n)
	for i := range reqs {
		reqs[i] = transfer.NewRequest(fmt.Sprintf("https://example.com/file-%d.bin", i), "/tmp")
	}

	return reqs
}

func TestDownloader_RespectsParallelLimit(t *testing.T) {
	var inFlight, peak atomic.Int32

	runner := fakeRunner{run: func(_ context.Context, req transfer.Request) transfer.Result {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)

		return transfer.Result{Request: req, Path: "/tmp/x"}
	}}

	batch := NewDownloader(runner, 3, nil).Run(context.Background(), requests(12))

	assert.True(t, batch.OK())
	assert.Len(t, batch.Succeeded, 12)
	assert.Equal(t, int32(3), peak.Load())
	assert.NotEmpty(t, batch.RunID)
}

func TestDownloader_FailuresAreIsolated(t *testing.T) {
	runner := fakeRunner{run: func(_ context.Context, req transfer.Request) transfer.Result {
		if req.URL == "https://example.com/file-1.bin" {
			err := &transfer.StatusError{URL: req.URL, Code: 500}
			return transfer.Result{Request: req, Err: err, Kind: transfer.Classify(err), Attempts: 3}
		}

		return transfer.Result{Request: req, Path: "/tmp/" + req.ID, Attempts: 1}
	}}

	batch := NewDownloader(runner, 2, nil).Run(context.Background(), requests(4))

	assert.False(t, batch.OK())
	require.Len(t, batch.Failed, 1)
	assert.Equal(t, "https://example.com/file-1.bin", batch.Failed[0].Request.URL)
	assert.Equal(t, transfer.KindStatus, batch.Failed[0].Kind)

	require.Len(t, batch.Succeeded, 3)
	assert.Equal(t, "https://example.com/file-0.bin", batch.Succeeded[0].Request.URL)
	assert.Equal(t, "https://example.com/file-2.bin", batch.Succeeded[1].Request.URL)
	assert.Equal(t, "https://example.com/file-3.bin", batch.Succeeded[2].Request.URL)
}

func TestDownloader_ResultsKeepSubmissionOrder(t *testing.T) {
	reqs := requests(5)

	runner := fakeRunner{run: func(_ context.Context, req transfer.Request) transfer.Result {
		// Earlier submissions finish last.
		for i, r := range reqs {
			if r.ID == req.ID {
				time.Sleep(time.Duration(len(reqs)-i) * 5 * time.Millisecond)
			}
		}

		return transfer.Result{Request: req, Path: "/tmp/x"}
	}}

	batch := NewDownloader(runner, 5, nil).Run(context.Background(), reqs)

	require.Len(t, batch.Succeeded, 5)

	for i, res := range batch.Succeeded {
		assert.Equal(t, reqs[i].ID, res.Request.ID)
	}
}

func TestDownloader_HandlersSeeEveryResult(t *testing.T) {
	runner := fakeRunner{run: func(_ context.Context, req transfer.Request) transfer.Result {
		return transfer.Result{Request: req, Err: errors.New("nope"), Kind: transfer.KindUnknown}
	}}

	d := NewDownloader(runner, 2, nil)

	var (
		mu     sync.Mutex
		runIDs = map[string]int{}
	)

	d.OnResult(func(_ context.Context, runID string, _ transfer.Result) {
		mu.Lock()
		defer mu.Unlock()

		runIDs[runID]++
	})

	batch := d.Run(context.Background(), requests(3))

	assert.Equal(t, map[string]int{batch.RunID: 3}, runIDs)
	assert.Len(t, batch.Failed, 3)
}

func TestDownloader_RecoversPanics(t *testing.T) {
	runner := fakeRunner{run: func(_ context.Context, req transfer.Request) transfer.Result {
		if req.URL == "https://example.com/file-0.bin" {
			panic("boom")
		}

		return transfer.Result{Request: req, Path: "/tmp/x"}
	}}

	batch := NewDownloader(runner, 1, nil).Run(context.Background(), requests(2))

	require.Len(t, batch.Failed, 1)
	assert.Equal(t, transfer.KindUnknown, batch.Failed[0].Kind)
	assert.ErrorContains(t, batch.Failed[0].Err, "boom")
	assert.Len(t, batch.Succeeded, 1)
}

func TestDownloader_CanceledBeforeAdmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var ran atomic.Int32

	runner := fakeRunner{run: func(_ context.Context, req transfer.Request) transfer.Result {
		ran.Add(1)
		cancel()

		return transfer.Result{Request: req, Path: "/tmp/x"}
	}}

	batch := NewDownloader(runner, 1, nil).Run(ctx, requests(3))

	assert.Equal(t, int32(1), ran.Load())
	assert.Len(t, batch.Succeeded, 1)
	require.Len(t, batch.Failed, 2)

	for _, res := range batch.Failed {
		assert.Equal(t, transfer.KindCanceled, res.Kind)
	}
}

func TestDownloader_DefaultParallelism(t *testing.T) {
	assert.Equal(t, DefaultMaxParallel, NewDownloader(fakeRunner{}, 0, nil).maxParallel)
}

func TestGenerateRunID(t *testing.T) {
	a, b := GenerateRunID(), GenerateRunID()

	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}

func TestDownloader_SameDestinationIsNotInterleaved(t *testing.T) {
	const size = 10000

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fill := byte('A')
		if strings.HasPrefix(r.URL.Path, "/b/") {
			fill = 'B'
		}

		w.Header().Set("Content-Length", strconv.Itoa(size))

		if r.Method == http.MethodHead {
			return
		}

		body := bytes.Repeat([]byte{fill}, size)

		if fill == 'A' {
			_, _ = w.Write(body)
			return
		}

		// The second source stalls halfway through its body.
		_, _ = w.Write(body[:size/2])
		w.(http.Flusher).Flush()
		time.Sleep(400 * time.Millisecond)
		_, _ = w.Write(body[size/2:])
	}))
	defer srv.Close()

	dir := t.TempDir()

	runner := NewRunner(transfer.NewExecutor(srv.Client(), nil), WithAttempts(1))
	runner.verify = func(string, string) error {
		time.Sleep(150 * time.Millisecond)
		return nil
	}

	batch := NewDownloader(runner, 2, nil).Run(context.Background(), []transfer.Request{
		transfer.NewRequest(srv.URL+"/a/file.bin", dir),
		transfer.NewRequest(srv.URL+"/b/file.bin", dir),
	})

	require.Len(t, batch.Succeeded, 1)
	require.Len(t, batch.Failed, 1)

	winner := batch.Succeeded[0]
	loser := batch.Failed[0]

	assert.Equal(t, filepath.Join(dir, "file.bin"), winner.Path)
	assert.Equal(t, transfer.KindConflict, loser.Kind)
	assert.Equal(t, 1, loser.Attempts)

	fill := byte('A')
	if strings.HasPrefix(winner.Request.URL, srv.URL+"/b/") {
		fill = 'B'
	}

	got, err := os.ReadFile(winner.Path)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{fill}, size), got)
	assert.NoFileExists(t, winner.Path+transfer.StagingSuffix)
}

func TestDownloader_RunIDFromContext(t *testing.T) {
	var seen []string

	d := NewDownloader(fakeRunner{run: func(_ context.Context, req transfer.Request) transfer.Result {
		return transfer.Result{Request: req, Path: "/tmp/x"}
	}}, 1, nil)
	d.OnResult(func(_ context.Context, runID string, _ transfer.Result) {
		seen = append(seen, runID)
	})

	ctx := WithRunID(context.Background(), "release-run")

	first := d.Run(ctx, requests(1))
	second := d.Run(ctx, requests(1))

	assert.Equal(t, "release-run", first.RunID)
	assert.Equal(t, "release-run", second.RunID)
	assert.Equal(t, []string{"release-run", "release-run"}, seen)

	_, ok := RunIDFromContext(context.Background())
	assert.False(t, ok)
}
