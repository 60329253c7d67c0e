package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/fetcher/internal/logctx"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// Executor streams one attempt of a transfer into its staging file.
type Executor struct {
	client   *http.Client
	observer Observer
	locks    *pathLocks
}

// NewExecutor returns an Executor issuing requests through client. A nil
// observer discards progress events.
func NewExecutor(client *http.Client, observer Observer) *Executor {
	if client == nil {
		client = http.DefaultClient
	}

	if observer == nil {
		observer = NopObserver
	}

	return &Executor{
		client:   client,
		observer: observer,
		locks:    newPathLocks(),
	}
}

// Execute runs a single attempt: probe, open the stream, resume or restart the
// staging file and write the body to it. On success the staging file is left
// in place for verification and the destination stays locked until the
// caller invokes State.Release. The returned State is non-nil whenever the
// destination was resolved, including on failure.
func (e *Executor) Execute(ctx context.Context, req Request) (state *State, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := logctx.LoggerFromContext(ctx)
	phase := func(p Phase) {
		logger.DebugContext(ctx, "transfer phase", "phase", p)
	}

	phase(PhaseInit)

	defer func() {
		if err != nil {
			phase(PhaseFailed)
		}

		e.observer.Finish(req.ID, err)
	}()

	phase(PhaseProbe)

	capability := e.probe(ctx, req)

	ctx, wd := newWatchdog(ctx, req.Timeout)
	defer wd.Stop()

	resp, err := e.get(ctx, wd, req.URL, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	name := TargetName(resp, req.Name)
	state = &State{
		FinalPath: filepath.Join(req.Dir, name),
		Total:     capability.Size,
		Ranges:    capability.Ranges || acceptsRanges(resp.Header),
	}
	state.StagingPath = state.FinalPath + StagingSuffix

	if state.Total < 0 {
		state.Total = contentLength(resp)
	}

	// Waiting for another writer of the same destination is not a stall.
	wd.Pause()
	unlock := e.locks.lock(state.FinalPath)
	wd.Kick()

	defer func() {
		if err != nil {
			unlock()
		} else {
			state.release = unlock
		}
	}()

	logger = logger.With("target", state.FinalPath)

	if err := os.MkdirAll(req.Dir, dirPerm); err != nil {
		return state, fmt.Errorf("creating destination directory: %w", err)
	}

	existing := stagingSize(state.StagingPath)

	resumable := req.Resume && existing > 0 && state.Ranges && (state.Total < 0 || existing <= state.Total)
	if !resumable {
		if err := checkOverwrite(state.FinalPath, req.Overwrite); err != nil {
			return state, err
		}

		phase(PhaseStreaming)

		return state, e.stream(ctx, wd, req, state, resp.Body, false)
	}

	if existing == state.Total {
		logger.InfoContext(ctx, "staging file already complete", "size", humanize.Bytes(uint64(existing)))

		state.Written = existing
		state.Resumed = true
		e.observer.Start(req.ID, name, existing, state.Total)
		phase(PhaseComplete)

		return state, nil
	}

	// The main response is not needed once a ranged request is issued.
	resp.Body.Close()

	ranged, err := e.get(ctx, wd, req.URL, existing)
	if err != nil {
		return state, err
	}
	defer ranged.Body.Close()

	start, matched := rangeStart(ranged.Header.Get("Content-Range"))

	if ranged.StatusCode == http.StatusPartialContent && matched && start == existing {
		logger.InfoContext(ctx, "resuming transfer", "offset", humanize.Bytes(uint64(existing)))

		state.Written = existing
		state.Resumed = true

		if n := contentLength(ranged); n > 0 {
			state.Total = existing + n
		}

		phase(PhaseStreamingResume)

		return state, e.stream(ctx, wd, req, state, ranged.Body, true)
	}

	logger.InfoContext(ctx, "server ignored range request, restarting",
		"status", ranged.StatusCode,
		"content_range", ranged.Header.Get("Content-Range"))

	ranged.Body.Close()

	if err := checkOverwrite(state.FinalPath, req.Overwrite); err != nil {
		return state, err
	}

	fresh, err := e.get(ctx, wd, req.URL, 0)
	if err != nil {
		return state, err
	}
	defer fresh.Body.Close()

	if n := contentLength(fresh); n > 0 {
		state.Total = n
	}

	phase(PhaseStreaming)

	return state, e.stream(ctx, wd, req, state, fresh.Body, false)
}

func (e *Executor) probe(ctx context.Context, req Request) Capability {
	if req.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	return Probe(ctx, e.client, req.URL)
}

// get issues a GET, ranged from offset when it is positive. Every request
// gets the full timeout to deliver its headers. Error statuses are returned
// as StatusError with the body already closed, except on ranged requests
// where the caller decides how to treat a non-206 answer.
func (e *Executor) get(ctx context.Context, wd *watchdog, rawURL string, offset int64) (*http.Response, error) {
	op := "get"
	if offset > 0 {
		op = "get_range"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &RequestError{URL: rawURL, Err: err}
	}

	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	wd.Kick()

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, networkError(ctx, op, rawURL, err)
	}

	wd.Kick()

	if offset == 0 && resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		resp.Body.Close()

		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode, Status: resp.Status}
	}

	return resp, nil
}

// maxDrain caps how much of an error body is read before closing it so the
// connection can be reused.
const maxDrain = 4 << 10

// stream copies body into the staging file chunk by chunk, appending when
// resumed. It never writes past a known total.
func (e *Executor) stream(ctx context.Context, wd *watchdog, req Request, state *State, body io.Reader, resume bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if resume {
		flags = os.O_WRONLY | os.O_APPEND
	} else {
		state.Written = 0
	}

	out, err := os.OpenFile(state.StagingPath, flags, filePerm)
	if err != nil {
		return fmt.Errorf("opening staging file: %w", err)
	}

	e.observer.Start(req.ID, filepath.Base(state.FinalPath), state.Written, state.Total)

	copyErr := e.copyChunks(ctx, wd, req, state, out, body)

	if err := out.Close(); err != nil && copyErr == nil {
		return fmt.Errorf("closing staging file: %w", err)
	}

	if copyErr != nil {
		return copyErr
	}

	if state.Total >= 0 && state.Written < state.Total {
		return &NetworkError{
			Operation: "read_body",
			URL:       req.URL,
			Err:       fmt.Errorf("%w: %d of %d bytes", ErrShortBody, state.Written, state.Total),
		}
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "transfer phase", "phase", PhaseComplete,
		"written", humanize.Bytes(uint64(state.Written)))

	return nil
}

func (e *Executor) copyChunks(ctx context.Context, wd *watchdog, req Request, state *State, out io.Writer, body io.Reader) error {
	reader := &kickReader{r: body, wd: wd}
	buf := make([]byte, req.ChunkSize)

	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			chunk := buf[:n]

			overrun := state.Total >= 0 && state.Written+int64(n) > state.Total
			if overrun {
				chunk = buf[:state.Total-state.Written]
			}

			written, err := out.Write(chunk)
			state.Written += int64(written)
			state.Transferred += int64(written)

			if written > 0 {
				e.observer.Advance(req.ID, int64(written))
			}

			if err != nil {
				return fmt.Errorf("writing staging file: %w", err)
			}

			if overrun {
				return &NetworkError{Operation: "read_body", URL: req.URL, Err: ErrLengthOverrun}
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}

		if readErr != nil {
			return networkError(ctx, "read_body", req.URL, readErr)
		}
	}
}

// networkError wraps a transport failure, replacing the generic cancellation
// error with ErrReadTimeout when the watchdog fired.
func networkError(ctx context.Context, op, rawURL string, err error) error {
	if timedOut(ctx) {
		err = ErrReadTimeout
	}

	return &NetworkError{Operation: op, URL: rawURL, Err: err}
}

func checkOverwrite(finalPath string, overwrite bool) error {
	if overwrite {
		return nil
	}

	if _, err := os.Stat(finalPath); err == nil {
		return &ConflictError{Path: finalPath, Reason: "file exists and resume is not possible"}
	}

	return nil
}

// rangeStart returns the first byte position of a "bytes start-end/total"
// Content-Range value.
func rangeStart(v string) (int64, bool) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return 0, false
	}

	first, _, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, false
	}

	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, false
	}

	return start, true
}

func stagingSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}

	return info.Size()
}

// pathLocks serialises writers of the same destination across transfers.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

func (l *pathLocks) lock(path string) func() {
	l.mu.Lock()

	pl, ok := l.locks[path]
	if !ok {
		pl = &pathLock{}
		l.locks[path] = pl
	}

	pl.refs++
	l.mu.Unlock()

	pl.Lock()

	return func() {
		pl.Unlock()

		l.mu.Lock()
		defer l.mu.Unlock()

		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, path)
		}
	}
}
