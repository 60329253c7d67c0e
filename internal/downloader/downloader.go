package downloader

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/italolelis/fetcher/internal/logctx"
	"github.com/italolelis/fetcher/internal/telemetry"
	"github.com/italolelis/fetcher/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxParallel is the admission limit used when none is configured.
const DefaultMaxParallel = 4

// TransferRunner runs one transfer to a terminal Result.
type TransferRunner interface {
	Run(ctx context.Context, req transfer.Request) transfer.Result
}

// ResultHandler is called once per finished transfer, from the transfer's
// goroutine, with the id of the batch run.
type ResultHandler func(ctx context.Context, runID string, res transfer.Result)

// Downloader admits transfers up to a concurrency limit and collects their
// results.
type Downloader struct {
	runner      TransferRunner
	maxParallel int
	telemetry   *telemetry.Telemetry
	handlers    []ResultHandler
}

func NewDownloader(runner TransferRunner, maxParallel int, tel *telemetry.Telemetry) *Downloader {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	return &Downloader{
		runner:      runner,
		maxParallel: maxParallel,
		telemetry:   tel,
	}
}

// OnResult registers h to observe every terminal result.
func (d *Downloader) OnResult(h ResultHandler) {
	d.handlers = append(d.handlers, h)
}

// BatchResult splits the results of a batch by outcome, each list in
// submission order.
type BatchResult struct {
	RunID     string
	Succeeded []transfer.Result
	Failed    []transfer.Result
}

// OK reports whether every transfer of the batch succeeded.
func (b BatchResult) OK() bool {
	return len(b.Failed) == 0
}

// Run executes reqs with at most maxParallel in flight, admitting them in
// submission order. A failed transfer never cancels its siblings. When ctx
// is cancelled the transfers not yet admitted fail as canceled and staging
// files are left for a later run. The run id comes from ctx when set with
// WithRunID.
func (d *Downloader) Run(ctx context.Context, reqs []transfer.Request) BatchResult {
	logger := logctx.LoggerFromContext(ctx)

	runID, ok := RunIDFromContext(ctx)
	if !ok {
		runID = GenerateRunID()
	}

	logger.InfoContext(ctx, "starting batch", "run_id", runID, "transfers", len(reqs), "max_parallel", d.maxParallel)

	results := make([]transfer.Result, len(reqs))

	var g errgroup.Group

	g.SetLimit(d.maxParallel)

	for i := range reqs {
		req := reqs[i]

		// Go blocks while the limit is reached, so admission follows submission order.
		g.Go(func() error {
			results[i] = d.runOne(ctx, req)

			for _, h := range d.handlers {
				h(ctx, runID, results[i])
			}

			return nil
		})
	}

	_ = g.Wait()

	batch := BatchResult{RunID: runID}

	for _, res := range results {
		if res.OK() {
			batch.Succeeded = append(batch.Succeeded, res)
		} else {
			batch.Failed = append(batch.Failed, res)
		}
	}

	logger.InfoContext(ctx, "batch finished",
		"run_id", runID,
		"succeeded", len(batch.Succeeded),
		"failed", len(batch.Failed))

	return batch
}

func (d *Downloader) runOne(ctx context.Context, req transfer.Request) (res transfer.Result) {
	if err := ctx.Err(); err != nil {
		return transfer.Result{Request: req, Err: err, Kind: transfer.Classify(err)}
	}

	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "transfer panic",
				"url", req.URL,
				"panic", r,
				"stack", string(debug.Stack()))

			res = transfer.Result{Request: req, Err: fmt.Errorf("transfer panicked: %v", r), Kind: transfer.KindUnknown}
		}
	}()

	d.telemetry.InstrumentTransfer(ctx, func(ctx context.Context) telemetry.TransferReport {
		res = d.runner.Run(ctx, req)

		return telemetry.TransferReport{Kind: string(res.Kind), Bytes: res.Bytes, Err: res.Err}
	})

	return res
}
