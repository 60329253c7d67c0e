package release

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/italolelis/fetcher/internal/checksum"
	"github.com/italolelis/fetcher/internal/downloader"
	"github.com/italolelis/fetcher/internal/logctx"
	"github.com/italolelis/fetcher/internal/transfer"
)

// Batcher runs a batch of transfers.
type Batcher interface {
	Run(ctx context.Context, reqs []transfer.Request) downloader.BatchResult
}

// RequestFactory builds a request for url carrying the caller's defaults
// (directory, resume, overwrite, chunk size, timeout).
type RequestFactory func(url string) transfer.Request

// Fetcher downloads every asset of a release.
type Fetcher struct {
	gh         *Client
	batcher    Batcher
	newRequest RequestFactory
}

func NewFetcher(gh *Client, batcher Batcher, newRequest RequestFactory) *Fetcher {
	return &Fetcher{gh: gh, batcher: batcher, newRequest: newRequest}
}

// IsChecksumAsset reports whether an asset holds checksums rather than data.
func IsChecksumAsset(name string) bool {
	return checksum.IsBundle(name) || checksum.IsSidecar(name)
}

// Split separates checksum assets from data assets, preserving order.
func Split(assets []Asset) (checksums, data []Asset) {
	for _, a := range assets {
		if IsChecksumAsset(a.Name) {
			checksums = append(checksums, a)
		} else {
			data = append(data, a)
		}
	}

	return checksums, data
}

// Fetch downloads the checksum assets of the release first, builds the batch
// manifest from them, then downloads the data assets with their digests
// attached. The returned batch holds both rounds under one run id.
func (f *Fetcher) Fetch(ctx context.Context, repo, tag string) (downloader.BatchResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	runID, ok := downloader.RunIDFromContext(ctx)
	if !ok {
		runID = downloader.GenerateRunID()
		ctx = downloader.WithRunID(ctx, runID)
	}

	rel, err := f.gh.Release(ctx, repo, tag)
	if err != nil {
		return downloader.BatchResult{}, fmt.Errorf("fetching release %s@%s: %w", repo, tagOrLatest(tag), err)
	}

	if len(rel.Assets) == 0 {
		return downloader.BatchResult{}, fmt.Errorf("release %s has no assets", rel.Tag)
	}

	checksumAssets, dataAssets := Split(rel.Assets)

	logger.InfoContext(ctx, "release resolved",
		"repo", repo,
		"tag", rel.Tag,
		"data_assets", len(dataAssets),
		"checksum_assets", len(checksumAssets))

	var (
		sums     downloader.BatchResult
		manifest = make(checksum.Manifest)
	)

	if len(checksumAssets) > 0 {
		reqs := f.requests(checksumAssets, nil)

		// Checksum files are small and always refreshed so a re-run sees the
		// release's current digests.
		for i := range reqs {
			reqs[i].Overwrite = true
		}

		sums = f.batcher.Run(ctx, reqs)
		manifest = BuildManifest(ctx, sums.Succeeded)
	}

	data := f.batcher.Run(ctx, f.requests(dataAssets, manifest))

	return downloader.BatchResult{
		RunID:     runID,
		Succeeded: append(sums.Succeeded, data.Succeeded...),
		Failed:    append(sums.Failed, data.Failed...),
	}, nil
}

func (f *Fetcher) requests(assets []Asset, manifest checksum.Manifest) []transfer.Request {
	reqs := make([]transfer.Request, 0, len(assets))

	for _, a := range assets {
		req := f.newRequest(a.URL)
		req.Name = a.Name

		if digest, ok := manifest.Lookup(a.Name); ok {
			req.Digest = digest
		}

		reqs = append(reqs, req)
	}

	return reqs
}

// BuildManifest parses the installed checksum assets. Unusable files are
// logged and skipped: their assets simply go unverified.
func BuildManifest(ctx context.Context, installed []transfer.Result) checksum.Manifest {
	logger := logctx.LoggerFromContext(ctx)
	manifest := make(checksum.Manifest)

	for _, res := range installed {
		m, err := parseChecksumFile(res.Request.Name, res.Path)
		if err != nil {
			var invalid *transfer.InvalidManifestError
			if errors.As(err, &invalid) {
				logger.WarnContext(ctx, "ignoring checksum file", "file", res.Path, "reason", invalid.Reason)

				continue
			}

			logger.WarnContext(ctx, "failed to read checksum file", "file", res.Path, "err", err)

			continue
		}

		manifest.Merge(m)
	}

	logger.DebugContext(ctx, "checksum manifest built", "entries", len(manifest))

	return manifest
}

func parseChecksumFile(name, path string) (checksum.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if checksum.IsSidecar(name) {
		return checksum.ParseSidecar(name, f)
	}

	return checksum.ParseManifest(name, f)
}

func tagOrLatest(tag string) string {
	if tag == "" {
		return "latest"
	}

	return tag
}
