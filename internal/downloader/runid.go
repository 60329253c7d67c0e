package downloader

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
)

type runIDKey struct{}

// WithRunID makes every batch started with ctx share runID, so several
// rounds of one logical run are journaled together.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id set by WithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)

	return id, ok && id != ""
}

// GenerateRunID returns a unique id for one batch run (hostname+pid+random).
// It is stamped on every journal record of the batch.
func GenerateRunID() string {
	host, _ := os.Hostname()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + hex.EncodeToString(rnd)
}
