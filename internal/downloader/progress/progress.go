// Package progress reports transfer progress through the structured logger.
package progress

import (
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
)

// DefaultInterval is how many bytes are received between two reports when
// the total is unknown.
const DefaultInterval = 100 * 1024 * 1024

// stepPercent is the percentage step between two reports when the total is known.
const stepPercent = 5

type entry struct {
	name       string
	total      int64
	written    int64
	lastReport int64
	lastStep   int64
}

// Logger is a transfer.Observer that logs progress at DEBUG level. It is
// safe for concurrent use by sibling transfers.
type Logger struct {
	logger   *slog.Logger
	interval int64

	mu      sync.Mutex
	entries map[string]*entry
}

func NewLogger(logger *slog.Logger, interval int64) *Logger {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Logger{
		logger:   logger,
		interval: interval,
		entries:  make(map[string]*entry),
	}
}

func (l *Logger) Start(id, name string, offset, total int64) {
	e := &entry{name: name, total: total, written: offset}
	if total > 0 {
		e.lastStep = offset * 100 / total / stepPercent
	}

	l.mu.Lock()
	l.entries[id] = e
	l.mu.Unlock()

	attrs := []any{"transfer_id", id, "name", name}
	if offset > 0 {
		attrs = append(attrs, "offset", humanize.Bytes(uint64(offset)))
	}

	if total >= 0 {
		attrs = append(attrs, "total", humanize.Bytes(uint64(total)))
	}

	l.logger.Info("downloading file", attrs...)
}

func (l *Logger) Advance(id string, n int64) {
	l.mu.Lock()

	e, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()

		return
	}

	e.written += n
	e.lastReport += n

	report := e.lastReport >= l.interval
	if e.total > 0 {
		if step := e.written * 100 / e.total / stepPercent; step > e.lastStep {
			e.lastStep = step
			report = true
		}
	}

	if report {
		e.lastReport = 0
	}

	written, total, name := e.written, e.total, e.name
	l.mu.Unlock()

	if !report {
		return
	}

	if total > 0 {
		l.logger.Debug("download progress",
			"transfer_id", id,
			"name", name,
			"downloaded", humanize.Bytes(uint64(written)),
			"total", humanize.Bytes(uint64(total)),
			"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))

		return
	}

	l.logger.Debug("download progress", "transfer_id", id, "name", name, "downloaded", humanize.Bytes(uint64(written)))
}

func (l *Logger) Finish(id string, err error) {
	l.mu.Lock()
	e, ok := l.entries[id]
	delete(l.entries, id)
	l.mu.Unlock()

	if !ok {
		return
	}

	if err != nil {
		l.logger.Debug("download attempt ended", "transfer_id", id, "name", e.name,
			"downloaded", humanize.Bytes(uint64(e.written)), "err", err)

		return
	}

	l.logger.Debug("download stream complete", "transfer_id", id, "name", e.name,
		"downloaded", humanize.Bytes(uint64(e.written)))
}
