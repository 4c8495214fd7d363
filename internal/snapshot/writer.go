package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/anonychat/internal/chat"
)

// DefaultFlushInterval is used when the writer is given no interval.
const DefaultFlushInterval = 2 * time.Second

// Source supplies the current state of a room. *chat.Store satisfies it.
type Source interface {
	Snapshot(code string) (chat.RoomSnapshot, bool)
}

// Writer implements chat.Persister. Touch only marks a room dirty; a
// background goroutine periodically saves every dirty room that still exists
// and deletes the snapshot of every dirty room that does not. Several touches
// between two flushes cost one write.
type Writer struct {
	backend  Backend
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	dirty  map[string]struct{}
	source Source
	closed bool

	flushMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	started bool
}

var _ chat.Persister = (*Writer)(nil)

// NewWriter creates a writer for backend. Call Start once the source exists.
func NewWriter(backend Backend, interval time.Duration, logger *slog.Logger) *Writer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		backend:  backend,
		interval: interval,
		logger:   logger,
		dirty:    make(map[string]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Touch marks code dirty. It never blocks on I/O. Touches after Close are
// ignored.
func (w *Writer) Touch(code string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.dirty[code] = struct{}{}
}

// Pending returns the number of rooms waiting for the next flush.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirty)
}

// Start binds the writer to source and launches the flush loop.
func (w *Writer) Start(source Source) {
	w.mu.Lock()
	w.source = source
	if w.started || w.closed {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.run()
}

func (w *Writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			if err := w.Flush(ctx); err != nil {
				w.logger.Warn("snapshot flush failed", "error", err)
			}
			cancel()
		case <-w.stop:
			return
		}
	}
}

// Flush writes every dirty room now. Failed rooms are not retried; the
// returned error joins every failure.
func (w *Writer) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	source := w.source
	if source == nil || len(w.dirty) == 0 {
		w.mu.Unlock()
		return nil
	}
	codes := make([]string, 0, len(w.dirty))
	for code := range w.dirty {
		codes = append(codes, code)
	}
	w.dirty = make(map[string]struct{})
	w.mu.Unlock()

	var errs []error
	saved, deleted := 0, 0
	for _, code := range codes {
		snap, ok := source.Snapshot(code)
		if ok {
			if err := w.backend.Save(ctx, snap); err != nil {
				w.logger.Error("failed to save snapshot", "room", code, "error", err)
				errs = append(errs, err)
				continue
			}
			saved++
			continue
		}
		if err := w.backend.Delete(ctx, code); err != nil {
			w.logger.Error("failed to delete snapshot", "room", code, "error", err)
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	w.logger.Debug("snapshots flushed", "saved", saved, "deleted", deleted, "failed", len(errs))
	return errors.Join(errs...)
}

// Close stops the flush loop, performs a final flush and ignores any later
// Touch. It does not close the backend.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	w.mu.Unlock()

	if started {
		close(w.stop)
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return w.Flush(ctx)
}
