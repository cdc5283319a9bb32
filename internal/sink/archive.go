package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/airsense/internal/infrastructure/logging"
	"github.com/nerrad567/airsense/internal/telemetry"
)

const (
	defaultArchiveQueue = 256
	archiveWriteTimeout = 5 * time.Second
)

// ArchiveWriter stores one reading. *archive.Store implements it.
type ArchiveWriter interface {
	Insert(ctx context.Context, deviceID string, r telemetry.Reading) error
}

// Archive queues readings for a single writer goroutine. When the queue is
// full the reading is dropped and counted.
type Archive struct {
	w        ArchiveWriter
	deviceID string
	logger   *logging.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan telemetry.Reading
	done   chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewArchive starts the writer goroutine. Call Close to drain and stop it.
func NewArchive(w ArchiveWriter, deviceID string, queueSize int, logger *logging.Logger) *Archive {
	if queueSize < 1 {
		queueSize = defaultArchiveQueue
	}
	if logger == nil {
		logger = logging.Discard()
	}

	a := &Archive{
		w:        w,
		deviceID: deviceID,
		logger:   logger,
		queue:    make(chan telemetry.Reading, queueSize),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// Consume implements Sink. It never blocks.
func (a *Archive) Consume(r telemetry.Reading) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- r:
	default:
		a.dropped.Add(1)
	}
}

func (a *Archive) run() {
	defer close(a.done)

	for r := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
		err := a.w.Insert(ctx, a.deviceID, r)
		cancel()

		if err != nil {
			a.failed.Add(1)
			a.logger.Warn("archive write failed", "error", err)
			continue
		}
		a.written.Add(1)
	}
}

// Close stops accepting readings and waits for queued ones to be written,
// or for ctx to end.
func (a *Archive) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ArchiveStats counts archive outcomes.
type ArchiveStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Queued  int    `json:"queued"`
}

// Stats returns a snapshot of the counters.
func (a *Archive) Stats() ArchiveStats {
	return ArchiveStats{
		Written: a.written.Load(),
		Dropped: a.dropped.Load(),
		Failed:  a.failed.Load(),
		Queued:  len(a.queue),
	}
}
