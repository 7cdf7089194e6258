package quota

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/pkg/repository"
)

type usageUpdate struct {
	limitID             string
	tokensIn, tokensOut int64
}

// Dispatcher is the bounded worker pool backing the fire-and-forget
// post-update. Its Start/Stop/WaitGroup shape mirrors a bounded polling
// pool: a fixed set of workers drain a buffered job channel until told to
// stop, at which point the channel is closed and drained rather than
// abandoned.
type Dispatcher struct {
	repo   repository.Repository
	logger *slog.Logger

	jobs chan usageUpdate
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines draining a queue of size
// queueSize. Call Stop to drain and shut down.
func NewDispatcher(repo repository.Repository, logger *slog.Logger, workers, queueSize int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	d := &Dispatcher{
		repo:   repo,
		logger: logger,
		jobs:   make(chan usageUpdate, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for job := range d.jobs {
		if err := d.repo.IncrementLimitUsage(context.Background(), job.limitID, job.tokensIn, job.tokensOut); err != nil {
			d.logger.Error("quota: failed to increment limit usage", "limit_id", job.limitID, "error", err)
		}
	}
}

// Dispatch enqueues one usage-increment job per limit. A full queue drops
// the update with a logged error rather than blocking the caller.
func (d *Dispatcher) Dispatch(limits []*ent.Limit, tokensIn, tokensOut int64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	for _, l := range limits {
		select {
		case d.jobs <- usageUpdate{limitID: l.ID, tokensIn: tokensIn, tokensOut: tokensOut}:
		default:
			d.logger.Error("quota: dispatch queue full, dropping usage update", "limit_id", l.ID)
		}
	}
}

// Stop closes the queue and waits for every already-enqueued job to drain
// before returning.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}
