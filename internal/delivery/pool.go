package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quillpost/quillpost/internal/logging"
	"github.com/quillpost/quillpost/internal/metrics"
	"github.com/quillpost/quillpost/internal/queue"
)

// Pool runs N workers against one queue. Pool size bounds outbound
// provider concurrency.
type Pool struct {
	workers []*Worker
	q       *queue.Queue
	stale   time.Duration
	logger  *logging.Logger
}

func NewPool(size int, instanceID string, q *queue.Queue, sender Sender, cfg Config, staleClaimAfter time.Duration, logger *logging.Logger) *Pool {
	workers := make([]*Worker, size)
	for i := range workers {
		workers[i] = NewWorker(fmt.Sprintf("%s-%d", instanceID, i), q, sender, cfg, logger)
	}
	return &Pool{workers: workers, q: q, stale: staleClaimAfter, logger: logger}
}

// Run starts the workers and the janitor and blocks until ctx is
// cancelled and all workers have stopped claiming.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.janitor(ctx)
	}()
	wg.Wait()
}

// janitor periodically releases claims abandoned by crashed workers and
// refreshes the queue depth gauges.
func (p *Pool) janitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		released, err := p.q.ReleaseStale(ctx, p.stale)
		if err != nil {
			p.logger.Plain().WithError(err).Error("release stale claims failed")
		} else if released > 0 {
			p.logger.Plain().WithField("released", released).Warn("released stale claims from crashed workers")
		}

		counts, err := p.q.CountByStatus(ctx)
		if err != nil {
			p.logger.Plain().WithError(err).Error("queue depth query failed")
			continue
		}
		for _, s := range []queue.Status{queue.StatusPending, queue.StatusClaimed, queue.StatusDone, queue.StatusQuarantined} {
			metrics.UpdateQueueDepth(string(s), float64(counts[s]))
		}
	}
}
