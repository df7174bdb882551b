package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kat-co/vala"

	"github.com/gruppenschlau/gruppenschlau/core"
)

// Worker is a background loop retrying undelivered outbox entries.
type Worker struct {
	svc         *Service
	log         core.Logger
	interval    time.Duration
	maxAttempts int
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewWorker creates a retry worker running every `interval` on entries with fewer than `maxAttempts` attempts.
func NewWorker(svc *Service, logger core.Logger, interval time.Duration, maxAttempts int) *Worker {
	vala.BeginValidation().Validate(
		vala.IsNotNil(svc, "svc"),
		vala.IsNotNil(logger, "logger"),
		vala.GreaterThan(int(interval), 0, "interval"),
		vala.GreaterThan(maxAttempts, 0, "maxAttempts"),
	).CheckAndPanic()

	return &Worker{
		svc:         svc,
		log:         logger,
		interval:    interval,
		maxAttempts: maxAttempts,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the background retry loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info(fmt.Sprintf("notification worker started: interval=%s max_attempts=%d", w.interval, w.maxAttempts))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("notification worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.retry()
		}
	}
}

func (w *Worker) retry() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := w.svc.Retry(ctx, w.maxAttempts)
	if err != nil {
		w.log.Error("retrying notifications", err)
		return
	}
	if count > 0 {
		w.log.Info(fmt.Sprintf("delivered %d pending notification(s)", count))
	}
}
