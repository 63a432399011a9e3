package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
	"github.com/veridex-ai/veridex/internal/storage"
)

// Queue claims pending jobs.
type Queue interface {
	DequeueJob(ctx context.Context) (model.CheckJob, error)
}

// Notifier is the optional LISTEN/NOTIFY wake-up channel. The worker falls
// back to polling alone when it is nil or listening fails.
type Notifier interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (channel, payload string, err error)
}

// Processor runs one claimed job.
type Processor interface {
	Process(ctx context.Context, job model.CheckJob) error
}

// Worker drains the job queue with bounded concurrency. It wakes on queue
// notifications when available and polls on a fixed interval regardless, so
// a dropped notification only delays a job, never strands it.
type Worker struct {
	queue        Queue
	notifier     Notifier
	processor    Processor
	concurrency  int
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewWorker(queue Queue, notifier Notifier, processor Processor, concurrency int, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		queue:        queue,
		notifier:     notifier,
		processor:    processor,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run blocks until ctx is canceled, then waits for in-flight jobs to finish.
func (w *Worker) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	if w.notifier != nil {
		if err := w.notifier.Listen(ctx, storage.ChannelJobs); err != nil {
			w.logger.Warn("listen failed, polling only", "error", err)
		} else {
			go w.listenLoop(ctx, wake)
		}
	}

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx, sem, &wg)

		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}
}

// drain claims jobs until the queue is empty or every slot is busy.
func (w *Worker) drain(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}

		job, err := w.queue.DequeueJob(ctx)
		if err != nil {
			<-sem
			if !errors.Is(err, storage.ErrNoPendingJobs) && !errors.Is(err, context.Canceled) {
				w.logger.Error("dequeue failed", "error", err)
			}
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.logger.Info("job claimed", "job_id", job.ID, "kind", job.Input.Kind)
			if err := w.processor.Process(ctx, job); err != nil {
				w.logger.Error("job bookkeeping failed", "job_id", job.ID, "error", err)
			}
		}()
	}
}

func (w *Worker) listenLoop(ctx context.Context, wake chan<- struct{}) {
	for {
		if _, _, err := w.notifier.WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("notification wait failed", "error", err)
			// Back off briefly so a broken connection does not spin.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}
