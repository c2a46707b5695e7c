package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatme/backend/internal/logging"
	"github.com/chatme/backend/internal/models"
)

const persistTimeout = 5 * time.Second

type fallbackJob struct {
	req          *request
	delivered    bool
	notification models.Notification
}

type completion struct {
	req       *request
	delivered bool
	err       error
}

// fallbackPool persists notifications off the dispatch goroutine and reports
// each result back on done.
type fallbackPool struct {
	store  NotificationStore
	logger *slog.Logger
	done   chan<- completion

	jobs   chan fallbackJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func newFallbackPool(store NotificationStore, done chan<- completion, workers int, logger *slog.Logger) *fallbackPool {
	ctx, cancel := context.WithCancel(context.Background())

	p := &fallbackPool{
		store:  store,
		logger: logger,
		done:   done,
		jobs:   make(chan fallbackJob, workers),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

// close stops the workers once every queued job has been handled.
func (p *fallbackPool) close() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
	p.cancel()
	p.logger.Debug("fallback workers stopped")
}

// abort cancels in-flight persistence calls.
func (p *fallbackPool) abort() {
	p.cancel()
}

func (p *fallbackPool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		err := p.persist(job)
		p.done <- completion{req: job.req, delivered: job.delivered, err: err}
	}
}

func (p *fallbackPool) persist(job fallbackJob) error {
	if p.store == nil {
		return fmt.Errorf("%w: no store configured", ErrNotStored)
	}

	// The caller may give up waiting; the notification is still written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(job.req.ctx), persistTimeout)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if err := p.store.Create(ctx, job.notification); err != nil {
		logging.FromContext(job.req.ctx).Error("persist notification",
			slog.String("recipient_id", job.notification.RecipientID),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %w", ErrNotStored, err)
	}
	return nil
}
