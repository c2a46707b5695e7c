// Package router dispatches outbound real-time events to online recipients
// and persists fallback notifications for offline ones.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/chatme/backend/internal/config"
	"github.com/chatme/backend/internal/events"
	"github.com/chatme/backend/internal/logging"
	"github.com/chatme/backend/internal/models"
	"github.com/chatme/backend/internal/presence"
)

var (
	// ErrClosed is returned once Shutdown has begun.
	ErrClosed = errors.New("router closed")
	// ErrNotStored wraps a failure to persist a fallback notification.
	ErrNotStored = errors.New("persist notification")
)

// Outcome describes what happened to a routed delivery.
type Outcome int

const (
	// OutcomeDropped means the event reached nobody and nothing was stored.
	OutcomeDropped Outcome = iota
	// OutcomeDelivered means the event was pushed to a live connection.
	OutcomeDelivered
	// OutcomeStored means the recipient was offline and a notification was stored.
	OutcomeStored
	// OutcomeDeliveredAndStored means the event was pushed and also stored.
	OutcomeDeliveredAndStored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeStored:
		return "stored"
	case OutcomeDeliveredAndStored:
		return "delivered+stored"
	default:
		return "dropped"
	}
}

func outcomeOf(delivered, stored bool) Outcome {
	switch {
	case delivered && stored:
		return OutcomeDeliveredAndStored
	case delivered:
		return OutcomeDelivered
	case stored:
		return OutcomeStored
	default:
		return OutcomeDropped
	}
}

// Delivery is one event addressed to one user. Fallback, when set, is
// persisted if the recipient is offline.
type Delivery struct {
	RecipientID string
	Event       events.Outbound
	Fallback    *models.Notification
}

// Presence maps users to live connections. The router is its only writer.
type Presence interface {
	Lookup(userID string) (presence.Handle, bool)
	Register(userID string, handle presence.Handle)
	Unregister(handle presence.Handle) (string, bool)
}

// NotificationStore persists fallback notifications.
type NotificationStore interface {
	Create(ctx context.Context, n models.Notification) error
}

// Config controls queue sizes and the notification policy.
type Config struct {
	QueueSize int
	Workers   int
	Policy    string
}

type result struct {
	outcome Outcome
	removed bool
	err     error
}

// presenceChange binds handle to userID, or releases handle when userID is empty.
type presenceChange struct {
	userID string
	handle presence.Handle
}

type request struct {
	ctx      context.Context
	delivery Delivery
	change   *presenceChange
	reply    chan result
}

// Router serializes all delivery decisions on one goroutine so events for the
// same recipient are pushed in the order they were routed. Persistence runs on
// a worker pool and its completion re-enters the dispatch loop.
type Router struct {
	presence Presence
	policy   string
	logger   *slog.Logger
	pool     *fallbackPool

	queue       chan *request
	completions chan completion
	inflight    int

	closing chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New starts a router and its fallback workers.
func New(p Presence, store NotificationStore, cfg Config, logger *slog.Logger) *Router {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Policy == "" {
		cfg.Policy = config.NotifyFallback
	}
	if logger == nil {
		logger = slog.Default()
	}

	completions := make(chan completion, cfg.Workers)
	r := &Router{
		presence:    p,
		policy:      cfg.Policy,
		logger:      logger,
		pool:        newFallbackPool(store, completions, cfg.Workers, logger),
		queue:       make(chan *request, cfg.QueueSize),
		completions: completions,
		closing:     make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go r.run()
	return r
}

// Route submits a delivery and waits for its outcome. A persistence failure
// is returned as an error wrapping ErrNotStored alongside the outcome of the
// push.
func (r *Router) Route(ctx context.Context, d Delivery) (Outcome, error) {
	if d.Event == nil || d.RecipientID == "" {
		return OutcomeDropped, errors.New("router: delivery needs a recipient and an event")
	}
	res := r.submit(ctx, &request{ctx: ctx, delivery: d})
	return res.outcome, res.err
}

// Register makes handle the live connection of userID. Deliveries routed
// after Register returns see the new connection.
func (r *Router) Register(ctx context.Context, userID string, handle presence.Handle) error {
	if userID == "" || handle == nil {
		return errors.New("router: register needs a user and a connection")
	}
	res := r.submit(ctx, &request{ctx: ctx, change: &presenceChange{userID: userID, handle: handle}})
	return res.err
}

// Unregister releases handle. It reports false when handle was not the
// current connection of its user.
func (r *Router) Unregister(ctx context.Context, handle presence.Handle) (bool, error) {
	if handle == nil {
		return false, nil
	}
	res := r.submit(ctx, &request{ctx: ctx, change: &presenceChange{handle: handle}})
	return res.removed, res.err
}

func (r *Router) submit(ctx context.Context, req *request) result {
	req.reply = make(chan result, 1)

	select {
	case <-r.closing:
		return result{err: ErrClosed}
	default:
	}

	select {
	case <-ctx.Done():
		return result{err: ctx.Err()}
	case <-r.closing:
		return result{err: ErrClosed}
	case r.queue <- req:
	}

	select {
	case res := <-req.reply:
		return res
	case <-ctx.Done():
		return result{err: ctx.Err()}
	case <-r.stopped:
		// Enqueued after the final drain.
		select {
		case res := <-req.reply:
			return res
		default:
			return result{err: ErrClosed}
		}
	}
}

// Shutdown stops intake, waits for queued deliveries and pending persistence
// to finish, then stops the dispatch loop.
func (r *Router) Shutdown(ctx context.Context) error {
	r.once.Do(func() { close(r.closing) })

	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		r.pool.abort()
		return ctx.Err()
	}
}

func (r *Router) run() {
	defer close(r.stopped)

	for {
		select {
		case req := <-r.queue:
			r.dispatch(req)
		case c := <-r.completions:
			r.complete(c)
		case <-r.closing:
			r.drain()
			return
		}
	}
}

func (r *Router) drain() {
pending:
	for {
		select {
		case req := <-r.queue:
			r.dispatch(req)
		default:
			break pending
		}
	}
	for r.inflight > 0 {
		r.complete(<-r.completions)
	}
	r.pool.close()
}

func (r *Router) dispatch(req *request) {
	if req.change != nil {
		r.apply(req)
		return
	}

	d := req.delivery
	logger := logging.FromContext(req.ctx).With(
		slog.String("event", string(d.Event.Kind())),
		slog.String("recipient_id", d.RecipientID),
	)

	delivered := false
	handle, online := r.presence.Lookup(d.RecipientID)
	if online {
		if err := handle.Push(d.Event); err != nil {
			logger.Warn("push failed, event lost", slog.String("conn_id", handle.ID()), slog.Any("error", err))
		} else {
			delivered = true
		}
	}

	persist := d.Fallback != nil && (!online || r.policy == config.NotifyAlways)
	if !persist {
		if !online {
			logger.Debug("recipient offline, event dropped")
		}
		req.reply <- result{outcome: outcomeOf(delivered, false)}
		return
	}

	r.inflight++
	job := fallbackJob{req: req, delivered: delivered, notification: *d.Fallback}
	for {
		select {
		case r.pool.jobs <- job:
			return
		case c := <-r.completions:
			r.complete(c)
		}
	}
}

func (r *Router) apply(req *request) {
	c := req.change
	if c.userID != "" {
		r.presence.Register(c.userID, c.handle)
		req.reply <- result{}
		return
	}
	_, removed := r.presence.Unregister(c.handle)
	req.reply <- result{removed: removed}
}

func (r *Router) complete(c completion) {
	r.inflight--
	if c.err != nil {
		c.req.reply <- result{outcome: outcomeOf(c.delivered, false), err: c.err}
		return
	}
	c.req.reply <- result{outcome: outcomeOf(c.delivered, true)}
}
