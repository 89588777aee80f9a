// Package dispatch fans webhook events out to the conversation handler.
//
// Dispatch returns once every event has been handed to its own goroutine; it
// never waits for completions or replies, so the webhook can acknowledge
// within the platform's response-time limit.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fudosan-agent/internal/domain"
	"fudosan-agent/internal/usecase"
)

const DefaultDedupWindow = 10 * time.Minute

type EventHandler interface {
	Handle(ctx context.Context, ev domain.Event) usecase.Result
}

type Options struct {
	// DedupWindow drops events whose webhook event id was already dispatched
	// within the window. Zero disables deduplication.
	DedupWindow time.Duration
	// SerializePerUser runs events for the same user one at a time, in
	// arrival order.
	SerializePerUser bool
	Logger           *slog.Logger
}

type Dispatcher struct {
	handler EventHandler
	opts    Options
	log     *slog.Logger
	seen    *seenSet
	locks   *userLocks
	now     func() time.Time

	wg sync.WaitGroup
}

func New(handler EventHandler, opts Options) (*Dispatcher, error) {
	if handler == nil {
		return nil, errors.New("dispatch: handler must not be nil")
	}
	if opts.DedupWindow < 0 {
		return nil, errors.New("dispatch: dedup window must not be negative")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Dispatcher{
		handler: handler,
		opts:    opts,
		log:     opts.Logger,
		now:     time.Now,
	}
	if opts.DedupWindow > 0 {
		d.seen = newSeenSet(opts.DedupWindow)
	}
	if opts.SerializePerUser {
		d.locks = newUserLocks()
	}
	return d, nil
}

// Dispatch starts one task per event and returns immediately. Tasks are
// detached from ctx cancellation but keep its values.
func (d *Dispatcher) Dispatch(ctx context.Context, events []domain.Event) int {
	base := context.WithoutCancel(ctx)
	started := 0
	for _, ev := range events {
		if d.seen != nil && ev.ID != "" && !d.seen.add(ev.ID, d.now()) {
			d.log.Info("dropping duplicate webhook event", "event_id", ev.ID, "redelivery", ev.Redelivery)
			continue
		}
		var t *ticket
		if d.locks != nil && ev.IsTextMessage() {
			// Taken here, not in the goroutine, so same-user events keep
			// payload order.
			t = d.locks.enqueue(ev.UserID)
		}
		d.wg.Add(1)
		started++
		go d.run(base, ev, t)
	}
	return started
}

// Wait blocks until every dispatched event has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, ev domain.Event, t *ticket) {
	defer d.wg.Done()
	if t != nil {
		t.wait()
		defer t.release()
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event handler panicked", "event_id", ev.ID, "user_id", ev.UserID, "panic", r)
		}
	}()
	d.handler.Handle(ctx, ev)
}
