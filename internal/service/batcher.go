package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pushgate/webhooks/internal/datatypes"
	"github.com/pushgate/webhooks/internal/models"
)

// ErrBatcherStopped is returned by Add after Stop.
var ErrBatcherStopped = errors.New("batcher stopped")

const batchInboxSize = 1024

// FlushFunc receives one app's events from a closed batch window, in the order they were added.
type FlushFunc func(ctx context.Context, category datatypes.QueueCategory, app *models.App, events []models.Event)

type batchEntry struct {
	app   *models.App
	event models.Event
}

// Batcher coalesces events per queue category over a fixed window. Each category is owned by
// one goroutine holding the buffer and the window timer; the first event after a flush opens
// a new window and every event added before the timer fires is flushed exactly once.
type Batcher struct {
	window time.Duration
	flush  FlushFunc
	ctx    context.Context

	mu      sync.RWMutex
	stopped bool
	actors  map[datatypes.QueueCategory]*batchActor

	wg sync.WaitGroup
}

// NewBatcher starts one actor per queue category. Flushes run with ctx detached from cancellation.
func NewBatcher(ctx context.Context, window time.Duration, flush FlushFunc) *Batcher {
	b := &Batcher{
		window: window,
		flush:  flush,
		ctx:    context.WithoutCancel(ctx),
		actors: make(map[datatypes.QueueCategory]*batchActor),
	}

	for _, category := range datatypes.AllQueueCategories() {
		a := &batchActor{
			category: category,
			window:   window,
			flush:    flush,
			inbox:    make(chan batchEntry, batchInboxSize),
			fire:     make(chan uint64),
			done:     make(chan struct{}),
		}
		b.actors[category] = a
		b.wg.Add(1)

		go func() {
			defer b.wg.Done()

			a.run(b.ctx)
		}()
	}

	return b
}

// Add appends event to the category's current window.
func (b *Batcher) Add(category datatypes.QueueCategory, app *models.App, event models.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return ErrBatcherStopped
	}

	a, ok := b.actors[category]
	if !ok {
		return fmt.Errorf("unknown queue category %q", category)
	}

	a.inbox <- batchEntry{app: app, event: event}

	return nil
}

// Stop flushes every open window and waits for the actors or ctx.
func (b *Batcher) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()

		return nil
	}

	b.stopped = true
	for _, a := range b.actors {
		close(a.inbox)
	}
	b.mu.Unlock()

	done := make(chan struct{})

	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("batcher stop: %w", ctx.Err())
	}
}

type batchActor struct {
	category datatypes.QueueCategory
	window   time.Duration
	flush    FlushFunc

	inbox chan batchEntry
	// fire carries the term whose timer expired.
	fire chan uint64
	done chan struct{}
}

func (a *batchActor) run(ctx context.Context) {
	defer close(a.done)

	var (
		buf   []batchEntry
		term  uint64
		armed bool
		timer *time.Timer
	)

	for {
		select {
		case e, ok := <-a.inbox:
			if !ok {
				if timer != nil {
					timer.Stop()
				}

				a.flushEntries(ctx, buf)

				return
			}

			buf = append(buf, e)

			if !armed {
				armed = true
				term++
				timer = a.arm(term)
			}
		case t := <-a.fire:
			if !armed || t != term {
				continue
			}

			a.flushEntries(ctx, buf)
			buf = nil
			armed = false
		}
	}
}

func (a *batchActor) arm(term uint64) *time.Timer {
	return time.AfterFunc(a.window, func() {
		select {
		case a.fire <- term:
		case <-a.done:
		}
	})
}

// flushEntries hands each app its own events; payloads are signed per app secret.
func (a *batchActor) flushEntries(ctx context.Context, entries []batchEntry) {
	if len(entries) == 0 {
		return
	}

	type group struct {
		app    *models.App
		events []models.Event
	}

	var order []string

	groups := make(map[string]*group)

	for _, e := range entries {
		g, ok := groups[e.app.Key]
		if !ok {
			g = &group{app: e.app}
			groups[e.app.Key] = g
			order = append(order, e.app.Key)
		}

		g.events = append(g.events, e.event)
	}

	for _, key := range order {
		g := groups[key]
		a.flush(ctx, a.category, g.app, g.events)
	}
}
