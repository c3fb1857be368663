// Package scheduler runs livarr's background jobs: the recurring
// pipeline tick, per-streamer live checks, the stale-session sweeper
// and scheduled database backups. Jobs are named; scheduling under an
// existing name replaces the pending instance, and two runs of the
// same name never overlap.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/livarr/livarr/internal/observability"
)

// cronParser accepts standard five-field expressions (minute, hour,
// day of month, month, day of week).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// JobFunc is one execution of a scheduled job. Implementations handle
// their own errors; the registry only provides timing and cancellation.
type JobFunc func(ctx context.Context)

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns the scheduling goroutines. Every job shares the
// context passed to Start; Stop cancels them all and waits for every
// in-flight run to return.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	entries map[string]*entry
}

// NewRegistry creates a stopped registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  observability.WithComponent(logger, "scheduler.registry"),
		entries: make(map[string]*entry),
	}
}

// Start binds the registry to ctx. Jobs can only be scheduled on a
// started registry.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	return nil
}

// Stop cancels every job and blocks until all runs have returned. The
// registry can be started again afterwards.
func (r *Registry) Stop() {
	r.mu.Lock()
	if r.ctx == nil {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.ctx, r.cancel = nil, nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	r.mu.Lock()
	r.entries = make(map[string]*entry)
	r.mu.Unlock()
	r.logger.Info("scheduler stopped")
}

// Every schedules fn at a fixed interval, optionally running it once
// right away.
func (r *Registry) Every(id string, interval time.Duration, immediate bool, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", id)
	}
	return r.schedule(id, func(ctx context.Context) {
		if immediate {
			fn(ctx)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	})
}

// Cron schedules fn on a five-field cron expression.
func (r *Registry) Cron(id, expr string, fn JobFunc) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("job %s: parsing cron expression %q: %w", id, expr, err)
	}
	return r.schedule(id, func(ctx context.Context) {
		for {
			timer := time.NewTimer(time.Until(schedule.Next(time.Now())))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				fn(ctx)
			}
		}
	})
}

// Once schedules fn a single time after delay. Scheduling again under
// the same id before it fires resets the delay.
func (r *Registry) Once(id string, delay time.Duration, fn JobFunc) error {
	return r.schedule(id, func(ctx context.Context) {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		fn(ctx)
	})
}

// Cancel stops the job scheduled under id, reporting whether one
// existed. It does not wait for an in-flight run to return.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if ok {
		e.cancel()
	}
	return ok
}

// Jobs lists the ids with a scheduled instance, sorted.
func (r *Registry) Jobs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// schedule installs run under id, replacing any current instance. The
// replaced instance is canceled and the new run starts only after it
// has returned, so runs sharing an id never overlap.
func (r *Registry) schedule(id string, run JobFunc) error {
	r.mu.Lock()
	if r.ctx == nil {
		r.mu.Unlock()
		return fmt.Errorf("job %s: scheduler not started", id)
	}
	prev := r.entries[id]
	jobCtx, cancel := context.WithCancel(r.ctx)
	e := &entry{cancel: cancel, done: make(chan struct{})}
	r.entries[id] = e
	r.wg.Add(1)
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		r.logger.Debug("replacing scheduled job", slog.String("job", id))
	}

	go func() {
		defer r.wg.Done()
		defer r.remove(id, e)
		defer close(e.done)
		if prev != nil {
			select {
			case <-prev.done:
			case <-jobCtx.Done():
				return
			}
		}
		if jobCtx.Err() != nil {
			return
		}
		run(jobCtx)
	}()
	return nil
}

// remove drops the entry for id unless a replacement has taken over.
func (r *Registry) remove(id string, e *entry) {
	r.mu.Lock()
	if r.entries[id] == e {
		delete(r.entries, id)
	}
	r.mu.Unlock()
}
