// Package scheduler runs the agents on a fixed delay: every tick runs the
// starters, advances active talks in turns and then the closers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alekspetrov/conductor/internal/agents"
	"github.com/alekspetrov/conductor/internal/logging"
	"github.com/alekspetrov/conductor/internal/talk"
)

// MaxTalks is how many talks one tick processes by default.
const MaxTalks = 10

// Options tune a Routine.
type Options struct {
	MaxTalks int
	// Isolate runs every talk in its own unit; a failing talk does not
	// stop the others. Without it the first failure aborts the tick.
	Isolate bool
	// Parallel bounds how many isolated talks run at once.
	Parallel int
	Now      func() time.Time
}

// DefaultOptions processes ten talks one at a time, isolated.
func DefaultOptions() Options {
	return Options{
		MaxTalks: MaxTalks,
		Isolate:  true,
		Parallel: 1,
		Now:      time.Now,
	}
}

// Routine is one pass over the talk collection.
type Routine struct {
	talks    talk.Talks
	starters agents.SuperAgent
	closers  agents.SuperAgent
	catalog  Catalog
	pulse    *Pulse
	opts     Options
	logger   *slog.Logger
	closed   atomic.Bool
	count    atomic.Int64

	// turns maps a talk name to the tick that last advanced it.
	mu    sync.Mutex
	turns map[string]int64
}

// NewRoutine creates a routine. Starters, closers and pulse may be nil.
func NewRoutine(talks talk.Talks, catalog Catalog, starters, closers agents.SuperAgent, pulse *Pulse, opts Options) *Routine {
	if opts.MaxTalks <= 0 {
		opts.MaxTalks = MaxTalks
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Routine{
		talks:    talks,
		starters: starters,
		closers:  closers,
		catalog:  catalog,
		pulse:    pulse,
		opts:     opts,
		logger:   logging.WithComponent("routine"),
		turns:    make(map[string]int64),
	}
}

// Close makes every later Tick a no-op. A tick in flight finishes.
func (r *Routine) Close() {
	r.closed.Store(true)
}

// Closed reports whether Close was called.
func (r *Routine) Closed() bool {
	return r.closed.Load()
}

// Tick runs one pass and records it in the pulse. It never panics; the
// returned error is the one the heartbeat carries.
func (r *Routine) Tick(ctx context.Context) (Tick, error) {
	if r.Closed() {
		return Tick{}, nil
	}
	seq := r.count.Add(1)
	ctx = logging.ContextWithTick(ctx, fmt.Sprintf("%d", seq))
	start := r.opts.Now()

	var total int
	err := safely(func() error {
		var err error
		total, err = r.process(ctx, seq)
		return err
	})

	tick := Tick{Start: start, Duration: r.opts.Now().Sub(start), Total: total}
	if err != nil {
		tick.Error = err.Error()
		logging.WithContext(ctx).Error("tick failed", "error", err, "total", total)
	} else {
		logging.WithContext(ctx).Debug("tick done", "total", total, "duration", tick.Duration)
	}
	if r.pulse != nil {
		if perr := r.pulse.Add(context.WithoutCancel(ctx), tick); perr != nil {
			r.logger.Warn("failed to record tick", "error", perr)
		}
	}
	return tick, err
}

func (r *Routine) process(ctx context.Context, seq int64) (int, error) {
	var errs []error
	if r.starters != nil {
		if err := r.starters.Execute(ctx, r.talks); err != nil {
			if !r.opts.Isolate {
				return 0, fmt.Errorf("starters: %w", err)
			}
			errs = append(errs, fmt.Errorf("starters: %w", err))
		}
	}

	active, err := r.talks.Active(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active talks: %w", err)
	}
	active = r.rotate(active, seq)

	total, err := r.run(ctx, active)
	if err != nil {
		if !r.opts.Isolate {
			return total, err
		}
		errs = append(errs, err)
	}

	if r.closers != nil {
		if err := r.closers.Execute(ctx, r.talks); err != nil {
			errs = append(errs, fmt.Errorf("closers: %w", err))
		}
	}
	return total, errors.Join(errs...)
}

func (r *Routine) run(ctx context.Context, active []talk.Talk) (int, error) {
	if !r.opts.Isolate {
		for i, t := range active {
			if err := r.advance(ctx, t); err != nil {
				return i + 1, err
			}
		}
		return len(active), nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallel)
	for _, t := range active {
		t := t
		g.Go(func() error {
			err := safely(func() error { return r.advance(gctx, t) })
			if err != nil {
				logging.WithContext(gctx).Error("talk failed", "talk", t.Name(), "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(active), errors.Join(errs...)
}

// rotate picks the talks for this tick. Talks never advanced come first,
// then the ones that waited longest; ties keep the store's most recent
// first order, so a collection larger than MaxTalks is fully covered
// within a few ticks.
func (r *Routine) rotate(active []talk.Talk, seq int64) []talk.Talk {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make(map[string]bool, len(active))
	for _, t := range active {
		live[t.Name()] = true
	}
	for name := range r.turns {
		if !live[name] {
			delete(r.turns, name)
		}
	}

	picked := append([]talk.Talk(nil), active...)
	sort.SliceStable(picked, func(i, j int) bool {
		return r.turns[picked[i].Name()] < r.turns[picked[j].Name()]
	})
	if len(picked) > r.opts.MaxTalks {
		picked = picked[:r.opts.MaxTalks]
	}
	for _, t := range picked {
		r.turns[t.Name()] = seq
	}
	return picked
}

// advance resolves the talk's profile and runs its chain.
func (r *Routine) advance(ctx context.Context, t talk.Talk) error {
	ctx = logging.ContextWithTalk(ctx, t.Name())
	doc, err := t.Read(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", t.Name(), err)
	}
	p, err := r.catalog.Profile(ctx, doc)
	if err != nil {
		return fmt.Errorf("%s: %w", t.Name(), err)
	}
	if err := r.catalog.Agent(t, p).Execute(ctx, t); err != nil {
		return fmt.Errorf("%s: %w", t.Name(), err)
	}
	return nil
}

// safely turns a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logging.Error("recovered from panic", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
