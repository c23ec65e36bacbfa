package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alekspetrov/conductor/internal/agents"
	"github.com/alekspetrov/conductor/internal/profile"
	"github.com/alekspetrov/conductor/internal/talk"
)

// fakeTalks serves a fixed list, already ordered most recent first.
type fakeTalks struct {
	list []talk.Talk
}

func (f *fakeTalks) Exists(ctx context.Context, name string) (bool, error) {
	_, err := f.Get(ctx, name)
	return err == nil, nil
}

func (f *fakeTalks) Get(ctx context.Context, name string) (talk.Talk, error) {
	for _, t := range f.list {
		if t.Name() == name {
			return t, nil
		}
	}
	return nil, talk.ErrNotFound
}

func (f *fakeTalks) Create(ctx context.Context, repo, name string) (talk.Talk, error) {
	t := talk.NewMemory(name, int64(len(f.list)+1))
	f.list = append([]talk.Talk{t}, f.list...)
	return t, nil
}

func (f *fakeTalks) Active(ctx context.Context) ([]talk.Talk, error) {
	return f.list, nil
}

func newTalks(n int) *fakeTalks {
	f := &fakeTalks{}
	for i := 1; i <= n; i++ {
		_, _ = f.Create(context.Background(), "acme/app", fmt.Sprintf("acme/app#%d", i))
	}
	return f
}

// recordingCatalog records the talks it advanced. Talks listed in fail
// return an error, talks listed in panics panic.
type recordingCatalog struct {
	mu     sync.Mutex
	seen   []string
	fail   map[string]bool
	panics map[string]bool
}

func (c *recordingCatalog) Profile(ctx context.Context, doc *talk.Doc) (profile.Profile, error) {
	return profile.Empty(), nil
}

func (c *recordingCatalog) Agent(t talk.Talk, p profile.Profile) agents.Agent {
	return agents.Func(func(ctx context.Context, t talk.Talk) error {
		c.mu.Lock()
		c.seen = append(c.seen, t.Name())
		c.mu.Unlock()
		if c.panics[t.Name()] {
			panic("boom in " + t.Name())
		}
		if c.fail[t.Name()] {
			return errors.New("broken " + t.Name())
		}
		return nil
	})
}

func (c *recordingCatalog) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func newPulse(t *testing.T) *Pulse {
	t.Helper()
	store, err := talk.Open(talk.DriverModernc, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	p, err := NewPulse(store.DB())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestTickProcessesMostRecentTalks(t *testing.T) {
	ctx := context.Background()
	talks := newTalks(15)
	catalog := &recordingCatalog{}
	pulse := newPulse(t)
	r := NewRoutine(talks, catalog, nil, nil, pulse, DefaultOptions())

	tick, err := r.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if tick.Total != MaxTalks {
		t.Errorf("Total = %d, want %d", tick.Total, MaxTalks)
	}
	got := catalog.names()
	if len(got) != MaxTalks {
		t.Fatalf("processed %d talks, want %d: %v", len(got), MaxTalks, got)
	}
	for i, name := range got {
		want := fmt.Sprintf("acme/app#%d", 15-i)
		if name != want {
			t.Errorf("talk %d = %s, want %s", i, name, want)
		}
	}

	recent, err := pulse.Recent(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Total != MaxTalks || recent[0].Error != "" {
		t.Errorf("pulse = %+v", recent)
	}
}

func TestTickTakesTurnsOverAllTalks(t *testing.T) {
	ctx := context.Background()
	store, err := talk.Open(talk.DriverModernc, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()
	for i := 1; i <= 15; i++ {
		tk, err := store.Create(ctx, "acme/app", fmt.Sprintf("acme/app#%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if err := tk.SetActive(ctx, true); err != nil {
			t.Fatal(err)
		}
	}
	catalog := &recordingCatalog{}
	r := NewRoutine(store, catalog, nil, nil, nil, DefaultOptions())

	for i := 0; i < 2; i++ {
		tick, err := r.Tick(ctx)
		if err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
		if tick.Total != MaxTalks {
			t.Errorf("tick %d Total = %d, want %d", i+1, tick.Total, MaxTalks)
		}
	}
	seen := make(map[string]int)
	for _, name := range catalog.names() {
		seen[name]++
	}
	for i := 1; i <= 15; i++ {
		if name := fmt.Sprintf("acme/app#%d", i); seen[name] == 0 {
			t.Errorf("%s was never processed", name)
		}
	}
	// The second tick starts with the five talks the first one skipped.
	second := catalog.names()[MaxTalks:]
	for i, name := range second[:5] {
		if want := fmt.Sprintf("acme/app#%d", 5-i); name != want {
			t.Errorf("second tick talk %d = %s, want %s", i, name, want)
		}
	}
}

func TestTickIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	talks := newTalks(5)
	catalog := &recordingCatalog{
		fail:   map[string]bool{"acme/app#4": true},
		panics: map[string]bool{"acme/app#2": true},
	}
	pulse := newPulse(t)
	r := NewRoutine(talks, catalog, nil, nil, pulse, DefaultOptions())

	tick, err := r.Tick(ctx)
	if err == nil {
		t.Fatal("Tick() expected error")
	}
	if len(catalog.names()) != 5 || tick.Total != 5 {
		t.Errorf("processed %v, total %d; want all five", catalog.names(), tick.Total)
	}
	for _, want := range []string{"broken acme/app#4", "panic: boom in acme/app#2"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
	recent, _ := pulse.Recent(ctx, 1)
	if len(recent) != 1 || recent[0].Error == "" {
		t.Errorf("pulse = %+v, want the error recorded", recent)
	}
}

func TestTickParallel(t *testing.T) {
	talks := newTalks(8)
	catalog := &recordingCatalog{fail: map[string]bool{"acme/app#1": true}}
	opts := DefaultOptions()
	opts.Parallel = 4
	r := NewRoutine(talks, catalog, nil, nil, nil, opts)

	if _, err := r.Tick(context.Background()); err == nil {
		t.Error("Tick() expected error")
	}
	if n := len(catalog.names()); n != 8 {
		t.Errorf("processed %d talks, want 8", n)
	}
}

func TestTickLegacyAbortsOnFirstFailure(t *testing.T) {
	talks := newTalks(5)
	catalog := &recordingCatalog{fail: map[string]bool{"acme/app#4": true}}
	opts := DefaultOptions()
	opts.Isolate = false
	r := NewRoutine(talks, catalog, nil, nil, nil, opts)

	tick, err := r.Tick(context.Background())
	if err == nil {
		t.Fatal("Tick() expected error")
	}
	got := catalog.names()
	if len(got) != 2 || got[1] != "acme/app#4" || tick.Total != 2 {
		t.Errorf("processed %v, total %d; want the tick to stop at acme/app#4", got, tick.Total)
	}
}

func TestTickLegacyRecoversPanic(t *testing.T) {
	talks := newTalks(2)
	catalog := &recordingCatalog{panics: map[string]bool{"acme/app#2": true}}
	opts := DefaultOptions()
	opts.Isolate = false
	r := NewRoutine(talks, catalog, nil, nil, nil, opts)

	_, err := r.Tick(context.Background())
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Errorf("Tick() error = %v, want a recovered panic", err)
	}
}

func TestTickRunsStartersAndClosers(t *testing.T) {
	var order []string
	starter := agents.SuperFunc(func(ctx context.Context, talks talk.Talks) error {
		order = append(order, "starter")
		_, err := talks.Create(ctx, "acme/app", "acme/app#99")
		return err
	})
	closer := agents.SuperFunc(func(ctx context.Context, talks talk.Talks) error {
		order = append(order, "closer")
		return nil
	})
	catalog := &recordingCatalog{}
	r := NewRoutine(newTalks(1), catalog, starter, closer, nil, DefaultOptions())

	if _, err := r.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if strings.Join(order, ",") != "starter,closer" {
		t.Errorf("order = %v", order)
	}
	if got := catalog.names(); len(got) != 2 || got[0] != "acme/app#99" {
		t.Errorf("processed %v, want the new talk first", got)
	}
}

func TestTickContinuesAfterStarterFailure(t *testing.T) {
	starter := agents.SuperFunc(func(ctx context.Context, talks talk.Talks) error {
		return errors.New("github is down")
	})
	catalog := &recordingCatalog{}
	r := NewRoutine(newTalks(3), catalog, starter, nil, nil, DefaultOptions())

	_, err := r.Tick(context.Background())
	if err == nil || !strings.Contains(err.Error(), "github is down") {
		t.Errorf("Tick() error = %v", err)
	}
	if n := len(catalog.names()); n != 3 {
		t.Errorf("processed %d talks, want 3", n)
	}
}

func TestClosedRoutineDoesNothing(t *testing.T) {
	catalog := &recordingCatalog{}
	r := NewRoutine(newTalks(3), catalog, nil, nil, nil, DefaultOptions())
	r.Close()

	if _, err := r.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(catalog.names()); n != 0 {
		t.Errorf("closed routine processed %d talks", n)
	}
}

func TestPulsePrune(t *testing.T) {
	ctx := context.Background()
	p := newPulse(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := p.Add(ctx, Tick{Start: base.Add(time.Duration(i) * time.Hour), Duration: time.Second, Total: i}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := p.Prune(ctx, base.Add(90*time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("Prune() = %d, %v", n, err)
	}
	recent, _ := p.Recent(ctx, 10)
	if len(recent) != 1 || recent[0].Total != 2 || recent[0].Duration != time.Second {
		t.Errorf("Recent() = %+v", recent)
	}
}
