package talk

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverModernc, ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreCreateAndRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tk, err := s.Create(ctx, "owner/repo", "owner/repo#42")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if tk.Number() != 1 {
		t.Errorf("Number() = %d, want 1", tk.Number())
	}
	exists, err := s.Exists(ctx, "owner/repo#42")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v", exists, err)
	}
	active, err := tk.Active(ctx)
	if err != nil || active {
		t.Errorf("new talk Active() = %v, %v; want inactive", active, err)
	}

	doc, err := tk.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if doc.Name() != "owner/repo#42" || doc.Number() != 1 {
		t.Errorf("doc header = %s/%d", doc.Name(), doc.Number())
	}

	if _, err := s.Create(ctx, "owner/repo", "owner/repo#42"); err == nil {
		t.Error("duplicate Create() expected error")
	}
	if _, err := s.Get(ctx, "missing#1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStoreModifyIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tk, err := s.Create(ctx, "o/r", "o/r#1")
	if err != nil {
		t.Fatal(err)
	}

	err = tk.Modify(ctx, NewDirectives().Add("daemon").Add("script").Set("echo hi").Up().Add("dir").Set("/tmp/x"))
	if err != nil {
		t.Fatalf("Modify() error = %v", err)
	}
	before, _ := tk.Read(ctx)

	// first primitive is fine, second breaks the schema
	err = tk.Modify(ctx, NewDirectives().
		Path("/talk/daemon").Add("title").Set("build").Up().
		Add("script").Set("again"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Modify() error = %v, want ErrValidation", err)
	}
	after, _ := tk.Read(ctx)
	if !bytes.Equal(before.XML(), after.XML()) {
		t.Errorf("document changed after rejected batch:\n%s\nvs\n%s", before, after)
	}
}

func TestStoreActiveOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	names := []string{"a#1", "a#2", "a#3"}
	for _, n := range names {
		tk, err := s.Create(ctx, "a", n)
		if err != nil {
			t.Fatal(err)
		}
		if err := tk.SetActive(ctx, true); err != nil {
			t.Fatal(err)
		}
	}
	// touching the oldest talk makes it the most recent
	first, _ := s.Get(ctx, "a#1")
	if err := first.Modify(ctx, NewDirectives().Attr("later", "true")); err != nil {
		t.Fatal(err)
	}
	inactive, _ := s.Get(ctx, "a#2")
	if err := inactive.SetActive(ctx, false); err != nil {
		t.Fatal(err)
	}

	active, err := s.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, tk := range active {
		got = append(got, tk.Name())
	}
	want := []string{"a#1", "a#3"}
	if len(got) != len(want) {
		t.Fatalf("Active() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Active()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStoreNoOpModifyKeepsTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tk, _ := s.Create(ctx, "a", "a#1")
	before, _ := s.Updated(ctx, "a#1")
	if err := tk.Modify(ctx, NewDirectives().Attr("later", "false")); err != nil {
		t.Fatal(err)
	}
	after, _ := s.Updated(ctx, "a#1")
	if !before.Equal(after) {
		t.Errorf("no-op modify changed updated time: %v -> %v", before, after)
	}
}

func TestTalkUpdated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	tk, err := s.Create(ctx, "a", "a#1")
	if err != nil {
		t.Fatal(err)
	}
	created, err := tk.Updated(ctx)
	if err != nil || !created.Equal(time.Unix(1_700_000_060, 0)) {
		t.Fatalf("Updated() = %v, %v after create", created, err)
	}
	if err := tk.Modify(ctx, NewDirectives().Attr("later", "true")); err != nil {
		t.Fatal(err)
	}
	modified, _ := tk.Updated(ctx)
	if !modified.Equal(time.Unix(1_700_000_120, 0)) {
		t.Errorf("Updated() = %v after modify", modified)
	}
	if err := tk.SetActive(ctx, true); err != nil {
		t.Fatal(err)
	}
	if got, _ := tk.Updated(ctx); !got.Equal(modified) {
		t.Errorf("SetActive moved Updated() to %v", got)
	}

	m := NewMemory("x#1", 1)
	before, _ := m.Updated(ctx)
	if err := m.Modify(ctx, NewDirectives().Attr("later", "true")); err != nil {
		t.Fatal(err)
	}
	if after, _ := m.Updated(ctx); after.Before(before) {
		t.Errorf("memory Updated() went back: %v -> %v", before, after)
	}
}

func TestStoreConcurrentModify(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tk, _ := s.Create(ctx, "a", "a#1")
	if err := tk.Modify(ctx, NewDirectives().Add("request").Attr("id", "1").Add("type").Set("merge").Up().Add("args")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			if err := tk.Modify(ctx, NewDirectives().Path("/talk/request/args").Add("arg").Attr("name", name).Set("v")); err != nil {
				t.Errorf("Modify(%s) error = %v", name, err)
			}
		}(i)
	}
	wg.Wait()

	doc, _ := tk.Read(ctx)
	req, _ := doc.Request()
	if len(req.Args) != 8 {
		t.Errorf("args = %d, want 8 (lost update)", len(req.Args))
	}
}

func TestMemoryTalk(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("x#1", 1)
	if err := m.Modify(ctx, NewDirectives().Add("daemon")); !errors.Is(err, ErrValidation) {
		t.Fatalf("Modify() error = %v, want ErrValidation", err)
	}
	if m.Version() != 0 {
		t.Errorf("Version() = %d after rejected batch", m.Version())
	}
	if err := m.Modify(ctx, NewDirectives().Attr("later", "true")); err != nil {
		t.Fatal(err)
	}
	doc, _ := m.Read(ctx)
	if !doc.Later() || m.Version() != 1 {
		t.Errorf("later=%v version=%d", doc.Later(), m.Version())
	}
}
