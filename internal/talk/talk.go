package talk

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a talk does not exist.
var ErrNotFound = errors.New("talk not found")

// Talk is a uniquely named task with one versioned document.
type Talk interface {
	// Name is stable for the lifetime of the talk, e.g. "owner/repo#42".
	Name() string
	// Number is assigned once, in creation order.
	Number() int64
	// Read returns the current committed document.
	Read(ctx context.Context) (*Doc, error)
	// Modify applies a directive batch atomically. On error the stored
	// document is unchanged.
	Modify(ctx context.Context, dirs *Directives) error
	// Active reports whether the scheduler should still process the talk.
	Active(ctx context.Context) (bool, error)
	// SetActive flips the active flag.
	SetActive(ctx context.Context, active bool) error
	// Updated is when the document last changed. Flipping the active flag
	// is not a change.
	Updated(ctx context.Context) (time.Time, error)
}

// Talks is the collection of all talks.
type Talks interface {
	Exists(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) (Talk, error)
	Create(ctx context.Context, repo, name string) (Talk, error)
	// Active lists active talks, most recently modified first.
	Active(ctx context.Context) ([]Talk, error)
}

// Memory is a Talk kept in process memory. It is handy in tests and for
// dry runs; it follows the same copy-then-swap rules as the SQL store.
type Memory struct {
	mu      sync.RWMutex
	doc     *Doc
	active  bool
	version int
	updated time.Time
}

// NewMemory creates an in-memory talk.
func NewMemory(name string, number int64) *Memory {
	return &Memory{doc: NewDoc(name, number), active: true, updated: time.Now()}
}

// Name implements Talk.
func (m *Memory) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Name()
}

// Number implements Talk.
func (m *Memory) Number() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Number()
}

// Read implements Talk.
func (m *Memory) Read(ctx context.Context) (*Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Copy(), nil
}

// Modify implements Talk.
func (m *Memory) Modify(ctx context.Context, dirs *Directives) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := Apply(m.doc, dirs)
	if err != nil {
		return err
	}
	m.doc = next
	m.version++
	m.updated = time.Now()
	return nil
}

// Active implements Talk.
func (m *Memory) Active(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, nil
}

// SetActive implements Talk.
func (m *Memory) SetActive(ctx context.Context, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
	return nil
}

// Updated implements Talk.
func (m *Memory) Updated(ctx context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updated, nil
}

// Version returns how many batches have been committed.
func (m *Memory) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}
