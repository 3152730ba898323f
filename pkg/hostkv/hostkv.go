// Package hostkv defines the external string-valued property store the
// durability manager is built against: get/set/delete of a
// named slot holding a string bounded by a maximum character length,
// where each individual set/delete is atomic but updates are not
// composable across slots. The core treats this as an external
// collaborator — only the interface is specified — so this package also
// ships one concrete in-memory reference implementation for tests
// and examples to drive without an actual external
// system.
package hostkv

import (
	"sync"

	"github.com/relcore/db/pkg/errors"
)

// DefaultMaxValueLen is a representative bound for a single slot's
// string value, chosen to force the durability manager's chunking logic
// to exercise multiple chunks for any table of
// realistic size in tests, rather than a production-calibrated constant.
const DefaultMaxValueLen = 64 * 1024

// Store is the host KV surface the durability manager and WAL writer
// depend on. Implementations must make Set and Delete atomic with
// respect to any concurrent Get of the same name, but need not offer any
// cross-name atomicity — the durability manager's protocol
// is built entirely on single-slot atomicity.
type Store interface {
	// Get returns the slot's value and true, or ("", false) if absent.
	Get(name string) (string, bool)
	// Set atomically overwrites (or creates) the slot. It fails if value
	// exceeds the store's MaxValueLen.
	Set(name string, value string) error
	// Delete atomically removes the slot, if present.
	Delete(name string)
	// MaxValueLen reports the largest string Set will accept.
	MaxValueLen() int
}

// Memory is an in-process Store backed by a mutex-guarded map, matching
// the teacher's own in-memory test doubles (see
// pkg/storage/engine_test.go's map-based fakes) generalized into a
// standalone reusable package.
type Memory struct {
	mu       sync.Mutex
	slots    map[string]string
	maxValue int
}

// NewMemory constructs an empty Memory store with the given max value
// length. A maxValueLen of 0 uses DefaultMaxValueLen.
func NewMemory(maxValueLen int) *Memory {
	if maxValueLen <= 0 {
		maxValueLen = DefaultMaxValueLen
	}
	return &Memory{slots: make(map[string]string), maxValue: maxValueLen}
}

func (m *Memory) Get(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.slots[name]
	return v, ok
}

func (m *Memory) Set(name string, value string) error {
	if len(value) > m.maxValue {
		return errors.Newf("hostkv: value for %q is %d bytes, exceeds max %d", name, len(value), m.maxValue)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[name] = value
	return nil
}

func (m *Memory) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, name)
}

func (m *Memory) MaxValueLen() int { return m.maxValue }

// Crash simulates a crash: every Set/Delete issued after Kill is
// silently dropped, modeling a process death mid-protocol while state
// written before Kill survives. Calling Resume re-enables
// writes.
type Crash struct {
	*Memory
	mu      sync.Mutex
	dead    bool
}

// NewCrash wraps a Memory store with crash-injection support.
func NewCrash(m *Memory) *Crash {
	return &Crash{Memory: m}
}

// Kill makes every subsequent Set/Delete a silent no-op, simulating the
// process dying before the host KV call lands.
func (c *Crash) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
}

// Resume re-enables writes, modeling process restart against the
// surviving on-disk (in this reference, in-memory) state.
func (c *Crash) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = false
}

func (c *Crash) Set(name, value string) error {
	c.mu.Lock()
	dead := c.dead
	c.mu.Unlock()
	if dead {
		return nil
	}
	return c.Memory.Set(name, value)
}

func (c *Crash) Delete(name string) {
	c.mu.Lock()
	dead := c.dead
	c.mu.Unlock()
	if dead {
		return
	}
	c.Memory.Delete(name)
}
