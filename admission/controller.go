// Package admission enforces at most one in-flight run per client.
package admission

import (
	"sync"
	"time"

	"github.com/teranos/lookout/errors"
)

// ErrAdmissionDenied is what the boundary reports when TryAcquire says no.
// TryAcquire itself returns a boolean; denial is expected, not an error.
var ErrAdmissionDenied = errors.New("previous detection still processing")

// Controller maps client identities to busy slots. Entries only exist while
// a slot is held, so the registry is bounded by in-flight runs.
type Controller struct {
	mu      sync.Mutex
	slots   map[string]*Slot
	timeNow func() time.Time // Injectable for testing
}

// Slot is an acquired admission permit. Release it exactly once; extra
// Release calls are no-ops.
type Slot struct {
	clientID   string
	acquiredAt time.Time
	owner      *Controller
	once       sync.Once
}

// NewController creates an empty controller with real time
func NewController() *Controller {
	return NewControllerWithClock(time.Now)
}

// NewControllerWithClock creates an empty controller with injectable clock (for testing)
func NewControllerWithClock(timeNow func() time.Time) *Controller {
	return &Controller{
		slots:   make(map[string]*Slot),
		timeNow: timeNow,
	}
}

// TryAcquire atomically checks and claims the slot for clientID. It never
// blocks: a busy client gets (nil, false).
func (c *Controller) TryAcquire(clientID string) (*Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.slots[clientID]; busy {
		return nil, false
	}

	slot := &Slot{clientID: clientID, acquiredAt: c.timeNow(), owner: c}
	c.slots[clientID] = slot
	return slot, true
}

// Busy returns how many clients currently hold a slot. For gauges only;
// acting on it would race with TryAcquire.
func (c *Controller) Busy() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

func (c *Controller) release(s *Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Only drop the entry if it is still ours
	if c.slots[s.clientID] == s {
		delete(c.slots, s.clientID)
	}
}

// Release frees the slot. Safe to defer and to call more than once.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.owner.release(s) })
}

// ClientID returns the identity the slot was granted to
func (s *Slot) ClientID() string { return s.clientID }

// Held returns how long the slot has been held
func (s *Slot) Held() time.Duration { return s.owner.timeNow().Sub(s.acquiredAt) }
