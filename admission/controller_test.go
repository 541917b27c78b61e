package admission

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClock provides controllable time for testing
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func TestTryAcquire_DeniesSecondWhileBusy(t *testing.T) {
	c := NewController()

	first, ok := c.TryAcquire("A")
	require.True(t, ok)
	require.NotNil(t, first)

	second, ok := c.TryAcquire("A")
	assert.False(t, ok)
	assert.Nil(t, second)

	// other clients are independent
	other, ok := c.TryAcquire("B")
	require.True(t, ok)
	assert.Equal(t, 2, c.Busy())

	first.Release()
	third, ok := c.TryAcquire("A")
	require.True(t, ok, "client A must be admitted after its run finished")

	third.Release()
	other.Release()
	assert.Equal(t, 0, c.Busy())
}

func TestRelease_Idempotent(t *testing.T) {
	c := NewController()

	s1, ok := c.TryAcquire("A")
	require.True(t, ok)
	s1.Release()

	s2, ok := c.TryAcquire("A")
	require.True(t, ok)

	// a stale second release of s1 must not free s2
	s1.Release()
	_, ok = c.TryAcquire("A")
	assert.False(t, ok)

	s2.Release()
	s2.Release()
	assert.Equal(t, 0, c.Busy())

	var nilSlot *Slot
	assert.NotPanics(t, nilSlot.Release)
}

func TestRelease_FromPanicPath(t *testing.T) {
	c := NewController()
	s, ok := c.TryAcquire("A")
	require.True(t, ok)

	func() {
		defer func() { _ = recover() }()
		defer s.Release()
		panic("detector exploded")
	}()

	_, ok = c.TryAcquire("A")
	assert.True(t, ok)
}

func TestTryAcquire_ConcurrentSameClient(t *testing.T) {
	c := NewController()

	for round := 0; round < 50; round++ {
		const attempts = 32
		var granted atomic.Int32
		slots := make(chan *Slot, attempts)

		var start, wg sync.WaitGroup
		start.Add(1)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				start.Wait()
				if s, ok := c.TryAcquire("A"); ok {
					granted.Add(1)
					slots <- s
				}
			}()
		}
		start.Done()
		wg.Wait()
		close(slots)

		require.Equal(t, int32(1), granted.Load(), "round %d", round)
		for s := range slots {
			s.Release()
		}
	}
	assert.Equal(t, 0, c.Busy())
}

func TestTryAcquire_ConcurrentDistinctClients(t *testing.T) {
	c := NewController()
	const clients = 100

	var wg sync.WaitGroup
	slots := make([]*Slot, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, ok := c.TryAcquire(fmt.Sprintf("10.0.0.%d", i))
			assert.True(t, ok)
			slots[i] = s
		}(i)
	}
	wg.Wait()
	assert.Equal(t, clients, c.Busy())

	for _, s := range slots {
		s.Release()
	}
	assert.Equal(t, 0, c.Busy(), "registry is empty once every run released")
}

func TestSlot_Held(t *testing.T) {
	clock := &mockClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewControllerWithClock(clock.Now)

	s, ok := c.TryAcquire("A")
	require.True(t, ok)
	assert.Equal(t, "A", s.ClientID())

	clock.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, s.Held())
}
