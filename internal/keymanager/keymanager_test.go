package keymanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adithya11sci/genAi-idfc/internal/logger"
)

// fakeClock advances only when Sleep is called or the test moves it.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T, keys []string, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock)}, opts...)
	m, err := New(keys, logger.NewWithWriter(testWriter{t}), opts...)
	require.NoError(t, err)
	return m, clock
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestNew_EmptyPool(t *testing.T) {
	_, err := New(nil, logger.New())
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestGetKey_RoundRobin(t *testing.T) {
	m, _ := newTestManager(t, []string{"A", "B", "C"})

	assert.Equal(t, "A", m.GetKey())
	assert.Equal(t, "B", m.GetKey())
	assert.Equal(t, "C", m.GetKey())
	// Fourth call wraps around.
	assert.Equal(t, "A", m.GetKey())
}

func TestGetKey_SkipsRateLimitedKey(t *testing.T) {
	m, clock := newTestManager(t, []string{"A", "B", "C"})

	m.MarkRateLimited("A")

	for i := 0; i < 6; i++ {
		assert.NotEqual(t, "A", m.GetKey(), "call %d returned a quarantined key", i)
	}

	// Once the cooldown elapses A becomes eligible again.
	clock.advance(DefaultCooldown + time.Second)
	got := make(map[string]bool)
	for i := 0; i < 3; i++ {
		got[m.GetKey()] = true
	}
	assert.True(t, got["A"], "expected A to rejoin rotation after cooldown")
}

func TestGetKey_AllOnCooldown_WaitsAndClears(t *testing.T) {
	m, clock := newTestManager(t, []string{"A", "B"}, WithCooldown(30*time.Second))

	m.MarkRateLimited("A")
	clock.advance(10 * time.Second)
	m.MarkRateLimited("B")

	key := m.GetKey()

	assert.Equal(t, "A", key, "expected first key after clearing cooldowns")
	require.Len(t, clock.slept, 1)
	// A has 20s left, B has 30s; min wait is 20s plus the margin.
	assert.Equal(t, 20*time.Second+time.Second, clock.slept[0])

	// Cooldowns were cleared unconditionally and the sweep left the
	// cursor back at the start, so rotation resumes from A.
	assert.Equal(t, "A", m.GetKey())
	assert.Equal(t, "B", m.GetKey())
}

func TestGetKey_CooldownClearKeepsCursor(t *testing.T) {
	m, _ := newTestManager(t, []string{"A", "B", "C"})

	// Advance the cursor past A.
	assert.Equal(t, "A", m.GetKey())

	m.MarkRateLimited("A")
	m.MarkRateLimited("B")
	m.MarkRateLimited("C")

	// The clear-all fallback returns the first key but leaves the
	// rotation cursor where the sweep left it.
	assert.Equal(t, "A", m.GetKey())
	assert.Equal(t, "B", m.GetKey())
}

func TestMarkRateLimited_ExtendsCooldown(t *testing.T) {
	m, clock := newTestManager(t, []string{"A", "B"})

	m.MarkRateLimited("A")
	clock.advance(50 * time.Second)
	// Re-marking restarts the window from now.
	m.MarkRateLimited("A")
	clock.advance(30 * time.Second)

	// 80s since first mark, but only 30s since the second: still quarantined.
	assert.Equal(t, "B", m.GetKey())
	assert.Equal(t, "B", m.GetKey())
}
