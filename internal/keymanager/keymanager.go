// Package keymanager rotates API credentials round-robin and quarantines
// keys that the upstream service has rate limited.
package keymanager

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCooldown is how long a rate-limited key stays quarantined.
const DefaultCooldown = 60 * time.Second

// waitMargin is added on top of the shortest remaining cooldown when every
// key is quarantined, so the upstream window has actually elapsed.
const waitMargin = time.Second

// ErrNoKeys is returned by New when the key pool is empty.
var ErrNoKeys = errors.New("keymanager: no API keys configured")

// Clock abstracts wall-clock access and blocking sleeps so cooldown expiry
// can be simulated in tests without real delays.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Manager hands out keys in round-robin order, skipping keys that are
// cooling down after a rate-limit signal. All state mutations are
// serialized under an internal mutex.
type Manager struct {
	mu        sync.Mutex
	keys      []string
	cursor    int
	cooldowns map[string]time.Time // key -> time it becomes usable again
	cooldown  time.Duration
	clock     Clock
	log       zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCooldown overrides the quarantine window applied by MarkRateLimited.
func WithCooldown(d time.Duration) Option {
	return func(m *Manager) { m.cooldown = d }
}

// WithClock injects a clock, used by tests to simulate cooldown expiry.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// New creates a Manager over a fixed key pool. The pool must be non-empty.
func New(keys []string, log zerolog.Logger, opts ...Option) (*Manager, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	m := &Manager{
		keys:      append([]string(nil), keys...),
		cooldowns: make(map[string]time.Time),
		cooldown:  DefaultCooldown,
		clock:     realClock{},
		log:       log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GetKey returns the next usable key in rotation order.
//
// It examines at most len(keys) candidates, advancing the cursor by one per
// candidate, so repeated calls sweep the whole pool before repeating. Keys
// still on cooldown are skipped; an elapsed cooldown entry is removed before
// the key is returned. If every key is cooling down, GetKey blocks for the
// shortest remaining cooldown plus a margin, clears all cooldowns, and
// returns the first key in the pool.
func (m *Manager) GetKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	for range m.keys {
		key := m.keys[m.cursor]
		m.cursor = (m.cursor + 1) % len(m.keys)

		if until, ok := m.cooldowns[key]; ok {
			if now.Before(until) {
				continue
			}
			delete(m.cooldowns, key)
		}
		return key
	}

	// Every key is quarantined; wait out the shortest cooldown rather
	// than deadlocking. The key returned may still be limited upstream,
	// which surfaces as an adapter failure on the next call.
	minWait := time.Duration(-1)
	for _, until := range m.cooldowns {
		if wait := until.Sub(now); minWait < 0 || wait < minWait {
			minWait = wait
		}
	}
	if minWait > 0 {
		m.log.Warn().
			Dur("wait", minWait).
			Msg("all API keys on cooldown, waiting")
		m.clock.Sleep(minWait + waitMargin)
	}

	m.cooldowns = make(map[string]time.Time)
	return m.keys[0]
}

// MarkRateLimited quarantines a key for the cooldown window, starting now.
// Re-marking extends the cooldown from the current call time.
func (m *Manager) MarkRateLimited(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cooldowns[key] = m.clock.Now().Add(m.cooldown)
	m.log.Warn().
		Int("cooling_down", len(m.cooldowns)).
		Int("pool_size", len(m.keys)).
		Msg("API key rate limited")
}

// PoolSize returns the number of keys in the (fixed) pool.
func (m *Manager) PoolSize() int {
	return len(m.keys)
}
