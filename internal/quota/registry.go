// Package quota tracks named hard limits: absolute caps of N calls per
// rolling period, independent of any token bucket smoothing.
//
// Windows roll lazily. A limit whose period has fully elapsed is reset on the
// next access that checks it, and its window restarts at that moment; no
// background sweep is needed for correctness.
package quota

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
)

type hardLimit struct {
	name        string
	maxCalls    int
	current     int
	period      Period
	periodStart time.Time
}

// roll resets the window if the period has elapsed.
func (l *hardLimit) roll(now time.Time) {
	if now.Sub(l.periodStart) >= l.period.Duration() {
		l.current = 0
		l.periodStart = now
	}
}

func (l *hardLimit) resetIn(now time.Time) time.Duration {
	if d := l.period.Duration() - now.Sub(l.periodStart); d > 0 {
		return d
	}
	return 0
}

// Status is a read-only view of one hard limit.
type Status struct {
	Name      string        `json:"name"`
	Max       int           `json:"max"`
	Current   int           `json:"current"`
	Remaining int           `json:"remaining"`
	Period    Period        `json:"period"`
	ResetIn   time.Duration `json:"reset_in"`
}

// Registry holds hard limits keyed by name. Safe for concurrent use.
type Registry struct {
	clock clock.Clock

	mu     sync.Mutex
	limits map[string]*hardLimit
	order  []string // sorted names, so the first violation is deterministic
}

// NewRegistry creates an empty registry. A nil clock means the wall clock.
func NewRegistry(c clock.Clock) *Registry {
	return &Registry{
		clock:  clock.OrReal(c),
		limits: make(map[string]*hardLimit),
	}
}

// Add registers a limit, replacing and resetting any limit with the same name.
func (r *Registry) Add(name string, maxCalls int, period Period) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidLimit)
	}
	if maxCalls <= 0 {
		return fmt.Errorf("%w: %q max_calls must be positive, got %d", ErrInvalidLimit, name, maxCalls)
	}
	if !period.Valid() {
		return fmt.Errorf("%w: %q has unknown period %d", ErrInvalidLimit, name, int(period))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.limits[name]; !exists {
		idx, _ := slices.BinarySearch(r.order, name)
		r.order = slices.Insert(r.order, idx, name)
	}
	r.limits[name] = &hardLimit{
		name:        name,
		maxCalls:    maxCalls,
		period:      period,
		periodStart: r.clock.Now(),
	}
	return nil
}

// Remove drops the named limit and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.limits[name]; !ok {
		return false
	}
	delete(r.limits, name)
	if idx, found := slices.BinarySearch(r.order, name); found {
		r.order = slices.Delete(r.order, idx, idx+1)
	}
	return true
}

// Len returns the number of registered limits.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limits)
}

// CheckAll reports whether n more calls fit under every limit. It rolls
// expired windows but never consumes quota. The error is an *ExceededError
// for the first violated limit in name order.
func (r *Registry) CheckAll(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkLocked(r.clock.Now(), n)
}

// CommitAll charges n calls to every limit.
func (r *Registry) CommitAll(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitLocked(r.clock.Now(), n)
}

// Admit checks every limit, then calls grant while still holding the
// registry lock, and charges n calls only if grant returns true. Counters are
// never touched when the check fails or grant declines, so quota is spent
// only alongside whatever grant obtained.
func (r *Registry) Admit(n int, grant func() bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if err := r.checkLocked(now, n); err != nil {
		return false, err
	}
	if !grant() {
		return false, nil
	}
	r.commitLocked(now, n)
	return true, nil
}

// Status returns a snapshot of every limit. It does not roll windows: a limit
// whose period has elapsed reports zero usage and zero time to reset.
func (r *Registry) Status() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make(map[string]Status, len(r.limits))
	for name, l := range r.limits {
		current := l.current
		if now.Sub(l.periodStart) >= l.period.Duration() {
			current = 0
		}
		out[name] = Status{
			Name:      name,
			Max:       l.maxCalls,
			Current:   current,
			Remaining: l.maxCalls - current,
			Period:    l.period,
			ResetIn:   l.resetIn(now),
		}
	}
	return out
}

func (r *Registry) checkLocked(now time.Time, n int) error {
	for _, name := range r.order {
		l := r.limits[name]
		l.roll(now)
		if l.current+n > l.maxCalls {
			return &ExceededError{
				Name:    l.name,
				Period:  l.period,
				Current: l.current,
				Max:     l.maxCalls,
				ResetIn: l.resetIn(now),
			}
		}
	}
	return nil
}

func (r *Registry) commitLocked(now time.Time, n int) {
	for _, l := range r.limits {
		l.roll(now)
		l.current += n
	}
}
