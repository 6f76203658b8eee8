package rule

import (
	"context"
	"sync"
	"time"
)

// RateLimiter decides whether a rule may fire again for a subscriber. The
// firing count is always derived from the append-only log collection, never
// from a mutable counter, so it survives restarts and cannot drift.
//
// Lock gives the caller the critical section required between the count
// check and the subsequent log write: concurrent deliveries of the same
// (rule, subscriber) pair serialize on a keyed mutex.
type RateLimiter struct {
	logs LogRepository

	mu    sync.Mutex
	locks map[string]*pairLock
}

// pairLock is refcounted so entries leave the map when the last holder
// unlocks; the map only ever holds pairs with deliveries in flight.
type pairLock struct {
	mu   sync.Mutex
	refs int
}

func NewRateLimiter(logs LogRepository) *RateLimiter {
	return &RateLimiter{
		logs:  logs,
		locks: make(map[string]*pairLock),
	}
}

// Lock acquires the per-(rule, subscriber) mutex and returns its unlock.
func (l *RateLimiter) Lock(rule *AutomationRule, subscriberID string) func() {
	key := rule.ID.Hex() + ":" + subscriberID

	l.mu.Lock()
	p, ok := l.locks[key]
	if !ok {
		p = &pairLock{}
		l.locks[key] = p
	}
	p.refs++
	l.mu.Unlock()

	p.mu.Lock()
	return func() {
		p.mu.Unlock()
		l.mu.Lock()
		p.refs--
		if p.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// MayFire reports whether the rule is under its per-subscriber limit. Rules
// without a limit always may fire. Callers must hold Lock for the pair.
func (l *RateLimiter) MayFire(ctx context.Context, rule *AutomationRule, subscriberID string) (bool, error) {
	if !rule.LimitPerSubscriber {
		return true, nil
	}

	since := rule.LimitPeriod.Window(time.Now())
	count, err := l.logs.CountSuccessSince(ctx, rule.ID, subscriberID, since)
	if err != nil {
		return false, err
	}
	return count < int64(rule.LimitCount), nil
}
