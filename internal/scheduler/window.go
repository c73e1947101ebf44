package scheduler

import (
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ParseClock parses "HH:MM" into minutes after midnight
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, errors.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, errors.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, errors.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// InWindow reports whether t falls inside [start, end], both "HH:MM" and
// inclusive at minute precision. A window whose end is before its start
// wraps past midnight.
func InWindow(start, end string, t time.Time) (bool, error) {
	from, err := ParseClock(start)
	if err != nil {
		return false, err
	}
	to, err := ParseClock(end)
	if err != nil {
		return false, err
	}
	m := t.Hour()*60 + t.Minute()
	if from <= to {
		return m >= from && m <= to, nil
	}
	return m >= from || m <= to, nil
}

// due reports whether a cycle last run at last is due again
func due(last sql.NullTime, intervalMinutes int, now time.Time) bool {
	if !last.Valid {
		return true
	}
	return now.Sub(last.Time) >= time.Duration(intervalMinutes)*time.Minute
}

// keyedMutex serializes work per subscriber
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*sync.Mutex)}
}

func (k *keyedMutex) get(id int64) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	return l
}

// Lock blocks until the subscriber's lock is held and returns its release
func (k *keyedMutex) Lock(id int64) func() {
	l := k.get(id)
	l.Lock()
	return l.Unlock
}

// TryLock acquires the subscriber's lock only if it is free
func (k *keyedMutex) TryLock(id int64) (func(), bool) {
	l := k.get(id)
	if !l.TryLock() {
		return nil, false
	}
	return l.Unlock, true
}
