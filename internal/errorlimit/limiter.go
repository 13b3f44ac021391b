// Package errorlimit suppresses repetitive error logging, following
// the teacher's rate.Limiter wrapping pattern (infrastructure/ratelimit)
// adapted from request throttling to log-burst throttling (spec §7:
// "the first N occurrences of a given error class are logged; further
// occurrences within the same burst are counted but suppressed").
package errorlimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter tracks, per error class (a caller-chosen key such as
// "decode_error" or "catalog_refresh"), how many times an error has
// been logged versus suppressed.
type Limiter struct {
	mu      sync.Mutex
	classes map[string]*classState
	burst   int
}

type classState struct {
	limiter    *rate.Limiter
	suppressed int64
}

// New constructs a Limiter that logs the first burst occurrences of
// each error class, then suppresses further ones until the
// rate.Limiter (1 token per minute, burst N) has tokens again (spec §7).
func New(burst int) *Limiter {
	if burst <= 0 {
		burst = 10
	}
	return &Limiter{
		classes: make(map[string]*classState),
		burst:   burst,
	}
}

// ShouldLog reports whether the caller should log this occurrence of
// errClass, and increments the suppressed counter when it returns
// false.
func (l *Limiter) ShouldLog(errClass string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.classes[errClass]
	if !ok {
		st = &classState{limiter: rate.NewLimiter(rate.Every(time.Minute), l.burst)}
		l.classes[errClass] = st
	}
	if st.limiter.Allow() {
		return true
	}
	st.suppressed++
	return false
}

// SuppressedCount returns how many occurrences of errClass have been
// suppressed since the limiter started.
func (l *Limiter) SuppressedCount(errClass string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.classes[errClass]; ok {
		return st.suppressed
	}
	return 0
}
