package clusterlock

import "time"

// DefaultTimeout is the lock row lifetime used when a Spec sets none.
const DefaultTimeout = time.Minute

// Status is the outcome of a lock attempt.
type Status string

const (
	// Locked means the caller now holds the lock.
	Locked Status = "locked"
	// Wait means another flow holds the lock.
	Wait Status = "wait"
)

// Spec describes how a named lock is acquired and released.
type Spec struct {
	// Name identifies the lock cluster wide.
	Name string `json:"name"`

	// Timeout is how long the lock row lives without a refresh.
	Timeout time.Duration `json:"timeout"`

	// MaxTries bounds acquisition attempts. -1 retries forever, 0 is
	// treated as 1.
	MaxTries int `json:"max_tries"`

	// Combine records contended attempts so the holder re-runs its body.
	Combine bool `json:"combine"`

	// HoldTillTimeout leaves the row in place on unlock so the name stays
	// taken until it expires.
	HoldTillTimeout bool `json:"hold_till_timeout"`
}

// HardLock returns a Spec that waits until the lock is free.
func HardLock(name string) Spec {
	return Spec{Name: name, Timeout: DefaultTimeout, MaxTries: -1}
}

// SoftLock returns a Spec that gives up after one attempt.
func SoftLock(name string) Spec {
	return Spec{Name: name, Timeout: DefaultTimeout, MaxTries: 1}
}

// CombineLock returns a Spec that gives up after one attempt but makes the
// current holder run again.
func CombineLock(name string) Spec {
	return Spec{Name: name, Timeout: DefaultTimeout, MaxTries: 1, Combine: true}
}

// WithTimeout returns a copy of s with the given row lifetime.
func (s Spec) WithTimeout(d time.Duration) Spec {
	s.Timeout = d
	return s
}

// WithMaxTries returns a copy of s with the given attempt bound.
func (s Spec) WithMaxTries(n int) Spec {
	s.MaxTries = n
	return s
}

// HoldingTillTimeout returns a copy of s whose row outlives unlock.
func (s Spec) HoldingTillTimeout() Spec {
	s.HoldTillTimeout = true
	return s
}

// Kind names the lock flavour for logs and metrics.
func (s Spec) Kind() string {
	switch {
	case s.Combine:
		return "combine"
	case s.MaxTries < 0:
		return "hard"
	default:
		return "soft"
	}
}

func (s Spec) normalized() Spec {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.MaxTries == 0 {
		s.MaxTries = 1
	}
	return s
}

// Lock is a persisted lock row.
type Lock struct {
	Name            string    `json:"name"`
	Owner           string    `json:"owner"`
	Host            string    `json:"host"`
	Combine         bool      `json:"combine"`
	HoldTillTimeout bool      `json:"hold_till_timeout"`
	CombinePending  bool      `json:"combine_pending"`
	LockedAt        time.Time `json:"locked_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Expired reports whether the row is past its expiry at asOf.
func (l *Lock) Expired(asOf time.Time) bool {
	return !l.ExpiresAt.After(asOf)
}
