package coordinator

import "time"

// ReconnectPolicy bounds automatic reconnection.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultReconnectPolicy returns 5 attempts with a 1s linear step.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 5, BaseDelay: time.Second}
}

// Delay returns the wait before attempt n (1-based).
func (p ReconnectPolicy) Delay(n int) time.Duration {
	return p.BaseDelay * time.Duration(n)
}

// Allows reports whether attempt n may be made.
func (p ReconnectPolicy) Allows(n int) bool {
	return n <= p.MaxAttempts
}
