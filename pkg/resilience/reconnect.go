package resilience

import "time"

// ReconnectPolicy decides whether and when to re-dial after a session close.
// Delay is fixed (no backoff); MaxAttempts of 0 means unbounded retries,
// matching the "always eventually reconnect" behavior the engine defaults to.
type ReconnectPolicy struct {
	Delay       time.Duration
	MaxAttempts int
	SkipCodes   []int
}

func NewReconnectPolicy(delay time.Duration, maxAttempts int, skipCodes ...int) ReconnectPolicy {
	if delay <= 0 {
		delay = 3 * time.Second
	}
	if len(skipCodes) == 0 {
		// 1000 is a deliberate close, 1006 an abnormal drop the peer
		// never acknowledged; neither warrants an automatic re-dial.
		skipCodes = []int{1000, 1006}
	}
	return ReconnectPolicy{Delay: delay, MaxAttempts: maxAttempts, SkipCodes: skipCodes}
}

// ShouldReconnect reports whether a close with the given code, after attempt
// reconnects so far, qualifies for another attempt.
func (p ReconnectPolicy) ShouldReconnect(closeCode, attempt int) bool {
	for _, c := range p.SkipCodes {
		if closeCode == c {
			return false
		}
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return false
	}
	return true
}
