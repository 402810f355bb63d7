package engagement

import "time"

// DefaultWindow is the rolling period after a conversation's last inbound
// message during which free-form sends are permitted.
const DefaultWindow = 24 * time.Hour

// WindowPolicy decides whether a conversation may still receive free-form
// messages. It is a pure value; all time is passed in by the caller.
type WindowPolicy struct {
	Window time.Duration
}

// NewWindowPolicy returns a policy with the given window, falling back to
// DefaultWindow when the duration is not positive.
func NewWindowPolicy(window time.Duration) WindowPolicy {
	if window <= 0 {
		window = DefaultWindow
	}
	return WindowPolicy{Window: window}
}

// IsWithinWindow reports whether lastInbound is recent enough for a free-form
// send at the moment now. The comparison is strict: exactly one full window
// elapsed counts as outside. A zero lastInbound (no known inbound activity)
// is always outside, so unknown conversations get templates.
func (p WindowPolicy) IsWithinWindow(now, lastInbound time.Time) bool {
	if lastInbound.IsZero() {
		return false
	}
	window := p.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return now.Sub(lastInbound) < window
}
