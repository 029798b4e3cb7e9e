package model

import "time"

// RateCounter is a fixed-window request counter for one caller identity.
type RateCounter struct {
	Key         string
	WindowStart time.Time
	Count       uint
}

// Expired reports whether the counter's window has fully elapsed at now.
func (c RateCounter) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(c.WindowStart) >= window
}

// Remaining returns the time left in the counter's window at now.
func (c RateCounter) Remaining(now time.Time, window time.Duration) time.Duration {
	left := window - now.Sub(c.WindowStart)
	if left < 0 {
		return 0
	}
	return left
}

// IPKey and OrgKey build the counter keys for the two limit scopes.
func IPKey(address string) string { return "ip:" + address }

func OrgKey(orgID string) string { return "org:" + orgID }
