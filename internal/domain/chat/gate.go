package chat

import (
	"strings"
	"time"
)

// GateState says whether send/attach is permitted.
type GateState string

const (
	GateOpen   GateState = "OPEN"
	GateLocked GateState = "LOCKED"
)

var lockedStatuses = map[string]struct{}{
	StatusProviderCompleted: {},
	StatusPaid:              {},
	StatusCancelled:         {},
	StatusCompleted:         {},
}

// EvaluateGate maps a job status to a gate state. Unknown and empty
// statuses are OPEN.
func EvaluateGate(status string) GateState {
	if _, ok := lockedStatuses[strings.ToLower(strings.TrimSpace(status))]; ok {
		return GateLocked
	}
	return GateOpen
}

// Countdown returns the time left until expiresAt, never negative.
func Countdown(expiresAt *time.Time, now time.Time) time.Duration {
	if expiresAt == nil {
		return 0
	}
	left := expiresAt.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
