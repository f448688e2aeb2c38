package internal

import "time"

// RemainingColdStart is how much of the expected cold start is still ahead
// after elapsed time spent provisioning. It never goes below zero.
func RemainingColdStart(coldStart, elapsed time.Duration) time.Duration {
	return max(coldStart-max(elapsed, 0), 0)
}

// LastActivity is the later of the two instants, ignoring unset ones.
func LastActivity(lastRequest, readySince time.Time) time.Time {
	if lastRequest.After(readySince) {
		return lastRequest
	}
	return readySince
}

type IdleVerdict int

const (
	IdleVerdictBusy IdleVerdict = iota
	IdleVerdictIdle
	IdleVerdictEvict
)

// Idleness decides what an idle check should do with a node that has been
// without traffic for idleFor: nothing, mark it idle past half the timeout,
// or evict it past the full timeout.
func Idleness(idleFor, timeout time.Duration) IdleVerdict {
	switch {
	case idleFor > timeout:
		return IdleVerdictEvict
	case idleFor > timeout/2:
		return IdleVerdictIdle
	default:
		return IdleVerdictBusy
	}
}
