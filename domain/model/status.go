package model

// AggregateStatus derives a request's overall status from its destinations.
// Overall success requires every destination to succeed; once all are terminal,
// any failure makes the request failed.
func AggregateStatus(destinations map[DestinationKey]*DestinationState) Status {
	var queued, completed, failed int
	for _, d := range destinations {
		switch d.Status {
		case StatusQueued:
			queued++
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	n := len(destinations)
	switch {
	case queued == n:
		return StatusQueued
	case completed == n:
		return StatusCompleted
	case completed+failed == n:
		return StatusFailed
	default:
		return StatusProcessing
	}
}
