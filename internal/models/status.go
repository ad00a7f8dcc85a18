package models

import "errors"

// ErrJobCanceled is returned from any cancellation checkpoint once a job has been
// asked to stop. Callers unwind the hierarchy and mark non-terminal units Canceled.
var ErrJobCanceled = errors.New("job canceled")

// Status is the lifecycle state shared by jobs, test case runs and test task runs
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusQueued    Status = "Queued"
	StatusRunning   Status = "Running"
	StatusPass      Status = "Pass"
	StatusFailed    Status = "Failed"
	StatusCanceled  Status = "Canceled"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{
	StatusScheduled,
	StatusQueued,
	StatusRunning,
	StatusPass,
	StatusFailed,
	StatusCanceled,
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal returns true for Pass, Failed and Canceled
func (s Status) IsTerminal() bool {
	return s == StatusPass || s == StatusFailed || s == StatusCanceled
}

// CanTransitionTo reports whether a stored status may be replaced by next.
// Terminal states are sticky; anything else may move to any known status.
func (s Status) CanTransitionTo(next Status) bool {
	if !next.IsValid() {
		return false
	}
	return !s.IsTerminal()
}

// String implements fmt.Stringer
func (s Status) String() string {
	return string(s)
}

// Rollup derives a parent status from its children.
// Canceled wins over Failed, Failed wins over everything else, and the parent is
// Pass only when every child is Pass. No children rolls up to Pass.
// Any child still in flight (not terminal) yields Running.
func Rollup(children []Status) Status {
	hasFailed := false
	hasPending := false

	for _, child := range children {
		switch child {
		case StatusCanceled:
			return StatusCanceled
		case StatusFailed:
			hasFailed = true
		case StatusPass:
		default:
			hasPending = true
		}
	}

	if hasFailed {
		return StatusFailed
	}
	if hasPending {
		return StatusRunning
	}
	return StatusPass
}
