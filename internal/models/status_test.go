package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStatusIsTerminal verifies which statuses are final
func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusScheduled, false},
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusPass, true},
		{StatusFailed, true},
		{StatusCanceled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsTerminal())
		})
	}
}

func TestStatusCanTransitionTo(t *testing.T) {
	assert.True(t, StatusQueued.CanTransitionTo(StatusRunning))
	assert.True(t, StatusRunning.CanTransitionTo(StatusCanceled))
	assert.True(t, StatusRunning.CanTransitionTo(StatusPass))

	// Terminal states are sticky, including writing the same value twice
	for _, terminal := range []Status{StatusPass, StatusFailed, StatusCanceled} {
		for _, next := range AllStatuses {
			assert.False(t, terminal.CanTransitionTo(next), "%s -> %s", terminal, next)
		}
	}

	assert.False(t, StatusRunning.CanTransitionTo(Status("Bogus")))
}

// TestRollup verifies parent status derivation from child statuses
func TestRollup(t *testing.T) {
	tests := []struct {
		name     string
		children []Status
		expected Status
	}{
		{
			name:     "no children is vacuous pass",
			children: nil,
			expected: StatusPass,
		},
		{
			name:     "all pass",
			children: []Status{StatusPass, StatusPass},
			expected: StatusPass,
		},
		{
			name:     "failure with untouched sibling",
			children: []Status{StatusFailed, StatusQueued},
			expected: StatusFailed,
		},
		{
			name:     "canceled supersedes failed",
			children: []Status{StatusFailed, StatusCanceled, StatusPass},
			expected: StatusCanceled,
		},
		{
			name:     "still running",
			children: []Status{StatusPass, StatusRunning},
			expected: StatusRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Rollup(tt.children))
		})
	}
}
