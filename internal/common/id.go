package common

import (
	"github.com/google/uuid"
)

// NewCaseRunID generates a unique test case run ID
// Format: case_<uuid>
func NewCaseRunID() string {
	return "case_" + uuid.New().String()
}

// NewTaskRunID generates a unique test task run ID
// Format: task_<uuid>
func NewTaskRunID() string {
	return "task_" + uuid.New().String()
}

// NewSessionID generates a browser session ID
func NewSessionID() string {
	return uuid.New().String()
}
