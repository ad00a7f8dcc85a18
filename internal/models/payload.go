package models

import (
	"fmt"
	"strings"
	"time"
)

// JobType distinguishes single test case runs from suite runs
type JobType string

const (
	JobTypeTestCase  JobType = "TestCase"
	JobTypeTestSuite JobType = "TestSuite"
)

// Priority of a test case as supplied by the main API
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// Browser kind requested for a test case
type Browser string

const (
	BrowserChrome  Browser = "chrome"
	BrowserFirefox Browser = "firefox"
	BrowserSafari  Browser = "safari"
	BrowserEdge    Browser = "edge"
)

// JobPayload is the execute request posted by the main API.
// It is decoded once at the intake boundary and carried with the job record.
type JobPayload struct {
	Job         JobInfo           `json:"job" yaml:"job" validate:"required"`
	TestCases   []TestCaseSpec    `json:"test_case" yaml:"test_case" validate:"required_without=TestSuite,dive"`
	TestSuite   *TestSuiteSpec    `json:"test_suite" yaml:"test_suite" validate:"omitempty"`
	Environment EnvironmentSpec   `json:"environment" yaml:"environment" validate:"required"`
	TestData    []TestDataSpec    `json:"test_data" yaml:"test_data" validate:"dive"`
	Extra       map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// JobInfo is the job header of an execute request
type JobInfo struct {
	ID           int64     `json:"id" yaml:"id"`
	UUID         string    `json:"uuid" yaml:"uuid" validate:"required"`
	Status       Status    `json:"status" yaml:"status"`
	JobType      JobType   `json:"job_type" yaml:"job_type" validate:"required,oneof=TestCase TestSuite"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
	Experimental bool      `json:"experimental" yaml:"experimental"`
	Business     int64     `json:"Business" yaml:"Business" validate:"required"`
	Project      int64     `json:"Project" yaml:"Project" validate:"required"`
	CreatedBy    Owner     `json:"created_by" yaml:"created_by" validate:"required"`
}

// Owner identifies the user who created the job
type Owner struct {
	ID       int64  `json:"id" yaml:"id" validate:"required"`
	FullName string `json:"full_name" yaml:"full_name"`
	Email    string `json:"email" yaml:"email" validate:"omitempty,email"`
}

// TestCaseSpec is one test case definition in an execute request
type TestCaseSpec struct {
	ID        int64          `json:"id" yaml:"id"`
	UUID      string         `json:"uuid" yaml:"uuid" validate:"required"`
	Name      string         `json:"name" yaml:"name" validate:"required"`
	Priority  Priority       `json:"priority" yaml:"priority" validate:"required,oneof=Critical High Medium Low"`
	Browser   Browser        `json:"browser" yaml:"browser" validate:"omitempty,oneof=chrome firefox safari edge"`
	IsDraft   bool           `json:"is_draft" yaml:"is_draft"`
	TestData  *int64         `json:"test_data,omitempty" yaml:"test_data,omitempty"`
	TestTasks []TestTaskSpec `json:"test_task" yaml:"test_task" validate:"dive"`
}

// TestTaskSpec is one natural-language step of a test case
type TestTaskSpec struct {
	ID        int64  `json:"id" yaml:"id"`
	UUID      string `json:"uuid" yaml:"uuid" validate:"required"`
	Title     string `json:"title" yaml:"title" validate:"required"`
	CreatedBy int64  `json:"created_by" yaml:"created_by"`
	TestData  *int64 `json:"test_data" yaml:"test_data"`
}

// TestSuiteSpec describes the suite a job was launched from
type TestSuiteSpec struct {
	ID          int64    `json:"id" yaml:"id"`
	UUID        string   `json:"uuid" yaml:"uuid"`
	Name        string   `json:"name" yaml:"name" validate:"required"`
	Description string   `json:"description" yaml:"description"`
	Language    string   `json:"language" yaml:"language"`
	Priority    Priority `json:"priority" yaml:"priority"`
	Type        string   `json:"type" yaml:"type"`
}

// EnvironmentSpec is the target environment a job runs against
type EnvironmentSpec struct {
	ID          int64  `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	URL         string `json:"url" yaml:"url" validate:"required,url"`
}

// TestDataSpec is a named set of key/value secrets made available to tasks
type TestDataSpec struct {
	ID   int64             `json:"id" yaml:"id" validate:"required"`
	Name string            `json:"name" yaml:"name" validate:"required"`
	Data map[string]string `json:"data" yaml:"data"`
}

// ValidationError describes every problem found in an execute request
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job payload: %s", strings.Join(e.Problems, "; "))
}

// FindTestData returns the test data entry with the given id
func (p *JobPayload) FindTestData(id int64) (*TestDataSpec, bool) {
	for i := range p.TestData {
		if p.TestData[i].ID == id {
			return &p.TestData[i], true
		}
	}
	return nil, false
}

// CheckReferences verifies cross-field constraints the struct tags cannot express
func (p *JobPayload) CheckReferences() []string {
	var problems []string

	if len(p.TestCases) == 0 && p.TestSuite == nil {
		problems = append(problems, "missing 'test_suite' and 'test_case'")
	}

	for _, tc := range p.TestCases {
		if tc.TestData != nil {
			if _, ok := p.FindTestData(*tc.TestData); !ok {
				problems = append(problems, fmt.Sprintf("test_case %s references unknown test_data %d", tc.UUID, *tc.TestData))
			}
		}
		for idx, task := range tc.TestTasks {
			if task.TestData == nil {
				continue
			}
			if _, ok := p.FindTestData(*task.TestData); !ok {
				problems = append(problems, fmt.Sprintf("test_task %d of test_case %s references unknown test_data %d", idx, tc.UUID, *task.TestData))
			}
		}
	}

	return problems
}
