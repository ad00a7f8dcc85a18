package models

import "time"

// Job is one execution request from the main API, keyed by the job uuid
type Job struct {
	ID            string     `json:"id"`
	Kind          JobType    `json:"kind"`
	Status        Status     `json:"status" badgerhold:"index"`
	Payload       JobPayload `json:"payload"`
	Business      int64      `json:"business"`
	Project       int64      `json:"project"`
	CreatedBy     Owner      `json:"created_by"`
	Experimental  bool       `json:"experimental"`
	TestCaseUUID  string     `json:"test_case_uuid,omitempty"`
	TestSuiteUUID string     `json:"test_suite_uuid,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// NewJobFromPayload builds a Queued job record from a validated execute request
func NewJobFromPayload(payload JobPayload) *Job {
	now := time.Now()
	job := &Job{
		ID:           payload.Job.UUID,
		Kind:         payload.Job.JobType,
		Status:       StatusQueued,
		Payload:      payload,
		Business:     payload.Job.Business,
		Project:      payload.Job.Project,
		CreatedBy:    payload.Job.CreatedBy,
		Experimental: payload.Job.Experimental,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if len(payload.TestCases) == 1 && job.Kind == JobTypeTestCase {
		job.TestCaseUUID = payload.TestCases[0].UUID
	}
	if payload.TestSuite != nil {
		job.TestSuiteUUID = payload.TestSuite.UUID
	}
	return job
}

// TestCaseRun is one execution of a test case inside a job.
// Each case run owns exactly one browser session.
type TestCaseRun struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id" badgerhold:"index"`
	TestCaseUUID  string     `json:"test_case_uuid"`
	Name          string     `json:"name"`
	Priority      Priority   `json:"priority"`
	Position      int        `json:"position"`
	BaseURL       string     `json:"base_url"`
	Environment   string     `json:"environment"`
	Browser       Browser    `json:"browser"`
	Headless      bool       `json:"headless"`
	Status        Status     `json:"status"`
	VideoURL      string     `json:"video_url,omitempty"`
	ScreenshotURL string     `json:"screenshot_url,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// TestTaskRun is one execution of a natural-language step inside a case run
type TestTaskRun struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id" badgerhold:"index"`
	CaseID       string     `json:"case_id" badgerhold:"index"`
	TestTaskUUID string     `json:"test_task_uuid"`
	Position     int        `json:"position"`
	Title        string     `json:"title"`
	TestData     TestData   `json:"test_data,omitempty"`
	Status       Status     `json:"status"`
	Output       string     `json:"output,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// JobDetail is a job with its case and task runs, in declared order
type JobDetail struct {
	Job   *Job              `json:"job"`
	Cases []*TestCaseDetail `json:"test_cases"`
}

// TestCaseDetail is a case run with its task runs
type TestCaseDetail struct {
	*TestCaseRun
	Tasks []*TestTaskRun `json:"test_tasks"`
}
