package models

// StatusUpdate is the body posted to the main API on every status change.
// Empty case fields are omitted for job-only updates.
type StatusUpdate struct {
	JobUUID        string `json:"job_uuid"`
	JobStatus      Status `json:"job_status,omitempty"`
	TestCaseUUID   string `json:"test_case_uuid,omitempty"`
	TestCaseStatus Status `json:"test_case_status,omitempty"`
}
