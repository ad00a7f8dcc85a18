package models

// FrameMessageType is the type tag of a live frame published to observers
const FrameMessageType = "send_frame"

// StreamGroupName returns the backplane group observers of a job join
func StreamGroupName(jobID string) string {
	return "BrowserStreaming_Job_" + jobID
}

// Frame is one encoded viewport capture with the run state at capture time
type Frame struct {
	Type       string `json:"type"`
	Frame      string `json:"frame"`
	JobUUID    string `json:"job_uuid"`
	JobStatus  Status `json:"job_status"`
	CaseUUID   string `json:"case_uuid"`
	CaseStatus Status `json:"case_status"`
	TaskUUID   string `json:"task_uuid"`
	TaskStatus Status `json:"task_status"`
	CurrentURL string `json:"current_url"`
}

// RunState is the job/case/task identity and status a broadcaster stamps on frames
type RunState struct {
	JobUUID    string
	JobStatus  Status
	CaseUUID   string
	CaseStatus Status
	TaskUUID   string
	TaskStatus Status
}
