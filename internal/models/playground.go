package models

// PlaygroundTask is one task loaded into an interactive playground session
type PlaygroundTask struct {
	UUID  string            `json:"uuid"`
	Title string            `json:"title"`
	Data  map[string]string `json:"data,omitempty"`
}

// TaskStatusMessageType is the type tag of a task status change published to observers
const TaskStatusMessageType = "task_status"

// TaskStatusMessage tells observers a playground task changed status
type TaskStatusMessage struct {
	Type       string `json:"type"`
	JobUUID    string `json:"job_uuid"`
	TaskUUID   string `json:"task_uuid"`
	TaskStatus Status `json:"task_status"`
	Output     string `json:"output,omitempty"`
}
