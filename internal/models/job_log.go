package models

// LogMessageType is the type tag of a job log line published to observers
const LogMessageType = "log_event"

// JobLogEntry is one job-correlated log line pushed to a job's stream group
type JobLogEntry struct {
	Type      string `json:"type"`
	JobUUID   string `json:"job_uuid"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}
