package models

// AgentTask is one unit of work handed to the browsing agent
type AgentTask struct {
	JobUUID     string   `json:"job_uuid"`
	CaseUUID    string   `json:"case_uuid"`
	TaskUUID    string   `json:"task_uuid"`
	Task        string   `json:"task"`
	TestData    TestData `json:"test_data"`
	StartURL    string   `json:"start_url"`
	TargetID    string   `json:"target_id,omitempty"`
	DebuggerURL string   `json:"debugger_url,omitempty"`
	MaxSteps    int      `json:"max_steps"`
	LLMModel    string   `json:"llm_model,omitempty"`
}

// AgentOutcome is the agent's verdict for one task
type AgentOutcome struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Steps   int    `json:"steps"`
}
