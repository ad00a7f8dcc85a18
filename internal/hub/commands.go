package hub

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/bugowl/internal/models"
)

// CommandName identifies a client to server command
type CommandName string

const (
	CmdConnect     CommandName = "CONNECT"
	CmdLoadTasks   CommandName = "LOAD_TASKS"
	CmdRunAllTasks CommandName = "RUN_ALL_TASKS"
	CmdRunTask     CommandName = "RUN_TASK"
	CmdStop        CommandName = "STOP"
	CmdPause       CommandName = "PAUSE"
	CmdResume      CommandName = "RESUME"
)

// AckError is the acknowledgement sent for any rejected command
const AckError = "S2C_ERROR"

// clientPrefix is accepted in front of command names for older clients
const clientPrefix = "C2S_"

// aliases maps legacy command spellings to their canonical names
var aliases = map[string]CommandName{
	"LOAD_TASK": CmdLoadTasks,
}

// Command is the decoded form of a client message
type Command interface {
	Name() CommandName
}

type ConnectCommand struct {
	JobUUID string
}

type LoadTasksCommand struct {
	Tasks    []models.PlaygroundTask
	StartURL string
}

// RunAllTasksCommand runs every loaded task in order. Tasks, when present, replace the loaded list.
type RunAllTasksCommand struct {
	Tasks    []models.PlaygroundTask
	StartURL string
}

// RunTaskCommand runs one loaded task. Tasks, when present, replace the loaded list.
type RunTaskCommand struct {
	TaskUUID string
	Tasks    []models.PlaygroundTask
	StartURL string
}

type StopCommand struct{}
type PauseCommand struct{}
type ResumeCommand struct{}

func (ConnectCommand) Name() CommandName     { return CmdConnect }
func (LoadTasksCommand) Name() CommandName   { return CmdLoadTasks }
func (RunAllTasksCommand) Name() CommandName { return CmdRunAllTasks }
func (RunTaskCommand) Name() CommandName     { return CmdRunTask }
func (StopCommand) Name() CommandName        { return CmdStop }
func (PauseCommand) Name() CommandName       { return CmdPause }
func (ResumeCommand) Name() CommandName      { return CmdResume }

// UnknownCommandError rejects a command name the endpoint does not handle
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string {
	if e.Command == "" {
		return "missing COMMAND"
	}
	return fmt.Sprintf("unknown command %q", e.Command)
}

// envelope is the wire form of every client message
type envelope struct {
	Command     string                  `json:"COMMAND"`
	JobUUID     string                  `json:"JOB_UUID,omitempty"`
	TaskUUID    string                  `json:"TASK_UUID,omitempty"`
	Tasks       []models.PlaygroundTask `json:"TASKS,omitempty"`
	AllTaskData []models.PlaygroundTask `json:"ALL_TASK_DATA,omitempty"`
	StartURL    string                  `json:"START_URL,omitempty"`
}

func (e envelope) tasks() []models.PlaygroundTask {
	if len(e.Tasks) > 0 {
		return e.Tasks
	}
	return e.AllTaskData
}

// canonicalName strips the legacy prefix and resolves aliases
func canonicalName(raw string) CommandName {
	name := strings.ToUpper(strings.TrimSpace(raw))
	name = strings.TrimPrefix(name, clientPrefix)
	if alias, ok := aliases[name]; ok {
		return alias
	}
	return CommandName(name)
}

// DecodeCommand parses one client message into its command
func DecodeCommand(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid command message: %w", err)
	}

	name := canonicalName(env.Command)
	switch name {
	case CmdConnect:
		if env.JobUUID == "" {
			return nil, fmt.Errorf("%s requires JOB_UUID", name)
		}
		return ConnectCommand{JobUUID: env.JobUUID}, nil
	case CmdLoadTasks:
		tasks := env.tasks()
		if len(tasks) == 0 {
			return nil, fmt.Errorf("%s requires TASKS", name)
		}
		return LoadTasksCommand{Tasks: tasks, StartURL: env.StartURL}, nil
	case CmdRunAllTasks:
		return RunAllTasksCommand{Tasks: env.tasks(), StartURL: env.StartURL}, nil
	case CmdRunTask:
		if env.TaskUUID == "" {
			return nil, fmt.Errorf("%s requires TASK_UUID", name)
		}
		return RunTaskCommand{TaskUUID: env.TaskUUID, Tasks: env.tasks(), StartURL: env.StartURL}, nil
	case CmdStop:
		return StopCommand{}, nil
	case CmdPause:
		return PauseCommand{}, nil
	case CmdResume:
		return ResumeCommand{}, nil
	default:
		return nil, &UnknownCommandError{Command: env.Command}
	}
}

// Ack is the server reply to a client command
type Ack struct {
	ACK      string `json:"ACK"`
	Message  string `json:"message,omitempty"`
	JobUUID  string `json:"job_uuid,omitempty"`
	TaskUUID string `json:"task_uuid,omitempty"`
	Tasks    int    `json:"tasks,omitempty"`
}

// AckFor returns the success acknowledgement name of a command
func AckFor(name CommandName) string {
	return "S2C_" + string(name)
}

// ErrorAck builds the acknowledgement for a rejected command
func ErrorAck(err error) Ack {
	return Ack{ACK: AckError, Message: err.Error()}
}
