package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/services/browser/browsertest"
)

func TestRemoteAgent_SendsTaskWithSessionAttachment(t *testing.T) {
	var received models.AgentTask
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, RunPath, r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(models.AgentOutcome{Success: true, Output: "logged in", Steps: 4})
	}))
	defer server.Close()

	agent := NewRemoteAgent(Config{URL: server.URL, APIKey: "key", LLMModel: "gpt-4.1"}, arbor.NewLogger())
	session := &browsertest.Session{Target: "T1", Debugger: "ws://127.0.0.1:9222/devtools/browser/x"}

	outcome, err := agent.Run(context.Background(), session, models.AgentTask{
		JobUUID:  "job-1",
		TaskUUID: "task-1",
		Task:     "Log in with the test user",
		TestData: models.TestData{"user": {"email": "qa@example.com"}},
	})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, "logged in", outcome.Output)
	assert.Equal(t, 4, outcome.Steps)

	assert.Equal(t, "Token key", auth)
	assert.Equal(t, "T1", received.TargetID)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/x", received.DebuggerURL)
	assert.Equal(t, DefaultMaxSteps, received.MaxSteps)
	assert.Equal(t, "gpt-4.1", received.LLMModel)
	assert.Equal(t, "qa@example.com", received.TestData["user"]["email"])
}

func TestRemoteAgent_Non2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	agent := NewRemoteAgent(Config{URL: server.URL}, arbor.NewLogger())
	_, err := agent.Run(context.Background(), nil, models.AgentTask{TaskUUID: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestRemoteAgent_TaskTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	agent := NewRemoteAgent(Config{URL: server.URL, TaskTimeout: 50 * time.Millisecond}, arbor.NewLogger())
	_, err := agent.Run(context.Background(), nil, models.AgentTask{TaskUUID: "t"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemoteAgent_NoURL(t *testing.T) {
	agent := NewRemoteAgent(Config{}, arbor.NewLogger())
	_, err := agent.Run(context.Background(), nil, models.AgentTask{})
	assert.Error(t, err)
}
