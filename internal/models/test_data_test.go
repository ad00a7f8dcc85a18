package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeTestData_TaskOverridesCase(t *testing.T) {
	caseData := TestData{
		"login": {"username": "case-user", "password": "case-pass"},
		"site":  {"region": "au"},
	}
	taskData := TestData{
		"login": {"username": "task-user"},
	}

	merged := MergeTestData(caseData, taskData)

	assert.Equal(t, "task-user", merged["login"]["username"])
	assert.Equal(t, "case-pass", merged["login"]["password"])
	assert.Equal(t, "au", merged["site"]["region"])

	// Inputs are left untouched
	assert.Equal(t, "case-user", caseData["login"]["username"])
}

func TestMergeTestData_Empty(t *testing.T) {
	merged := MergeTestData()
	require.NotNil(t, merged)
	assert.Empty(t, merged)

	merged = MergeTestData(nil, TestData{})
	assert.Empty(t, merged)
}

func TestResolveTestData(t *testing.T) {
	payload := &JobPayload{
		TestData: []TestDataSpec{
			{ID: 7, Name: "credentials", Data: map[string]string{"email": "qa@example.com"}},
		},
	}

	id := int64(7)
	resolved := ResolveTestData(payload, &id)
	assert.Equal(t, TestData{"credentials": {"email": "qa@example.com"}}, resolved)

	missing := int64(99)
	assert.Empty(t, ResolveTestData(payload, &missing))
	assert.Empty(t, ResolveTestData(payload, nil))
	assert.Empty(t, ResolveTestData(nil, &id))
}

func TestCheckReferences(t *testing.T) {
	bad := int64(3)
	payload := &JobPayload{
		TestCases: []TestCaseSpec{
			{
				UUID: "case-1",
				TestTasks: []TestTaskSpec{
					{UUID: "task-1", Title: "open home page"},
					{UUID: "task-2", Title: "log in", TestData: &bad},
				},
			},
		},
	}

	problems := payload.CheckReferences()
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "unknown test_data 3")

	empty := &JobPayload{}
	assert.Len(t, empty.CheckReferences(), 1)
}
