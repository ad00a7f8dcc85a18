package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/common"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/queue"
	"github.com/ternarybob/bugowl/internal/services/cancellation"
	badgerstore "github.com/ternarybob/bugowl/internal/storage/badger"
)

type intakeHarness struct {
	service *Service
	store   interfaces.RunStore
	cancel  *cancellation.Service
	queue   *queue.BadgerManager
}

func newIntakeHarness(t *testing.T) *intakeHarness {
	t.Helper()
	logger := arbor.NewLogger()

	mgr, err := badgerstore.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	q, err := mgr.NewQueue(queue.NewDefaultConfig())
	require.NoError(t, err)

	h := &intakeHarness{
		store:  mgr.RunStore(),
		cancel: cancellation.NewService(mgr.KeyValueStorage(), time.Hour, logger),
		queue:  q,
	}
	h.service = NewService(h.store, h.cancel, q, logger)
	return h
}

func validPayload(jobID string) *models.JobPayload {
	dataID := int64(11)
	return &models.JobPayload{
		Job: models.JobInfo{
			ID:        1,
			UUID:      jobID,
			Status:    models.StatusScheduled,
			JobType:   models.JobTypeTestCase,
			Business:  4,
			Project:   9,
			CreatedBy: models.Owner{ID: 2, FullName: "QA Lead", Email: "qa@example.com"},
		},
		TestCases: []models.TestCaseSpec{{
			UUID:     "case-1",
			Name:     "Checkout",
			Priority: models.PriorityCritical,
			Browser:  models.BrowserChrome,
			TestTasks: []models.TestTaskSpec{
				{UUID: "task-1", Title: "Add an item to the cart", TestData: &dataID},
			},
		}},
		Environment: models.EnvironmentSpec{Name: "staging", URL: "https://staging.example.com"},
		TestData:    []models.TestDataSpec{{ID: dataID, Name: "buyer", Data: map[string]string{"card": "4242"}}},
	}
}

func TestAccept_PersistsQueuedAndEnqueues(t *testing.T) {
	h := newIntakeHarness(t)
	ctx := context.Background()

	job, err := h.service.Accept(ctx, validPayload("job-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.Equal(t, "case-1", job.TestCaseUUID)

	stored, err := h.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, stored.Status)
	assert.Equal(t, int64(4), stored.Business)

	n, err := h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msg, done, err := h.queue.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, queue.MessageTypeExecuteJob, msg.Type)
	require.NoError(t, done())
}

func TestAccept_RejectsAlreadyCanceled(t *testing.T) {
	h := newIntakeHarness(t)
	ctx := context.Background()
	require.NoError(t, h.service.Cancel(ctx, "job-2"))

	_, err := h.service.Accept(ctx, validPayload("job-2"))
	assert.ErrorIs(t, err, ErrAlreadyCanceled)

	_, err = h.store.GetJob(ctx, "job-2")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound, "nothing persisted")

	n, _ := h.queue.Len(ctx)
	assert.Zero(t, n)
}

func TestAccept_RejectsDuplicate(t *testing.T) {
	h := newIntakeHarness(t)
	ctx := context.Background()

	_, err := h.service.Accept(ctx, validPayload("job-3"))
	require.NoError(t, err)

	_, err = h.service.Accept(ctx, validPayload("job-3"))
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestAccept_ValidationProblems(t *testing.T) {
	h := newIntakeHarness(t)

	payload := validPayload("job-4")
	payload.Environment.URL = "not a url"
	payload.TestCases[0].Priority = "Urgent"
	missing := int64(99)
	payload.TestCases[0].TestTasks[0].TestData = &missing

	_, err := h.service.Accept(context.Background(), payload)

	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "'environment.url' must be a URL")
	assert.Contains(t, verr.Problems, "'test_case[0].priority' must be one of [Critical High Medium Low]")
	assert.Contains(t, verr.Problems, "test_task 0 of test_case case-1 references unknown test_data 99")
}

func TestValidatePayload_RequiresCasesOrSuite(t *testing.T) {
	payload := validPayload("job-5")
	payload.TestCases = nil

	err := ValidatePayload(payload)
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "missing 'test_suite' and 'test_case'")

	payload.TestSuite = &models.TestSuiteSpec{UUID: "suite-1", Name: "Smoke"}
	assert.NoError(t, ValidatePayload(payload))
}

func TestCancel_RequiresJobID(t *testing.T) {
	h := newIntakeHarness(t)
	var verr *models.ValidationError
	assert.True(t, errors.As(h.service.Cancel(context.Background(), ""), &verr))
}

func TestCaseDetail(t *testing.T) {
	h := newIntakeHarness(t)
	ctx := context.Background()

	_, err := h.service.Accept(ctx, validPayload("job-6"))
	require.NoError(t, err)
	require.NoError(t, h.store.SaveCaseRun(ctx, &models.TestCaseRun{ID: "cr-1", JobID: "job-6", TestCaseUUID: "case-1", Status: models.StatusQueued}))

	detail, err := h.service.CaseDetail(ctx, "job-6", "case-1")
	require.NoError(t, err)
	assert.Equal(t, "cr-1", detail.ID)

	_, err = h.service.CaseDetail(ctx, "job-6", "case-x")
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestLoadPayloadFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
job:
  uuid: job-yaml
  job_type: TestCase
  Business: 1
  Project: 2
  created_by:
    id: 5
test_case:
  - uuid: case-1
    name: Login
    priority: High
    test_task:
      - uuid: task-1
        title: Sign in
        test_data: 1
environment:
  name: local
  url: http://localhost:3000
test_data:
  - id: 1
    name: user
    data:
      email: dev@example.com
`), 0644))

	payload, err := LoadPayloadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "job-yaml", payload.Job.UUID)
	assert.Equal(t, int64(1), *payload.TestCases[0].TestTasks[0].TestData)
	assert.Equal(t, "dev@example.com", payload.TestData[0].Data["email"])
	assert.NoError(t, ValidatePayload(payload))

	jsonPath := filepath.Join(dir, "job.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"job":{"uuid":"job-json","job_type":"TestSuite"}}`), 0644))
	payload, err = LoadPayloadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeTestSuite, payload.Job.JobType)

	_, err = LoadPayloadFile(filepath.Join(dir, "job.txt"))
	assert.Error(t, err)
}
