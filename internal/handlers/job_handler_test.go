package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/interfaces"
	"github.com/ternarybob/bugowl/internal/models"
	"github.com/ternarybob/bugowl/internal/services/jobs"
)

// MockJobService mocks the job intake service
type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) Accept(ctx context.Context, payload *models.JobPayload) (*models.Job, error) {
	args := m.Called(ctx, payload)
	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *MockJobService) Cancel(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func (m *MockJobService) Details(ctx context.Context, jobID string) (*models.JobDetail, error) {
	args := m.Called(ctx, jobID)
	detail, _ := args.Get(0).(*models.JobDetail)
	return detail, args.Error(1)
}

func (m *MockJobService) CaseDetail(ctx context.Context, jobID, testCaseUUID string) (*models.TestCaseDetail, error) {
	args := m.Called(ctx, jobID, testCaseUUID)
	detail, _ := args.Get(0).(*models.TestCaseDetail)
	return detail, args.Error(1)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestExecuteHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		acceptErr  error
		wantStatus int
	}{
		{name: "accepted", body: `{"job":{"uuid":"job-1"}}`, wantStatus: http.StatusCreated},
		{name: "invalid payload", body: `{"job":{"uuid":"job-1"}}`, acceptErr: &models.ValidationError{Problems: []string{"missing 'environment'"}}, wantStatus: http.StatusBadRequest},
		{name: "already canceled", body: `{"job":{"uuid":"job-1"}}`, acceptErr: jobs.ErrAlreadyCanceled, wantStatus: http.StatusBadRequest},
		{name: "duplicate", body: `{"job":{"uuid":"job-1"}}`, acceptErr: fmt.Errorf("%w: job-1", jobs.ErrDuplicateJob), wantStatus: http.StatusConflict},
		{name: "store failure", body: `{"job":{"uuid":"job-1"}}`, acceptErr: fmt.Errorf("failed to save job: disk"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockJobService)
			var job *models.Job
			if tt.acceptErr == nil {
				job = &models.Job{ID: "job-1", Status: models.StatusQueued}
			}
			svc.On("Accept", mock.Anything, mock.MatchedBy(func(p *models.JobPayload) bool { return p.Job.UUID == "job-1" })).
				Return(job, tt.acceptErr).Once()

			h := NewJobHandler(svc, arbor.NewLogger())
			rec := httptest.NewRecorder()
			h.ExecuteHandler(rec, httptest.NewRequest(http.MethodPost, "/api/job/execute/", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestExecuteHandler_ValidationProblemsListed(t *testing.T) {
	svc := new(MockJobService)
	svc.On("Accept", mock.Anything, mock.Anything).
		Return(nil, &models.ValidationError{Problems: []string{"missing 'job.uuid'", "'environment.url' must be a URL"}})

	rec := httptest.NewRecorder()
	NewJobHandler(svc, arbor.NewLogger()).ExecuteHandler(rec, httptest.NewRequest(http.MethodPost, "/api/job/execute/", strings.NewReader(`{}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["problems"], 2)
}

func TestExecuteHandler_RejectsBadRequests(t *testing.T) {
	h := NewJobHandler(new(MockJobService), arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.ExecuteHandler(rec, httptest.NewRequest(http.MethodGet, "/api/job/execute/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ExecuteHandler(rec, httptest.NewRequest(http.MethodPost, "/api/job/execute/", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ExecuteHandler(rec, httptest.NewRequest(http.MethodPost, "/api/job/execute/", strings.NewReader("")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelHandler(t *testing.T) {
	svc := new(MockJobService)
	svc.On("Cancel", mock.Anything, "job-7").Return(nil).Once()
	svc.On("Cancel", mock.Anything, "").Return(&models.ValidationError{Problems: []string{"missing 'job_uuid'"}}).Once()
	h := NewJobHandler(svc, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.CancelHandler(rec, httptest.NewRequest(http.MethodPost, "/api/job/cancel/", strings.NewReader(`{"job_uuid":"job-7"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.CancelHandler(rec, httptest.NewRequest(http.MethodPost, "/api/job/cancel/", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.AssertExpectations(t)
}

func TestDetailHandler(t *testing.T) {
	svc := new(MockJobService)
	detail := &models.JobDetail{
		Job: &models.Job{ID: "job-9", Status: models.StatusPass},
		Cases: []*models.TestCaseDetail{{
			TestCaseRun: &models.TestCaseRun{ID: "cr-1", TestCaseUUID: "case-1", Status: models.StatusPass},
			Tasks:       []*models.TestTaskRun{{ID: "tr-1", TestTaskUUID: "task-1", Status: models.StatusPass}},
		}},
	}
	svc.On("Details", mock.Anything, "job-9").Return(detail, nil)
	svc.On("Details", mock.Anything, "job-x").Return(nil, fmt.Errorf("job job-x: %w", interfaces.ErrRecordNotFound))
	h := NewJobHandler(svc, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.DetailHandler(rec, httptest.NewRequest(http.MethodGet, "/api/job/job-9/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.JobDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.StatusPass, got.Job.Status)
	require.Len(t, got.Cases, 1)
	assert.Equal(t, "case-1", got.Cases[0].TestCaseUUID)
	assert.Equal(t, "task-1", got.Cases[0].Tasks[0].TestTaskUUID)

	rec = httptest.NewRecorder()
	h.DetailHandler(rec, httptest.NewRequest(http.MethodGet, "/api/job/job-x/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCaseDetailHandler(t *testing.T) {
	svc := new(MockJobService)
	svc.On("CaseDetail", mock.Anything, "job-1", "case-1").
		Return(&models.TestCaseDetail{TestCaseRun: &models.TestCaseRun{ID: "cr-1", TestCaseUUID: "case-1"}}, nil)
	h := NewJobHandler(svc, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.CaseDetailHandler(rec, httptest.NewRequest(http.MethodGet, "/api/job/testcase/?job_uuid=job-1&test_case_uuid=case-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cr-1", decodeBody(t, rec)["id"])

	rec = httptest.NewRecorder()
	h.CaseDetailHandler(rec, httptest.NewRequest(http.MethodGet, "/api/job/testcase/?job_uuid=job-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
