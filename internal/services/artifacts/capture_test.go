package artifacts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type fakeShooter struct {
	data []byte
	err  error
}

func (f *fakeShooter) Screenshot(ctx context.Context) ([]byte, error) {
	return f.data, f.err
}

type failingStore struct{}

func (failingStore) UploadFile(ctx context.Context, key, localPath, contentType string) (string, error) {
	return "", errors.New("bucket unreachable")
}

// MockPutter mocks the S3 PutObject call
type MockPutter struct {
	mock.Mock
}

func (m *MockPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(params.Body)
	args := m.Called(*params.Bucket, *params.Key, *params.ContentType, string(body))
	if out := args.Get(0); out != nil {
		return out.(*s3.PutObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestCaptureFailureScreenshot_UploadsAndDeletesLocal(t *testing.T) {
	work := t.TempDir()
	root := t.TempDir()
	capture := NewCapture(NewFilesystemBlobStore(root, "http://cdn.local/"), work, false, arbor.NewLogger())

	url := capture.CaptureFailureScreenshot(context.Background(), &fakeShooter{data: []byte("png")}, "job-1", "task-9")

	assert.Equal(t, "http://cdn.local/failure_screenshots/job-1/task-9.png", url)

	stored, err := os.ReadFile(filepath.Join(root, "failure_screenshots", "job-1", "task-9.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(stored))

	_, err = os.Stat(filepath.Join(work, "failure_screenshots", "job-1", "task-9.png"))
	assert.True(t, os.IsNotExist(err), "local copy removed after upload")
}

func TestCaptureFailureScreenshot_KeepLocal(t *testing.T) {
	work := t.TempDir()
	capture := NewCapture(NewFilesystemBlobStore(t.TempDir(), "http://cdn.local"), work, true, arbor.NewLogger())

	url := capture.CaptureFailureScreenshot(context.Background(), &fakeShooter{data: []byte("png")}, "job-1", "task-9")
	require.NotEmpty(t, url)

	_, err := os.Stat(filepath.Join(work, "failure_screenshots", "job-1", "task-9.png"))
	assert.NoError(t, err)
}

func TestCaptureFailureScreenshot_FailuresReturnEmpty(t *testing.T) {
	ctx := context.Background()
	work := t.TempDir()

	capture := NewCapture(NewFilesystemBlobStore(t.TempDir(), "http://cdn.local"), work, false, arbor.NewLogger())
	assert.Empty(t, capture.CaptureFailureScreenshot(ctx, &fakeShooter{err: errors.New("page crashed")}, "job-1", "task-1"))
	assert.Empty(t, capture.CaptureFailureScreenshot(ctx, nil, "job-1", "task-1"))

	failing := NewCapture(failingStore{}, work, false, arbor.NewLogger())
	assert.Empty(t, failing.CaptureFailureScreenshot(ctx, &fakeShooter{data: []byte("png")}, "job-1", "task-1"))

	// A failed upload keeps the staged file for inspection
	_, err := os.Stat(filepath.Join(work, "failure_screenshots", "job-1", "task-1.png"))
	assert.NoError(t, err)
}

func TestUploadVideo_MovesToJobScopedKey(t *testing.T) {
	work := t.TempDir()
	root := t.TempDir()
	capture := NewCapture(NewFilesystemBlobStore(root, "http://cdn.local"), work, false, arbor.NewLogger())
	capture.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	recording := filepath.Join(t.TempDir(), "session.mp4")
	require.NoError(t, os.WriteFile(recording, []byte("mp4"), 0644))

	url := capture.UploadVideo(context.Background(), 42, "job-1", "case-1", recording)

	pattern := regexp.MustCompile(`^http://cdn\.local/videos/browser_recordings/42/job-1-case-1-[0-9a-f-]{36}_20260304_050607\.mp4$`)
	assert.Regexp(t, pattern, url)

	_, err := os.Stat(recording)
	assert.True(t, os.IsNotExist(err), "recording moved out of the session directory")
}

func TestUploadVideo_MissingOrEmpty(t *testing.T) {
	ctx := context.Background()
	capture := NewCapture(NewFilesystemBlobStore(t.TempDir(), "http://cdn.local"), t.TempDir(), false, arbor.NewLogger())

	assert.Empty(t, capture.UploadVideo(ctx, 1, "job-1", "case-1", ""))
	assert.Empty(t, capture.UploadVideo(ctx, 1, "job-1", "case-1", filepath.Join(t.TempDir(), "nope.mp4")))

	empty := filepath.Join(t.TempDir(), "empty.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	assert.Empty(t, capture.UploadVideo(ctx, 1, "job-1", "case-1", empty))
}

func TestS3BlobStore_UploadAndURL(t *testing.T) {
	local := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(local, []byte("png"), 0644))

	putter := new(MockPutter)
	putter.On("PutObject", "bugowl-artifacts", "failure_screenshots/j/t.png", "image/png", "png").
		Return(&s3.PutObjectOutput{}, nil).Once()

	store := newS3BlobStore(putter, "bugowl-artifacts", "")
	url, err := store.UploadFile(context.Background(), "failure_screenshots/j/t.png", local, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://bugowl-artifacts.s3.amazonaws.com/failure_screenshots/j/t.png", url)
	putter.AssertExpectations(t)

	custom := newS3BlobStore(putter, "bugowl-artifacts", "https://media.example.com/")
	assert.Equal(t, "https://media.example.com/a/b.mp4", custom.PublicURL("a/b.mp4"))
}

func TestS3BlobStore_UploadError(t *testing.T) {
	local := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(local, []byte("png"), 0644))

	putter := new(MockPutter)
	putter.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("access denied"))

	store := newS3BlobStore(putter, "bucket", "")
	_, err := store.UploadFile(context.Background(), "k", local, "image/png")
	assert.ErrorContains(t, err, "access denied")
}
