package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/bugowl/internal/interfaces"
)

// ScreenshotKey is the storage key of a failure screenshot
func ScreenshotKey(jobID, taskID string) string {
	return fmt.Sprintf("failure_screenshots/%s/%s.png", jobID, taskID)
}

// VideoKey is the storage key of a case recording
func VideoKey(businessID int64, jobID, caseID, unique string, at time.Time) string {
	return fmt.Sprintf("videos/browser_recordings/%d/%s-%s-%s_%s.mp4",
		businessID, jobID, caseID, unique, at.Format("20060102_150405"))
}

// Capture persists failure screenshots and session videos.
// Every method returns an empty URL instead of an error; artifact loss never fails a run.
type Capture struct {
	store     interfaces.BlobStore
	workDir   string
	keepLocal bool
	logger    arbor.ILogger
	now       func() time.Time
}

// NewCapture creates an artifact capture service staging files under workDir
func NewCapture(store interfaces.BlobStore, workDir string, keepLocal bool, logger arbor.ILogger) *Capture {
	return &Capture{
		store:     store,
		workDir:   workDir,
		keepLocal: keepLocal,
		logger:    logger,
		now:       time.Now,
	}
}

// CaptureFailureScreenshot saves a full-page screenshot of the active page and uploads it
func (c *Capture) CaptureFailureScreenshot(ctx context.Context, shooter interfaces.Screenshotter, jobID, taskID string) string {
	log := c.logger.WithCorrelationId(jobID)
	if shooter == nil {
		log.Warn().Str("task_id", taskID).Msg("No browser page to screenshot")
		return ""
	}

	data, err := shooter.Screenshot(ctx)
	if err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("Failed to capture failure screenshot")
		return ""
	}

	key := ScreenshotKey(jobID, taskID)
	localPath := filepath.Join(c.workDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		log.Warn().Err(err).Str("path", localPath).Msg("Failed to create screenshot directory")
		return ""
	}
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		log.Warn().Err(err).Str("path", localPath).Msg("Failed to write failure screenshot")
		return ""
	}

	return c.upload(ctx, log, key, localPath, "image/png")
}

// UploadVideo moves a finished recording to its job-scoped path and uploads it
func (c *Capture) UploadVideo(ctx context.Context, businessID int64, jobID, caseID, path string) string {
	log := c.logger.WithCorrelationId(jobID)
	if path == "" {
		log.Debug().Str("case_id", caseID).Msg("No recording for case")
		return ""
	}

	info, err := os.Stat(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Recording not found")
		return ""
	}
	if info.Size() == 0 {
		log.Warn().Str("path", path).Msg("Recording is empty")
		return ""
	}

	key := VideoKey(businessID, jobID, caseID, uuid.New().String(), c.now())
	localPath := filepath.Join(c.workDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		log.Warn().Err(err).Str("path", localPath).Msg("Failed to create video directory")
		return ""
	}
	if err := moveFile(path, localPath); err != nil {
		log.Warn().Err(err).Str("from", path).Str("to", localPath).Msg("Failed to move recording")
		return ""
	}

	return c.upload(ctx, log, key, localPath, "video/mp4")
}

func (c *Capture) upload(ctx context.Context, log arbor.ILogger, key, localPath, contentType string) string {
	url, err := c.store.UploadFile(ctx, key, localPath, contentType)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Artifact upload failed")
		return ""
	}

	if !c.keepLocal {
		if err := os.Remove(localPath); err != nil {
			log.Warn().Err(err).Str("path", localPath).Msg("Failed to delete local artifact")
		}
	}

	log.Info().Str("key", key).Str("url", url).Msg("Artifact uploaded")
	return url
}

// moveFile renames src to dst, copying when they are on different devices
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
