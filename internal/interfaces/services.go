package interfaces

import (
	"context"

	"github.com/ternarybob/bugowl/internal/models"
)

// Agent runs one natural-language task against a live browser session.
// An error or an unsuccessful outcome both count as a task failure.
type Agent interface {
	Run(ctx context.Context, session BrowserSession, task models.AgentTask) (*models.AgentOutcome, error)
}

// BlobStore uploads files and returns their public URL
type BlobStore interface {
	UploadFile(ctx context.Context, key string, localPath string, contentType string) (string, error)
}

// StatusNotifier propagates status changes to the main API without blocking the caller
type StatusNotifier interface {
	Notify(update models.StatusUpdate)
}

// Backplane fans messages out to groups of live observers
type Backplane interface {
	// GroupSize returns the live membership count of a group
	GroupSize(group string) int
	// Publish sends a message to every member of a group
	Publish(group string, message interface{}) error
}

// CancellationSignal is the out-of-band cancellation flag for jobs
type CancellationSignal interface {
	Request(ctx context.Context, jobID string) error
	IsCanceled(ctx context.Context, jobID string) bool
	Clear(ctx context.Context, jobID string) error
}
