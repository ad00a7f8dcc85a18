package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemBlobStore copies artifacts into a local directory.
// Used in the local environment in place of S3.
type FilesystemBlobStore struct {
	root    string
	baseURL string
}

// NewFilesystemBlobStore creates a store rooted at root, publishing URLs under baseURL
func NewFilesystemBlobStore(root, baseURL string) *FilesystemBlobStore {
	return &FilesystemBlobStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Root returns the directory artifacts are copied to
func (s *FilesystemBlobStore) Root() string {
	return s.root
}

// UploadFile copies localPath to root/key
func (s *FilesystemBlobStore) UploadFile(ctx context.Context, key string, localPath string, contentType string) (string, error) {
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}

	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if samePath(localPath, dst) {
		return s.baseURL + "/" + key, nil
	}
	if err := copyFile(localPath, dst); err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}

	return s.baseURL + "/" + key, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
