package client

import (
	"context"
	"fmt"
	"io"
	"time"
)

// MockStorage stands in for R2 during local development. Uploads are
// drained and discarded; the returned URLs are recognizable placeholders.
type MockStorage struct{}

func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

func (m *MockStorage) Upload(ctx context.Context, jobID, filename string, body io.Reader, contentType string) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	return fmt.Sprintf("mock://stories/%s/%s", jobID, filename), nil
}

func (m *MockStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "mock://" + key, nil
}

func (m *MockStorage) GetPublicURL(key string) string {
	return "mock://" + key
}
