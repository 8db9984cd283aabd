package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/storyforge/api/internal/client"
	"github.com/storyforge/api/internal/model"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fakeChat scripts the structured-generation calls.
type fakeChat struct {
	mu          sync.Mutex
	completeFn  func(system, user string) (string, error)
	visionFn    func(system, user, imageURL string) (string, error)
	calls       int
	visionCalls int
}

func (f *fakeChat) Complete(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.completeFn == nil {
		return "{}", nil
	}
	return f.completeFn(system, user)
}

func (f *fakeChat) CompleteVision(ctx context.Context, system, user, imageURL string) (string, error) {
	f.mu.Lock()
	f.visionCalls++
	f.mu.Unlock()
	if f.visionFn == nil {
		return "{}", nil
	}
	return f.visionFn(system, user, imageURL)
}

func (f *fakeChat) IsConfigured() bool { return true }

// fakeImages scripts the image provider.
type fakeImages struct {
	mu         sync.Mutex
	generateFn func(req client.ImageRequest) (*client.GeneratedImage, error)
	calls      int
}

func (f *fakeImages) Generate(ctx context.Context, req client.ImageRequest) (*client.GeneratedImage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.generateFn == nil {
		return &client.GeneratedImage{Data: []byte("png"), MimeType: "image/png"}, nil
	}
	return f.generateFn(req)
}

func (f *fakeImages) IsConfigured() bool { return true }

// fakeStorage records uploads and hands back deterministic URLs.
type fakeStorage struct {
	mu       sync.Mutex
	uploads  []string
	uploadFn func(jobID, filename string) (string, error)
}

func (f *fakeStorage) Upload(ctx context.Context, jobID, filename string, body io.Reader, contentType string) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, filename)
	f.mu.Unlock()
	if f.uploadFn != nil {
		return f.uploadFn(jobID, filename)
	}
	return fmt.Sprintf("https://cdn.test/stories/%s/%s", jobID, filename), nil
}

func (f *fakeStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://cdn.test/" + key, nil
}

func (f *fakeStorage) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

// fakeStore records every persisted story snapshot.
type fakeStore struct {
	mu    sync.Mutex
	saves int
	last  *model.Story
}

func (f *fakeStore) SaveStory(ctx context.Context, story *model.Story) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.last = story
	return nil
}

func noDelayPolicy(maxAttempts int) RetryPolicy {
	p := NewRetryPolicy(maxAttempts, time.Millisecond)
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func testRequest(format model.StoryFormat, pageCount int) *model.GenerationRequest {
	return &model.GenerationRequest{
		Age:               7,
		Topic:             "a lost puppy finds its way home",
		Setting:           "a small seaside town",
		Format:            format,
		IllustrationStyle: "soft watercolor",
		CharacterNames:    []string{"Pip", "Maya"},
		PageCount:         pageCount,
	}
}

func testMetadata(pageCount int) *model.StoryMetadata {
	outlines := make([]string, pageCount)
	for i := range outlines {
		outlines[i] = fmt.Sprintf("Things happen on page %d.", i+1)
	}
	return &model.StoryMetadata{
		Title: "Pip Comes Home",
		Characters: []*model.CharacterDescription{
			{Name: "Pip", Physical: "a small brown puppy", Personality: "curious", Role: model.RoleProtagonist},
			{Name: "Maya", Physical: "a girl with a red scarf", Personality: "kind", Role: model.RoleSupporting},
		},
		Outline:      "Pip gets lost and finds the way home.",
		PageOutlines: outlines,
		StyleGuide:   "soft watercolor, warm light",
	}
}

func mustContain(t *testing.T, s, sub string) {
	t.Helper()
	if !bytes.Contains([]byte(s), []byte(sub)) {
		t.Errorf("expected %q to contain %q", s, sub)
	}
}
