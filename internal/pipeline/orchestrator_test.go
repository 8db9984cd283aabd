package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/storyforge/api/internal/client"
	"github.com/storyforge/api/internal/model"
)

const testPlanJSON = `{"title": "Pip Comes Home",
	"characters": [{"name": "Pip", "physical": "a small brown puppy", "personality": "curious", "role": "protagonist"}],
	"outline": "Pip gets lost and finds the way home.",
	"pageOutlines": ["Pip chases a gull.", "Pip is lost.", "Maya finds Pip."],
	"styleGuide": "soft watercolor"}`

const testPageJSON = `{"text": "Pip sniffed the salty air.", "illustrationPrompt": "A puppy on a pier."}`

const validReportJSON = `{"isValid": true, "summary": "Reads well.", "issues": []}`

// scriptedChat routes calls on the system prompt so one fake serves every
// pipeline stage.
type scriptedChat struct {
	fakeChat
	safety     func() (string, error)
	plan       func() (string, error)
	page       func(user string) (string, error)
	validation func() (string, error)
}

func newScriptedChat() *scriptedChat {
	sc := &scriptedChat{
		safety:     func() (string, error) { return `{"appropriate": true}`, nil },
		plan:       func() (string, error) { return testPlanJSON, nil },
		page:       func(string) (string, error) { return testPageJSON, nil },
		validation: func() (string, error) { return validReportJSON, nil },
	}
	sc.completeFn = func(system, user string) (string, error) {
		switch {
		case strings.Contains(system, "safety reviewer"):
			return sc.safety()
		case strings.Contains(system, "story planner"):
			return sc.plan()
		case strings.Contains(system, "editor"):
			return sc.validation()
		default:
			return sc.page(user)
		}
	}
	return sc
}

func newTestOrchestrator(chat client.ChatClient, images client.ImageClient, store StoryStore) *Orchestrator {
	storage := &fakeStorage{}
	return NewOrchestrator(
		NewSafetyGate(chat, testLogger()),
		NewPlanner(chat, testLogger()),
		NewReferenceGenerator(images, storage, 3, testLogger()),
		NewPageGenerator(chat, 3, testLogger()),
		NewIllustrator(images, storage, noDelayPolicy(3), testLogger()),
		NewValidator(chat, testLogger()),
		NewEnsemble(chat, testLogger()),
		store,
		testLogger(),
	)
}

func TestOrchestrator_StorybookHappyPath(t *testing.T) {
	chat := newScriptedChat()
	store := &fakeStore{}
	orc := newTestOrchestrator(chat, &fakeImages{}, store)

	var phases []model.Phase
	var lastProgress float64
	story, err := orc.Run(context.Background(), "job-1", testRequest(model.FormatStorybook, 3),
		func(phase model.Phase, progress float64, message string) {
			phases = append(phases, phase)
			if progress < lastProgress {
				t.Errorf("progress went backwards: %v after %v", progress, lastProgress)
			}
			lastProgress = progress
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if story.Status != model.StatusComplete {
		t.Errorf("expected complete status, got %q", story.Status)
	}
	if len(story.Pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(story.Pages))
	}
	for _, p := range story.Pages {
		if p.ImageURL == "" {
			t.Errorf("page %d has no image", p.Number)
		}
		if !p.Validated {
			t.Errorf("page %d should be validated", p.Number)
		}
	}
	if story.CoverURL == "" {
		t.Error("expected a cover")
	}
	if len(story.Metadata.ReferenceImageURLs) != 1 {
		t.Errorf("expected 1 reference image, got %d", len(story.Metadata.ReferenceImageURLs))
	}
	if store.saves == 0 {
		t.Error("intermediate snapshots must be persisted")
	}
	if phases[len(phases)-1] != model.PhaseComplete {
		t.Errorf("last phase should be complete, got %q", phases[len(phases)-1])
	}
	if lastProgress != 1.0 {
		t.Errorf("final progress should be 1.0, got %v", lastProgress)
	}
}

func TestOrchestrator_SafetyBlockAbortsBeforePlanning(t *testing.T) {
	chat := newScriptedChat()
	chat.safety = func() (string, error) {
		return `{"appropriate": false, "reason": "Not suitable for this age."}`, nil
	}
	store := &fakeStore{}
	orc := newTestOrchestrator(chat, &fakeImages{}, store)

	_, err := orc.Run(context.Background(), "job-1", testRequest(model.FormatStorybook, 3), nil)
	if !IsSafetyBlocked(err) {
		t.Fatalf("expected a safety block, got %v", err)
	}
	if store.saves != 0 {
		t.Errorf("nothing should be persisted before planning, got %d saves", store.saves)
	}
}

func TestOrchestrator_ImageExhaustionDegradesToMissingImage(t *testing.T) {
	chat := newScriptedChat()
	images := &fakeImages{
		generateFn: func(req client.ImageRequest) (*client.GeneratedImage, error) {
			return nil, errors.New("image provider down")
		},
	}
	orc := newTestOrchestrator(chat, images, &fakeStore{})

	story, err := orc.Run(context.Background(), "job-1", testRequest(model.FormatStorybook, 3), nil)
	if err != nil {
		t.Fatalf("image failures must not fail the job, got %v", err)
	}
	if story.Status != model.StatusComplete {
		t.Errorf("expected complete status, got %q", story.Status)
	}
	for _, p := range story.Pages {
		if p.ImageURL != "" {
			t.Errorf("page %d should have no image", p.Number)
		}
	}
	if story.CoverURL != "" {
		t.Error("cover should be missing too")
	}
}

func TestOrchestrator_RegeneratesFlaggedPages(t *testing.T) {
	chat := newScriptedChat()
	validations := 0
	chat.validation = func() (string, error) {
		validations++
		if validations == 1 {
			return `{"isValid": false, "summary": "one slip",
				"issues": [{"page": 2, "type": "character_consistency", "description": "scarf color drift", "severity": "moderate"}]}`, nil
		}
		return validReportJSON, nil
	}
	var sawCorrection bool
	chat.page = func(user string) (string, error) {
		if strings.Contains(user, "scarf color drift") {
			sawCorrection = true
		}
		return testPageJSON, nil
	}
	orc := newTestOrchestrator(chat, &fakeImages{}, &fakeStore{})

	story, err := orc.Run(context.Background(), "job-1", testRequest(model.FormatStorybook, 3), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if validations != 2 {
		t.Errorf("expected validation and one revalidation, got %d calls", validations)
	}
	if !sawCorrection {
		t.Error("the regeneration prompt must carry the flagged issue")
	}
	if story.Pages[1].GenerationAttempts != 2 {
		t.Errorf("page 2 should be on attempt 2, got %d", story.Pages[1].GenerationAttempts)
	}
	if story.Pages[0].GenerationAttempts != 1 {
		t.Errorf("page 1 should be untouched, got attempt %d", story.Pages[0].GenerationAttempts)
	}
}

func TestOrchestrator_ValidatorOutageAcceptsDraft(t *testing.T) {
	chat := newScriptedChat()
	chat.validation = func() (string, error) { return "", errors.New("provider down") }
	orc := newTestOrchestrator(chat, &fakeImages{}, &fakeStore{})

	story, err := orc.Run(context.Background(), "job-1", testRequest(model.FormatStorybook, 2), nil)
	if err != nil {
		t.Fatalf("validator outages must not fail the job, got %v", err)
	}
	for _, p := range story.Pages {
		if p.Validated {
			t.Errorf("page %d cannot claim validation without a report", p.Number)
		}
	}
}

func TestOrchestrator_ComicCriticRetake(t *testing.T) {
	chat := newScriptedChat()
	chat.page = func(string) (string, error) { return comicResponse(4), nil }

	reviews := 0
	chat.visionFn = func(system, user, imageURL string) (string, error) {
		reviews++
		// First page's three critics fail it once, everything after passes.
		if reviews <= 3 {
			return `{"score": 4, "feedback": "muddy layout", "suggestions": ["bigger panels"]}`, nil
		}
		return `{"score": 9, "feedback": "clean"}`, nil
	}
	images := &fakeImages{}
	orc := newTestOrchestrator(chat, images, &fakeStore{})

	story, err := orc.Run(context.Background(), "job-1", testRequest(model.FormatComic, 2), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if story.Pages[0].GenerationAttempts != 2 {
		t.Errorf("rejected page should record the retake, got attempt %d", story.Pages[0].GenerationAttempts)
	}
	if story.Pages[1].GenerationAttempts != 1 {
		t.Errorf("accepted page should stay on attempt 1, got %d", story.Pages[1].GenerationAttempts)
	}
	if story.Pages[0].ImageURL == "" {
		t.Error("retaken page still needs an image")
	}
}
