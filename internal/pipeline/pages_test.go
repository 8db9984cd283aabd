package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/storyforge/api/internal/model"
)

func TestLayoutForPanelCount(t *testing.T) {
	cases := []struct {
		panels int
		want   string
	}{
		{1, "1x1"},
		{4, "2x2"},
		{6, "3x2"},
		{8, "4x2"},
		{7, "2x2"}, // no dedicated layout, falls back
	}
	for _, c := range cases {
		if got := LayoutForPanelCount(c.panels); got != c.want {
			t.Errorf("%d panels: expected %q, got %q", c.panels, c.want, got)
		}
	}
}

func TestPageGenerator_Storybook(t *testing.T) {
	chat := &fakeChat{
		completeFn: func(system, user string) (string, error) {
			mustContain(t, user, "Things happen on page 2.")
			mustContain(t, user, "Things happen on page 1.")
			return `{"text": "Pip sniffed the salty air.", "illustrationPrompt": "A puppy on a pier at dawn."}`, nil
		},
	}
	gen := NewPageGenerator(chat, 3, testLogger())

	page, err := gen.Generate(context.Background(), testRequest(model.FormatStorybook, 3), testMetadata(3), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Number != 2 {
		t.Errorf("expected page 2, got %d", page.Number)
	}
	if page.Text == "" || page.IllustrationPrompt == "" {
		t.Error("storybook pages need text and an illustration prompt")
	}
	if page.GenerationAttempts != 1 {
		t.Errorf("first generation counts as attempt 1, got %d", page.GenerationAttempts)
	}
}

func comicResponse(panels int) string {
	var b strings.Builder
	b.WriteString(`{"panels": [`)
	for i := 0; i < panels; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"illustrationPrompt": "a panel",
			"dialogue": [{"character": "Pip", "text": "Woof!", "position": "top_left", "style": "speech"}],
			"caption": "Meanwhile...",
			"soundEffects": [{"text": "SPLASH", "position": "bottom_right", "style": "bold"}]}`)
	}
	b.WriteString(`]}`)
	return b.String()
}

func TestPageGenerator_Comic(t *testing.T) {
	chat := &fakeChat{
		completeFn: func(system, user string) (string, error) {
			return comicResponse(4), nil
		},
	}
	gen := NewPageGenerator(chat, 3, testLogger())

	req := testRequest(model.FormatComic, 3)
	page, err := gen.Generate(context.Background(), req, testMetadata(3), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Panels) != 4 {
		t.Fatalf("expected 4 panels, got %d", len(page.Panels))
	}
	if page.Layout != "2x2" {
		t.Errorf("expected 2x2 layout, got %q", page.Layout)
	}
	if page.Panels[0].Dialogue[0].Style != model.BubbleSpeech {
		t.Errorf("unexpected bubble style %q", page.Panels[0].Dialogue[0].Style)
	}
}

func TestPageGenerator_ComicTruncatesExtraPanels(t *testing.T) {
	chat := &fakeChat{
		completeFn: func(system, user string) (string, error) {
			return comicResponse(6), nil
		},
	}
	gen := NewPageGenerator(chat, 3, testLogger())

	req := testRequest(model.FormatComic, 3)
	req.PanelsPerPage = 3
	page, err := gen.Generate(context.Background(), req, testMetadata(3), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Panels) != 3 {
		t.Errorf("expected panels truncated to 3, got %d", len(page.Panels))
	}
	if page.Layout != "1x3" {
		t.Errorf("expected 1x3 layout, got %q", page.Layout)
	}
}

func TestPageGenerator_RegenerateIncrementsAttempts(t *testing.T) {
	var lastPrompt string
	chat := &fakeChat{
		completeFn: func(system, user string) (string, error) {
			lastPrompt = user
			return `{"text": "Fixed text.", "illustrationPrompt": "Fixed art."}`, nil
		},
	}
	gen := NewPageGenerator(chat, 3, testLogger())

	original := &model.Page{Number: 1, GenerationAttempts: 1}
	page, err := gen.Regenerate(context.Background(), testRequest(model.FormatStorybook, 3), testMetadata(3), original, "Pip's scarf color changed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.GenerationAttempts != 2 {
		t.Errorf("expected attempt 2, got %d", page.GenerationAttempts)
	}
	mustContain(t, lastPrompt, "Pip's scarf color changed")
}

func TestPageGenerator_RegenerateGuardsAttemptLimit(t *testing.T) {
	gen := NewPageGenerator(&fakeChat{}, 3, testLogger())

	exhausted := &model.Page{Number: 2, GenerationAttempts: 3}
	if _, err := gen.Regenerate(context.Background(), testRequest(model.FormatStorybook, 3), testMetadata(3), exhausted, "issue"); err == nil {
		t.Fatal("expected an error past the retry limit")
	}
}

func TestPageGenerator_SafetyBlockCarriesPageNumber(t *testing.T) {
	chat := &fakeChat{
		completeFn: func(system, user string) (string, error) {
			return "", &SafetyBlockedError{Stage: "provider", Reason: "rejected"}
		},
	}
	gen := NewPageGenerator(chat, 3, testLogger())

	_, err := gen.Generate(context.Background(), testRequest(model.FormatStorybook, 5), testMetadata(5), 4)
	var blocked *SafetyBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected a safety block, got %v", err)
	}
	mustContain(t, blocked.Reason, "page 4")
}

func TestIllustrationPromptForPage_Comic(t *testing.T) {
	page := &model.Page{
		Number: 1,
		Layout: "1x2",
		Panels: []*model.Panel{
			{Number: 1, IllustrationPrompt: "Pip barks at a gull"},
			{Number: 2, IllustrationPrompt: "The gull flies off", Caption: "And away it went."},
		},
	}

	prompt := IllustrationPromptForPage(testRequest(model.FormatComic, 1), testMetadata(1), page)
	mustContain(t, prompt, "1x2")
	mustContain(t, prompt, "Panel 2")
	mustContain(t, prompt, "And away it went.")
}
