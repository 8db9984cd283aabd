package pipeline

import (
	"context"
	"testing"

	"github.com/storyforge/api/internal/model"
)

func storyWithPages(attempts ...int) *model.Story {
	story := &model.Story{
		ID:       "job-1",
		Request:  testRequest(model.FormatStorybook, len(attempts)),
		Metadata: testMetadata(len(attempts)),
	}
	for i, a := range attempts {
		story.Pages = append(story.Pages, &model.Page{
			Number:             i + 1,
			Text:               "text",
			IllustrationPrompt: "art",
			GenerationAttempts: a,
		})
	}
	return story
}

func TestValidator_ParsesReport(t *testing.T) {
	chat := &fakeChat{
		completeFn: func(system, user string) (string, error) {
			mustContain(t, user, "Pip Comes Home")
			return `{"isValid": false, "summary": "One consistency slip.",
				"issues": [
					{"page": 3, "type": "character_consistency", "description": "Maya's scarf turns blue", "severity": "moderate"},
					{"page": 1, "type": "narrative_flow", "description": "abrupt opening", "severity": "weird"}
				]}`, nil
		},
	}
	v := NewValidator(chat, testLogger())

	report, err := v.Validate(context.Background(), storyWithPages(1, 1, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.IsValid {
		t.Error("expected an invalid report")
	}
	if len(report.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(report.Issues))
	}
	if report.Issues[1].Severity != model.SeverityMinor {
		t.Errorf("unknown severities must coerce to minor, got %q", report.Issues[1].Severity)
	}
}

func TestRegenerationCandidates_OnlyModerateAndCritical(t *testing.T) {
	issues := []*model.ValidationIssue{
		{Page: 1, Severity: model.SeverityMinor, Description: "tiny nit"},
		{Page: 2, Severity: model.SeverityModerate, Description: "scarf color drift"},
		{Page: 3, Severity: model.SeverityCritical, Description: "wrong character entirely"},
	}
	pages := storyWithPages(1, 1, 1).Pages

	candidates := RegenerationCandidates(issues, pages, 3)
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Page != 2 || candidates[1].Page != 3 {
		t.Errorf("unexpected candidate pages: %+v", candidates)
	}
}

func TestRegenerationCandidates_MinorOnlyIsEmpty(t *testing.T) {
	issues := []*model.ValidationIssue{
		{Page: 1, Severity: model.SeverityMinor, Description: "nit"},
		{Page: 2, Severity: model.SeverityMinor, Description: "another nit"},
	}
	if got := RegenerationCandidates(issues, storyWithPages(1, 1).Pages, 3); len(got) != 0 {
		t.Errorf("minor issues never trigger regeneration, got %+v", got)
	}
}

func TestRegenerationCandidates_SkipsExhaustedAndUnknownPages(t *testing.T) {
	issues := []*model.ValidationIssue{
		{Page: 1, Severity: model.SeverityCritical, Description: "bad"},
		{Page: 2, Severity: model.SeverityCritical, Description: "bad"},
		{Page: 9, Severity: model.SeverityCritical, Description: "phantom page"},
	}
	pages := storyWithPages(3, 1).Pages // page 1 already at the limit

	candidates := RegenerationCandidates(issues, pages, 3)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].Page != 2 {
		t.Errorf("expected page 2, got %d", candidates[0].Page)
	}
}
