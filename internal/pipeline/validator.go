package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/storyforge/api/internal/client"
	"github.com/storyforge/api/internal/model"
)

// Validator reviews the fully assembled story in one structured call and
// flags typed, severity-tagged issues.
type Validator struct {
	chat client.ChatClient
	log  zerolog.Logger
}

func NewValidator(chat client.ChatClient, log zerolog.Logger) *Validator {
	return &Validator{chat: chat, log: log.With().Str("component", "validator").Logger()}
}

type validationResponse struct {
	IsValid bool   `json:"isValid"`
	Summary string `json:"summary"`
	Issues  []struct {
		Page        int    `json:"page"`
		Type        string `json:"type"`
		Description string `json:"description"`
		Severity    string `json:"severity"`
	} `json:"issues"`
}

// Validate reviews character consistency, narrative flow, age
// appropriateness, coherence and illustration-prompt quality across all
// pages at once.
func (v *Validator) Validate(ctx context.Context, story *model.Story) (*model.ValidationReport, error) {
	system := `You are a children's book editor reviewing a complete draft. Respond with a JSON object:
{"isValid": bool, "summary": string, "issues": [{"page": int, "type": "character_consistency"|"narrative_flow"|"age_appropriateness"|"coherence"|"illustration_prompt", "description": string, "severity": "minor"|"moderate"|"critical"}]}`

	raw, err := v.chat.Complete(ctx, system, v.buildReviewPrompt(story))
	if err != nil {
		return nil, fmt.Errorf("validation call failed: %w", err)
	}

	var resp validationResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse validation report: %w", err)
	}

	report := &model.ValidationReport{
		IsValid: resp.IsValid,
		Summary: resp.Summary,
	}
	for _, i := range resp.Issues {
		severity := model.IssueSeverity(i.Severity)
		switch severity {
		case model.SeverityMinor, model.SeverityModerate, model.SeverityCritical:
		default:
			severity = model.SeverityMinor
		}
		report.Issues = append(report.Issues, &model.ValidationIssue{
			Page:        i.Page,
			Type:        model.IssueType(i.Type),
			Description: i.Description,
			Severity:    severity,
		})
	}

	return report, nil
}

func (v *Validator) buildReviewPrompt(story *model.Story) string {
	var b strings.Builder
	req := story.Request
	meta := story.Metadata

	fmt.Fprintf(&b, "Review this %d-page %s for a %d-year-old, titled %q.\n\n", req.PageCount, req.Format, req.Age, meta.Title)

	b.WriteString("Characters:\n")
	for _, c := range meta.Characters {
		fmt.Fprintf(&b, "- %s (%s): %s\n", c.Name, c.Role, c.Physical)
	}

	b.WriteString("\nPages:\n")
	for _, page := range story.Pages {
		fmt.Fprintf(&b, "--- Page %d ---\n", page.Number)
		if req.Format == model.FormatComic {
			for _, p := range page.Panels {
				fmt.Fprintf(&b, "Panel %d: %s\n", p.Number, p.IllustrationPrompt)
				for _, d := range p.Dialogue {
					fmt.Fprintf(&b, "  %s: %s\n", d.Character, d.Text)
				}
				if p.Caption != "" {
					fmt.Fprintf(&b, "  Caption: %s\n", p.Caption)
				}
			}
		} else {
			fmt.Fprintf(&b, "Text: %s\nIllustration: %s\n", page.Text, page.IllustrationPrompt)
		}
	}

	b.WriteString("\nCheck character consistency, narrative flow, age appropriateness, coherence and illustration prompt quality. Tag each issue with its page, type and severity.")
	return b.String()
}

// RegenerationCandidate pairs a page number with the issue description that
// triggers its regeneration.
type RegenerationCandidate struct {
	Page        int
	Description string
}

// RegenerationCandidates filters the report down to actionable work: only
// moderate and critical issues qualify, and pages that already spent their
// attempt budget are skipped. Minor issues are recorded but accepted.
func RegenerationCandidates(issues []*model.ValidationIssue, pages []*model.Page, retryLimit int) []RegenerationCandidate {
	attemptsByPage := make(map[int]int, len(pages))
	for _, p := range pages {
		attemptsByPage[p.Number] = p.GenerationAttempts
	}

	var candidates []RegenerationCandidate
	for _, issue := range issues {
		if issue.Severity != model.SeverityModerate && issue.Severity != model.SeverityCritical {
			continue
		}
		attempts, ok := attemptsByPage[issue.Page]
		if !ok || attempts >= retryLimit {
			continue
		}
		candidates = append(candidates, RegenerationCandidate{
			Page:        issue.Page,
			Description: issue.Description,
		})
	}
	return candidates
}
