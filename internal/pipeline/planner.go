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

// outlineContinuation pads plans that came back with fewer page outlines
// than requested. Content-degrading but count-preserving.
const outlineContinuation = "Continue the story toward its conclusion."

// Planner turns a request into story metadata with one structured call.
type Planner struct {
	chat client.ChatClient
	log  zerolog.Logger
}

func NewPlanner(chat client.ChatClient, log zerolog.Logger) *Planner {
	return &Planner{chat: chat, log: log.With().Str("component", "planner").Logger()}
}

type planResponse struct {
	Title      string `json:"title"`
	Characters []struct {
		Name        string `json:"name"`
		Physical    string `json:"physical"`
		Personality string `json:"personality"`
		Role        string `json:"role"`
	} `json:"characters"`
	CharacterRelations string   `json:"characterRelations"`
	Outline            string   `json:"outline"`
	PageOutlines       []string `json:"pageOutlines"`
	StyleGuide         string   `json:"styleGuide"`
}

// Plan issues the planning call and coerces the result into a metadata
// document with exactly req.PageCount page outlines.
func (p *Planner) Plan(ctx context.Context, req *model.GenerationRequest) (*model.StoryMetadata, error) {
	system := `You are a children's story planner. Respond with a JSON object:
{"title": string, "characters": [{"name": string, "physical": string, "personality": string, "role": "protagonist"|"antagonist"|"supporting"}],
"characterRelations": string, "outline": string, "pageOutlines": [string], "styleGuide": string}`

	user := p.buildPlanPrompt(req)

	raw, err := p.chat.Complete(ctx, system, user)
	if err != nil {
		if IsSafetyBlocked(err) {
			return nil, &SafetyBlockedError{Stage: "planning", Reason: "The story plan was rejected by content safety filters"}
		}
		return nil, fmt.Errorf("planning call failed: %w", err)
	}

	var plan planResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	meta := &model.StoryMetadata{
		Title:              plan.Title,
		CharacterRelations: plan.CharacterRelations,
		Outline:            plan.Outline,
		PageOutlines:       coerceOutlines(plan.PageOutlines, req.PageCount),
		StyleGuide:         plan.StyleGuide,
	}
	if meta.Title == "" {
		meta.Title = req.Topic
	}

	for _, c := range plan.Characters {
		role := model.CharacterRole(c.Role)
		switch role {
		case model.RoleProtagonist, model.RoleAntagonist, model.RoleSupporting:
		default:
			role = model.RoleSupporting
		}
		meta.Characters = append(meta.Characters, &model.CharacterDescription{
			Name:        c.Name,
			Physical:    c.Physical,
			Personality: c.Personality,
			Role:        role,
		})
	}

	if len(meta.Characters) == 0 {
		return nil, fmt.Errorf("plan contains no characters")
	}

	return meta, nil
}

func (p *Planner) buildPlanPrompt(req *model.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan a %d-page %s for a %d-year-old", req.PageCount, req.Format, req.Age)
	if req.Gender != "" {
		fmt.Fprintf(&b, " (%s)", req.Gender)
	}
	fmt.Fprintf(&b, ".\nTopic: %s\nSetting: %s\nIllustration style: %s\n",
		req.Topic, req.Setting, req.IllustrationStyle)
	fmt.Fprintf(&b, "Characters to include: %s\n\n", strings.Join(req.CharacterNames, ", "))
	fmt.Fprintf(&b, "Provide exactly %d page outlines, one per page, each a 1-2 sentence beat. ", req.PageCount)
	b.WriteString("Describe every character's physical appearance precisely enough to keep illustrations consistent. ")
	b.WriteString("The style guide should pin down palette, line work and mood for the whole book.")
	return b.String()
}

// coerceOutlines forces the outline list to exactly pageCount entries:
// short lists are padded with a generic continuation, long lists truncated.
func coerceOutlines(outlines []string, pageCount int) []string {
	if len(outlines) > pageCount {
		return outlines[:pageCount]
	}
	for len(outlines) < pageCount {
		outlines = append(outlines, outlineContinuation)
	}
	return outlines
}
