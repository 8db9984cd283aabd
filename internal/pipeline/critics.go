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

// Aggregation thresholds for the critic ensemble.
const (
	criticWeightComposition = 0.30
	criticWeightStory       = 0.30
	criticWeightTechnical   = 0.40
	criticPassThreshold     = 7.5
	criticMinThreshold      = 5.0
)

// PageContext is the textual context a critic reviews a rendered page
// against.
type PageContext struct {
	Title       string
	Age         int
	StyleGuide  string
	PageNumber  int
	PageOutline string
}

// Critic scores a rendered comic page image along one fixed rubric.
type Critic interface {
	Type() model.CriticType
	Review(ctx context.Context, imageURL string, pageCtx PageContext) model.CriticOutput
}

// criticSpec fixes one critic's rubric.
type criticSpec struct {
	criticType model.CriticType
	persona    string
	dimensions []string
}

var criticSpecs = []criticSpec{
	{
		criticType: model.CriticComposition,
		persona:    "You are a comic layout expert judging visual craft.",
		dimensions: []string{"panel_layout", "visual_balance", "reading_flow", "text_placement"},
	},
	{
		criticType: model.CriticStory,
		persona:    "You are a narrative editor judging storytelling on the page.",
		dimensions: []string{"narrative_coherence", "emotional_impact", "character_consistency", "pacing"},
	},
	{
		criticType: model.CriticTechnical,
		persona:    "You are a production reviewer judging output quality.",
		dimensions: []string{"image_quality", "text_clarity", "age_appropriateness", "style_consistency"},
	},
}

// visionCritic implements Critic over a vision-capable chat call. If its own
// call fails it returns a passing fallback so one critic's outage never
// blocks the pipeline.
type visionCritic struct {
	spec criticSpec
	chat client.ChatClient
	log  zerolog.Logger
}

func (c *visionCritic) Type() model.CriticType {
	return c.spec.criticType
}

type criticResponse struct {
	SubScores   map[string]int `json:"subScores"`
	Score       float64        `json:"score"`
	Feedback    string         `json:"feedback"`
	Issues      []string       `json:"issues"`
	Suggestions []string       `json:"suggestions"`
}

func (c *visionCritic) Review(ctx context.Context, imageURL string, pageCtx PageContext) model.CriticOutput {
	system := fmt.Sprintf(`%s Score each dimension 1-10 and respond with a JSON object:
{"subScores": {%s}, "score": number, "feedback": string, "issues": [string], "suggestions": [string]}`,
		c.spec.persona, quoteDimensions(c.spec.dimensions))

	user := fmt.Sprintf("Review page %d of %q (audience: %d-year-olds).\nPage outline: %s\nStyle guide: %s",
		pageCtx.PageNumber, pageCtx.Title, pageCtx.Age, pageCtx.PageOutline, pageCtx.StyleGuide)

	raw, err := c.chat.CompleteVision(ctx, system, user, imageURL)
	if err != nil {
		c.log.Warn().Err(err).Str("critic", string(c.spec.criticType)).Msg("critic call failed, using passing fallback")
		return fallbackOutput(c.spec)
	}

	var resp criticResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		c.log.Warn().Err(err).Str("critic", string(c.spec.criticType)).Msg("unparseable critic response, using passing fallback")
		return fallbackOutput(c.spec)
	}

	out := model.CriticOutput{
		Critic:      c.spec.criticType,
		SubScores:   resp.SubScores,
		Score:       resp.Score,
		Feedback:    resp.Feedback,
		Issues:      resp.Issues,
		Suggestions: resp.Suggestions,
	}
	if out.Score == 0 && len(out.SubScores) > 0 {
		sum := 0
		for _, v := range out.SubScores {
			sum += v
		}
		out.Score = float64(sum) / float64(len(out.SubScores))
	}
	return out
}

// fallbackOutput is the all-sevens passing response used when a critic's own
// generation call errors.
func fallbackOutput(spec criticSpec) model.CriticOutput {
	subScores := make(map[string]int, len(spec.dimensions))
	for _, d := range spec.dimensions {
		subScores[d] = 7
	}
	return model.CriticOutput{
		Critic:    spec.criticType,
		SubScores: subScores,
		Score:     7,
		Feedback:  "Review unavailable; defaulting to a passing score.",
	}
}

func quoteDimensions(dims []string) string {
	quoted := make([]string, len(dims))
	for i, d := range dims {
		quoted[i] = fmt.Sprintf("%q: int", d)
	}
	return strings.Join(quoted, ", ")
}

// Ensemble runs the three critics against one rendered page image.
type Ensemble struct {
	critics []Critic
	log     zerolog.Logger
}

func NewEnsemble(chat client.ChatClient, log zerolog.Logger) *Ensemble {
	log = log.With().Str("component", "critics").Logger()
	critics := make([]Critic, 0, len(criticSpecs))
	for _, spec := range criticSpecs {
		critics = append(critics, &visionCritic{spec: spec, chat: chat, log: log})
	}
	return &Ensemble{critics: critics, log: log}
}

// ReviewPage collects the three critic outputs and aggregates them.
func (e *Ensemble) ReviewPage(ctx context.Context, imageURL string, pageCtx PageContext) model.AggregatedCriticReview {
	outputs := make(map[model.CriticType]model.CriticOutput, len(e.critics))
	for _, c := range e.critics {
		outputs[c.Type()] = c.Review(ctx, imageURL, pageCtx)
	}
	return Aggregate(
		outputs[model.CriticComposition],
		outputs[model.CriticStory],
		outputs[model.CriticTechnical],
	)
}

// Aggregate deterministically combines the three critic outputs into a
// verdict. A page passes when the weighted score reaches the pass threshold
// and no single critic fell below the minimum.
func Aggregate(composition, story, technical model.CriticOutput) model.AggregatedCriticReview {
	weighted := criticWeightComposition*composition.Score +
		criticWeightStory*story.Score +
		criticWeightTechnical*technical.Score

	minScore := composition.Score
	lowest := composition
	for _, out := range []model.CriticOutput{story, technical} {
		if out.Score < minScore {
			minScore = out.Score
			lowest = out
		}
	}

	failedMin := minScore < criticMinThreshold
	review := model.AggregatedCriticReview{
		WeightedScore:      weighted,
		MinCriticScore:     minScore,
		FailedMinThreshold: failedMin,
		Passes:             weighted >= criticPassThreshold && !failedMin,
	}

	if !review.Passes {
		review.RevisionPrompt = buildRevisionPrompt(lowest, failedMin)
	}
	return review
}

// buildRevisionPrompt compiles the lowest critic's top suggestions into the
// corrective prompt for an image retake.
func buildRevisionPrompt(lowest model.CriticOutput, failedMin bool) string {
	var b strings.Builder
	if failedMin {
		fmt.Fprintf(&b, "CRITICAL: the %s review scored below the acceptable minimum. ", lowest.Critic)
	}
	fmt.Fprintf(&b, "Revise the page with attention to %s:", lowest.Critic)

	suggestions := lowest.Suggestions
	if len(suggestions) == 0 && lowest.Feedback != "" {
		suggestions = []string{lowest.Feedback}
	}
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	for _, s := range suggestions {
		fmt.Fprintf(&b, "\n- %s", s)
	}
	return b.String()
}
