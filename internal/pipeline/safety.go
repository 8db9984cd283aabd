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

// ageBand holds age-banded appropriateness rules with example topics the
// model can calibrate against.
type ageBand struct {
	MinAge        int
	MaxAge        int
	Label         string
	Appropriate   []string
	Inappropriate []string
}

var ageBands = []ageBand{
	{0, 4, "toddler (4 and under)",
		[]string{"animals", "colors", "family", "bedtime", "friendly monsters"},
		[]string{"violence", "death", "scary imagery", "romance"}},
	{5, 6, "early reader (5-6)",
		[]string{"friendship", "school", "simple adventures", "talking animals"},
		[]string{"violence", "death of loved ones", "horror", "romance"}},
	{7, 8, "young reader (7-8)",
		[]string{"mystery", "exploration", "teamwork", "light fantasy"},
		[]string{"graphic violence", "horror", "substance use", "romance"}},
	{9, 10, "middle grade (9-10)",
		[]string{"adventure", "mild peril", "historical settings", "sports rivalry"},
		[]string{"graphic violence", "gore", "substance use", "explicit romance"}},
	{11, 12, "preteen (11-12)",
		[]string{"coming of age", "mild conflict", "science fiction", "first crushes"},
		[]string{"graphic violence", "gore", "substance use", "sexual content"}},
	{13, 14, "young teen (13-14)",
		[]string{"identity", "moral dilemmas", "dystopia", "light romance"},
		[]string{"graphic violence", "sexual content", "substance glorification"}},
	{15, 16, "teen (15-16)",
		[]string{"complex relationships", "societal themes", "action", "loss"},
		[]string{"explicit sexual content", "gratuitous gore", "substance glorification"}},
	{17, 120, "mature teen (17+)",
		[]string{"mature themes", "war", "tragedy", "romance"},
		[]string{"explicit sexual content", "instructions for self-harm or violence"}},
}

func bandForAge(age int) ageBand {
	for _, b := range ageBands {
		if age >= b.MinAge && age <= b.MaxAge {
			return b
		}
	}
	return ageBands[len(ageBands)-1]
}

// SafetyGate runs the single pre-generation appropriateness check.
type SafetyGate struct {
	chat client.ChatClient
	log  zerolog.Logger
}

func NewSafetyGate(chat client.ChatClient, log zerolog.Logger) *SafetyGate {
	return &SafetyGate{chat: chat, log: log.With().Str("component", "safety_gate").Logger()}
}

type safetyVerdict struct {
	Appropriate bool   `json:"appropriate"`
	Reason      string `json:"reason"`
}

// Check reviews the request against age-banded rules before any generation
// work. An explicit model rejection returns a SafetyBlockedError that aborts
// the job. A failure of the check itself fails open: the validator and
// critics still review generated content downstream.
func (g *SafetyGate) Check(ctx context.Context, req *model.GenerationRequest) error {
	band := bandForAge(req.Age)

	system := "You are a children's content safety reviewer. " +
		"Respond with a JSON object: {\"appropriate\": bool, \"reason\": string}."

	user := fmt.Sprintf(`Review this story request for a %s audience.
Topic: %s
Setting: %s
Characters: %s

Topics generally appropriate for this age: %s.
Topics NOT appropriate for this age: %s.

Is this request appropriate? If not, explain briefly in terms a parent would understand.`,
		band.Label, req.Topic, req.Setting, strings.Join(req.CharacterNames, ", "),
		strings.Join(band.Appropriate, ", "), strings.Join(band.Inappropriate, ", "))

	raw, err := g.chat.Complete(ctx, system, user)
	if err != nil {
		if IsSafetyBlocked(err) {
			return &SafetyBlockedError{Stage: "safety_check", Reason: "The requested topic was rejected by content safety filters"}
		}
		g.log.Warn().Err(err).Msg("safety check unavailable, proceeding (fail open)")
		return nil
	}

	var verdict safetyVerdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
		g.log.Warn().Err(err).Msg("unparseable safety verdict, proceeding (fail open)")
		return nil
	}

	if !verdict.Appropriate {
		reason := verdict.Reason
		if reason == "" {
			reason = fmt.Sprintf("The topic is not suitable for a %s audience", band.Label)
		}
		return &SafetyBlockedError{Stage: "safety_check", Reason: reason}
	}

	return nil
}
