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

// DefaultPanelsPerPage applies when a comic request leaves the panel count
// unset.
const DefaultPanelsPerPage = 4

// panelLayouts maps a panel count to its default grid layout.
var panelLayouts = map[int]string{
	1: "1x1",
	2: "1x2",
	3: "1x3",
	4: "2x2",
	5: "2x3",
	6: "3x2",
	8: "4x2",
}

const defaultPanelLayout = "2x2"

// LayoutForPanelCount returns the default grid layout for a panel count.
func LayoutForPanelCount(n int) string {
	if layout, ok := panelLayouts[n]; ok {
		return layout
	}
	return defaultPanelLayout
}

// PageGenerator produces page content sequentially, one structured call per
// page. Each page's prompt references the preceding page's outline so the
// narrative flows; this is why pages are never generated in parallel.
type PageGenerator struct {
	chat       client.ChatClient
	retryLimit int
	log        zerolog.Logger
}

func NewPageGenerator(chat client.ChatClient, retryLimit int, log zerolog.Logger) *PageGenerator {
	return &PageGenerator{
		chat:       chat,
		retryLimit: retryLimit,
		log:        log.With().Str("component", "page_generator").Logger(),
	}
}

type storybookPageResponse struct {
	Text               string `json:"text"`
	IllustrationPrompt string `json:"illustrationPrompt"`
}

type comicPageResponse struct {
	Panels []struct {
		IllustrationPrompt string `json:"illustrationPrompt"`
		Dialogue           []struct {
			Character string `json:"character"`
			Text      string `json:"text"`
			Position  string `json:"position"`
			Style     string `json:"style"`
		} `json:"dialogue"`
		Caption      string `json:"caption"`
		SoundEffects []struct {
			Text     string `json:"text"`
			Position string `json:"position"`
			Style    string `json:"style"`
		} `json:"soundEffects"`
	} `json:"panels"`
}

// Generate produces page number pageNum (1-indexed) from the plan.
func (g *PageGenerator) Generate(ctx context.Context, req *model.GenerationRequest, meta *model.StoryMetadata, pageNum int) (*model.Page, error) {
	return g.generate(ctx, req, meta, pageNum, 1, "")
}

// Regenerate re-issues the same page prompt with a validator issue appended
// as corrective feedback. The attempt counter carries over and increments;
// callers must not invoke this past the retry limit.
func (g *PageGenerator) Regenerate(ctx context.Context, req *model.GenerationRequest, meta *model.StoryMetadata, page *model.Page, issue string) (*model.Page, error) {
	if page.GenerationAttempts >= g.retryLimit {
		return nil, fmt.Errorf("page %d reached the retry limit (%d attempts)", page.Number, g.retryLimit)
	}
	return g.generate(ctx, req, meta, page.Number, page.GenerationAttempts+1, issue)
}

// RetryLimit exposes the configured per-page attempt bound.
func (g *PageGenerator) RetryLimit() int {
	return g.retryLimit
}

func (g *PageGenerator) generate(ctx context.Context, req *model.GenerationRequest, meta *model.StoryMetadata, pageNum, attempts int, issue string) (*model.Page, error) {
	user := g.buildPagePrompt(req, meta, pageNum, issue)

	var (
		system string
		page   = &model.Page{Number: pageNum, GenerationAttempts: attempts}
	)

	switch req.Format {
	case model.FormatComic:
		panels := req.PanelsPerPage
		if panels <= 0 {
			panels = DefaultPanelsPerPage
		}
		system = fmt.Sprintf(`You write comic scripts for children. Respond with a JSON object:
{"panels": [{"illustrationPrompt": string, "dialogue": [{"character": string, "text": string, "position": string, "style": "speech"|"thought"|"shout"|"whisper"}], "caption": string, "soundEffects": [{"text": string, "position": string, "style": "bold"|"jagged"|"soft"}]}]}
Produce exactly %d panels.`, panels)
	default:
		system = `You write illustrated storybooks for children. Respond with a JSON object:
{"text": string, "illustrationPrompt": string}
The text is the page's prose; the illustrationPrompt describes the single page illustration.`
	}

	raw, err := g.chat.Complete(ctx, system, user)
	if err != nil {
		if IsSafetyBlocked(err) {
			return nil, &SafetyBlockedError{
				Stage:  "page_generation",
				Reason: fmt.Sprintf("Content blocked by safety filters on page %d", pageNum),
			}
		}
		return nil, fmt.Errorf("page %d generation failed: %w", pageNum, err)
	}

	if req.Format == model.FormatComic {
		if err := g.parseComicPage(raw, req, page); err != nil {
			return nil, err
		}
	} else {
		if err := g.parseStorybookPage(raw, page); err != nil {
			return nil, err
		}
	}

	return page, nil
}

func (g *PageGenerator) parseStorybookPage(raw string, page *model.Page) error {
	var resp storybookPageResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return fmt.Errorf("failed to parse page %d: %w", page.Number, err)
	}
	if resp.Text == "" || resp.IllustrationPrompt == "" {
		return fmt.Errorf("page %d response missing text or illustration prompt", page.Number)
	}
	page.Text = resp.Text
	page.IllustrationPrompt = resp.IllustrationPrompt
	return nil
}

func (g *PageGenerator) parseComicPage(raw string, req *model.GenerationRequest, page *model.Page) error {
	var resp comicPageResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return fmt.Errorf("failed to parse page %d: %w", page.Number, err)
	}
	if len(resp.Panels) == 0 {
		return fmt.Errorf("page %d response contains no panels", page.Number)
	}

	wanted := req.PanelsPerPage
	if wanted <= 0 {
		wanted = DefaultPanelsPerPage
	}
	if len(resp.Panels) > wanted {
		resp.Panels = resp.Panels[:wanted]
	}

	page.Layout = LayoutForPanelCount(wanted)
	for i, p := range resp.Panels {
		panel := &model.Panel{
			Number:             i + 1,
			IllustrationPrompt: p.IllustrationPrompt,
			Caption:            p.Caption,
		}
		for _, d := range p.Dialogue {
			panel.Dialogue = append(panel.Dialogue, &model.Dialogue{
				Character: d.Character,
				Text:      d.Text,
				Position:  model.DialoguePosition(d.Position),
				Style:     model.BubbleStyle(d.Style),
			})
		}
		for _, s := range p.SoundEffects {
			panel.SoundEffects = append(panel.SoundEffects, &model.SoundEffect{
				Text:     s.Text,
				Position: model.DialoguePosition(s.Position),
				Style:    model.SFXStyle(s.Style),
			})
		}
		page.Panels = append(page.Panels, panel)
	}

	return nil
}

func (g *PageGenerator) buildPagePrompt(req *model.GenerationRequest, meta *model.StoryMetadata, pageNum int, issue string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write page %d of %d of %q.\n\n", pageNum, req.PageCount, meta.Title)
	fmt.Fprintf(&b, "This page's outline: %s\n", meta.PageOutlines[pageNum-1])
	if pageNum > 1 {
		fmt.Fprintf(&b, "Previous page's outline (continue from it): %s\n", meta.PageOutlines[pageNum-2])
	}

	b.WriteString("\nCharacters:\n")
	for _, c := range meta.Characters {
		fmt.Fprintf(&b, "- %s (%s): %s. %s\n", c.Name, c.Role, c.Physical, c.Personality)
	}

	fmt.Fprintf(&b, "\nAudience: %d-year-old reader.\nStyle guide: %s\n", req.Age, meta.StyleGuide)

	if issue != "" {
		fmt.Fprintf(&b, "\nA reviewer flagged a problem with the previous version of this page. Fix it:\n%s\n", issue)
	}

	return b.String()
}

// IllustrationPromptForPage flattens a page into the prompt handed to the
// illustrator: the single prompt for storybooks, the panel grid description
// for comics.
func IllustrationPromptForPage(req *model.GenerationRequest, meta *model.StoryMetadata, page *model.Page) string {
	if req.Format != model.FormatComic {
		return fmt.Sprintf("%s Style: %s", page.IllustrationPrompt, meta.StyleGuide)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A comic page in a %s grid layout with %d panels. Style: %s.\n", page.Layout, len(page.Panels), meta.StyleGuide)
	for _, p := range page.Panels {
		fmt.Fprintf(&b, "Panel %d: %s", p.Number, p.IllustrationPrompt)
		for _, d := range p.Dialogue {
			fmt.Fprintf(&b, " [%s bubble, %s: %q]", d.Style, d.Character, d.Text)
		}
		if p.Caption != "" {
			fmt.Fprintf(&b, " [caption: %q]", p.Caption)
		}
		for _, s := range p.SoundEffects {
			fmt.Fprintf(&b, " [sfx %q, %s]", s.Text, s.Style)
		}
		b.WriteString("\n")
	}
	return b.String()
}
