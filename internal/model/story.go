package model

import "time"

// Story is the aggregate root produced by a generation job. It is persisted
// as a JSON document after every pipeline phase so pollers always observe a
// consistent, monotonically growing page list.
type Story struct {
	ID       string             `json:"id"`
	Request  *GenerationRequest `json:"request"`
	Metadata *StoryMetadata     `json:"metadata,omitempty"`
	Pages    []*Page            `json:"pages"`
	Status   StoryStatus        `json:"status"`
	Error    string             `json:"error,omitempty"`
	CoverURL string             `json:"coverUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StoryMetadata is written exactly once per job attempt, by the planning
// stage. The regeneration loop never touches it.
type StoryMetadata struct {
	Title              string                  `json:"title"`
	Characters         []*CharacterDescription `json:"characters"`
	CharacterRelations string                  `json:"characterRelations,omitempty"`
	Outline            string                  `json:"outline"`
	PageOutlines       []string                `json:"pageOutlines"`
	StyleGuide         string                  `json:"styleGuide"`
	ReferenceImageURLs []string                `json:"referenceImageUrls,omitempty"`
}

// CharacterDescription is planned once and never mutated by page generation.
type CharacterDescription struct {
	Name        string        `json:"name"`
	Physical    string        `json:"physical"`
	Personality string        `json:"personality"`
	Role        CharacterRole `json:"role"`
}

// Page is one unit of the story: prose plus a single illustration for
// storybooks, or a panel grid for comics.
type Page struct {
	Number int `json:"number"` // 1-indexed

	// Storybook fields
	Text               string `json:"text,omitempty"`
	IllustrationPrompt string `json:"illustrationPrompt,omitempty"`

	// Comic fields
	Panels []*Panel `json:"panels,omitempty"`
	Layout string   `json:"layout,omitempty"` // e.g. "2x2"

	ImageURL           string `json:"imageUrl,omitempty"`
	GenerationAttempts int    `json:"generationAttempts"`
	Validated          bool   `json:"validated"`
}

// Panel is one sub-illustration unit within a comic page.
type Panel struct {
	Number             int            `json:"number"`
	IllustrationPrompt string         `json:"illustrationPrompt"`
	Dialogue           []*Dialogue    `json:"dialogue,omitempty"`
	Caption            string         `json:"caption,omitempty"`
	SoundEffects       []*SoundEffect `json:"soundEffects,omitempty"`
}

// Dialogue is a single speech bubble within a panel.
type Dialogue struct {
	Character string           `json:"character"`
	Text      string           `json:"text"`
	Position  DialoguePosition `json:"position,omitempty"`
	Style     BubbleStyle      `json:"style,omitempty"`
}

// SoundEffect is onomatopoeia rendered into a panel.
type SoundEffect struct {
	Text     string           `json:"text"`
	Position DialoguePosition `json:"position,omitempty"`
	Style    SFXStyle         `json:"style,omitempty"`
}
