package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/storyforge/api/internal/client"
	"github.com/storyforge/api/internal/model"
)

// ReferenceGenerator produces neutral character portraits used to keep
// appearance consistent across independently generated page images.
type ReferenceGenerator struct {
	images  client.ImageClient
	storage client.StorageClient
	max     int
	log     zerolog.Logger
}

func NewReferenceGenerator(images client.ImageClient, storage client.StorageClient, max int, log zerolog.Logger) *ReferenceGenerator {
	return &ReferenceGenerator{
		images:  images,
		storage: storage,
		max:     max,
		log:     log.With().Str("component", "character_refs").Logger(),
	}
}

// CharacterReference is one stored reference portrait. The raw bytes are
// kept in memory for the duration of the job so page illustrations can be
// conditioned on them without a round trip back to storage.
type CharacterReference struct {
	Character string
	URL       string
	Data      []byte
}

// Generate creates reference portraits for up to max characters and returns
// the ones that succeeded, in selection order. Per-character failures
// (including safety blocks) are skipped; an empty result means pages are
// illustrated without reference conditioning.
func (g *ReferenceGenerator) Generate(ctx context.Context, jobID string, meta *model.StoryMetadata) []CharacterReference {
	selected := selectReferenceCharacters(meta.Characters, g.max)
	if len(selected) == 0 {
		return nil
	}

	refs := make([]CharacterReference, len(selected))
	var mu sync.Mutex

	// The portraits are mutually independent, the one place the pipeline
	// fans out.
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(len(selected))
	for i, character := range selected {
		i, character := i, character
		eg.Go(func() error {
			ref, err := g.generateOne(gctx, jobID, character, meta.StyleGuide)
			if err != nil {
				g.log.Warn().Err(err).Str("character", character.Name).Msg("skipping character reference")
				return nil
			}
			mu.Lock()
			refs[i] = ref
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	var produced []CharacterReference
	for _, r := range refs {
		if r.URL != "" {
			produced = append(produced, r)
		}
	}

	if len(produced) == 0 {
		g.log.Warn().Str("job_id", jobID).Msg("no character references produced, pages degrade to unconditioned illustration")
	}
	return produced
}

func (g *ReferenceGenerator) generateOne(ctx context.Context, jobID string, c *model.CharacterDescription, styleGuide string) (CharacterReference, error) {
	prompt := fmt.Sprintf(
		"Neutral reference portrait of %s: %s. Personality hints: %s. "+
			"Forward-facing, full body, plain white background, no text, no logos. Style: %s.",
		c.Name, c.Physical, c.Personality, styleGuide)

	img, err := g.images.Generate(ctx, client.ImageRequest{
		Prompt:      prompt,
		AspectRatio: model.AspectPortrait,
	})
	if err != nil {
		return CharacterReference{}, err
	}

	filename := fmt.Sprintf("ref-%s.png", sanitizeFilename(c.Name))
	url, err := g.storage.Upload(ctx, jobID, filename, bytes.NewReader(img.Data), img.MimeType)
	if err != nil {
		return CharacterReference{}, err
	}

	return CharacterReference{Character: c.Name, URL: url, Data: img.Data}, nil
}

// selectReferenceCharacters picks up to max characters: protagonists first,
// remaining slots filled in original order.
func selectReferenceCharacters(chars []*model.CharacterDescription, max int) []*model.CharacterDescription {
	if max <= 0 {
		return nil
	}

	var selected []*model.CharacterDescription
	for _, c := range chars {
		if c.Role == model.RoleProtagonist && len(selected) < max {
			selected = append(selected, c)
		}
	}
	for _, c := range chars {
		if len(selected) >= max {
			break
		}
		if c.Role != model.RoleProtagonist {
			selected = append(selected, c)
		}
	}
	return selected
}

func sanitizeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r == ' ':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "character"
	}
	return string(out)
}
