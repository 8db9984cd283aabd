package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/storyforge/api/internal/client"
	"github.com/storyforge/api/internal/model"
)

func namedCharacter(name string, role model.CharacterRole) *model.CharacterDescription {
	return &model.CharacterDescription{Name: name, Physical: "described", Personality: "lively", Role: role}
}

func TestSelectReferenceCharacters_ProtagonistsFirst(t *testing.T) {
	chars := []*model.CharacterDescription{
		namedCharacter("Aunt Rosa", model.RoleSupporting),
		namedCharacter("Pip", model.RoleProtagonist),
		namedCharacter("The Gull", model.RoleAntagonist),
		namedCharacter("Maya", model.RoleProtagonist),
	}

	selected := selectReferenceCharacters(chars, 3)
	if len(selected) != 3 {
		t.Fatalf("expected 3 selections, got %d", len(selected))
	}
	if selected[0].Name != "Pip" || selected[1].Name != "Maya" {
		t.Errorf("protagonists must come first, got %s, %s", selected[0].Name, selected[1].Name)
	}
	if selected[2].Name != "Aunt Rosa" {
		t.Errorf("remaining slots fill in original order, got %s", selected[2].Name)
	}
}

func TestSelectReferenceCharacters_CapAndZero(t *testing.T) {
	chars := []*model.CharacterDescription{
		namedCharacter("Pip", model.RoleProtagonist),
		namedCharacter("Maya", model.RoleProtagonist),
	}
	if got := selectReferenceCharacters(chars, 1); len(got) != 1 {
		t.Errorf("expected the cap to apply, got %d", len(got))
	}
	if got := selectReferenceCharacters(chars, 0); got != nil {
		t.Errorf("a zero cap selects nothing, got %v", got)
	}
}

func TestReferenceGenerator_SkipsFailures(t *testing.T) {
	images := &fakeImages{
		generateFn: func(req client.ImageRequest) (*client.GeneratedImage, error) {
			if strings.Contains(req.Prompt, "Maya") {
				return nil, errors.New("provider error")
			}
			return &client.GeneratedImage{Data: []byte("png"), MimeType: "image/png"}, nil
		},
	}
	storage := &fakeStorage{}
	gen := NewReferenceGenerator(images, storage, 3, testLogger())

	refs := gen.Generate(context.Background(), "job-1", testMetadata(2))
	if len(refs) != 1 {
		t.Fatalf("expected 1 surviving reference, got %d", len(refs))
	}
	if refs[0].Character != "Pip" {
		t.Errorf("expected Pip's reference, got %q", refs[0].Character)
	}
	if len(refs[0].Data) == 0 {
		t.Error("reference bytes must be retained for conditioning")
	}
	mustContain(t, refs[0].URL, "ref-Pip.png")
}

func TestReferenceGenerator_AllFailuresYieldEmpty(t *testing.T) {
	images := &fakeImages{
		generateFn: func(req client.ImageRequest) (*client.GeneratedImage, error) {
			return nil, errors.New("down")
		},
	}
	gen := NewReferenceGenerator(images, &fakeStorage{}, 3, testLogger())

	if refs := gen.Generate(context.Background(), "job-1", testMetadata(2)); len(refs) != 0 {
		t.Errorf("expected no references, got %d", len(refs))
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Pip":            "Pip",
		"Aunt Rosa":      "Aunt-Rosa",
		"Señor Gull!":    "Seor-Gull",
		"!!!":            "character",
		"snake_case-ok9": "snake_case-ok9",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q): expected %q, got %q", in, want, got)
		}
	}
}
