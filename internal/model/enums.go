package model

// Story formats
type StoryFormat string

const (
	FormatStorybook StoryFormat = "storybook"
	FormatComic     StoryFormat = "comic"
)

// Story status is the lifecycle of the Story aggregate. A job and its story
// share this vocabulary: pending → generating → {complete | error}.
type StoryStatus string

const (
	StatusPending    StoryStatus = "pending"
	StatusGenerating StoryStatus = "generating"
	StatusComplete   StoryStatus = "complete"
	StatusError      StoryStatus = "error"
)

// Generation phases, reported as progress markers while a job is generating.
// They are not persisted as separate statuses.
type Phase string

const (
	PhasePlanning        Phase = "planning"
	PhaseCharacterRefs   Phase = "character_refs"
	PhasePageGeneration  Phase = "page_generation"
	PhaseValidation      Phase = "validation"
	PhaseRegeneration    Phase = "regeneration"
	PhaseRevalidation    Phase = "revalidation"
	PhaseCoverGeneration Phase = "cover_generation"
	PhaseComplete        Phase = "complete"
)

// Character roles
type CharacterRole string

const (
	RoleProtagonist CharacterRole = "protagonist"
	RoleAntagonist  CharacterRole = "antagonist"
	RoleSupporting  CharacterRole = "supporting"
)

// Validation issue severity
type IssueSeverity string

const (
	SeverityMinor    IssueSeverity = "minor"
	SeverityModerate IssueSeverity = "moderate"
	SeverityCritical IssueSeverity = "critical"
)

// Validation issue types
type IssueType string

const (
	IssueCharacterConsistency IssueType = "character_consistency"
	IssueNarrativeFlow        IssueType = "narrative_flow"
	IssueAgeAppropriateness   IssueType = "age_appropriateness"
	IssueCoherence            IssueType = "coherence"
	IssueIllustrationPrompt   IssueType = "illustration_prompt"
)

// Critic types for the comic review ensemble
type CriticType string

const (
	CriticComposition CriticType = "composition"
	CriticStory       CriticType = "story"
	CriticTechnical   CriticType = "technical"
)

// Dialogue bubble positions within a panel
type DialoguePosition string

const (
	PositionTopLeft     DialoguePosition = "top_left"
	PositionTopRight    DialoguePosition = "top_right"
	PositionCenter      DialoguePosition = "center"
	PositionBottomLeft  DialoguePosition = "bottom_left"
	PositionBottomRight DialoguePosition = "bottom_right"
)

// Dialogue bubble styles
type BubbleStyle string

const (
	BubbleSpeech  BubbleStyle = "speech"
	BubbleThought BubbleStyle = "thought"
	BubbleShout   BubbleStyle = "shout"
	BubbleWhisper BubbleStyle = "whisper"
)

// Sound effect styles
type SFXStyle string

const (
	SFXBold   SFXStyle = "bold"
	SFXJagged SFXStyle = "jagged"
	SFXSoft   SFXStyle = "soft"
)

// Aspect ratios handed to the image provider
const (
	AspectSquare    = "1:1"
	AspectPortrait  = "3:4"
	AspectLandscape = "16:9"
)
