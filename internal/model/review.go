package model

// ValidationIssue is one problem flagged by the full-story validator.
// Only moderate and critical issues are eligible for regeneration.
type ValidationIssue struct {
	Page        int           `json:"page"`
	Type        IssueType     `json:"type"`
	Description string        `json:"description"`
	Severity    IssueSeverity `json:"severity"`
}

// ValidationReport is the validator's review of the assembled story.
type ValidationReport struct {
	IsValid bool               `json:"isValid"`
	Summary string             `json:"summary,omitempty"`
	Issues  []*ValidationIssue `json:"issues,omitempty"`
}

// CriticOutput is one critic's review of a rendered comic page. Sub-scores
// and the overall score are on a 1–10 scale.
type CriticOutput struct {
	Critic      CriticType     `json:"critic"`
	SubScores   map[string]int `json:"subScores"`
	Score       float64        `json:"score"`
	Feedback    string         `json:"feedback,omitempty"`
	Issues      []string       `json:"issues,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

// AggregatedCriticReview combines the three critic outputs into a verdict.
type AggregatedCriticReview struct {
	WeightedScore      float64 `json:"weightedScore"`
	MinCriticScore     float64 `json:"minCriticScore"`
	FailedMinThreshold bool    `json:"failedMinThreshold"`
	Passes             bool    `json:"passes"`
	RevisionPrompt     string  `json:"revisionPrompt,omitempty"`
}
