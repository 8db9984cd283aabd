package model

import "time"

// Job is the durable document tracking one generation job. It carries the
// (phase, progress, message) triple published for external pollers; the Story
// aggregate itself is stored separately under the same ID.
type Job struct {
	ID         string      `json:"id"`
	UserID     string      `json:"userId,omitempty"`
	Status     StoryStatus `json:"status"`
	Phase      Phase       `json:"phase,omitempty"`
	Progress   float64     `json:"progress"`
	Message    string      `json:"message,omitempty"`
	Error      *string     `json:"error,omitempty"`
	Payload    []byte      `json:"-"` // GenerationRequest as JSON
	RetryCount int         `json:"retryCount"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StoryJobPayload is the asynq task payload for a generation job.
type StoryJobPayload struct {
	UserID  string             `json:"userId,omitempty"`
	Request *GenerationRequest `json:"request"`
}
