package model

import "time"

// GenerationRequest is the inbound request that starts a story job. It is
// validated at the handler and immutable once the job is enqueued.
type GenerationRequest struct {
	Age               int         `json:"age" validate:"required,min=2,max=17"`
	Gender            string      `json:"gender,omitempty"`
	Topic             string      `json:"topic" validate:"required,min=2,max=500"`
	Setting           string      `json:"setting" validate:"required,min=2,max=500"`
	Format            StoryFormat `json:"format" validate:"required,oneof=storybook comic"`
	IllustrationStyle string      `json:"illustrationStyle" validate:"required,min=2,max=200"`
	CharacterNames    []string    `json:"characterNames" validate:"required,min=1,max=6,dive,min=1,max=60"`
	PageCount         int         `json:"pageCount" validate:"required,min=1,max=30"`
	PanelsPerPage     int         `json:"panelsPerPage,omitempty" validate:"omitempty,min=1,max=8"`
}

// StoryStartResponse is returned when a generation job is accepted.
type StoryStartResponse struct {
	JobID     string      `json:"jobId"`
	Status    StoryStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// StoryStatusResponse is the polling projection of a job document.
type StoryStatusResponse struct {
	JobID       string      `json:"jobId"`
	Status      StoryStatus `json:"status"`
	Phase       Phase       `json:"phase,omitempty"`
	Progress    float64     `json:"progress"`
	Message     string      `json:"message,omitempty"`
	Error       *string     `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	RetryCount  int         `json:"retryCount"`
}
