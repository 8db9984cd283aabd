package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/storyforge/api/internal/config"
	"github.com/storyforge/api/internal/model"
)

const TaskTypeStoryGenerate = "stories:generate"

const (
	jobKeyPrefix   = "job:"
	storyKeyPrefix = "story:"
	documentTTL    = 24 * time.Hour
)

// ErrJobNotFound is returned when no job document exists for an ID.
var ErrJobNotFound = errors.New("job not found")

// ErrStoryNotReady is returned when a result is requested before the job
// completes.
var ErrStoryNotReady = errors.New("story not ready")

// StoryService manages story generation jobs: the redis job and story
// documents plus the asynq queue feeding the worker.
type StoryService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	pipeline    config.PipelineConfig
}

func NewStoryService(redisClient *redis.Client, asynqClient *asynq.Client, pipeline config.PipelineConfig) *StoryService {
	return &StoryService{
		redis:       redisClient,
		asynqClient: asynqClient,
		pipeline:    pipeline,
	}
}

// StartGeneration queues a new story generation job.
func (s *StoryService) StartGeneration(ctx context.Context, userID string, req *model.GenerationRequest) (*model.StoryStartResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	payload := &model.StoryJobPayload{
		UserID:  userID,
		Request: req,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		UserID:    userID,
		Status:    model.StatusPending,
		Progress:  0,
		Payload:   payloadBytes,
		CreatedAt: now,
	}
	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newStoryTask(jobID, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue("stories"),
		asynq.MaxRetry(s.pipeline.JobMaxAttempts-1),
		asynq.Timeout(s.pipeline.JobHardTimeout),
		asynq.Retention(documentTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.StoryStartResponse{
		JobID:     jobID,
		Status:    model.StatusPending,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the polling projection of a job.
func (s *StoryService) GetStatus(ctx context.Context, jobID string) (*model.StoryStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.StoryStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Phase:       job.Phase,
		Progress:    job.Progress,
		Message:     job.Message,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		RetryCount:  job.RetryCount,
	}, nil
}

// GetResult returns the completed story for a job.
func (s *StoryService) GetResult(ctx context.Context, jobID string) (*model.Story, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusComplete {
		return nil, ErrStoryNotReady
	}

	return s.GetStory(ctx, jobID)
}

// MarkGenerating transitions a job into the generating state, recording the
// start time on the first run and the retry count on reruns.
func (s *StoryService) MarkGenerating(ctx context.Context, jobID string, retryCount int) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.StatusGenerating
	job.RetryCount = retryCount
	job.Error = nil
	if job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// UpdateJobProgress records a phase transition (called by the worker).
func (s *StoryService) UpdateJobProgress(ctx context.Context, jobID string, phase model.Phase, progress float64, message string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Phase = phase
	job.Progress = progress
	job.Message = message

	return s.saveJob(ctx, job)
}

// CompleteJob marks a job as complete (called by the worker).
func (s *StoryService) CompleteJob(ctx context.Context, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.StatusComplete
	job.Phase = model.PhaseComplete
	job.Progress = 1
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// FailJob marks a job as failed with a user-facing message (called by the
// worker once retries are settled).
func (s *StoryService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.StatusError
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// SaveStory persists the story aggregate. The worker's pipeline calls this
// after every phase, so partial stories are always readable.
func (s *StoryService) SaveStory(ctx context.Context, story *model.Story) error {
	data, err := json.Marshal(story)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, storyKeyPrefix+story.ID, data, documentTTL).Err()
}

// GetStory loads the story aggregate for a job ID.
func (s *StoryService) GetStory(ctx context.Context, jobID string) (*model.Story, error) {
	data, err := s.redis.Get(ctx, storyKeyPrefix+jobID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var story model.Story
	if err := json.Unmarshal(data, &story); err != nil {
		return nil, err
	}

	return &story, nil
}

func (s *StoryService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKeyPrefix+job.ID, data, documentTTL).Err()
}

func (s *StoryService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKeyPrefix+jobID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func newStoryTask(jobID string, payload []byte) (*asynq.Task, error) {
	taskPayload := map[string]interface{}{
		"jobId":   jobID,
		"payload": payload,
	}
	data, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeStoryGenerate, data), nil
}
