package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/storyforge/api/internal/config"
	"github.com/storyforge/api/internal/model"
	"github.com/storyforge/api/internal/pipeline"
	"github.com/storyforge/api/internal/service"
	"github.com/storyforge/api/internal/websocket"
)

// StoryWorker processes generation jobs from the stories queue. Each run
// executes the whole pipeline from scratch; asynq handles the bounded
// whole-job retries.
type StoryWorker struct {
	storyService *service.StoryService
	orchestrator *pipeline.Orchestrator
	hub          *websocket.Hub
	cfg          config.PipelineConfig
	log          zerolog.Logger
}

func NewStoryWorker(storyService *service.StoryService, orchestrator *pipeline.Orchestrator, hub *websocket.Hub, cfg config.PipelineConfig, log zerolog.Logger) *StoryWorker {
	return &StoryWorker{
		storyService: storyService,
		orchestrator: orchestrator,
		hub:          hub,
		cfg:          cfg,
		log:          log.With().Str("component", "story_worker").Logger(),
	}
}

// ProcessTask handles one generation attempt.
func (w *StoryWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	jobID := taskPayload.JobID

	var payload model.StoryJobPayload
	if err := json.Unmarshal(taskPayload.Payload, &payload); err != nil {
		w.failJob(ctx, jobID, "Invalid job payload")
		return fmt.Errorf("failed to unmarshal story payload: %w", asynq.SkipRetry)
	}

	retryCount, _ := asynq.GetRetryCount(ctx)
	w.log.Info().Str("job_id", jobID).Int("retry", retryCount).Msg("starting story generation")

	if err := w.storyService.MarkGenerating(ctx, jobID, retryCount); err != nil {
		w.log.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job generating")
	}

	// Soft timeout is advisory; asynq's task timeout is the hard stop.
	softCtx, cancelSoft := context.WithCancel(ctx)
	defer cancelSoft()
	go w.watchSoftTimeout(softCtx, jobID)

	progress := func(phase model.Phase, frac float64, message string) {
		if err := w.storyService.UpdateJobProgress(ctx, jobID, phase, frac, message); err != nil {
			w.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to persist progress")
		}
		w.hub.BroadcastProgress(jobID, phase, frac, message)
	}

	story, err := w.orchestrator.Run(ctx, jobID, payload.Request, progress)
	if err != nil {
		return w.handleRunError(ctx, jobID, err)
	}

	if err := w.storyService.CompleteJob(ctx, jobID); err != nil {
		w.failJob(ctx, jobID, "Failed to finalize the story")
		return err
	}

	w.hub.BroadcastComplete(jobID, story)
	w.log.Info().Str("job_id", jobID).Int("pages", len(story.Pages)).Msg("story generation complete")
	return nil
}

// handleRunError settles a failed attempt: safety blocks are terminal and
// never retried, anything else is retried until the whole-job budget runs
// out.
func (w *StoryWorker) handleRunError(ctx context.Context, jobID string, runErr error) error {
	if pipeline.IsSafetyBlocked(runErr) {
		reason := safetyReason(runErr)
		w.log.Warn().Str("job_id", jobID).Str("reason", reason).Msg("story blocked by safety filters")
		w.failJob(ctx, jobID, reason)
		w.hub.BroadcastError(jobID, "SAFETY_BLOCKED", reason)
		return fmt.Errorf("%s: %w", reason, asynq.SkipRetry)
	}

	retryCount, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retryCount >= maxRetry {
		w.log.Error().Err(runErr).Str("job_id", jobID).Msg("story generation failed, retries exhausted")
		msg := "Story generation failed. Please try again."
		w.failJob(ctx, jobID, msg)
		w.hub.BroadcastError(jobID, "GENERATION_FAILED", msg)
		return runErr
	}

	w.log.Warn().Err(runErr).Str("job_id", jobID).Int("retry", retryCount).Msg("story generation failed, job will be retried")
	return runErr
}

func (w *StoryWorker) failJob(ctx context.Context, jobID, msg string) {
	if err := w.storyService.FailJob(ctx, jobID, msg); err != nil {
		w.log.Error().Err(err).Str("job_id", jobID).Msg("failed to record job failure")
	}
}

func (w *StoryWorker) watchSoftTimeout(ctx context.Context, jobID string) {
	timer := time.NewTimer(w.cfg.JobSoftTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		w.log.Warn().Str("job_id", jobID).Dur("soft_timeout", w.cfg.JobSoftTimeout).
			Msg("story generation exceeded its soft timeout")
	}
}

// safetyReason extracts the user-facing reason from a safety block.
func safetyReason(err error) string {
	var sbe *pipeline.SafetyBlockedError
	if errors.As(err, &sbe) {
		return sbe.Reason
	}
	return "Content blocked by safety filters"
}
