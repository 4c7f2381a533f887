package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/jangxam/api/internal/client"
	"github.com/jangxam/api/internal/model"
	"github.com/jangxam/api/internal/repository"
	"github.com/jangxam/api/internal/service"
	"github.com/jangxam/api/internal/websocket"
	"github.com/jangxam/api/pkg/response"
)

// Error codes pushed to websocket subscribers for remote outcomes
const (
	CodeGenerationFailed   = "GENERATION_FAILED"
	CodeGenerationCanceled = "GENERATION_CANCELED"
)

// GenerationWorker processes image generation tasks
type GenerationWorker struct {
	generations  *service.GenerationService
	images       client.ImageJobClient
	assets       *service.AssetService
	hub          *websocket.Hub
	pollInterval time.Duration
	timeout      time.Duration
	log          zerolog.Logger
}

// NewGenerationWorker creates a new generation worker
func NewGenerationWorker(generations *service.GenerationService, images client.ImageJobClient, assets *service.AssetService, hub *websocket.Hub, pollInterval, timeout time.Duration, log zerolog.Logger) *GenerationWorker {
	return &GenerationWorker{
		generations:  generations,
		images:       images,
		assets:       assets,
		hub:          hub,
		pollInterval: pollInterval,
		timeout:      timeout,
		log:          log.With().Str("component", "worker").Logger(),
	}
}

// ProcessTask submits the generation, polls it to completion and settles the
// record exactly once. Remote failures are outcomes, not task errors.
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.GenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	trackingID := payload.TrackingID
	log := w.log.With().Str("job_id", trackingID).Logger()
	log.Info().Msg("starting generation")

	// A redelivered task must not submit the same generation twice.
	rec, err := w.generations.GetGeneration(ctx, trackingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn().Msg("generation record expired, dropping task")
			return nil
		}
		return err
	}
	if rec.IsSettled() {
		log.Info().Str("outcome", string(rec.Outcome)).Msg("generation already settled, skipping redelivered task")
		return nil
	}

	if w.cancelRequested(ctx, trackingID) {
		w.settle(ctx, trackingID, rec.ID, model.OutcomeCanceled, nil, "generation canceled before submission")
		return nil
	}

	var job *model.Job
	if rec.SubmittedAt != nil {
		job = &model.Job{ID: rec.ID, Status: rec.Status}
		log.Info().Str("remote_id", job.ID).Msg("resuming submitted generation")
	} else {
		job, err = w.images.Submit(ctx, payload.Request, payload.Credential)
		if err != nil {
			w.settleError(ctx, trackingID, trackingID, err)
			return err
		}

		if _, err := w.generations.MarkSubmitted(ctx, trackingID, job); err != nil {
			w.settleError(ctx, trackingID, trackingID, err)
			return err
		}
		w.hub.Rekey(trackingID, job.ID)
		w.hub.BroadcastSubmitted(trackingID, job)
		log.Info().Str("remote_id", job.ID).Msg("generation submitted")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	poll := 0
	final, err := w.images.AwaitCompletionFunc(pollCtx, job.ID, payload.Credential, w.pollInterval, w.timeout, func(observed *model.Job) {
		poll++
		if err := w.generations.RecordObservation(ctx, trackingID, observed); err != nil {
			log.Warn().Err(err).Msg("failed to record observation")
		}
		w.hub.BroadcastProgress(job.ID, observed.Status, poll)
		if w.cancelRequested(ctx, trackingID) {
			log.Info().Int("poll", poll).Msg("cancellation requested, stopping poll loop")
			cancel()
		}
	})

	switch {
	case err == nil:
		w.settleTerminal(ctx, trackingID, final, payload.Request.Prompt)
		return nil
	case errors.Is(err, client.ErrCanceled) && ctx.Err() == nil:
		w.settle(ctx, trackingID, job.ID, model.OutcomeCanceled, nil, "generation canceled")
		return nil
	case errors.Is(err, client.ErrTimeout):
		w.settle(ctx, trackingID, job.ID, model.OutcomeTimedOut, nil, err.Error())
		return nil
	default:
		w.settleError(ctx, trackingID, job.ID, err)
		return err
	}
}

// settleTerminal records a terminal remote status
func (w *GenerationWorker) settleTerminal(ctx context.Context, trackingID string, final *model.Job, prompt string) {
	switch final.Status {
	case model.JobStatusSucceeded:
		final.Output = w.assets.Mirror(context.WithoutCancel(ctx), final.ID, final.Output)
		if !w.settle(ctx, trackingID, final.ID, model.OutcomeSucceeded, final, "") {
			return
		}
		if err := w.generations.AddToGallery(context.WithoutCancel(ctx), final.ID, prompt, final.Output); err != nil {
			w.log.Warn().Err(err).Str("job_id", final.ID).Msg("failed to update gallery")
		}
	case model.JobStatusFailed:
		w.settle(ctx, trackingID, final.ID, model.OutcomeFailed, final, "")
	default:
		w.settle(ctx, trackingID, final.ID, model.OutcomeCanceled, final, "generation canceled")
	}
}

func (w *GenerationWorker) settleError(ctx context.Context, trackingID, hubKey string, err error) {
	w.log.Error().Err(err).Str("job_id", trackingID).Msg("generation failed")
	if !w.settle(ctx, trackingID, hubKey, model.OutcomeError, nil, err.Error()) {
		return
	}
	_, code := response.Classify(err)
	w.hub.BroadcastError(hubKey, code, err.Error())
}

// settle records the outcome and notifies subscribers, once. It reports
// whether this call was the one that settled the generation. Error outcomes
// are broadcast by settleError, which knows the cause.
func (w *GenerationWorker) settle(ctx context.Context, trackingID, hubKey string, outcome model.Outcome, job *model.Job, errMsg string) bool {
	settled, err := w.generations.Settle(context.WithoutCancel(ctx), trackingID, outcome, job, errMsg)
	if err != nil {
		w.log.Error().Err(err).Str("job_id", trackingID).Msg("failed to settle generation")
	}
	if !settled {
		return false
	}

	switch outcome {
	case model.OutcomeSucceeded:
		w.hub.BroadcastComplete(hubKey, job)
	case model.OutcomeFailed:
		w.hub.BroadcastError(hubKey, CodeGenerationFailed, job.Error)
	case model.OutcomeCanceled:
		w.hub.BroadcastError(hubKey, CodeGenerationCanceled, errMsg)
	case model.OutcomeTimedOut:
		w.hub.BroadcastError(hubKey, response.CodeTimeout, errMsg)
	}
	return true
}

func (w *GenerationWorker) cancelRequested(ctx context.Context, trackingID string) bool {
	requested, err := w.generations.IsCancelRequested(context.WithoutCancel(ctx), trackingID)
	if err != nil {
		w.log.Warn().Err(err).Str("job_id", trackingID).Msg("failed to read cancel flag")
		return false
	}
	return requested
}
