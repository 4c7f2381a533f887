package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/jangxam/api/internal/client"
	"github.com/jangxam/api/internal/model"
	"github.com/jangxam/api/internal/repository"
)

const (
	TaskTypeGenerateImage = "generation:image"
	QueueGeneration       = "generation"
)

var ErrAlreadySettled = errors.New("generation already settled")

// TaskEnqueuer is satisfied by *asynq.Client
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// GenerationPayload is the asynq payload of one image generation. The
// credential travels with the task because it belongs to the caller.
type GenerationPayload struct {
	TrackingID string                  `json:"trackingId"`
	Request    model.GenerationRequest `json:"request"`
	Credential string                  `json:"credential"`
}

// GenerationService tracks image generations and hands them to the worker
type GenerationService struct {
	repo              repository.GenerationRepository
	queue             TaskEnqueuer
	defaultCredential string
	taskTimeout       time.Duration
	now               func() time.Time
	log               zerolog.Logger
}

// NewGenerationService creates the service. pollTimeout bounds one poll loop;
// the task gets an extra minute for submission and settlement.
func NewGenerationService(repo repository.GenerationRepository, queue TaskEnqueuer, defaultCredential string, pollTimeout time.Duration, log zerolog.Logger) *GenerationService {
	return &GenerationService{
		repo:              repo,
		queue:             queue,
		defaultCredential: defaultCredential,
		taskTimeout:       pollTimeout + time.Minute,
		now:               time.Now,
		log:               log.With().Str("component", "generation").Logger(),
	}
}

// StartGeneration records a new generation under a placeholder id and queues it
func (s *GenerationService) StartGeneration(ctx context.Context, req model.GenerationRequest, credential string) (*model.GenerationStartResponse, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		credential = s.defaultCredential
	}
	if credential == "" {
		return nil, fmt.Errorf("%w: replicate token is required", client.ErrAuthentication)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.WithDefaults()

	now := s.now()
	id := model.NewPlaceholderID()
	rec := &model.GenerationRecord{
		ID:            id,
		PlaceholderID: id,
		Request:       req,
		Status:        model.JobStatusStarting,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save generation: %w", err)
	}
	if err := s.repo.AddPending(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to track generation: %w", err)
	}

	task, err := NewGenerationTask(&GenerationPayload{
		TrackingID: id,
		Request:    req,
		Credential: credential,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueGeneration),
		asynq.MaxRetry(0),
		asynq.Timeout(s.taskTimeout),
	)
	if err != nil {
		if _, serr := s.Settle(context.WithoutCancel(ctx), id, model.OutcomeError, nil, "failed to queue generation"); serr != nil {
			s.log.Error().Err(serr).Str("job_id", id).Msg("failed to settle unqueued generation")
		}
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.log.Info().Str("job_id", id).Msg("generation queued")
	return &model.GenerationStartResponse{
		JobID:     id,
		Status:    model.JobStatusStarting,
		CreatedAt: now,
	}, nil
}

// GetGeneration returns a record by remote or placeholder id
func (s *GenerationService) GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error) {
	return s.repo.Get(ctx, id)
}

// ListPending returns unsettled generations, oldest first
func (s *GenerationService) ListPending(ctx context.Context) (*model.PendingResponse, error) {
	records, err := s.repo.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	return &model.PendingResponse{Jobs: records}, nil
}

// ListGallery returns generated images, newest first
func (s *GenerationService) ListGallery(ctx context.Context, limit int) (*model.GalleryResponse, error) {
	images, err := s.repo.ListGallery(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &model.GalleryResponse{Images: images}, nil
}

// CancelGeneration asks the worker to stop polling. It takes effect before
// the next poll.
func (s *GenerationService) CancelGeneration(ctx context.Context, id string) (*model.GenerationCancelResponse, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.IsSettled() {
		return nil, ErrAlreadySettled
	}
	if err := s.repo.RequestCancel(ctx, rec.PlaceholderID); err != nil {
		return nil, fmt.Errorf("failed to record cancellation: %w", err)
	}

	s.log.Info().Str("job_id", rec.ID).Msg("cancellation requested")
	return &model.GenerationCancelResponse{Success: true, JobID: rec.ID}, nil
}

// IsCancelRequested reports whether the generation tracked under
// placeholderID was asked to stop (called by worker)
func (s *GenerationService) IsCancelRequested(ctx context.Context, placeholderID string) (bool, error) {
	return s.repo.IsCancelRequested(ctx, placeholderID)
}

// MarkSubmitted moves the record to the remote id (called by worker)
func (s *GenerationService) MarkSubmitted(ctx context.Context, placeholderID string, job *model.Job) (*model.GenerationRecord, error) {
	rec, err := s.repo.Get(ctx, placeholderID)
	if err != nil {
		return nil, err
	}
	if rec.IsSettled() {
		return nil, ErrAlreadySettled
	}

	now := s.now()
	rec.ID = job.ID
	rec.Status = job.Status
	rec.SubmittedAt = &now
	rec.UpdatedAt = now

	if err := s.repo.Promote(ctx, placeholderID, rec); err != nil {
		return nil, fmt.Errorf("failed to promote generation: %w", err)
	}
	return rec, nil
}

// RecordObservation stores the latest observed status (called by worker)
func (s *GenerationService) RecordObservation(ctx context.Context, id string, job *model.Job) error {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.IsSettled() {
		return nil
	}
	rec.Status = job.Status
	rec.UpdatedAt = s.now()
	return s.repo.Save(ctx, rec)
}

// Settle records the single outcome of a generation. The second and later
// calls leave the record untouched and report false.
func (s *GenerationService) Settle(ctx context.Context, id string, outcome model.Outcome, job *model.Job, errMsg string) (bool, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.IsSettled() {
		s.log.Warn().Str("job_id", rec.ID).Str("outcome", string(rec.Outcome)).Msg("generation already settled")
		return false, nil
	}

	now := s.now()
	rec.Outcome = outcome
	rec.SettledAt = &now
	rec.UpdatedAt = now
	rec.Error = errMsg
	if job != nil {
		rec.Status = job.Status
		rec.Output = append([]string(nil), job.Output...)
		if job.Error != "" {
			rec.Error = job.Error
		}
	}

	if err := s.repo.Save(ctx, rec); err != nil {
		return false, fmt.Errorf("failed to save generation: %w", err)
	}
	if err := s.repo.RemovePending(ctx, rec.ID); err != nil {
		return true, fmt.Errorf("failed to untrack generation: %w", err)
	}

	s.log.Info().Str("job_id", rec.ID).Str("outcome", string(outcome)).Msg("generation settled")
	return true, nil
}

// AddToGallery appends the outputs of a succeeded generation
func (s *GenerationService) AddToGallery(ctx context.Context, jobID, prompt string, urls []string) error {
	now := s.now()
	images := make([]model.GalleryImage, 0, len(urls))
	for i, u := range urls {
		images = append(images, model.GalleryImage{
			ID:        fmt.Sprintf("%s-%d", jobID, i),
			JobID:     jobID,
			URL:       u,
			Prompt:    prompt,
			CreatedAt: now,
		})
	}
	return s.repo.PushGallery(ctx, images...)
}

// NewGenerationTask builds the asynq task for a payload
func NewGenerationTask(payload *GenerationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGenerateImage, data), nil
}
