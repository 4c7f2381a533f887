package model

import (
	"errors"
	"strings"
	"time"
)

// Defaults applied to absent tuning parameters
const (
	DefaultImageWidth    = 1024
	DefaultImageHeight   = 1024
	DefaultNumOutputs    = 1
	DefaultGuidanceScale = 7.5
)

var ErrEmptyPrompt = errors.New("prompt is required")

// GenerationRequest holds the user-supplied parameters of an image generation.
// It is passed by value so a submitted request cannot be altered afterwards.
type GenerationRequest struct {
	Prompt         string  `json:"prompt" validate:"required,max=4000"`
	NegativePrompt string  `json:"negativePrompt,omitempty" validate:"max=4000"`
	Width          int     `json:"width,omitempty" validate:"omitempty,min=64,max=2048"`
	Height         int     `json:"height,omitempty" validate:"omitempty,min=64,max=2048"`
	NumOutputs     int     `json:"numOutputs,omitempty" validate:"omitempty,min=1,max=4"`
	GuidanceScale  float64 `json:"guidanceScale,omitempty" validate:"omitempty,gt=0,max=50"`
}

// Validate checks the request before anything is sent over the wire.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// WithDefaults returns a copy with every absent parameter defaulted.
func (r GenerationRequest) WithDefaults() GenerationRequest {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Width <= 0 {
		r.Width = DefaultImageWidth
	}
	if r.Height <= 0 {
		r.Height = DefaultImageHeight
	}
	if r.NumOutputs <= 0 {
		r.NumOutputs = DefaultNumOutputs
	}
	if r.GuidanceScale <= 0 {
		r.GuidanceScale = DefaultGuidanceScale
	}
	return r
}

// GenerationRecord is the caller-side tracking entry of one generation. It is
// created under a placeholder id and moved to the remote id after submission.
type GenerationRecord struct {
	ID            string            `json:"id"`
	PlaceholderID string            `json:"placeholderId"`
	Request       GenerationRequest `json:"request"`
	Status        JobStatus         `json:"status"`
	Outcome       Outcome           `json:"outcome,omitempty"`
	Output        []string          `json:"output,omitempty"`
	Error         string            `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	SubmittedAt   *time.Time        `json:"submittedAt,omitempty"`
	SettledAt     *time.Time        `json:"settledAt,omitempty"`
}

// IsSettled reports whether the record already received its single outcome.
func (r *GenerationRecord) IsSettled() bool {
	return r.Outcome != OutcomeNone
}

// GalleryImage is one generated image kept for display
type GalleryImage struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	URL       string    `json:"url"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerationStartResponse is returned when a generation is accepted
type GenerationStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerationCancelResponse is returned when a cancellation is recorded
type GenerationCancelResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

// PendingResponse lists generations that have not settled yet
type PendingResponse struct {
	Jobs []*GenerationRecord `json:"jobs"`
}

// GalleryResponse lists generated images, newest first
type GalleryResponse struct {
	Images []GalleryImage `json:"images"`
}
