package repository

import (
	"context"
	"errors"

	"github.com/jangxam/api/internal/model"
)

var ErrNotFound = errors.New("generation not found")

// GenerationRepository tracks in-flight and recent generations. Records are
// ephemeral: they expire and are never the system of record.
type GenerationRepository interface {
	// Save stores the record under rec.ID.
	Save(ctx context.Context, rec *model.GenerationRecord) error
	// Get resolves id directly or through a placeholder alias.
	Get(ctx context.Context, id string) (*model.GenerationRecord, error)
	// Promote moves a record from its placeholder key to rec.ID and keeps the
	// placeholder as an alias.
	Promote(ctx context.Context, placeholderID string, rec *model.GenerationRecord) error

	AddPending(ctx context.Context, rec *model.GenerationRecord) error
	RemovePending(ctx context.Context, id string) error
	ListPending(ctx context.Context) ([]*model.GenerationRecord, error)

	// Cancellation flags are keyed by placeholder id, which is stable for the
	// whole life of a generation.
	RequestCancel(ctx context.Context, placeholderID string) error
	IsCancelRequested(ctx context.Context, placeholderID string) (bool, error)

	PushGallery(ctx context.Context, images ...model.GalleryImage) error
	ListGallery(ctx context.Context, limit int) ([]model.GalleryImage, error)
}
