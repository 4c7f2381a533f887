package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/jangxam/api/internal/model"
)

// MemoryRepository is a process-local GenerationRepository.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*model.GenerationRecord
	aliases map[string]string
	pending map[string]struct{}
	cancels map[string]bool
	gallery []model.GalleryImage
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*model.GenerationRecord),
		aliases: make(map[string]string),
		pending: make(map[string]struct{}),
		cancels: make(map[string]bool),
	}
}

func cloneRecord(rec *model.GenerationRecord) *model.GenerationRecord {
	c := *rec
	c.Output = append([]string(nil), rec.Output...)
	return &c
}

func (m *MemoryRepository) Save(ctx context.Context, rec *model.GenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*model.GenerationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.records[id]; ok {
		return cloneRecord(rec), nil
	}
	if target, ok := m.aliases[id]; ok {
		if rec, ok := m.records[target]; ok {
			return cloneRecord(rec), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) Promote(ctx context.Context, placeholderID string, rec *model.GenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = cloneRecord(rec)
	m.aliases[placeholderID] = rec.ID
	delete(m.records, placeholderID)
	if _, ok := m.pending[placeholderID]; ok {
		delete(m.pending, placeholderID)
		m.pending[rec.ID] = struct{}{}
	}
	return nil
}

func (m *MemoryRepository) AddPending(ctx context.Context, rec *model.GenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[rec.ID] = struct{}{}
	return nil
}

func (m *MemoryRepository) RemovePending(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

func (m *MemoryRepository) ListPending(ctx context.Context) ([]*model.GenerationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]*model.GenerationRecord, 0, len(m.pending))
	for id := range m.pending {
		if rec, ok := m.records[id]; ok {
			records = append(records, cloneRecord(rec))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (m *MemoryRepository) RequestCancel(ctx context.Context, placeholderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[placeholderID] = true
	return nil
}

func (m *MemoryRepository) IsCancelRequested(ctx context.Context, placeholderID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancels[placeholderID], nil
}

func (m *MemoryRepository) PushGallery(ctx context.Context, images ...model.GalleryImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gallery = append(append([]model.GalleryImage(nil), images...), m.gallery...)
	if len(m.gallery) > galleryMaxSize {
		m.gallery = m.gallery[:galleryMaxSize]
	}
	return nil
}

func (m *MemoryRepository) ListGallery(ctx context.Context, limit int) ([]model.GalleryImage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.gallery) {
		limit = len(m.gallery)
	}
	return append([]model.GalleryImage(nil), m.gallery[:limit]...), nil
}
