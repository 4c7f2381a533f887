package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jangxam/api/internal/model"
)

const (
	recordTTL      = 24 * time.Hour
	galleryMaxSize = 100

	keyPending = "generation:pending"
	keyGallery = "generation:gallery"
)

func recordKey(id string) string { return fmt.Sprintf("generation:%s", id) }
func aliasKey(id string) string  { return fmt.Sprintf("generation:alias:%s", id) }
func cancelKey(id string) string { return fmt.Sprintf("generation:cancel:%s", id) }

// RedisRepository implements GenerationRepository on redis
type RedisRepository struct {
	redis *redis.Client
}

func NewRedisRepository(redisClient *redis.Client) *RedisRepository {
	return &RedisRepository{redis: redisClient}
}

func (r *RedisRepository) Save(ctx context.Context, rec *model.GenerationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return r.redis.Set(ctx, recordKey(rec.ID), data, recordTTL).Err()
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*model.GenerationRecord, error) {
	rec, err := r.get(ctx, id)
	if !errors.Is(err, ErrNotFound) {
		return rec, err
	}

	target, aerr := r.redis.Get(ctx, aliasKey(id)).Result()
	if aerr != nil {
		if aerr == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, aerr
	}
	return r.get(ctx, target)
}

func (r *RedisRepository) get(ctx context.Context, id string) (*model.GenerationRecord, error) {
	data, err := r.redis.Get(ctx, recordKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var rec model.GenerationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// movePendingScript renames a pending member, leaving the set alone when the
// old member is no longer pending.
const movePendingScript = `
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[2])
end
return 0
`

func (r *RedisRepository) Promote(ctx context.Context, placeholderID string, rec *model.GenerationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(rec.ID), data, recordTTL)
		pipe.Set(ctx, aliasKey(placeholderID), rec.ID, recordTTL)
		pipe.Del(ctx, recordKey(placeholderID))
		pipe.Eval(ctx, movePendingScript, []string{keyPending}, placeholderID, rec.ID, rec.CreatedAt.UnixNano())
		return nil
	})
	return err
}

func (r *RedisRepository) AddPending(ctx context.Context, rec *model.GenerationRecord) error {
	return r.redis.ZAdd(ctx, keyPending, redis.Z{
		Score:  float64(rec.CreatedAt.UnixNano()),
		Member: rec.ID,
	}).Err()
}

func (r *RedisRepository) RemovePending(ctx context.Context, id string) error {
	return r.redis.ZRem(ctx, keyPending, id).Err()
}

// ListPending returns pending records oldest first. Members whose record
// expired are dropped from the set.
func (r *RedisRepository) ListPending(ctx context.Context) ([]*model.GenerationRecord, error) {
	ids, err := r.redis.ZRange(ctx, keyPending, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*model.GenerationRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = r.redis.ZRem(ctx, keyPending, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *RedisRepository) RequestCancel(ctx context.Context, placeholderID string) error {
	return r.redis.Set(ctx, cancelKey(placeholderID), "1", recordTTL).Err()
}

func (r *RedisRepository) IsCancelRequested(ctx context.Context, placeholderID string) (bool, error) {
	n, err := r.redis.Exists(ctx, cancelKey(placeholderID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PushGallery prepends images, keeping the newest galleryMaxSize entries.
func (r *RedisRepository) PushGallery(ctx context.Context, images ...model.GalleryImage) error {
	if len(images) == 0 {
		return nil
	}
	// LPUSH reverses its arguments; push the last image first so the batch
	// keeps its order at the head of the list.
	values := make([]interface{}, 0, len(images))
	for i := len(images) - 1; i >= 0; i-- {
		data, err := json.Marshal(images[i])
		if err != nil {
			return fmt.Errorf("failed to marshal gallery image: %w", err)
		}
		values = append(values, data)
	}

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, keyGallery, values...)
		pipe.LTrim(ctx, keyGallery, 0, galleryMaxSize-1)
		pipe.Expire(ctx, keyGallery, recordTTL)
		return nil
	})
	return err
}

func (r *RedisRepository) ListGallery(ctx context.Context, limit int) ([]model.GalleryImage, error) {
	if limit <= 0 || limit > galleryMaxSize {
		limit = galleryMaxSize
	}
	items, err := r.redis.LRange(ctx, keyGallery, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	images := make([]model.GalleryImage, 0, len(items))
	for _, item := range items {
		var img model.GalleryImage
		if err := json.Unmarshal([]byte(item), &img); err != nil {
			continue
		}
		images = append(images, img)
	}
	return images, nil
}
