package readmodel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

const (
	EntityBoard   = "board"
	EntityComment = "comment"
)

// Snapshot is a denormalized entity stored under detail:{type}:{id}.
type Snapshot interface {
	EntityType() string
	EntityID() int64
}

type BoardSnapshot struct {
	ID         int64     `json:"id"`
	CategoryID int64     `json:"category_id"`
	AuthorID   int64     `json:"author_id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (b BoardSnapshot) EntityType() string { return EntityBoard }
func (b BoardSnapshot) EntityID() int64    { return b.ID }

type CommentSnapshot struct {
	ID        int64     `json:"id"`
	BoardID   int64     `json:"board_id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (c CommentSnapshot) EntityType() string { return EntityComment }
func (c CommentSnapshot) EntityID() int64    { return c.ID }

// DetailStore keeps full entity snapshots. Snapshots are replaced wholesale;
// there are no partial updates.
type DetailStore struct {
	client *redis.Client
	logg   *logger.Logger
	ttl    time.Duration
}

// NewDetailStore builds a store; ttl zero keeps snapshots until deleted.
func NewDetailStore(client *redis.Client, logg *logger.Logger, ttl time.Duration) (*DetailStore, error) {
	if client == nil || client.Cmdable() == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &DetailStore{client: client, logg: logg, ttl: ttl}, nil
}

// Save writes one snapshot.
func (s *DetailStore) Save(ctx context.Context, snap Snapshot) error {
	return s.SaveBatch(ctx, []Snapshot{snap})
}

// SaveBatch writes snapshots in one pipeline. Nothing is written if any
// snapshot fails to encode.
func (s *DetailStore) SaveBatch(ctx context.Context, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	encoded := make(map[string][]byte, len(snaps))
	for _, snap := range snaps {
		data, err := json.Marshal(snap)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeSerialization, err, fmt.Sprintf("encode %s snapshot %d", snap.EntityType(), snap.EntityID()))
		}
		encoded[redis.DetailKey(snap.EntityType(), snap.EntityID())] = data
	}
	return s.client.Retry(ctx, func(ctx context.Context) error {
		_, err := s.client.Cmdable().Pipelined(ctx, func(pipe goredis.Pipeliner) error {
			for key, data := range encoded {
				pipe.Set(ctx, key, data, s.ttl)
			}
			return nil
		})
		return err
	})
}

// Find loads one snapshot into dst. A missing or undecodable value reports false.
func (s *DetailStore) Find(ctx context.Context, entityType string, id int64, dst any) (bool, error) {
	key := redis.DetailKey(entityType, id)
	var raw []byte
	err := s.client.Retry(ctx, func(ctx context.Context) error {
		var getErr error
		raw, getErr = s.client.Cmdable().Get(ctx, key).Bytes()
		return getErr
	})
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "key", key), "undecodable snapshot treated as miss")
		return false, nil
	}
	return true, nil
}

// FindBatch loads several snapshots with one MGET. Missing and undecodable
// entries are absent from the result.
func FindBatch[T any](ctx context.Context, s *DetailStore, entityType string, ids []int64) (map[int64]*T, error) {
	out := make(map[int64]*T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redis.DetailKey(entityType, id)
	}
	var values []any
	err := s.client.Retry(ctx, func(ctx context.Context) error {
		var mgetErr error
		values, mgetErr = s.client.Cmdable().MGet(ctx, keys...).Result()
		return mgetErr
	})
	if err != nil {
		return nil, fmt.Errorf("mget %s snapshots: %w", entityType, err)
	}
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var snap T
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "key", keys[i]), "undecodable snapshot treated as miss")
			continue
		}
		out[ids[i]] = &snap
	}
	return out, nil
}

// Board returns the board snapshot or nil when absent.
func (s *DetailStore) Board(ctx context.Context, id int64) (*BoardSnapshot, error) {
	var snap BoardSnapshot
	ok, err := s.Find(ctx, EntityBoard, id, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

// Boards returns the board snapshots that exist for ids.
func (s *DetailStore) Boards(ctx context.Context, ids []int64) (map[int64]*BoardSnapshot, error) {
	return FindBatch[BoardSnapshot](ctx, s, EntityBoard, ids)
}

// Delete removes a snapshot; deleting a missing key is not an error.
func (s *DetailStore) Delete(ctx context.Context, entityType string, id int64) error {
	key := redis.DetailKey(entityType, id)
	return s.client.Retry(ctx, func(ctx context.Context) error {
		return s.client.Cmdable().Del(ctx, key).Err()
	})
}
