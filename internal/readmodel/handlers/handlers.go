// Package handlers applies board and comment events to the Redis read model.
package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/angelmondragon/boardfeed-backend/internal/events"
	"github.com/angelmondragon/boardfeed-backend/internal/readmodel"
	"github.com/angelmondragon/boardfeed-backend/pkg/config"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
	"github.com/angelmondragon/boardfeed-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

// Stores are the read-model stores the handlers write to. Timelines holds
// the all and category lists; Rankings holds the metric/period lists.
type Stores struct {
	Details   *readmodel.DetailStore
	Timelines *readmodel.RankingStore
	Rankings  *readmodel.RankingStore
	Counters  *readmodel.CounterStore
	Logger    *logger.Logger
}

// NewStores builds the read-model stores over one Redis client.
func NewStores(client *redis.Client, logg *logger.Logger, cfg config.CacheConfig) (Stores, error) {
	details, err := readmodel.NewDetailStore(client, logg, cfg.DetailTTL)
	if err != nil {
		return Stores{}, err
	}
	timelines, err := readmodel.NewRankingStore(client, cfg.TimelineCap)
	if err != nil {
		return Stores{}, err
	}
	rankings, err := readmodel.NewRankingStore(client, cfg.RankingCap)
	if err != nil {
		return Stores{}, err
	}
	counters, err := readmodel.NewCounterStore(client)
	if err != nil {
		return Stores{}, err
	}
	return Stores{
		Details:   details,
		Timelines: timelines,
		Rankings:  rankings,
		Counters:  counters,
		Logger:    logg,
	}, nil
}

func (s Stores) validate() error {
	switch {
	case s.Details == nil:
		return fmt.Errorf("detail store required")
	case s.Timelines == nil:
		return fmt.Errorf("timeline store required")
	case s.Rankings == nil:
		return fmt.Errorf("ranking store required")
	case s.Counters == nil:
		return fmt.Errorf("counter store required")
	case s.Logger == nil:
		return fmt.Errorf("logger required")
	}
	return nil
}

// All returns one handler per supported event type.
func All(stores Stores) ([]events.Handler, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	return []events.Handler{
		&BoardCreated{stores},
		&BoardUpdated{stores},
		&BoardDeleted{stores},
		&CommentCreated{stores},
		&CommentDeleted{stores},
		&Engagement{Stores: stores, Type: enums.EventBoardLiked},
		&Engagement{Stores: stores, Type: enums.EventBoardUnliked},
		&Engagement{Stores: stores, Type: enums.EventBoardViewed},
		&RankingSnapshot{stores},
	}, nil
}

func member(id int64) string { return strconv.FormatInt(id, 10) }

func payloadAs[T any](ev events.Event) (*T, error) {
	p, ok := ev.Payload.(*T)
	if !ok || p == nil {
		var zero T
		return nil, pkgerrors.New(pkgerrors.CodePoisonMessage, fmt.Sprintf("%s: expected %T payload, got %T", ev.Type, zero, ev.Payload))
	}
	return p, nil
}

// BoardCreated stores the snapshot and puts the board on its timelines.
type BoardCreated struct{ Stores }

func (h *BoardCreated) EventType() enums.EventType { return enums.EventBoardCreated }

func (h *BoardCreated) Handle(ctx context.Context, ev events.Event) error {
	p, err := payloadAs[payloads.BoardCreatedEvent](ev)
	if err != nil {
		return err
	}
	snap := readmodel.BoardSnapshot{
		ID:         p.BoardID,
		CategoryID: p.CategoryID,
		AuthorID:   p.AuthorID,
		Title:      p.Title,
		CreatedAt:  p.CreatedAt.UTC(),
		UpdatedAt:  p.CreatedAt.UTC(),
	}
	if err := h.Details.Save(ctx, snap); err != nil {
		return err
	}
	score := float64(snap.CreatedAt.UnixMilli())
	if err := h.Timelines.List(redis.AllListKey).Add(ctx, member(p.BoardID), score); err != nil {
		return err
	}
	return h.Timelines.List(redis.CategoryListKey(p.CategoryID)).Add(ctx, member(p.BoardID), score)
}

// BoardUpdated replaces the snapshot and moves the board between category
// timelines when its category changed. Updates older than the stored
// snapshot are ignored.
type BoardUpdated struct{ Stores }

func (h *BoardUpdated) EventType() enums.EventType { return enums.EventBoardUpdated }

func (h *BoardUpdated) Handle(ctx context.Context, ev events.Event) error {
	p, err := payloadAs[payloads.BoardUpdatedEvent](ev)
	if err != nil {
		return err
	}
	current, err := h.Details.Board(ctx, p.BoardID)
	if err != nil {
		return err
	}
	if current != nil && current.UpdatedAt.After(p.UpdatedAt) {
		h.Logger.Info(h.Logger.WithEvent(ctx, ev.ID, string(ev.Type)), "stale board update skipped")
		return nil
	}
	snap := readmodel.BoardSnapshot{
		ID:         p.BoardID,
		CategoryID: p.CategoryID,
		AuthorID:   p.AuthorID,
		Title:      p.Title,
		CreatedAt:  p.CreatedAt.UTC(),
		UpdatedAt:  p.UpdatedAt.UTC(),
	}
	if err := h.Details.Save(ctx, snap); err != nil {
		return err
	}
	previous := p.PreviousCategoryID
	if previous == 0 && current != nil {
		previous = current.CategoryID
	}
	if previous == 0 || previous == p.CategoryID {
		return nil
	}
	if err := h.Timelines.List(redis.CategoryListKey(previous)).Remove(ctx, member(p.BoardID)); err != nil {
		return err
	}
	score := float64(snap.CreatedAt.UnixMilli())
	return h.Timelines.List(redis.CategoryListKey(p.CategoryID)).Add(ctx, member(p.BoardID), score)
}

// BoardDeleted removes every trace of the board from the read model.
type BoardDeleted struct{ Stores }

func (h *BoardDeleted) EventType() enums.EventType { return enums.EventBoardDeleted }

func (h *BoardDeleted) Handle(ctx context.Context, ev events.Event) error {
	p, err := payloadAs[payloads.BoardDeletedEvent](ev)
	if err != nil {
		return err
	}
	m := member(p.BoardID)
	for _, key := range []string{redis.AllListKey, redis.CategoryListKey(p.CategoryID)} {
		if err := h.Timelines.List(key).Remove(ctx, m); err != nil {
			return err
		}
	}
	for _, key := range readmodel.RankingKeys() {
		if err := h.Rankings.List(key).Remove(ctx, m); err != nil {
			return err
		}
	}
	for _, kind := range []string{readmodel.CounterComments, readmodel.CounterLikes, readmodel.CounterViews} {
		if err := h.Counters.Delete(ctx, kind, p.BoardID); err != nil {
			return err
		}
	}
	return h.Details.Delete(ctx, readmodel.EntityBoard, p.BoardID)
}

// CommentCreated stores the comment and bumps its board's comment count.
type CommentCreated struct{ Stores }

func (h *CommentCreated) EventType() enums.EventType { return enums.EventCommentCreated }

func (h *CommentCreated) Handle(ctx context.Context, ev events.Event) error {
	p, err := payloadAs[payloads.CommentCreatedEvent](ev)
	if err != nil {
		return err
	}
	snap := readmodel.CommentSnapshot{
		ID:        p.CommentID,
		BoardID:   p.BoardID,
		AuthorID:  p.AuthorID,
		Body:      p.Body,
		CreatedAt: p.CreatedAt.UTC(),
	}
	if err := h.Details.Save(ctx, snap); err != nil {
		return err
	}
	_, err = h.Counters.Incr(ctx, readmodel.CounterComments, p.BoardID, 1)
	return err
}

type CommentDeleted struct{ Stores }

func (h *CommentDeleted) EventType() enums.EventType { return enums.EventCommentDeleted }

func (h *CommentDeleted) Handle(ctx context.Context, ev events.Event) error {
	p, err := payloadAs[payloads.CommentDeletedEvent](ev)
	if err != nil {
		return err
	}
	if err := h.Details.Delete(ctx, readmodel.EntityComment, p.CommentID); err != nil {
		return err
	}
	_, err = h.Counters.Decr(ctx, readmodel.CounterComments, p.BoardID, 1)
	return err
}

// Engagement handles likes, unlikes and views: the board's score moves on
// every period ranking of the metric and its counter follows, in one script
// so a failed delivery leaves nothing half applied.
type Engagement struct {
	Stores
	Type enums.EventType
}

func (h *Engagement) EventType() enums.EventType { return h.Type }

func (h *Engagement) Handle(ctx context.Context, ev events.Event) error {
	p, err := payloadAs[payloads.BoardEngagementEvent](ev)
	if err != nil {
		return err
	}
	var (
		metric enums.RankingMetric
		kind   string
		delta  int64 = 1
	)
	switch h.Type {
	case enums.EventBoardLiked:
		metric, kind = enums.MetricLikes, readmodel.CounterLikes
	case enums.EventBoardUnliked:
		metric, kind, delta = enums.MetricLikes, readmodel.CounterLikes, -1
	case enums.EventBoardViewed:
		metric, kind = enums.MetricViews, readmodel.CounterViews
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("engagement handler bound to %s", h.Type))
	}
	_, err = h.Rankings.ApplyEngagement(ctx, readmodel.MetricKeys(metric), member(p.BoardID), kind, p.BoardID, delta)
	return err
}

// RankingSnapshot replaces a ranking with an upstream recomputation.
type RankingSnapshot struct{ Stores }

func (h *RankingSnapshot) EventType() enums.EventType { return enums.EventRankingSnapshot }

func (h *RankingSnapshot) Handle(ctx context.Context, ev events.Event) error {
	p, err := payloadAs[payloads.RankingSnapshotEvent](ev)
	if err != nil {
		return err
	}
	entries := make([]readmodel.Entry, len(p.Entries))
	for i, e := range p.Entries {
		entries[i] = readmodel.Entry{Member: member(e.BoardID), Score: e.Score}
	}
	return h.Rankings.List(readmodel.RankingKey(p.Metric, p.Period)).ReplaceAll(ctx, entries)
}
