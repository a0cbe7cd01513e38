package ops

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/boardfeed-backend/pkg/errors"
	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
)

const (
	defaultDLQPageSize = 50
	maxDLQPageSize     = 200
)

// DeadLetterAdmin is the dead-letter surface exposed to operators.
type DeadLetterAdmin interface {
	List(ctx context.Context, afterID int64, limit int) ([]models.DeadLetterEvent, error)
	Reprocess(ctx context.Context, id int64) error
}

type deadLetterView struct {
	ID            int64           `json:"id"`
	EventID       int64           `json:"event_id"`
	EventType     enums.EventType `json:"event_type"`
	Reason        enums.DLQReason `json:"reason"`
	RetryCount    int             `json:"retry_count"`
	LastError     string          `json:"last_error"`
	ShardKey      *string         `json:"shard_key,omitempty"`
	Reprocessable bool            `json:"reprocessable"`
	CreatedAt     time.Time       `json:"created_at"`
}

type deadLetterPage struct {
	Items      []deadLetterView `json:"items"`
	NextCursor *int64           `json:"next_cursor,omitempty"`
}

func listDeadLetters(admin DeadLetterAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		afterID, err := queryInt(r, "cursor", 0)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}
		limit, err := queryInt(r, "limit", defaultDLQPageSize)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}
		if limit <= 0 || limit > maxDLQPageSize {
			writeError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be between 1 and 200"))
			return
		}

		rows, err := admin.List(ctx, afterID, int(limit))
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}
		page := deadLetterPage{Items: make([]deadLetterView, 0, len(rows))}
		for _, row := range rows {
			page.Items = append(page.Items, deadLetterView{
				ID:            row.ID,
				EventID:       row.EventID,
				EventType:     row.EventType,
				Reason:        row.Reason,
				RetryCount:    row.RetryCount,
				LastError:     row.LastError,
				ShardKey:      row.ShardKey,
				Reprocessable: len(row.Payload) > 0,
				CreatedAt:     row.CreatedAt,
			})
		}
		if len(rows) == int(limit) {
			next := rows[len(rows)-1].ID
			page.NextCursor = &next
		}
		writeSuccess(w, http.StatusOK, page)
	}
}

func reprocessDeadLetter(admin DeadLetterAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid dead letter id"))
			return
		}
		if err := admin.Reprocess(ctx, id); err != nil {
			writeError(ctx, logg, w, err)
			return
		}
		logg.Info(logg.WithField(ctx, "dlq_id", id), "dead letter reprocessed by operator")
		writeSuccess(w, http.StatusOK, map[string]any{"id": id, "status": "reprocessed"})
	}
}

func queryInt(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+name)
	}
	return v, nil
}
