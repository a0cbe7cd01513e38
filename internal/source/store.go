// Package source reads the authoritative board records that the read model
// is reconciled against. Writes belong to another service.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
	"gorm.io/gorm"
)

// maxInClause keeps IN lists well below driver parameter limits.
const maxInClause = 500

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// ExistingBoardIDs returns the subset of ids that are live boards.
func (s *Store) ExistingBoardIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	for start := 0; start < len(ids); start += maxInClause {
		end := min(start+maxInClause, len(ids))
		var found []int64
		err := s.conn(ctx).
			Model(&models.Board{}).
			Where("id IN ? AND deleted_at IS NULL", ids[start:end]).
			Pluck("id", &found).Error
		if err != nil {
			return nil, fmt.Errorf("load board ids: %w", err)
		}
		for _, id := range found {
			out[id] = true
		}
	}
	return out, nil
}

// BoardCreatedAt returns the creation time of live boards among ids.
func (s *Store) BoardCreatedAt(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
	out := make(map[int64]time.Time, len(ids))
	for start := 0; start < len(ids); start += maxInClause {
		end := min(start+maxInClause, len(ids))
		var rows []models.Board
		err := s.conn(ctx).
			Select("id", "created_at").
			Where("id IN ? AND deleted_at IS NULL", ids[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("load board timestamps: %w", err)
		}
		for _, row := range rows {
			out[row.ID] = row.CreatedAt.UTC()
		}
	}
	return out, nil
}
