package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/boardfeed-backend/pkg/db/dbtest"
	"github.com/angelmondragon/boardfeed-backend/pkg/db/models"
)

func seedBoards(t *testing.T, store *Store) time.Time {
	t.Helper()
	created := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	deleted := created.Add(time.Hour)
	rows := []models.Board{
		{ID: 1, CategoryID: 1, AuthorID: 1, Title: "live", CreatedAt: created, UpdatedAt: created},
		{ID: 2, CategoryID: 1, AuthorID: 1, Title: "gone", CreatedAt: created, UpdatedAt: created, DeletedAt: &deleted},
		{ID: 3, CategoryID: 2, AuthorID: 1, Title: "live too", CreatedAt: created.Add(time.Minute), UpdatedAt: created},
	}
	require.NoError(t, store.conn(context.Background()).Create(&rows).Error)
	return created
}

func TestExistingBoardIDsExcludesDeleted(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	seedBoards(t, store)

	got, err := store.ExistingBoardIDs(context.Background(), []int64{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, map[int64]bool{1: true, 3: true}, got)

	got, err = store.ExistingBoardIDs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestBoardCreatedAt(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	created := seedBoards(t, store)

	got, err := store.BoardCreatedAt(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[1].Equal(created))
	require.True(t, got[3].Equal(created.Add(time.Minute)))
}

func TestExistingBoardIDsChunksLargeInputs(t *testing.T) {
	store := NewStore(dbtest.Open(t))
	seedBoards(t, store)

	ids := make([]int64, 0, maxInClause*2+10)
	for i := int64(1); i <= int64(cap(ids)); i++ {
		ids = append(ids, i)
	}
	got, err := store.ExistingBoardIDs(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, got, 2)
}
