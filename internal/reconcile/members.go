// Package reconcile repairs drift between the Redis read model and the
// authoritative board table.
package reconcile

import (
	"context"
	"strconv"
	"time"

	"github.com/angelmondragon/boardfeed-backend/internal/readmodel"
)

const defaultBatchSize = 200

type sortedLists interface {
	List(key string) *readmodel.SortedList
}

type boardDetails interface {
	Boards(ctx context.Context, ids []int64) (map[int64]*readmodel.BoardSnapshot, error)
}

type boardSource interface {
	ExistingBoardIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	BoardCreatedAt(ctx context.Context, ids []int64) (map[int64]time.Time, error)
}

// splitMembers parses list members into board ids. Members that are not ids
// can never match a board and are returned separately.
func splitMembers(members []string) (ids []int64, invalid []string) {
	ids = make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil || id <= 0 {
			invalid = append(invalid, m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, invalid
}

func chunk(ids []int64, size int) [][]int64 {
	var out [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

func memberOf(id int64) string {
	return strconv.FormatInt(id, 10)
}
