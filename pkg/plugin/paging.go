package plugin

import (
	"strconv"

	"github.com/openclaw/clawgate/pkg/apierr"
)

// ParseOffsetCursor interprets cursor as a non-negative integer offset. The
// fixture-backed plugins use plain offsets as their opaque page cursors.
func ParseOffsetCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0, apierr.Validation("cursor must be an integer")
	}
	return offset, nil
}

// Page returns the window [offset, offset+limit) of items, clamped to the
// slice bounds.
func Page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) || end < offset {
		end = len(items)
	}
	return items[offset:end]
}

// NextOffsetCursor returns the follow-up cursor for an offset window, or nil
// once the window reaches the end of the collection.
func NextOffsetCursor(offset, limit, total int) any {
	next := offset + limit
	if next < total {
		return strconv.Itoa(next)
	}
	return nil
}
