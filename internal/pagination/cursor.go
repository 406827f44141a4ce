// Package pagination implements keyset pagination over (updated_at, id).
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// Cursor is the position after which the next page starts
type Cursor struct {
	LastID    string    `json:"id"`
	Timestamp time.Time `json:"at"`
}

// PageResult is one page of a listing
type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

var ErrInvalidCursor = errors.New("invalid cursor format")

// EncodeCursor returns an opaque, URL-safe cursor for the given position
func EncodeCursor(lastID string, timestamp time.Time) string {
	if lastID == "" {
		return ""
	}
	raw, _ := json.Marshal(Cursor{LastID: lastID, Timestamp: timestamp.UTC()})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a cursor produced by EncodeCursor. An empty cursor
// decodes to nil, the first page.
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.LastID == "" || c.Timestamp.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// Page trims items fetched with limit+1 rows to limit and sets the cursor
// for the following page
func Page[T any](items []T, limit int, position func(T) (string, time.Time)) *PageResult[T] {
	page := &PageResult[T]{Items: items}
	if len(items) <= limit {
		return page
	}
	page.Items = items[:limit]
	page.HasMore = true
	page.Cursor = EncodeCursor(position(page.Items[limit-1]))
	return page
}
