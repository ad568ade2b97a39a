package models

import (
	"slices"

	"github.com/ObiAU/mentionfeed/internal/cache"
)

const (
	// MaxFeedItems caps the persisted feed.
	MaxFeedItems = 100
	// MaxSeenKeys caps each of the seen-set's key lists.
	MaxSeenKeys = 500
)

// Feed is the published collection of items, newest first once sorted.
type Feed []Item

// Sort orders the feed newest first. The sort is stable so items with equal
// timestamps keep their relative order.
func (f Feed) Sort() {
	slices.SortStableFunc(f, func(a, b Item) int {
		return b.Timestamp.Compare(a.Timestamp.Time)
	})
}

// Trim returns the first n entries. Call Sort first.
func (f Feed) Trim(n int) Feed {
	if n < 0 || len(f) <= n {
		return f
	}
	return f[:n]
}

// Clone copies the feed slice. Items are values, so the copy is independent
// apart from shared Metadata maps, which are never mutated after fetch.
func (f Feed) Clone() Feed {
	if f == nil {
		return Feed{}
	}
	return slices.Clone(f)
}

// SeenRecord is the dedup memory shared across runs.
type SeenRecord struct {
	IDs           *cache.Set `json:"ids"`
	Conversations *cache.Set `json:"conversations"`
}

// NewSeenRecord returns an empty record with the default caps.
func NewSeenRecord() SeenRecord {
	return SeenRecord{
		IDs:           cache.New(MaxSeenKeys),
		Conversations: cache.New(MaxSeenKeys),
	}
}

// Clone returns an independent copy. Nil sets are replaced by empty ones.
func (r SeenRecord) Clone() SeenRecord {
	out := NewSeenRecord()
	if r.IDs != nil {
		out.IDs = r.IDs.Clone()
	}
	if r.Conversations != nil {
		out.Conversations = r.Conversations.Clone()
	}
	return out
}

// State is everything a run loads and commits.
type State struct {
	Seen SeenRecord
	Feed Feed
}

// EmptyState is the cold-start value.
func EmptyState() State {
	return State{Seen: NewSeenRecord(), Feed: Feed{}}
}

// Normalize replaces nil sets (for example after decoding a document with
// "ids": null) and re-applies the caps.
func (r *SeenRecord) Normalize() {
	if r.IDs == nil {
		r.IDs = cache.New(MaxSeenKeys)
	}
	if r.Conversations == nil {
		r.Conversations = cache.New(MaxSeenKeys)
	}
	r.IDs.Trim()
	r.Conversations.Trim()
}
