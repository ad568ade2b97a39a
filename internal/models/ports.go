package models

import (
	"context"

	"github.com/ObiAU/mentionfeed/internal/cache"
)

// Adapter fetches the current mentions from one upstream system. Fetch must
// return a finite result; failures are returned, never panicked.
type Adapter interface {
	Name() Source
	Fetch(ctx context.Context) ([]Item, error)
}

// PostFilter is implemented by adapters that need to thin their own items
// after collection, typically using conversation keys remembered across runs.
// The filter may add keys to conversations.
type PostFilter interface {
	PostFilter(items []Item, conversations *cache.Set) []Item
}

// Notifier receives the items accepted by a run. It is called once per run,
// possibly with an empty slice. Errors are advisory.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, items []Item) error
}
