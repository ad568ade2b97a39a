package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ObiAU/mentionfeed/internal/models"
)

// DefaultAdapterTimeout bounds a single adapter's Fetch.
const DefaultAdapterTimeout = 60 * time.Second

// ErrAdapterPanic wraps a panic recovered from an adapter's Fetch.
var ErrAdapterPanic = errors.New("adapter panicked")

// Outcome is the settled result of one adapter: items or an error, never both.
type Outcome struct {
	Adapter models.Adapter
	Items   []models.Item
	Err     error
}

// SourceStats are the per-source counts of one run.
type SourceStats struct {
	Source   models.Source `json:"source"`
	Fetched  int           `json:"fetched"`
	Invalid  int           `json:"invalid"`
	Filtered int           `json:"filtered"`
	New      int           `json:"new"`
	Err      error         `json:"-"`
}

// Result is what a run produces before anything is persisted.
type Result struct {
	State   models.State
	New     []models.Item
	Sources []SourceStats
}

// Engine fans out to every adapter, waits for all of them and merges what
// they return into the state it was given. It performs no persistence.
type Engine struct {
	adapters []models.Adapter
	timeout  time.Duration
	logger   *slog.Logger
}

func NewEngine(adapters []models.Adapter, timeout time.Duration, logger *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultAdapterTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{adapters: adapters, timeout: timeout, logger: logger}
}

// RunOnce fetches from every adapter and merges the results into state.
// state is not modified.
func (e *Engine) RunOnce(ctx context.Context, state models.State) Result {
	return Merge(state, e.fetchAll(ctx))
}

// fetchAll runs every adapter concurrently and returns once each one has
// either returned, failed, panicked or hit its timeout. Outcomes are in
// adapter order.
func (e *Engine) fetchAll(ctx context.Context) []Outcome {
	outcomes := make([]Outcome, len(e.adapters))

	var wg sync.WaitGroup
	for i, adapter := range e.adapters {
		wg.Add(1)
		go func(i int, adapter models.Adapter) {
			defer wg.Done()
			outcomes[i] = e.fetch(ctx, adapter)
		}(i, adapter)
	}
	wg.Wait()

	return outcomes
}

func (e *Engine) fetch(ctx context.Context, adapter models.Adapter) Outcome {
	name := adapter.Name()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Outcome{Adapter: adapter, Err: fmt.Errorf("%s: %w: %v", name, ErrAdapterPanic, r)}
			}
		}()
		items, err := adapter.Fetch(ctx)
		if err != nil {
			done <- Outcome{Adapter: adapter, Err: err}
			return
		}
		done <- Outcome{Adapter: adapter, Items: items}
	}()

	select {
	case out := <-done:
		e.logger.Debug("adapter settled", "source", name, "items", len(out.Items), "error", out.Err, "took", time.Since(started))
		return out
	case <-ctx.Done():
		// Fetch ignored cancellation; its goroutine exits on its own later.
		return Outcome{Adapter: adapter, Err: fmt.Errorf("%s: %w", name, ctx.Err())}
	}
}

// Merge applies post-filters, dedups against state.Seen and the current feed,
// and merges new items into a sorted, trimmed copy of the feed. It returns
// the new items newest first. The input state is not modified.
func Merge(state models.State, outcomes []Outcome) Result {
	seen := state.Seen.Clone()
	feed := state.Feed.Clone()
	stats := make([]SourceStats, len(outcomes))

	type candidate struct {
		item   models.Item
		source int
	}
	var candidates []candidate

	for i, out := range outcomes {
		source := out.Adapter.Name()
		stats[i].Source = source
		if out.Err != nil {
			stats[i].Err = out.Err
			continue
		}
		stats[i].Fetched = len(out.Items)

		valid := make([]models.Item, 0, len(out.Items))
		for _, item := range out.Items {
			item.Source = source
			if item.Validate() != nil {
				stats[i].Invalid++
				continue
			}
			valid = append(valid, item)
		}

		if pf, ok := out.Adapter.(models.PostFilter); ok {
			filtered := pf.PostFilter(valid, seen.Conversations)
			stats[i].Filtered = len(valid) - len(filtered)
			valid = filtered
		}

		for _, item := range valid {
			candidates = append(candidates, candidate{item: item, source: i})
		}
	}

	inFeed := make(map[string]struct{}, len(feed))
	for _, item := range feed {
		inFeed[item.ID] = struct{}{}
	}

	var fresh []models.Item
	for _, c := range candidates {
		id := c.item.ID
		if seen.IDs.Has(id) {
			continue
		}
		if _, ok := inFeed[id]; ok {
			continue
		}
		// Marks in-batch repeats too; the first occurrence wins.
		inFeed[id] = struct{}{}
		fresh = append(fresh, c.item)
		stats[c.source].New++
	}

	for _, item := range fresh {
		seen.IDs.Add(item.ID)
	}

	feed = append(feed, fresh...)
	feed.Sort()
	feed = feed.Trim(models.MaxFeedItems)

	newItems := models.Feed(slices.Clone(fresh))
	newItems.Sort()

	return Result{
		State:   models.State{Seen: seen, Feed: feed},
		New:     newItems,
		Sources: stats,
	}
}
