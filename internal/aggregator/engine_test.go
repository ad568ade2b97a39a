package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/ObiAU/mentionfeed/internal/cache"
	"github.com/ObiAU/mentionfeed/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	name      models.Source
	items     []models.Item
	err       error
	panicWith any
	hang      chan struct{}
}

func (f *fakeAdapter) Name() models.Source { return f.name }

func (f *fakeAdapter) Fetch(ctx context.Context) ([]models.Item, error) {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.hang != nil {
		// Ignores ctx on purpose.
		<-f.hang
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

// threadAdapter keeps one item per conversation and skips known ones.
type threadAdapter struct {
	fakeAdapter
}

func (a *threadAdapter) PostFilter(items []models.Item, conversations *cache.Set) []models.Item {
	var kept []models.Item
	for _, item := range items {
		if conversations.Has(item.ConversationID) {
			continue
		}
		conversations.Add(item.ConversationID)
		kept = append(kept, item)
	}
	return kept
}

func mention(source models.Source, id string, ts time.Time) models.Item {
	return models.Item{
		ID:        id,
		Source:    source,
		Author:    "author-" + id,
		Content:   "content " + id,
		URL:       "https://example.com/" + id,
		Timestamp: models.NewTimestamp(ts),
	}
}

func feedIDs(feed []models.Item) []string {
	out := make([]string, len(feed))
	for i, item := range feed {
		out[i] = item.ID
	}
	return out
}

func assertNewestFirst(t *testing.T, feed models.Feed) {
	t.Helper()
	for i := 1; i < len(feed); i++ {
		assert.False(t, feed[i].Timestamp.After(feed[i-1].Timestamp),
			"feed[%d] %s is newer than feed[%d] %s", i, feed[i].ID, i-1, feed[i-1].ID)
	}
}

func TestEngine_EmptyBootstrap(t *testing.T) {
	a := mention(models.SourceReddit, "itemA", t0)
	b := mention(models.SourceReddit, "itemB", t0.Add(time.Minute))
	e := NewEngine([]models.Adapter{&fakeAdapter{name: models.SourceReddit, items: []models.Item{a, b}}}, time.Second, nil)

	res := e.RunOnce(context.Background(), models.EmptyState())

	assert.Equal(t, []string{"itemB", "itemA"}, feedIDs(res.State.Feed))
	assert.Equal(t, []string{"itemA", "itemB"}, res.State.Seen.IDs.Keys())
	assert.Equal(t, []string{"itemB", "itemA"}, feedIDs(res.New))
	require.Len(t, res.Sources, 1)
	assert.Equal(t, SourceStats{Source: models.SourceReddit, Fetched: 2, New: 2}, res.Sources[0])
}

func TestEngine_Idempotent(t *testing.T) {
	adapters := []models.Adapter{
		&fakeAdapter{name: models.SourceReddit, items: []models.Item{
			mention(models.SourceReddit, "r1", t0),
			mention(models.SourceReddit, "r2", t0.Add(2*time.Minute)),
		}},
		&threadAdapter{fakeAdapter{name: models.SourceBluesky, items: []models.Item{
			{ID: "b1", URL: "https://bsky.app/1", ConversationID: "at://thread/1", Timestamp: models.NewTimestamp(t0.Add(time.Minute))},
		}}},
	}
	e := NewEngine(adapters, time.Second, nil)

	first := e.RunOnce(context.Background(), models.EmptyState())
	second := e.RunOnce(context.Background(), first.State)

	assert.Equal(t, feedIDs(first.State.Feed), feedIDs(second.State.Feed))
	assert.Equal(t, first.State.Seen.IDs.Keys(), second.State.Seen.IDs.Keys())
	assert.Equal(t, first.State.Seen.Conversations.Keys(), second.State.Seen.Conversations.Keys())
	assert.Empty(t, second.New)
}

func TestMerge_DedupAcrossRuns(t *testing.T) {
	x := mention(models.SourceGitHub, "X", t0)
	adapter := &fakeAdapter{name: models.SourceGitHub, items: []models.Item{x}}

	run1 := Merge(models.EmptyState(), []Outcome{{Adapter: adapter, Items: []models.Item{x}}})
	require.Equal(t, []string{"X"}, feedIDs(run1.State.Feed))

	// Same id with different content is still a duplicate.
	changed := x
	changed.Content = "edited"
	changed.Timestamp = models.NewTimestamp(t0.Add(time.Hour))
	run2 := Merge(run1.State, []Outcome{{Adapter: adapter, Items: []models.Item{x, changed}}})

	assert.Equal(t, []string{"X"}, feedIDs(run2.State.Feed))
	assert.Equal(t, "content X", run2.State.Feed[0].Content)
	assert.Empty(t, run2.New)
	assert.Equal(t, 0, run2.Sources[0].New)
}

func TestMerge_OverflowTrim(t *testing.T) {
	state := models.EmptyState()
	for i := range models.MaxFeedItems {
		item := mention(models.SourceReddit, fmt.Sprintf("old-%03d", i), t0.Add(-time.Duration(i)*time.Minute))
		state.Feed = append(state.Feed, item)
		state.Seen.IDs.Add(item.ID)
	}
	oldest := state.Feed[len(state.Feed)-1].ID

	fresh := mention(models.SourceReddit, "fresh", t0.Add(time.Hour))
	res := Merge(state, []Outcome{{Adapter: &fakeAdapter{name: models.SourceReddit}, Items: []models.Item{fresh}}})

	require.Len(t, res.State.Feed, models.MaxFeedItems)
	assert.Equal(t, "fresh", res.State.Feed[0].ID)
	assert.NotContains(t, feedIDs(res.State.Feed), oldest)
	assert.Len(t, state.Feed, models.MaxFeedItems, "input state must not change")
}

func TestEngine_PartialFailure(t *testing.T) {
	e := NewEngine([]models.Adapter{
		&fakeAdapter{name: models.SourceReddit, err: errors.New("reddit returned status 503")},
		&fakeAdapter{name: models.SourceGitHub, items: []models.Item{mention(models.SourceGitHub, "g1", t0)}},
	}, time.Second, nil)

	res := e.RunOnce(context.Background(), models.EmptyState())

	assert.Equal(t, []string{"g1"}, feedIDs(res.State.Feed))
	require.Len(t, res.Sources, 2)
	assert.EqualError(t, res.Sources[0].Err, "reddit returned status 503")
	assert.Zero(t, res.Sources[0].Fetched)
	assert.NoError(t, res.Sources[1].Err)
	assert.Equal(t, 1, res.Sources[1].New)
}

func TestEngine_AllFail(t *testing.T) {
	state := models.EmptyState()
	state.Feed = models.Feed{mention(models.SourceReddit, "kept", t0)}
	state.Seen.IDs.Add("kept")
	state.Seen.Conversations.Add("thread")

	e := NewEngine([]models.Adapter{
		&fakeAdapter{name: models.SourceReddit, err: errors.New("down")},
		&fakeAdapter{name: models.SourceGitHub, err: errors.New("401")},
		&threadAdapter{fakeAdapter{name: models.SourceBluesky, err: errors.New("dial")}},
	}, time.Second, nil)

	res := e.RunOnce(context.Background(), state)

	assert.Equal(t, feedIDs(state.Feed), feedIDs(res.State.Feed))
	assert.Equal(t, state.Seen.IDs.Keys(), res.State.Seen.IDs.Keys())
	assert.Equal(t, state.Seen.Conversations.Keys(), res.State.Seen.Conversations.Keys())
	assert.Empty(t, res.New)
	for _, s := range res.Sources {
		assert.Error(t, s.Err)
	}
}

func TestEngine_AdapterTimeout(t *testing.T) {
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })

	e := NewEngine([]models.Adapter{
		&fakeAdapter{name: models.SourceBluesky, hang: hang},
		&fakeAdapter{name: models.SourceReddit, items: []models.Item{mention(models.SourceReddit, "r1", t0)}},
	}, 50*time.Millisecond, nil)

	started := time.Now()
	res := e.RunOnce(context.Background(), models.EmptyState())

	assert.Less(t, time.Since(started), 5*time.Second)
	assert.ErrorIs(t, res.Sources[0].Err, context.DeadlineExceeded)
	assert.Equal(t, []string{"r1"}, feedIDs(res.State.Feed))
}

func TestEngine_AdapterPanicIsIsolated(t *testing.T) {
	e := NewEngine([]models.Adapter{
		&fakeAdapter{name: models.SourceGitHub, panicWith: "nil map"},
		&fakeAdapter{name: models.SourceReddit, items: []models.Item{mention(models.SourceReddit, "r1", t0)}},
	}, time.Second, nil)

	res := e.RunOnce(context.Background(), models.EmptyState())

	assert.ErrorIs(t, res.Sources[0].Err, ErrAdapterPanic)
	assert.Contains(t, res.Sources[0].Err.Error(), "nil map")
	assert.Equal(t, []string{"r1"}, feedIDs(res.State.Feed))
}

func TestMerge_PostFilterAppliesOnlyToCapableAdapters(t *testing.T) {
	state := models.EmptyState()
	state.Seen.Conversations.Add("at://thread/known")

	social := &threadAdapter{fakeAdapter{name: models.SourceBluesky}}
	forum := &fakeAdapter{name: models.SourceGitHub}

	withThread := func(source models.Source, id, thread string, offset time.Duration) models.Item {
		item := mention(source, id, t0.Add(offset))
		item.ConversationID = thread
		return item
	}

	res := Merge(state, []Outcome{
		{Adapter: social, Items: []models.Item{
			withThread(models.SourceBluesky, "b-known", "at://thread/known", 0),
			withThread(models.SourceBluesky, "b-new", "at://thread/new", time.Minute),
			withThread(models.SourceBluesky, "b-new-reply", "at://thread/new", 2*time.Minute),
		}},
		{Adapter: forum, Items: []models.Item{
			withThread(models.SourceGitHub, "g-known", "at://thread/known", 3*time.Minute),
		}},
	})

	assert.ElementsMatch(t, []string{"b-new", "g-known"}, feedIDs(res.State.Feed))
	assert.Equal(t, 2, res.Sources[0].Filtered)
	assert.Equal(t, 0, res.Sources[1].Filtered)
	assert.Equal(t, []string{"at://thread/known", "at://thread/new"}, res.State.Seen.Conversations.Keys())
	assert.Equal(t, []string{"at://thread/known"}, state.Seen.Conversations.Keys(), "input seen-set must not change")
}

func TestMerge_DropsInvalidAndTagsSource(t *testing.T) {
	adapter := &fakeAdapter{name: models.SourceReddit}
	noURL := mention(models.SourceReddit, "no-url", t0)
	noURL.URL = ""
	mislabelled := mention(models.SourceGitHub, "tagged", t0)

	res := Merge(models.EmptyState(), []Outcome{{Adapter: adapter, Items: []models.Item{noURL, {URL: "https://x"}, mislabelled}}})

	require.Equal(t, []string{"tagged"}, feedIDs(res.State.Feed))
	assert.Equal(t, models.SourceReddit, res.State.Feed[0].Source)
	assert.Equal(t, 2, res.Sources[0].Invalid)
	assert.Equal(t, 3, res.Sources[0].Fetched)
	assert.False(t, res.State.Seen.IDs.Has(""))
}

func TestMerge_InBatchDuplicateFirstWins(t *testing.T) {
	first := mention(models.SourceReddit, "dup", t0)
	second := mention(models.SourceReddit, "dup", t0.Add(time.Hour))
	second.Author = "second"

	res := Merge(models.EmptyState(), []Outcome{
		{Adapter: &fakeAdapter{name: models.SourceReddit}, Items: []models.Item{first}},
		{Adapter: &fakeAdapter{name: models.SourceReddit}, Items: []models.Item{second}},
	})

	require.Len(t, res.State.Feed, 1)
	assert.Equal(t, "author-dup", res.State.Feed[0].Author)
	assert.Equal(t, 1, res.Sources[0].New)
	assert.Equal(t, 0, res.Sources[1].New)
	assert.Equal(t, 1, res.State.Seen.IDs.Len())
}

func TestMerge_FeedItemsAreNotReaddedAfterSeenEviction(t *testing.T) {
	state := models.EmptyState()
	state.Feed = models.Feed{mention(models.SourceReddit, "evicted", t0)}

	res := Merge(state, []Outcome{{
		Adapter: &fakeAdapter{name: models.SourceReddit},
		Items:   []models.Item{mention(models.SourceReddit, "evicted", t0)},
	}})

	assert.Equal(t, []string{"evicted"}, feedIDs(res.State.Feed))
	assert.Empty(t, res.New)
}

func TestMerge_BoundedGrowth(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	state := models.EmptyState()
	adapter := &threadAdapter{fakeAdapter{name: models.SourceBluesky}}

	for run := range 12 {
		var items []models.Item
		for i := range 60 {
			item := mention(models.SourceBluesky, fmt.Sprintf("r%d-i%d", run, i), t0.Add(time.Duration(rng.Intn(100000))*time.Second))
			item.ConversationID = fmt.Sprintf("thread-%d-%d", run, i)
			if i%10 == 0 {
				item.Timestamp = models.Timestamp{}
			}
			items = append(items, item)
		}
		res := Merge(state, []Outcome{{Adapter: adapter, Items: items}})

		assert.LessOrEqual(t, len(res.State.Feed), models.MaxFeedItems)
		assert.LessOrEqual(t, res.State.Seen.IDs.Len(), models.MaxSeenKeys)
		assert.LessOrEqual(t, res.State.Seen.Conversations.Len(), models.MaxSeenKeys)
		assertNewestFirst(t, res.State.Feed)
		assertNewestFirst(t, res.New)

		seen := make(map[string]bool)
		for _, item := range res.State.Feed {
			assert.False(t, seen[item.ID], "duplicate %s", item.ID)
			seen[item.ID] = true
		}
		state = res.State
	}

	assert.Equal(t, models.MaxSeenKeys, state.Seen.IDs.Len())
	assert.False(t, state.Seen.IDs.Has("r0-i0"))
	assert.True(t, state.Seen.IDs.Has("r11-i59"))
}
