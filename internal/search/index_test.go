package search

import (
	"testing"
	"time"

	"github.com/ObiAU/mentionfeed/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFeed() models.Feed {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.Feed{
		{
			ID:        "reddit_t3_a",
			Source:    models.SourceReddit,
			Author:    "gopher",
			Title:     "Retry policies",
			Content:   "How do I configure retries for the client?",
			URL:       "https://www.reddit.com/r/golang/comments/a",
			Timestamp: models.NewTimestamp(base.Add(2 * time.Hour)),
		},
		{
			ID:        "github_D_b",
			Source:    models.SourceGitHub,
			Author:    "octocat",
			Title:     "Feature request: streaming",
			Content:   "It would be great to stream responses.",
			URL:       "https://github.com/o/r/discussions/2",
			Timestamp: models.NewTimestamp(base.Add(time.Hour)),
		},
		{
			ID:        "bluesky_did_c",
			Source:    models.SourceBluesky,
			Author:    "did:plc:xyz",
			Content:   "Shipped our first release with it today",
			URL:       "https://bsky.app/profile/did:plc:xyz/post/c",
			Timestamp: models.NewTimestamp(base),
		},
	}
}

func TestIndex_Search(t *testing.T) {
	idx, err := Build(testFeed())
	require.NoError(t, err)
	defer idx.Close()

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	t.Run("full text with stemming", func(t *testing.T) {
		results, err := idx.Search("retry", 10)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, "reddit_t3_a", results[0].ID)
		assert.Equal(t, models.SourceReddit, results[0].Source)
		assert.Equal(t, "gopher", results[0].Author)
		assert.Equal(t, "https://www.reddit.com/r/golang/comments/a", results[0].URL)
	})

	t.Run("field scoped", func(t *testing.T) {
		results, err := idx.Search("source:github", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "github_D_b", results[0].ID)
		assert.Equal(t, "Feature request: streaming", results[0].Title)
	})

	t.Run("no match", func(t *testing.T) {
		results, err := idx.Search("kubernetes", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("empty query lists newest first", func(t *testing.T) {
		results, err := idx.Search("", 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "reddit_t3_a", results[0].ID)
		assert.Equal(t, "github_D_b", results[1].ID)
	})
}

func TestBuild_EmptyFeed(t *testing.T) {
	idx, err := Build(models.Feed{})
	require.NoError(t, err)
	defer idx.Close()

	results, err := idx.Search("anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
