package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ObiAU/mentionfeed/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const redditListing = `{
  "kind": "Listing",
  "data": {
    "children": [
      {"kind": "t3", "data": {
        "name": "t3_abc", "author": "alice", "title": "Trying mentionfeed",
        "selftext": "It works well.", "permalink": "/r/golang/comments/abc/trying/",
        "created_utc": 1709296200.0, "subreddit": "golang", "score": 12, "num_comments": 3
      }},
      {"kind": "t3", "data": {
        "name": "t3_def", "author": "bob", "title": "Link post",
        "selftext": "", "permalink": "/r/programming/comments/def/link/",
        "created_utc": 1709299800.0, "subreddit": "programming"
      }},
      {"kind": "t3", "data": {"name": "", "title": "broken"}}
    ]
  }
}`

func TestRedditClient_Fetch(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search.json", r.URL.Path)
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(redditListing))
	}))
	defer srv.Close()

	client := NewRedditClient(RedditConfig{BaseURL: srv.URL, Query: "mentionfeed", Limit: 10})
	items, err := client.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "mentionfeed", gotQuery)
	assert.Contains(t, gotUA, "mentionfeed")
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "reddit_t3_abc", first.ID)
	assert.Equal(t, models.SourceReddit, first.Source)
	assert.Equal(t, "alice", first.Author)
	assert.Equal(t, "Trying mentionfeed\n\nIt works well.", first.Content)
	assert.Equal(t, "https://www.reddit.com/r/golang/comments/abc/trying/", first.URL)
	assert.True(t, first.Timestamp.Equal(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)))
	assert.Equal(t, "golang", first.Metadata["subreddit"])
	assert.Equal(t, "12", first.Metadata["score"])

	assert.Equal(t, "Link post", items[1].Content)
}

func TestRedditClient_FetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"rate limited", http.StatusTooManyRequests, ``, "status 429"},
		{"malformed json", http.StatusOK, `{"data": [`, "malformed"},
		{"no listing", http.StatusOK, `{"error": 403}`, "no listing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewRedditClient(RedditConfig{BaseURL: srv.URL, Query: "x"}).Fetch(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
