package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ObiAU/mentionfeed/internal/models"
	"github.com/tidwall/gjson"
)

const (
	defaultRedditURL       = "https://www.reddit.com"
	defaultRedditUserAgent = "mentionfeed/1.0 (+https://github.com/ObiAU/mentionfeed)"
)

// RedditConfig configures the Reddit search adapter.
type RedditConfig struct {
	BaseURL   string
	Query     string
	Limit     int
	UserAgent string
}

// RedditClient searches Reddit's public JSON listing for new posts matching
// a query.
type RedditClient struct {
	cfg    RedditConfig
	client *http.Client
}

func NewRedditClient(cfg RedditConfig) *RedditClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRedditURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultRedditUserAgent
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 25
	}
	return &RedditClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *RedditClient) Name() models.Source {
	return models.SourceReddit
}

func (c *RedditClient) Fetch(ctx context.Context) ([]models.Item, error) {
	q := url.Values{}
	q.Set("q", c.cfg.Query)
	q.Set("sort", "new")
	q.Set("limit", strconv.Itoa(c.cfg.Limit))
	q.Set("raw_json", "1")
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/search.json?" + q.Encode()

	body, err := getJSON(ctx, c.client, endpoint, c.cfg.UserAgent, "reddit")
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("reddit returned malformed json")
	}

	listing := gjson.GetBytes(body, "data.children")
	if !listing.IsArray() {
		return nil, fmt.Errorf("reddit response has no listing")
	}

	items := make([]models.Item, 0, len(listing.Array()))
	listing.ForEach(func(_, child gjson.Result) bool {
		post := child.Get("data")
		name := post.Get("name").String()
		permalink := post.Get("permalink").String()
		if name == "" || permalink == "" {
			return true
		}

		title := post.Get("title").String()
		content := title
		if selftext := strings.TrimSpace(post.Get("selftext").String()); selftext != "" {
			content = title + "\n\n" + selftext
		}

		created := post.Get("created_utc").Float()
		var ts models.Timestamp
		if created > 0 {
			ts = models.NewTimestamp(time.Unix(int64(created), 0))
		}

		items = append(items, models.Item{
			ID:        "reddit_" + name,
			Source:    models.SourceReddit,
			Author:    post.Get("author").String(),
			Title:     title,
			Content:   content,
			URL:       defaultRedditURL + permalink,
			Timestamp: ts,
			Metadata: map[string]string{
				"subreddit":    post.Get("subreddit").String(),
				"score":        strconv.FormatInt(post.Get("score").Int(), 10),
				"num_comments": strconv.FormatInt(post.Get("num_comments").Int(), 10),
			},
		})
		return true
	})

	return items, nil
}
