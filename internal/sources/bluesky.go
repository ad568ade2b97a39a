package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ObiAU/mentionfeed/internal/cache"
	"github.com/ObiAU/mentionfeed/internal/models"
	"github.com/gorilla/websocket"
)

const (
	defaultJetstreamURL = "wss://jetstream2.us-east.bsky.network/subscribe"
	postCollection      = "app.bsky.feed.post"
)

// BlueskyConfig configures the Bluesky adapter.
type BlueskyConfig struct {
	// JetstreamURL is the Jetstream WebSocket endpoint.
	JetstreamURL string

	// Keywords are matched against post text on word boundaries.
	Keywords []string

	// Langs restricts matches to posts tagged with one of these languages.
	// Empty means no language filter.
	Langs []string

	// Lookback is how far back the replay starts.
	Lookback time.Duration

	// Window bounds how long a single fetch may read from the socket.
	Window time.Duration

	// Limit caps the number of matched posts per fetch.
	Limit int
}

// BlueskyClient replays a recent window of the Jetstream firehose and keeps
// posts matching its keywords. Each Fetch connects with a cursor at
// now-Lookback and disconnects once events catch up with the moment the fetch
// started, so the result is finite.
type BlueskyClient struct {
	cfg     BlueskyConfig
	pattern *regexp.Regexp
	langs   map[string]struct{}
	dialer  *websocket.Dialer
	logger  *slog.Logger
	now     func() time.Time
}

func NewBlueskyClient(cfg BlueskyConfig, logger *slog.Logger) (*BlueskyClient, error) {
	if len(cfg.Keywords) == 0 {
		return nil, fmt.Errorf("bluesky: at least one keyword is required")
	}
	if cfg.JetstreamURL == "" {
		cfg.JetstreamURL = defaultJetstreamURL
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 15 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if logger == nil {
		logger = slog.Default()
	}

	escaped := make([]string, len(cfg.Keywords))
	for i, kw := range cfg.Keywords {
		escaped[i] = regexp.QuoteMeta(kw)
	}
	pattern, err := regexp.Compile(`(?i)\b(?:` + strings.Join(escaped, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("bluesky: compile keyword pattern: %w", err)
	}

	c := &BlueskyClient{
		cfg:     cfg,
		pattern: pattern,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
		now:     time.Now,
	}
	if len(cfg.Langs) > 0 {
		c.langs = make(map[string]struct{}, len(cfg.Langs))
		for _, l := range cfg.Langs {
			c.langs[l] = struct{}{}
		}
	}
	return c, nil
}

func (c *BlueskyClient) Name() models.Source {
	return models.SourceBluesky
}

func (c *BlueskyClient) buildURL(cursor int64) (string, error) {
	u, err := url.Parse(c.cfg.JetstreamURL)
	if err != nil {
		return "", fmt.Errorf("parse jetstream url: %w", err)
	}
	q := u.Query()
	q.Add("wantedCollections", postCollection)
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *BlueskyClient) Fetch(ctx context.Context) ([]models.Item, error) {
	started := c.now()
	wsURL, err := c.buildURL(started.Add(-c.cfg.Lookback).UnixMicro())
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial jetstream: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.cfg.Window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	startedUS := started.UnixMicro()
	var items []models.Item
	var events int

	for len(items) < c.cfg.Limit {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.logger.Debug("jetstream window elapsed", "events", events, "matched", len(items))
				break
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return nil, fmt.Errorf("read jetstream message: %w", err)
		}

		event, err := parseEvent(message)
		if err != nil {
			c.logger.Debug("skipping unparseable jetstream event", "error", err)
			continue
		}
		events++

		if item, ok := c.match(event); ok {
			items = append(items, item)
		}

		if event.TimeUS >= startedUS {
			break
		}
	}

	return items, nil
}

func (c *BlueskyClient) match(event *jetstreamEvent) (models.Item, bool) {
	if event.Kind != "commit" || event.Commit == nil {
		return models.Item{}, false
	}
	commit := event.Commit
	if commit.Collection != postCollection || commit.Operation != "create" || commit.Record == nil {
		return models.Item{}, false
	}

	record := commit.Record
	if c.langs != nil && !slices.ContainsFunc(record.Langs, func(l string) bool {
		_, ok := c.langs[l]
		return ok
	}) {
		return models.Item{}, false
	}
	if !c.pattern.MatchString(record.Text) {
		return models.Item{}, false
	}

	uri := fmt.Sprintf("at://%s/%s/%s", event.DID, commit.Collection, commit.RKey)
	conversation := uri
	if record.Reply != nil && record.Reply.Root.URI != "" {
		conversation = record.Reply.Root.URI
	}

	c.logger.Debug("matched post", "uri", uri, "text_preview", truncate(record.Text, 100))

	ts := models.ParseTimestamp(record.CreatedAt)
	if ts.IsZero() && event.TimeUS > 0 {
		ts = models.NewTimestamp(time.UnixMicro(event.TimeUS))
	}

	return models.Item{
		ID:             "bluesky_" + event.DID + "_" + commit.RKey,
		Source:         models.SourceBluesky,
		Author:         event.DID,
		Content:        record.Text,
		URL:            fmt.Sprintf("https://bsky.app/profile/%s/post/%s", event.DID, commit.RKey),
		Timestamp:      ts,
		ConversationID: conversation,
		Metadata: map[string]string{
			"uri": uri,
			"cid": commit.CID,
		},
	}, true
}

// PostFilter keeps at most one post per conversation and drops posts whose
// conversation was already surfaced by an earlier run. The earliest post of a
// conversation wins. Kept conversation keys are recorded.
func (c *BlueskyClient) PostFilter(items []models.Item, conversations *cache.Set) []models.Item {
	ordered := slices.Clone(items)
	slices.SortStableFunc(ordered, func(a, b models.Item) int {
		return a.Timestamp.Compare(b.Timestamp.Time)
	})

	kept := make([]models.Item, 0, len(ordered))
	batch := make(map[string]struct{})
	for _, item := range ordered {
		key := item.ConversationID
		if key == "" {
			kept = append(kept, item)
			continue
		}
		if conversations.Has(key) {
			continue
		}
		if _, dup := batch[key]; dup {
			continue
		}
		batch[key] = struct{}{}
		kept = append(kept, item)
	}

	for _, item := range kept {
		conversations.Add(item.ConversationID)
	}
	return kept
}

func parseEvent(data []byte) (*jetstreamEvent, error) {
	var event jetstreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if event.Commit != nil && event.Commit.Collection != postCollection {
		event.Commit.Record = nil
	}
	return &event, nil
}
