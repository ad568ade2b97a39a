package models

import (
	"errors"
	"fmt"
)

// Source identifies the upstream system an item was fetched from.
type Source string

const (
	SourceReddit  Source = "reddit"
	SourceGitHub  Source = "github"
	SourceBluesky Source = "bluesky"
)

// Label is the human readable name used in notifications.
func (s Source) Label() string {
	switch s {
	case SourceReddit:
		return "Reddit"
	case SourceGitHub:
		return "GitHub Discussions"
	case SourceBluesky:
		return "Bluesky"
	default:
		return string(s)
	}
}

// Emoji is the Slack emoji shortcode for the source.
func (s Source) Emoji() string {
	switch s {
	case SourceReddit:
		return ":reddit:"
	case SourceGitHub:
		return ":github:"
	case SourceBluesky:
		return ":butterfly:"
	default:
		return ""
	}
}

var ErrInvalidItem = errors.New("invalid item")

// Item is a single normalized mention.
type Item struct {
	ID        string    `json:"id"`
	Source    Source    `json:"source"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	URL       string    `json:"url"`
	Timestamp Timestamp `json:"timestamp"`

	Title          string            `json:"title,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fields every item must carry to enter the feed.
func (i Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if i.URL == "" {
		return fmt.Errorf("%w: %s has empty url", ErrInvalidItem, i.ID)
	}
	return nil
}

// Preview returns Content cut to at most n runes, with "..." appended when
// anything was cut.
func (i Item) Preview(n int) string {
	runes := []rune(i.Content)
	if n < 0 || len(runes) <= n {
		return i.Content
	}
	return string(runes[:n]) + "..."
}
