// Package slack posts new mentions to a Slack incoming webhook.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ObiAU/mentionfeed/internal/models"
	"github.com/slack-go/slack"
)

const previewLength = 500

// Notifier posts one webhook message per item, pausing between posts to
// stay under Slack's rate limit.
type Notifier struct {
	webhookURL string
	channel    string
	delay      time.Duration
	logger     *slog.Logger
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewNotifier returns a notifier for webhookURL. channel overrides the
// webhook's default channel when set.
func NewNotifier(webhookURL, channel string, delay time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		webhookURL: webhookURL,
		channel:    channel,
		delay:      delay,
		logger:     logger,
		post:       slack.PostWebhookContext,
	}
}

func (n *Notifier) Name() string { return "slack" }

func (n *Notifier) Notify(ctx context.Context, items []models.Item) error {
	if n.webhookURL == "" {
		n.logger.Info("skipping slack post, no webhook configured")
		return nil
	}
	if len(items) == 0 {
		return nil
	}

	n.logger.Info("posting new items to slack", "count", len(items))

	var errs []error
	for i, item := range items {
		if i > 0 && n.delay > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(append(errs, ctx.Err())...)
			case <-time.After(n.delay):
			}
		}

		if err := n.post(ctx, n.webhookURL, n.message(item)); err != nil {
			n.logger.Error("slack post failed", "id", item.ID, "error", err)
			errs = append(errs, fmt.Errorf("post %s: %w", item.ID, err))
			continue
		}
		n.logger.Debug("posted to slack", "id", item.ID, "source", item.Source, "channel", n.channel)
	}
	return errors.Join(errs...)
}

func (n *Notifier) message(item models.Item) *slack.WebhookMessage {
	label := item.Source.Label()

	header := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("%s *New %s mention*", item.Source.Emoji(), label), false, false),
		nil, nil,
	)
	fields := slack.NewSectionBlock(nil, []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, "*Author:*\n"+item.Author, false, false),
		slack.NewTextBlockObject(slack.MarkdownType, "*Source:*\n"+label, false, false),
	}, nil)
	body := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, item.Preview(previewLength), false, false),
		nil, nil,
	)
	link := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("<%s|View post>", item.URL), false, false),
		nil, nil,
	)

	return &slack.WebhookMessage{
		Channel: n.channel,
		Text:    fmt.Sprintf("New %s post from %s", label, item.Author),
		Blocks:  &slack.Blocks{BlockSet: []slack.Block{header, fields, body, link}},
	}
}
