package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/ObiAU/mentionfeed/internal/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxDigestItems = 10
	maxMessageLen  = 4096
	previewLength  = 280
)

// Summarizer produces the optional AI digest placed at the top of a message.
type Summarizer interface {
	Summarize(ctx context.Context, items []models.Item) (string, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot sends a digest of each run's new mentions to one chat.
type Bot struct {
	api        sender
	chatID     int64
	summarizer Summarizer
	logger     *slog.Logger
}

func NewBot(token string, chatID int64, summarizer Summarizer, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return newBot(api, chatID, summarizer, logger), nil
}

func newBot(api sender, chatID int64, summarizer Summarizer, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		api:        api,
		chatID:     chatID,
		summarizer: summarizer,
		logger:     logger,
	}
}

func (b *Bot) Name() string { return "telegram" }

func (b *Bot) Notify(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}

	var summary string
	if b.summarizer != nil {
		s, err := b.summarizer.Summarize(ctx, items)
		if err != nil {
			b.logger.Warn("digest summary failed, sending without it", "error", err)
		} else {
			summary = s
		}
	}

	var errs []error
	for _, text := range splitMessage(formatDigest(items, summary), maxMessageLen) {
		if err := b.sendMessage(text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func formatDigest(items []models.Item, summary string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔔 <b>%d new mention", len(items))
	if len(items) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("</b>\n")

	if summary != "" {
		fmt.Fprintf(&sb, "\n📝 %s\n", html.EscapeString(summary))
	}

	for i, item := range items {
		if i == maxDigestItems {
			fmt.Fprintf(&sb, "\n…and %d more\n", len(items)-maxDigestItems)
			break
		}
		fmt.Fprintf(&sb, "\n<b>%s</b> · %s\n%s\n🔗 <a href=\"%s\">View post</a>\n",
			html.EscapeString(item.Source.Label()),
			html.EscapeString(item.Author),
			html.EscapeString(item.Preview(previewLength)),
			html.EscapeString(item.URL))
	}
	return sb.String()
}

// splitMessage breaks text on line boundaries into chunks of at most limit
// bytes. Lines are short enough in practice that none needs cutting.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if current.Len() > 0 && current.Len()+len(line) > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func (b *Bot) sendMessage(text string) error {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("failed to send telegram message", "chat_id", b.chatID, "error", err)
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
