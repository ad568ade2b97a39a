// Package relay republishes new mentions on a NATS subject so other services
// can consume them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ObiAU/mentionfeed/internal/models"
	"github.com/nats-io/nats.go"
)

// Event is the payload published for each new item.
type Event struct {
	RunID       string      `json:"run_id,omitempty"`
	Item        models.Item `json:"item"`
	PublishedAt time.Time   `json:"published_at"`
}

type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Publisher sends one message per new item to <subject>.<source>.
type Publisher struct {
	nc      conn
	subject string
	logger  *slog.Logger
	now     func() time.Time
}

// Connect dials the NATS server at url.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("mentionfeed"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return newPublisher(nc, subject, logger), nil
}

func newPublisher(nc conn, subject string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, subject: subject, logger: logger, now: time.Now}
}

func (p *Publisher) Name() string { return "nats" }

func (p *Publisher) Notify(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}

	runID := models.RunID(ctx)

	var errs []error
	for _, item := range items {
		data, err := json.Marshal(Event{RunID: runID, Item: item, PublishedAt: p.now().UTC()})
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal %s: %w", item.ID, err))
			continue
		}

		subject := p.subject + "." + string(item.Source)
		if err := p.nc.Publish(subject, data); err != nil {
			errs = append(errs, fmt.Errorf("publish %s to %s: %w", item.ID, subject, err))
			continue
		}
	}

	if err := p.nc.FlushWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush nats: %w", err))
	}

	p.logger.Debug("published new items", "subject", p.subject, "count", len(items), "errors", len(errs))
	return errors.Join(errs...)
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
