package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ObiAU/mentionfeed/internal/models"
)

// Mirror wraps a Store and copies every saved feed to a second path, the
// document the static site serves.
//
// The copy is staged before the wrapped store writes anything, so a mirror
// path that cannot be written fails the save with persisted state untouched.
// Once the wrapped store has committed, the save succeeds; a failure to move
// the staged copy into place is only logged.
type Mirror struct {
	Store
	path   string
	logger *slog.Logger
}

func WithMirror(store Store, path string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{Store: store, path: path, logger: logger}
}

func (m *Mirror) SaveFeed(ctx context.Context, feed models.Feed) error {
	tmp, err := m.stage(feed)
	if err != nil {
		return err
	}
	if err := m.Store.SaveFeed(ctx, feed); err != nil {
		os.Remove(tmp)
		return err
	}
	m.publish(tmp)
	return nil
}

func (m *Mirror) Commit(ctx context.Context, state models.State) error {
	tmp, err := m.stage(state.Feed)
	if err != nil {
		return err
	}
	if err := m.Store.Commit(ctx, state); err != nil {
		os.Remove(tmp)
		return err
	}
	m.publish(tmp)
	return nil
}

func (m *Mirror) stage(feed models.Feed) (string, error) {
	data, err := json.MarshalIndent(prepareFeed(feed), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal mirror feed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return "", fmt.Errorf("stage mirror feed %s: %w", m.path, err)
	}
	tmp, err := writeTemp(m.path, data)
	if err != nil {
		return "", fmt.Errorf("stage mirror feed %s: %w", m.path, err)
	}
	return tmp, nil
}

func (m *Mirror) publish(tmp string) {
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		m.logger.Warn("failed to update feed mirror", "path", m.path, "error", err)
	}
}
