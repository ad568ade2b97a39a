package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ObiAU/mentionfeed/internal/models"
)

const (
	feedFileName = "feed.json"
	seenFileName = "seen.json"
)

// FileStore keeps the feed and seen-set as indented JSON documents in a
// directory. Writes go to a temp file in the same directory and are renamed
// into place, so readers never observe a torn document.
type FileStore struct {
	dir      string
	feedPath string
	seenPath string
	logger   *slog.Logger
}

func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if dir == "" {
		dir = "data"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:      dir,
		feedPath: filepath.Join(dir, feedFileName),
		seenPath: filepath.Join(dir, seenFileName),
		logger:   logger,
	}
}

// FeedPath returns the location of feed.json.
func (s *FileStore) FeedPath() string { return s.feedPath }

// SeenPath returns the location of seen.json.
func (s *FileStore) SeenPath() string { return s.seenPath }

func (s *FileStore) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	if _, err := os.Stat(s.feedPath); errors.Is(err, fs.ErrNotExist) {
		if err := s.SaveFeed(ctx, models.Feed{}); err != nil {
			return err
		}
		s.logger.Info("initialized empty feed", "path", s.feedPath)
	} else if err != nil {
		return fmt.Errorf("stat feed: %w", err)
	}

	if _, err := os.Stat(s.seenPath); errors.Is(err, fs.ErrNotExist) {
		if err := s.SaveSeen(ctx, models.NewSeenRecord()); err != nil {
			return err
		}
		s.logger.Info("initialized empty seen-set", "path", s.seenPath)
	} else if err != nil {
		return fmt.Errorf("stat seen-set: %w", err)
	}

	return nil
}

func (s *FileStore) Load(_ context.Context) models.State {
	state := models.EmptyState()

	if data, ok := s.read(s.feedPath, "feed"); ok {
		var feed models.Feed
		if err := json.Unmarshal(data, &feed); err != nil {
			s.logger.Warn("feed is corrupt, starting empty", "path", s.feedPath, "error", err)
		} else if feed != nil {
			state.Feed = feed
		}
	}

	if data, ok := s.read(s.seenPath, "seen-set"); ok {
		seen := models.NewSeenRecord()
		if err := json.Unmarshal(data, &seen); err != nil {
			s.logger.Warn("seen-set is corrupt, starting empty", "path", s.seenPath, "error", err)
		} else {
			seen.Normalize()
			state.Seen = seen
		}
	}

	return state
}

func (s *FileStore) read(path, what string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug(what+" not found, starting empty", "path", path)
		return nil, false
	}
	if err != nil {
		s.logger.Warn("failed to read "+what+", starting empty", "path", path, "error", err)
		return nil, false
	}
	return data, true
}

func (s *FileStore) SaveFeed(_ context.Context, feed models.Feed) error {
	tmp, err := s.stage(s.feedPath, prepareFeed(feed))
	if err != nil {
		return fmt.Errorf("save feed: %w", err)
	}
	if err := os.Rename(tmp, s.feedPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save feed: %w", err)
	}
	return nil
}

func (s *FileStore) SaveSeen(_ context.Context, seen models.SeenRecord) error {
	tmp, err := s.stage(s.seenPath, prepareSeen(seen))
	if err != nil {
		return fmt.Errorf("save seen-set: %w", err)
	}
	if err := os.Rename(tmp, s.seenPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save seen-set: %w", err)
	}
	return nil
}

// Commit stages both documents before renaming either, so an encoding or
// disk-full failure leaves the previous state untouched. If the seen-set
// cannot be moved into place after the feed was, the previous feed is put
// back.
func (s *FileStore) Commit(_ context.Context, state models.State) error {
	feedTmp, err := s.stage(s.feedPath, prepareFeed(state.Feed))
	if err != nil {
		return fmt.Errorf("stage feed: %w", err)
	}
	seenTmp, err := s.stage(s.seenPath, prepareSeen(state.Seen))
	if err != nil {
		os.Remove(feedTmp)
		return fmt.Errorf("stage seen-set: %w", err)
	}

	previous, err := os.ReadFile(s.feedPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Remove(feedTmp)
		os.Remove(seenTmp)
		return fmt.Errorf("read previous feed: %w", err)
	}

	if err := os.Rename(feedTmp, s.feedPath); err != nil {
		os.Remove(feedTmp)
		os.Remove(seenTmp)
		return fmt.Errorf("replace feed: %w", err)
	}
	if err := os.Rename(seenTmp, s.seenPath); err != nil {
		os.Remove(seenTmp)
		if restoreErr := s.restoreFeed(previous); restoreErr != nil {
			s.logger.Error("failed to restore previous feed", "path", s.feedPath, "error", restoreErr)
		}
		return fmt.Errorf("replace seen-set: %w", err)
	}
	return nil
}

// restoreFeed puts back the feed document read before a commit. A nil
// document means there was none.
func (s *FileStore) restoreFeed(previous []byte) error {
	if previous == nil {
		return os.Remove(s.feedPath)
	}
	tmp, err := writeTemp(s.feedPath, previous)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, s.feedPath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// stage writes v as indented JSON to a temp file next to path and returns the
// temp file's name.
func (s *FileStore) stage(path string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return writeTemp(path, data)
}

func writeTemp(path string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}
