// Package storage persists the feed and the seen-set between runs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ObiAU/mentionfeed/internal/cache"
	"github.com/ObiAU/mentionfeed/internal/models"
)

// ErrUnsupportedDSN is returned by Open for a database URL it cannot route.
var ErrUnsupportedDSN = errors.New("unsupported storage dsn")

// Store is the persistence contract the aggregator consumes. Documents are
// replaced whole; there is a single writer per run.
type Store interface {
	// Init creates the backing storage if needed and persists empty documents
	// when none exist. It is safe to call on every start.
	Init(ctx context.Context) error

	// Load never fails: missing or corrupt data is logged and replaced with
	// empty defaults.
	Load(ctx context.Context) models.State

	// SaveFeed sorts and caps the feed before writing it.
	SaveFeed(ctx context.Context, feed models.Feed) error

	// SaveSeen caps both key lists before writing them.
	SaveSeen(ctx context.Context, seen models.SeenRecord) error

	// Commit writes feed and seen-set together.
	Commit(ctx context.Context, state models.State) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// DataDir holds feed.json and seen.json for the file backend.
	DataDir string

	// DatabaseURL selects a SQL backend when set: sqlite://path or
	// postgres://... An empty value selects the file backend.
	DatabaseURL string

	// MirrorPath, when set, receives a copy of every committed feed.
	MirrorPath string

	// ReadOnly skips Init and the mirror, so no documents or schema are
	// written.
	ReadOnly bool
}

// Open builds the configured backend and runs Init on it unless
// cfg.ReadOnly is set.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store Store
		err   error
	)
	switch dsn := cfg.DatabaseURL; {
	case dsn == "":
		store = NewFileStore(cfg.DataDir, logger)
	case strings.HasPrefix(dsn, "file://"):
		store = NewFileStore(strings.TrimPrefix(dsn, "file://"), logger)
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		store, err = OpenSQL(ctx, DialectSQLite, filepath.Clean(path), logger)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		store, err = OpenSQL(ctx, DialectPostgres, dsn, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDSN, redact(dsn))
	}
	if err != nil {
		return nil, err
	}

	if cfg.ReadOnly {
		return store, nil
	}

	if cfg.MirrorPath != "" {
		store = WithMirror(store, cfg.MirrorPath, logger)
	}

	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return store, nil
}

// prepareFeed returns a sorted, capped copy of feed.
func prepareFeed(feed models.Feed) models.Feed {
	out := feed.Clone()
	out.Sort()
	return out.Trim(models.MaxFeedItems)
}

// prepareSeen returns a copy of seen capped at models.MaxSeenKeys whatever
// capacity the caller's sets were built with.
func prepareSeen(seen models.SeenRecord) models.SeenRecord {
	return models.SeenRecord{
		IDs:           cache.FromSlice(models.MaxSeenKeys, keysOf(seen.IDs)),
		Conversations: cache.FromSlice(models.MaxSeenKeys, keysOf(seen.Conversations)),
	}
}

func keysOf(s *cache.Set) []string {
	if s == nil {
		return nil
	}
	return s.Keys()
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		if j := strings.Index(dsn, "://"); j >= 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}
