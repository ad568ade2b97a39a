package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ObiAU/mentionfeed/internal/models"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	seenKindID           = "id"
	seenKindConversation = "conversation"
)

// SQLStore keeps the feed and seen-set in two tables. Each save replaces the
// table contents inside a transaction; Commit replaces both in one.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// OpenSQL connects with the driver for dialect and verifies the connection.
// The caller should call Close when done.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dialect == DialectSQLite {
		// One connection keeps every statement on the same SQLite handle.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLStore{db: db, dialect: dialect, logger: logger}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Init(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS feed_items (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			source TEXT NOT NULL,
			document TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS seen_keys (
			kind TEXT NOT NULL,
			position INTEGER NOT NULL,
			seen_key TEXT NOT NULL,
			PRIMARY KEY (kind, seen_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_position ON feed_items(position)`,
		`CREATE INDEX IF NOT EXISTS idx_seen_position ON seen_keys(kind, position)`,
	}

	for _, q := range schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) models.State {
	state := models.EmptyState()

	feed, err := s.loadFeed(ctx)
	if err != nil {
		s.logger.Warn("failed to load feed, starting empty", "error", err)
	} else {
		state.Feed = feed
	}

	seen, err := s.loadSeen(ctx)
	if err != nil {
		s.logger.Warn("failed to load seen-set, starting empty", "error", err)
	} else {
		state.Seen = seen
	}

	return state
}

func (s *SQLStore) loadFeed(ctx context.Context) (models.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, document FROM feed_items ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	feed := models.Feed{}
	for rows.Next() {
		var id, document string
		if err := rows.Scan(&id, &document); err != nil {
			return nil, fmt.Errorf("scan feed item: %w", err)
		}
		var item models.Item
		if err := json.Unmarshal([]byte(document), &item); err != nil {
			s.logger.Warn("dropping corrupt feed row", "id", id, "error", err)
			continue
		}
		feed = append(feed, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed: %w", err)
	}
	return feed, nil
}

func (s *SQLStore) loadSeen(ctx context.Context) (models.SeenRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, seen_key FROM seen_keys ORDER BY kind, position`)
	if err != nil {
		return models.SeenRecord{}, fmt.Errorf("query seen keys: %w", err)
	}
	defer rows.Close()

	seen := models.NewSeenRecord()
	for rows.Next() {
		var kind, key string
		if err := rows.Scan(&kind, &key); err != nil {
			return models.SeenRecord{}, fmt.Errorf("scan seen key: %w", err)
		}
		switch kind {
		case seenKindID:
			seen.IDs.Add(key)
		case seenKindConversation:
			seen.Conversations.Add(key)
		}
	}
	if err := rows.Err(); err != nil {
		return models.SeenRecord{}, fmt.Errorf("iterate seen keys: %w", err)
	}
	return seen, nil
}

func (s *SQLStore) SaveFeed(ctx context.Context, feed models.Feed) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.replaceFeed(ctx, tx, prepareFeed(feed))
	})
}

func (s *SQLStore) SaveSeen(ctx context.Context, seen models.SeenRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.replaceSeen(ctx, tx, prepareSeen(seen))
	})
}

func (s *SQLStore) Commit(ctx context.Context, state models.State) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.replaceFeed(ctx, tx, prepareFeed(state.Feed)); err != nil {
			return err
		}
		return s.replaceSeen(ctx, tx, prepareSeen(state.Seen))
	})
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) replaceFeed(ctx context.Context, tx *sql.Tx, feed models.Feed) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_items`); err != nil {
		return fmt.Errorf("clear feed: %w", err)
	}

	insert := s.bind(`INSERT INTO feed_items (id, position, source, document) VALUES (?, ?, ?, ?)`)
	for i, item := range feed {
		document, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal feed item %s: %w", item.ID, err)
		}
		if _, err := tx.ExecContext(ctx, insert, item.ID, i, string(item.Source), string(document)); err != nil {
			return fmt.Errorf("insert feed item %s: %w", item.ID, err)
		}
	}
	return nil
}

func (s *SQLStore) replaceSeen(ctx context.Context, tx *sql.Tx, seen models.SeenRecord) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_keys`); err != nil {
		return fmt.Errorf("clear seen keys: %w", err)
	}

	insert := s.bind(`INSERT INTO seen_keys (kind, position, seen_key) VALUES (?, ?, ?)`)
	for kind, set := range map[string][]string{
		seenKindID:           seen.IDs.Keys(),
		seenKindConversation: seen.Conversations.Keys(),
	} {
		for i, key := range set {
			if _, err := tx.ExecContext(ctx, insert, kind, i, key); err != nil {
				return fmt.Errorf("insert seen %s %q: %w", kind, key, err)
			}
		}
	}
	return nil
}

// bind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) bind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
