package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/opencoach/chatsync/internal/cache/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the default cache backend: a single kv table in a local
// SQLite file opened with WAL mode.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (or creates) the cache database and runs migrations.
func OpenSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("sqlite cache opened", zap.String("path", path))
	return &SQLite{db: db, logger: logger}, nil
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}

// Load reads the three entries. Missing rows hydrate as empty state.
func (c *SQLite) Load() (*State, error) {
	convs := c.get(keyConversations)
	msgs := c.get(keyMessages)
	active := c.get(keyActive)
	return decodeState(convs, msgs, active, c.logger), nil
}

func (c *SQLite) get(key string) []byte {
	var value []byte
	err := c.db.QueryRow(`SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	return value
}

// Save writes the three entries in one transaction.
func (c *SQLite) Save(st *State) error {
	convs, msgs, active, err := encodeState(st)
	if err != nil {
		return err
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin cache tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for key, value := range map[string][]byte{
		keyConversations: convs,
		keyMessages:      msgs,
		keyActive:        active,
	} {
		if _, err := tx.Exec(`
			INSERT INTO cache_entries (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now); err != nil {
			return fmt.Errorf("write cache entry %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache tx: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *SQLite) Close() error {
	return c.db.Close()
}
