package cache

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Pebble is the alternative cache backend on an embedded key-value store.
type Pebble struct {
	db     *pebble.DB
	logger *zap.Logger
}

// OpenPebble opens (or creates) a pebble database at the given path.
func OpenPebble(path string, logger *zap.Logger) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble cache: %w", err)
	}
	logger.Info("pebble cache opened", zap.String("path", path))
	return &Pebble{db: db, logger: logger}, nil
}

// Load reads the three entries. Missing keys hydrate as empty state.
func (c *Pebble) Load() (*State, error) {
	convs := c.get(keyConversations)
	msgs := c.get(keyMessages)
	active := c.get(keyActive)
	return decodeState(convs, msgs, active, c.logger), nil
}

func (c *Pebble) get(key string) []byte {
	value, closer, err := c.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	_ = closer.Close()
	return out
}

// Save writes the three entries in one synced batch.
func (c *Pebble) Save(st *State) error {
	convs, msgs, active, err := encodeState(st)
	if err != nil {
		return err
	}

	batch := c.db.NewBatch()
	defer func() { _ = batch.Close() }()

	for key, value := range map[string][]byte{
		keyConversations: convs,
		keyMessages:      msgs,
		keyActive:        active,
	} {
		if err := batch.Set([]byte(key), value, nil); err != nil {
			return fmt.Errorf("write cache entry %s: %w", key, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit cache batch: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *Pebble) Close() error {
	return c.db.Close()
}
