package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPersistence snapshots a MemoryStore's whole tree into a redis
// key so rooms survive a server restart. Writes are room-sized JSON
// documents, which keeps the save path a single SET.
type RedisPersistence struct {
	rdb    *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisPersistence connects to redis and verifies the connection.
func NewRedisPersistence(ctx context.Context, addr, key string, logger *zap.Logger) (*RedisPersistence, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisPersistence{rdb: rdb, key: key, logger: logger}, nil
}

// Load restores the last snapshot into the store. A missing key is not
// an error; the store simply starts empty.
func (p *RedisPersistence) Load(ctx context.Context, m *MemoryStore) error {
	raw, err := p.rdb.Get(ctx, p.key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		// A corrupt snapshot must not take the server down; start empty.
		p.logger.Warn("discarding corrupt store snapshot", zap.Error(err))
		return nil
	}
	if err := m.Write(ctx, "", tree); err != nil {
		return err
	}
	p.logger.Info("store snapshot restored", zap.String("key", p.key), zap.Int("bytes", len(raw)))
	return nil
}

// Start subscribes to the store root and saves a snapshot on every
// change. The returned subscription stops persistence.
func (p *RedisPersistence) Start(m *MemoryStore) (Subscription, error) {
	return m.Subscribe("", func(value any) {
		raw, err := json.Marshal(value)
		if err != nil {
			p.logger.Error("snapshot marshal failed", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.rdb.Set(ctx, p.key, raw, 0).Err(); err != nil {
			p.logger.Warn("snapshot save failed", zap.Error(err))
		}
	})
}

// Close releases the redis connection.
func (p *RedisPersistence) Close() error {
	return p.rdb.Close()
}
