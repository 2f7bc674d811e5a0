// Package cache keeps the most recent stored sample in Redis so that
// /metrics/latest can skip the database round trip.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vesaa/hostpulse/internal/models"
)

// KeyPrefix namespaces every latest-sample key.
const KeyPrefix = "hostpulse:latest"

// KeyFor derives the key of one instance from its hostname and database file.
// Servers sharing a Redis therefore never read each other's samples.
func KeyFor(hostname, dbPath string) string {
	if abs, err := filepath.Abs(dbPath); err == nil {
		dbPath = abs
	}
	sum := sha256.Sum256([]byte(dbPath))
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, hostname, hex.EncodeToString(sum[:8]))
}

// Latest is a Redis-backed single-entry cache.
type Latest struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewLatest connects to Redis. The connection is lazy; call Check to verify it.
func NewLatest(addr, password string, db int, key string, ttl time.Duration) *Latest {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Latest{client: client, key: key, ttl: ttl}
}

// Key is the Redis key this cache reads and writes.
func (l *Latest) Key() string { return l.key }

// Check pings the server.
func (l *Latest) Check(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the client.
func (l *Latest) Close() error {
	return l.client.Close()
}

// Get returns the cached sample; ok is false on a miss.
func (l *Latest) Get(ctx context.Context) (*models.Sample, bool, error) {
	data, err := l.client.Get(ctx, l.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var s models.Sample
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("unmarshal sample: %w", err)
	}
	return &s, true, nil
}

// Offer stores s unless the cached sample is strictly newer, so the entry
// always tracks the maximum timestamp like the store does.
func (l *Latest) Offer(ctx context.Context, s *models.Sample) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, l.key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var cached models.Sample
			if json.Unmarshal(cur, &cached) == nil && cached.Timestamp.After(s.Timestamp) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, l.key, payload, l.ttl)
			return nil
		})
		return err
	}

	// Optimistic lock: retry a few times if another writer raced us.
	for i := 0; i < 3; i++ {
		err = l.client.Watch(ctx, txf, l.key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Reset replaces the entry with s unconditionally, or deletes it when s is
// nil. It is used to align the cache with the store at startup.
func (l *Latest) Reset(ctx context.Context, s *models.Sample) error {
	if s == nil {
		if err := l.client.Del(ctx, l.key).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		return nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	if err := l.client.Set(ctx, l.key, payload, l.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
