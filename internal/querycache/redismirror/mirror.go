// Package redismirror lets multiple dicomnet server instances share
// cache invalidation: each instance keeps its own in-process
// querycache.Cache (C8 stays a local, capacity+TTL LRU per spec.md), but
// publishes an invalidation message over Redis pub/sub whenever a key is
// invalidated locally (a C-STORE lands for a study, an MPPS transition
// completes), so every other instance evicts the same key instead of
// serving a stale C-FIND result until its own TTL expires.
package redismirror

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dicomnet/dicomnet/querycache"
)

// Mirror fronts a local *querycache.Cache with cross-instance
// invalidation over a Redis channel.
type Mirror struct {
	cache   *querycache.Cache
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// New wraps cache with invalidation mirroring over client, using
// channel as the pub/sub topic. Call Subscribe to start applying
// invalidations published by other instances.
func New(cache *querycache.Cache, client *redis.Client, channel string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{cache: cache, client: client, channel: channel, logger: logger}
}

// Invalidate evicts key from the local cache and publishes the
// invalidation so peer instances evict it too.
func (m *Mirror) Invalidate(ctx context.Context, key string) {
	m.cache.Invalidate(key)
	if err := m.client.Publish(ctx, m.channel, key).Err(); err != nil {
		m.logger.Warn("failed to publish cache invalidation", "key", key, "error", err)
	}
}

// Subscribe runs until ctx is cancelled, applying every invalidation
// published by a peer instance to the local cache. Intended to run in
// its own goroutine for the lifetime of the server.
func (m *Mirror) Subscribe(ctx context.Context) error {
	sub := m.client.Subscribe(ctx, m.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			m.cache.Invalidate(msg.Payload)
		}
	}
}
