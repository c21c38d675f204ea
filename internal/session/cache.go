package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"readable/internal/redis"
)

const (
	invalidateChannel = "readable:invalidate"
	snapshotTTL       = 30 * time.Minute
	snapshotKeyPrefix = "readable:session:"
)

type invalidateMessage struct {
	SessionID string `json:"session_id"`
	Origin    string `json:"origin"`
}

// snapshotCache keeps rendered session views in redis so any instance can serve
// a read-only view, and broadcasts deletions to the other instances.
type snapshotCache struct {
	client *redis.Client
	origin string
}

func newSnapshotCache(client *redis.Client, origin string) *snapshotCache {
	return &snapshotCache{client: client, origin: origin}
}

func snapshotKey(id string) string {
	return snapshotKeyPrefix + id
}

func (c *snapshotCache) store(ctx context.Context, view *View) {
	if c == nil || c.client == nil || view == nil {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		slog.Warn("session snapshot marshal failed", "session", view.ID, "error", err)
		return
	}
	if err := c.client.Set(ctx, snapshotKey(view.ID), data, snapshotTTL); err != nil {
		slog.Warn("session snapshot store failed", "session", view.ID, "error", err)
	}
}

func (c *snapshotCache) load(ctx context.Context, id string) (*View, bool) {
	if c == nil || c.client == nil || id == "" {
		return nil, false
	}
	raw, err := c.client.Get(ctx, snapshotKey(id))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			slog.Warn("session snapshot load failed", "session", id, "error", err)
		}
		return nil, false
	}
	var view View
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		slog.Warn("session snapshot decode failed", "session", id, "error", err)
		return nil, false
	}
	return &view, true
}

func (c *snapshotCache) invalidate(ctx context.Context, id string) {
	if c == nil || c.client == nil || id == "" {
		return
	}
	if err := c.client.Del(ctx, snapshotKey(id)); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		slog.Warn("session snapshot invalidate failed", "session", id, "error", err)
	}
}

func (c *snapshotCache) publish(ctx context.Context, id string) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(invalidateMessage{SessionID: id, Origin: c.origin})
	if err != nil {
		slog.Warn("session invalidation marshal failed", "error", err)
		return
	}
	if err := c.client.Publish(ctx, invalidateChannel, payload); err != nil {
		slog.Warn("session invalidation publish failed", "session", id, "error", err)
	}
}

// listen delivers invalidations published by other instances until ctx is done.
func (c *snapshotCache) listen(ctx context.Context, handler func(invalidateMessage)) error {
	if c == nil || c.client == nil || handler == nil {
		return nil
	}
	pubsub, err := c.client.Subscribe(ctx, invalidateChannel)
	if err != nil {
		return err
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					slog.Warn("session invalidation decode failed", "error", err)
					continue
				}
				if inv.Origin == c.origin {
					continue
				}
				handler(inv)
			}
		}
	}()
	return nil
}
