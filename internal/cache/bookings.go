// Package cache holds the redis-backed read caches and counters.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Roles a booking list can be cached for.
const (
	ListCoworker = "coworker"
	ListHost     = "host"
)

// BookingLists caches paginated booking lists in one hash per role and user,
// so a single DEL drops every page.
type BookingLists struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewBookingLists returns nil when rdb is nil; every method of a nil cache is a no-op miss.
func NewBookingLists(rdb redis.Cmdable, ttl time.Duration) *BookingLists {
	if rdb == nil {
		return nil
	}
	return &BookingLists{rdb: rdb, ttl: ttl}
}

func ListKey(role string, userID uuid.UUID) string {
	return fmt.Sprintf("bookings:list:%s:%s", role, userID)
}

func PageField(limit, offset int) string {
	return fmt.Sprintf("%d:%d", limit, offset)
}

// Get decodes a cached page into dest and reports whether it was found.
func (c *BookingLists) Get(ctx context.Context, role string, userID uuid.UUID, limit, offset int, dest any) (bool, error) {
	if c == nil {
		return false, nil
	}
	raw, err := c.rdb.HGet(ctx, ListKey(role, userID), PageField(limit, offset)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode: %w", err)
	}
	return true, nil
}

func (c *BookingLists) Set(ctx context.Context, role string, userID uuid.UUID, limit, offset int, v any) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	key := ListKey(role, userID)
	if err := c.rdb.HSet(ctx, key, PageField(limit, offset), raw).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	if err := c.rdb.Expire(ctx, key, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache expire: %w", err)
	}
	return nil
}

// Invalidate drops the coworker list of coworkerID and the host list of hostID.
func (c *BookingLists) Invalidate(ctx context.Context, coworkerID, hostID uuid.UUID) error {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, 2)
	if coworkerID != uuid.Nil {
		keys = append(keys, ListKey(ListCoworker, coworkerID))
	}
	if hostID != uuid.Nil {
		keys = append(keys, ListKey(ListHost, hostID))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
