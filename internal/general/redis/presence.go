package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "dispatch:presence:driver:"

// NewClient connects to Redis and verifies connectivity.
func NewClient(ctx context.Context, cfg *config.Config, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port)),
		DB:   cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info(ctx, "redis_connected", "Connected to Redis", map[string]any{
		"host": cfg.Redis.Host,
		"db":   cfg.Redis.DB,
	})

	return client, nil
}

// PresenceStore tracks driver availability as TTL keys. A driver is online
// while its key exists; a missed heartbeat lets the key lapse on its own.
type PresenceStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPresenceStore constructs a PresenceStore with the given heartbeat TTL.
func NewPresenceStore(client *redis.Client, ttl time.Duration) *PresenceStore {
	return &PresenceStore{client: client, ttl: ttl}
}

var _ ports.PresenceStore = (*PresenceStore)(nil)

// Heartbeat refreshes the driver's presence key.
func (s *PresenceStore) Heartbeat(ctx context.Context, driverID string) error {
	err := s.client.Set(ctx, presenceKeyPrefix+driverID, time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
	if err != nil {
		return fmt.Errorf("set presence key: %w", err)
	}
	return nil
}

// MarkOffline drops the driver's presence key immediately.
func (s *PresenceStore) MarkOffline(ctx context.Context, driverID string) error {
	if err := s.client.Del(ctx, presenceKeyPrefix+driverID).Err(); err != nil {
		return fmt.Errorf("delete presence key: %w", err)
	}
	return nil
}

// IsOnline reports whether the driver has a live presence key.
func (s *PresenceStore) IsOnline(ctx context.Context, driverID string) (bool, error) {
	n, err := s.client.Exists(ctx, presenceKeyPrefix+driverID).Result()
	if err != nil {
		return false, fmt.Errorf("check presence key: %w", err)
	}
	return n > 0, nil
}

// OnlineIDs returns every driver id with a live presence key. SCAN keeps the
// walk incremental so a large fleet does not block the server.
func (s *PresenceStore) OnlineIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, presenceKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(presenceKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence keys: %w", err)
	}
	return ids, nil
}

// FilterOnline returns the subset of ids with a live presence key, preserving
// the input order.
func (s *PresenceStore) FilterOnline(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	checks := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		checks[i] = pipe.Exists(ctx, presenceKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("check presence keys: %w", err)
	}

	var online []string
	for i, cmd := range checks {
		if cmd.Val() > 0 {
			online = append(online, ids[i])
		}
	}
	return online, nil
}
