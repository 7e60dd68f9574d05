// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/mcp-gateway/pkg/resources"
)

// ServerStore implements resources.Store on Redis. Each definition is a JSON
// string under <prefix>server:<name>; <prefix>servers is the name index.
type ServerStore struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

var _ resources.Store = (*ServerStore)(nil)

// NewServerStore creates a Redis-backed server catalog.
func NewServerStore(client redis.UniversalClient, keyPrefix string) *ServerStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &ServerStore{client: client, keyPrefix: keyPrefix, now: time.Now}
}

func (s *ServerStore) serverKey(name string) string {
	return s.keyPrefix + "server:" + name
}

func (s *ServerStore) indexKey() string {
	return s.keyPrefix + "servers"
}

// Close closes the Redis client.
func (s *ServerStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying client so other components, such as the
// rate limiter, can share the connection.
func (s *ServerStore) Client() redis.UniversalClient {
	return s.client
}

// Ping checks that Redis answers.
func (s *ServerStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get implements resources.Store.
func (s *ServerStore) Get(ctx context.Context, name string) (*resources.ServerDefinition, error) {
	data, err := s.client.Get(ctx, s.serverKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, resources.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server %s: %w", name, err)
	}
	var def resources.ServerDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode server %s: %w", name, err)
	}
	return &def, nil
}

// Upsert implements resources.Store.
func (s *ServerStore) Upsert(ctx context.Context, def *resources.ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	previous, err := s.Get(ctx, def.Name)
	if err != nil && !errors.Is(err, resources.ErrNotFound) {
		return err
	}
	resources.Stamp(def, previous, s.now().UTC())

	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode server %s: %w", def.Name, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.serverKey(def.Name), data, 0)
		pipe.SAdd(ctx, s.indexKey(), def.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store server %s: %w", def.Name, err)
	}
	return nil
}

// Delete implements resources.Store.
func (s *ServerStore) Delete(ctx context.Context, name string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.serverKey(name))
		pipe.SRem(ctx, s.indexKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete server %s: %w", name, err)
	}
	return nil
}

// ListAll implements resources.Store. Index members whose value has gone
// missing are skipped.
func (s *ServerStore) ListAll(ctx context.Context) ([]*resources.ServerDefinition, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	out := make([]*resources.ServerDefinition, 0, len(names))
	if len(names) == 0 {
		return out, nil
	}

	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.serverKey(n)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load servers: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var def resources.ServerDefinition
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, fmt.Errorf("failed to decode server %s: %w", names[i], err)
		}
		out = append(out, &def)
	}
	resources.SortByName(out)
	return out, nil
}
