// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage selects the backend that holds the server catalog.
package storage

import (
	"context"
	"fmt"

	"github.com/stacklok/mcp-gateway/pkg/logger"
	"github.com/stacklok/mcp-gateway/pkg/resources"
	redisstore "github.com/stacklok/mcp-gateway/pkg/storage/redis"
	"github.com/stacklok/mcp-gateway/pkg/storage/sqlite"
)

// Type names a catalog backend.
type Type string

const (
	// TypeMemory keeps definitions in process memory.
	TypeMemory Type = "memory"
	// TypeSQLite persists definitions in a local SQLite file.
	TypeSQLite Type = "sqlite"
	// TypeRedis shares definitions between replicas through Redis.
	TypeRedis Type = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Type  Type
	Path  string
	Redis redisstore.Config
}

// Store is a resources.Store that owns releasable resources.
type Store interface {
	resources.Store
	Close() error
}

type memoryStore struct {
	*resources.MemoryStore
}

func (memoryStore) Close() error { return nil }

// NewServerStore opens the backend described by cfg. An empty type selects
// the in-memory store.
func NewServerStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return memoryStore{resources.NewMemoryStore()}, nil
	case TypeSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: sqlite store requires a path", ErrInvalidConfig)
		}
		db, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Debugf("server catalog stored in %s", cfg.Path)
		return sqlite.NewServerStore(db), nil
	case TypeRedis:
		client, err := redisstore.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return redisstore.NewServerStore(client, cfg.Redis.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", ErrInvalidConfig, cfg.Type)
	}
}
