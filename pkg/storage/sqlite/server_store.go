// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/mcp-gateway/pkg/resources"
)

// ServerStore implements resources.Store using SQLite.
type ServerStore struct {
	wrapper *DB
	db      *sql.DB
	now     func() time.Time
}

var _ resources.Store = (*ServerStore)(nil)

// NewServerStore creates a SQLite-backed server catalog.
func NewServerStore(db *DB) *ServerStore {
	return &ServerStore{wrapper: db, db: db.DB(), now: time.Now}
}

// Close closes the underlying database connection.
func (s *ServerStore) Close() error {
	return s.wrapper.Close()
}

// Ping checks that the database file is still usable.
func (s *ServerStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get implements resources.Store.
func (s *ServerStore) Get(ctx context.Context, name string) (*resources.ServerDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT definition, created_at, updated_at FROM mcp_servers WHERE name = ?`, name)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, resources.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting server %s: %w", name, err)
	}
	return def, nil
}

// Upsert implements resources.Store. created_at survives updates.
func (s *ServerStore) Upsert(ctx context.Context, def *resources.ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	now := s.now().UTC()
	resources.Stamp(def, nil, now)

	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encoding server %s: %w", def.Name, err)
	}

	var createdAt string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO mcp_servers (name, transport, org_id, created_by, enabled, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			transport  = excluded.transport,
			org_id     = excluded.org_id,
			created_by = excluded.created_by,
			enabled    = excluded.enabled,
			definition = excluded.definition,
			updated_at = excluded.updated_at
		RETURNING created_at`,
		def.Name, string(def.Transport), def.OrgID, def.CreatedBy, def.IsEnabled(), string(body),
		formatTime(def.CreatedAt), formatTime(def.UpdatedAt),
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("upserting server %s: %w", def.Name, err)
	}

	if t, err := parseTime(createdAt); err == nil {
		def.CreatedAt = t
	}
	return nil
}

// Delete implements resources.Store.
func (s *ServerStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting server %s: %w", name, err)
	}
	return nil
}

// ListAll implements resources.Store.
func (s *ServerStore) ListAll(ctx context.Context) ([]*resources.ServerDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition, created_at, updated_at FROM mcp_servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	out := []*resources.ServerDefinition{}
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating servers: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(sc scanner) (*resources.ServerDefinition, error) {
	var body, createdAt, updatedAt string
	if err := sc.Scan(&body, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var def resources.ServerDefinition
	if err := json.Unmarshal([]byte(body), &def); err != nil {
		return nil, fmt.Errorf("decoding definition: %w", err)
	}
	var err error
	if def.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if def.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &def, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
