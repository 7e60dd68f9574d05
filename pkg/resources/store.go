// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package resources

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/stacklok/toolhive-core/httperr"
)

// ErrNotFound is returned by Store.Get when no definition has the name.
var ErrNotFound = httperr.WithCode(errors.New("mcp server not found"), http.StatusNotFound)

// Store persists server definitions keyed by name.
type Store interface {
	// Get returns the definition or ErrNotFound.
	Get(ctx context.Context, name string) (*ServerDefinition, error)
	// Upsert validates and stores def, replacing any entry with the same name.
	Upsert(ctx context.Context, def *ServerDefinition) error
	// Delete removes the named definition. Deleting a missing name is not an error.
	Delete(ctx context.Context, name string) error
	// ListAll returns every definition sorted by name.
	ListAll(ctx context.Context) ([]*ServerDefinition, error)
}

// MemoryStore is a Store for single-instance deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*ServerDefinition
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*ServerDefinition),
		now:  time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, name string) (*ServerDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[name]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

// Upsert implements Store. The stored copy is detached from def.
func (s *MemoryStore) Upsert(_ context.Context, def *ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := def.Clone()
	Stamp(c, s.data[def.Name], s.now())
	s.data[def.Name] = c
	def.CreatedAt, def.UpdatedAt = c.CreatedAt, c.UpdatedAt
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, name)
	return nil
}

// ListAll implements Store.
func (s *MemoryStore) ListAll(_ context.Context) ([]*ServerDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ServerDefinition, 0, len(s.data))
	for _, d := range s.data {
		out = append(out, d.Clone())
	}
	SortByName(out)
	return out, nil
}

// SortByName orders definitions by name in place.
func SortByName(defs []*ServerDefinition) {
	slices.SortFunc(defs, func(a, b *ServerDefinition) int {
		return cmp.Compare(a.Name, b.Name)
	})
}
