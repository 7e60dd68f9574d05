// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pool keeps a bounded set of live backend sessions keyed by name.
//
// At most one connection exists per key. Concurrent misses for the same key
// share a single factory call, while misses for different keys build in
// parallel. The capacity is a soft ceiling: when every pooled connection is
// in use the pool still grows rather than blocking the caller.
package pool

import (
	"cmp"
	"context"
	"io"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/mcp-gateway/pkg/logger"
)

const (
	// DefaultMaxConnections is the capacity used when none is configured.
	DefaultMaxConnections = 20

	// healthCheckConcurrency bounds parallel health probes.
	healthCheckConcurrency = 8
)

// HealthChecker is implemented by connections that can report liveness.
// Connections that do not implement it are assumed healthy.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// Factory builds a new connection on a cache miss.
type Factory[C any] func(ctx context.Context) (C, error)

// EvictReason says why an entry left the pool.
type EvictReason string

const (
	// EvictExplicit is an eviction requested by a caller.
	EvictExplicit EvictReason = "explicit"
	// EvictCapacity is an idle entry removed to make room.
	EvictCapacity EvictReason = "capacity"
	// EvictUnhealthy is an entry that failed its health probe.
	EvictUnhealthy EvictReason = "unhealthy"
	// EvictShutdown is an entry removed by CloseAll.
	EvictShutdown EvictReason = "shutdown"
)

type entry[C any] struct {
	conn       C
	createdAt  time.Time
	lastUsedAt time.Time

	// refs counts callers holding the connection between Acquire and Release.
	refs int
}

// flightState tracks the callers waiting on one in-progress build for a key.
type flightState[C any] struct {
	waiters int
	done    bool
	entry   *entry[C]
}

// ConnectionInfo describes one pooled connection.
type ConnectionInfo struct {
	ServerName string    `json:"server_name"`
	InUse      bool      `json:"in_use"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Status is a point-in-time view of the pool.
type Status struct {
	ActiveCount    int              `json:"active_count"`
	MaxConnections int              `json:"max_connections"`
	Connections    []ConnectionInfo `json:"connections"`
}

// HealthReport summarises one health-check pass.
type HealthReport struct {
	Checked   int `json:"checked"`
	Evicted   int `json:"evicted"`
	Remaining int `json:"remaining"`
}

// Pool is a keyed connection pool. The zero value is not usable; use New.
type Pool[C any] struct {
	mu      sync.Mutex
	entries map[string]*entry[C]
	flights map[string]*flightState[C]
	// pending counts factories currently running so concurrent misses on
	// different keys account for the slots they are about to fill.
	pending int

	maxConnections int
	flight         singleflight.Group
	now            func() time.Time
	onEvict        func(key string, reason EvictReason)
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	now     func() time.Time
	onEvict func(key string, reason EvictReason)
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithEvictionHook registers a callback invoked after every eviction.
func WithEvictionHook(fn func(key string, reason EvictReason)) Option {
	return func(o *options) {
		o.onEvict = fn
	}
}

// New creates a pool holding up to maxConnections entries before it starts
// evicting idle ones. A non-positive value selects DefaultMaxConnections.
func New[C any](maxConnections int, opts ...Option) *Pool[C] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	return &Pool[C]{
		entries:        make(map[string]*entry[C]),
		flights:        make(map[string]*flightState[C]),
		maxConnections: maxConnections,
		now:            o.now,
		onEvict:        o.onEvict,
	}
}

// MaxConnections returns the configured soft capacity.
func (p *Pool[C]) MaxConnections() int {
	return p.maxConnections
}

// Acquire returns the pooled connection for key, marking it in use. On a
// miss the factory builds one; concurrent misses for the same key share that
// single call and all receive the same connection. A failed factory leaves
// no entry behind.
//
// The factory runs detached from the caller's cancellation, so a caller that
// gives up does not fail the others waiting on the same build. A connection
// finished after every waiter has given up is pooled idle.
func (p *Pool[C]) Acquire(ctx context.Context, key string, factory Factory[C]) (C, error) {
	var zero C
	for {
		p.mu.Lock()
		if e, ok := p.entries[key]; ok {
			e.refs++
			e.lastUsedAt = p.now()
			p.mu.Unlock()
			return e.conn, nil
		}
		fs, ok := p.flights[key]
		if !ok {
			fs = &flightState[C]{}
			p.flights[key] = fs
		}
		fs.waiters++
		// joining under the lock keeps the waiter count in step with the
		// insertion in create
		ch := p.flight.DoChan(key, func() (any, error) {
			return p.create(context.WithoutCancel(ctx), key, factory)
		})
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			p.abandon(key, fs)
			return zero, ctx.Err()
		case res := <-ch:
			if owner, _ := res.Val.(*flightState[C]); owner != fs {
				// the build finished before this caller registered with it
				p.abandon(key, fs)
				continue
			}
			if res.Err != nil {
				return zero, res.Err
			}
			return fs.entry.conn, nil
		}
	}
}

// abandon withdraws a caller that stopped waiting on a build.
func (p *Pool[C]) abandon(key string, fs *flightState[C]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !fs.done {
		fs.waiters--
		return
	}
	if e, ok := p.entries[key]; ok && e == fs.entry && e.refs > 0 {
		e.refs--
	}
}

// create runs factory and settles the build's waiters. The returned state
// identifies the waiters the result was delivered for.
func (p *Pool[C]) create(ctx context.Context, key string, factory Factory[C]) (*flightState[C], error) {
	victimKey, victim, hasVictim := p.reserve()
	if hasVictim {
		p.closeConn(victimKey, victim)
		logger.Infof("Evicted idle connection %s to make room", logger.Sanitize(victimKey))
		p.notify(victimKey, EvictCapacity)
	}

	conn, err := factory(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	fs, ok := p.flights[key]
	if !ok {
		fs = &flightState[C]{}
	}
	delete(p.flights, key)
	fs.done = true
	if err != nil {
		return fs, err
	}
	now := p.now()
	e := &entry[C]{
		conn:       conn,
		createdAt:  now,
		lastUsedAt: now,
		refs:       max(fs.waiters, 0),
	}
	fs.entry = e
	p.entries[key] = e
	logger.Infof("Created new pooled connection for %s", logger.Sanitize(key))
	return fs, nil
}

// reserve claims a slot for a new connection, removing the least recently
// used idle entry if the pool is at capacity. The removed connection is
// returned so it can be closed without holding the lock.
func (p *Pool[C]) reserve() (string, C, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending++

	var (
		victimKey string
		victim    *entry[C]
	)
	if len(p.entries)+p.pending > p.maxConnections {
		for k, e := range p.entries {
			if e.refs > 0 {
				continue
			}
			if victim == nil || e.lastUsedAt.Before(victim.lastUsedAt) {
				victimKey, victim = k, e
			}
		}
		if victim == nil {
			logger.Warnf("Connection pool full (%d), all connections in use", len(p.entries))
		} else {
			delete(p.entries, victimKey)
		}
	}

	if victim == nil {
		var zero C
		return "", zero, false
	}
	return victimKey, victim.conn, true
}

// Release drops one use of the connection for key. It stays pooled and goes
// idle once every Acquire has been matched by a Release.
func (p *Pool[C]) Release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		if e.refs > 0 {
			e.refs--
		}
		e.lastUsedAt = p.now()
	}
}

// Get returns the pooled connection for key without changing its state.
func (p *Pool[C]) Get(key string) (C, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		var zero C
		return zero, false
	}
	return e.conn, true
}

// Evict removes key and closes its connection. Close failures are logged.
// It reports whether an entry was present.
func (p *Pool[C]) Evict(key string) bool {
	return p.evict(key, EvictExplicit)
}

func (p *Pool[C]) evict(key string, reason EvictReason) bool {
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	p.closeConn(key, e.conn)
	p.notify(key, reason)
	return true
}

// HealthCheck probes every pooled connection and evicts the unhealthy ones.
// An entry replaced while its probe was running is left alone.
func (p *Pool[C]) HealthCheck(ctx context.Context) HealthReport {
	p.mu.Lock()
	snapshot := make(map[string]*entry[C], len(p.entries))
	for k, e := range p.entries {
		snapshot[k] = e
	}
	p.mu.Unlock()

	var (
		unhealthyMu sync.Mutex
		unhealthy   []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(healthCheckConcurrency)
	for key, e := range snapshot {
		checker, ok := any(e.conn).(HealthChecker)
		if !ok {
			continue
		}
		g.Go(func() error {
			if checker.IsHealthy(gctx) {
				return nil
			}
			unhealthyMu.Lock()
			unhealthy = append(unhealthy, key)
			unhealthyMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	evicted := 0
	for _, key := range unhealthy {
		p.mu.Lock()
		current, ok := p.entries[key]
		stale := ok && current == snapshot[key]
		if stale {
			delete(p.entries, key)
		}
		p.mu.Unlock()
		if !stale {
			continue
		}
		logger.Warnf("Evicting unhealthy connection: %s", logger.Sanitize(key))
		p.closeConn(key, current.conn)
		p.notify(key, EvictUnhealthy)
		evicted++
	}

	p.mu.Lock()
	remaining := len(p.entries)
	p.mu.Unlock()

	return HealthReport{
		Checked:   len(snapshot),
		Evicted:   evicted,
		Remaining: remaining,
	}
}

// CloseAll evicts every entry. The pool remains usable afterwards.
func (p *Pool[C]) CloseAll() {
	p.mu.Lock()
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	p.mu.Unlock()

	for _, k := range keys {
		p.evict(k, EvictShutdown)
	}
}

// Status returns the pool size, capacity and per-connection state, sorted
// by key.
func (p *Pool[C]) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := make([]ConnectionInfo, 0, len(p.entries))
	for k, e := range p.entries {
		conns = append(conns, ConnectionInfo{
			ServerName: k,
			InUse:      e.refs > 0,
			LastUsedAt: e.lastUsedAt,
			CreatedAt:  e.createdAt,
		})
	}
	slices.SortFunc(conns, func(a, b ConnectionInfo) int {
		return cmp.Compare(a.ServerName, b.ServerName)
	})

	return Status{
		ActiveCount:    len(p.entries),
		MaxConnections: p.maxConnections,
		Connections:    conns,
	}
}

// Len returns the number of pooled connections.
func (p *Pool[C]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (*Pool[C]) closeConn(key string, conn C) {
	closer, ok := any(conn).(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warnf("Error closing connection %s: %v", logger.Sanitize(key), err)
	}
}

func (p *Pool[C]) notify(key string, reason EvictReason) {
	if p.onEvict != nil {
		p.onEvict(key, reason)
	}
}
