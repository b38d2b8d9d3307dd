// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-seedvault.
//
// go-seedvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package secmem holds decrypted secrets in page-locked buffers for a
// bounded time.
//
// Every value is copied into its own locked mapping and given an absolute
// expiry. Reads past the expiry fail with types.ErrExpired and zero the
// buffer. A single background sweep zeroes expired entries that are never
// read again. Release, ReleaseAll and Close zero immediately.
package secmem

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

const (
	// DefaultTTL is how long a held value stays readable.
	DefaultTTL = 60 * time.Second

	// DefaultSweepInterval is how often expired entries are zeroed.
	DefaultSweepInterval = time.Second
)

// ErrClosed is returned by Hold after Close.
var ErrClosed = errors.New("secmem: guard closed")

// Handle identifies a held value. It carries no secret material.
type Handle string

// Config configures a Guard.
type Config struct {
	// TTL is the default hold duration. Zero selects DefaultTTL.
	TTL time.Duration

	// SweepInterval is the background sweep period. Zero selects
	// DefaultSweepInterval and a negative value disables the sweep.
	SweepInterval time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Logger records sweeps and lock failures. Defaults to discard.
	Logger logger.Logger

	// Inspect, when set, is called with the backing buffer of every entry
	// after it has been zeroed and before its memory is released.
	Inspect func(h Handle, backing []byte)
}

type buffer struct {
	data   []byte
	region []byte
	mapped bool
	locked bool
}

type entry struct {
	buf       *buffer
	owner     string
	expiresAt time.Time
}

// Guard is a table of held secrets. It is safe for concurrent use.
type Guard struct {
	ttl     time.Duration
	now     func() time.Time
	logger  logger.Logger
	inspect func(Handle, []byte)

	mu      sync.Mutex
	entries map[Handle]*entry
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// New creates a guard and starts its sweep.
func New(cfg Config) *Guard {
	g := &Guard{
		ttl:     cfg.TTL,
		now:     cfg.Clock,
		logger:  logger.OrDiscard(cfg.Logger),
		inspect: cfg.Inspect,
		entries: make(map[Handle]*entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	if g.now == nil {
		g.now = time.Now
	}

	interval := cfg.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if interval > 0 {
		go g.sweepLoop(interval)
	} else {
		close(g.done)
	}
	return g
}

// TTL returns the default hold duration.
func (g *Guard) TTL() time.Duration {
	return g.ttl
}

// Hold copies plaintext into a locked buffer that expires after the
// default TTL. The caller still owns and should zero plaintext.
func (g *Guard) Hold(plaintext []byte) (Handle, error) {
	return g.HoldFor(plaintext, g.ttl)
}

// HoldFor is Hold with an explicit duration.
func (g *Guard) HoldFor(plaintext []byte, ttl time.Duration) (Handle, error) {
	return g.hold("", plaintext, ttl)
}

// HoldAs is Hold for a value that only owner may read. See Owner.
func (g *Guard) HoldAs(owner string, plaintext []byte) (Handle, error) {
	return g.hold(owner, plaintext, g.ttl)
}

func (g *Guard) hold(owner string, plaintext []byte, ttl time.Duration) (Handle, error) {
	if len(plaintext) == 0 {
		return "", types.NewValidationError("plaintext", "must not be empty")
	}
	if ttl <= 0 {
		ttl = g.ttl
	}

	buf, err := allocate(len(plaintext))
	if err != nil {
		return "", err
	}
	copy(buf.data, plaintext)

	h := Handle(uuid.NewString())

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.wipe(h, buf)
		return "", ErrClosed
	}
	g.entries[h] = &entry{buf: buf, owner: owner, expiresAt: g.now().Add(ttl)}
	g.mu.Unlock()

	if !buf.locked {
		g.logger.Debug("secure memory held without page lock", logger.Int("size", len(plaintext)))
	}
	return h, nil
}

// Read returns a copy of the held value. A released, unknown or expired
// handle returns types.ErrExpired; an expired entry is zeroed first.
func (g *Guard) Read(h Handle) ([]byte, error) {
	g.mu.Lock()
	e, ok := g.entries[h]
	if !ok {
		g.mu.Unlock()
		return nil, types.ErrExpired
	}
	if !g.now().Before(e.expiresAt) {
		delete(g.entries, h)
		g.mu.Unlock()
		g.wipe(h, e.buf)
		return nil, types.ErrExpired
	}
	out := make([]byte, len(e.buf.data))
	copy(out, e.buf.data)
	g.mu.Unlock()
	return out, nil
}

// ExpiresAt returns the absolute expiry of a live handle.
func (g *Guard) ExpiresAt(h Handle) (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[h]
	if !ok || !g.now().Before(e.expiresAt) {
		return time.Time{}, types.ErrExpired
	}
	return e.expiresAt, nil
}

// Owner returns the owner a live handle was held for, empty for Hold and
// HoldFor.
func (g *Guard) Owner(h Handle) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[h]
	if !ok || !g.now().Before(e.expiresAt) {
		return "", types.ErrExpired
	}
	return e.owner, nil
}

// Extend pushes a live handle's expiry to now plus d. A non-positive d
// uses the default TTL.
func (g *Guard) Extend(h Handle, d time.Duration) error {
	if d <= 0 {
		d = g.ttl
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[h]
	if !ok {
		return types.ErrExpired
	}
	now := g.now()
	if !now.Before(e.expiresAt) {
		return types.ErrExpired
	}
	e.expiresAt = now.Add(d)
	return nil
}

// Release zeroes and removes a handle. It reports whether the handle was held.
func (g *Guard) Release(h Handle) bool {
	g.mu.Lock()
	e, ok := g.entries[h]
	if ok {
		delete(g.entries, h)
	}
	g.mu.Unlock()

	if ok {
		g.wipe(h, e.buf)
	}
	return ok
}

// ReleaseAll zeroes every held value and returns how many there were.
func (g *Guard) ReleaseAll() int {
	g.mu.Lock()
	entries := g.entries
	g.entries = make(map[Handle]*entry)
	g.mu.Unlock()

	for h, e := range entries {
		g.wipe(h, e.buf)
	}
	return len(entries)
}

// Len returns the number of held values, expired or not.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Sweep zeroes every expired entry and returns how many were removed.
func (g *Guard) Sweep() int {
	now := g.now()

	g.mu.Lock()
	expired := make(map[Handle]*entry)
	for h, e := range g.entries {
		if !now.Before(e.expiresAt) {
			expired[h] = e
			delete(g.entries, h)
		}
	}
	g.mu.Unlock()

	for h, e := range expired {
		g.wipe(h, e.buf)
	}
	if len(expired) > 0 {
		g.logger.Debug("secure memory sweep", logger.Int("expired", len(expired)))
	}
	return len(expired)
}

// Close stops the sweep and zeroes every held value. Hold fails afterwards.
func (g *Guard) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	select {
	case <-g.done:
	default:
		close(g.stop)
		<-g.done
	}
	g.ReleaseAll()
	return nil
}

func (g *Guard) sweepLoop(interval time.Duration) {
	defer close(g.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

func (g *Guard) wipe(h Handle, b *buffer) {
	clear(b.data)
	if g.inspect != nil {
		g.inspect(h, b.data)
	}
	if err := b.free(); err != nil {
		g.logger.Warn("release secure memory", logger.Error(err))
	}
}
