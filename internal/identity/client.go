// Package identity mints and persists the installation-wide client id
// and the sliding-expiration session id.
//
// Each manager guarantees at most one initialization per instance:
// concurrent callers share the in-flight load. Nothing is coordinated
// across execution contexts; the storage substrate is last writer wins.
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"regexp"
	"sync"

	"github.com/filipexyz/beacon/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var uuidShape = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsUUID reports whether s has the canonical 8-4-4-4-12 shape.
func IsUUID(s string) bool {
	return uuidShape.MatchString(s)
}

// Generator produces a new client id.
type Generator struct {
	Name string
	New  func() (string, error)
}

// DefaultGenerators returns the generator chain, strongest first.
func DefaultGenerators() []Generator {
	return []Generator{
		{Name: "uuid", New: newRandomUUID},
		{Name: "crypto-bytes", New: newCryptoBytesUUID},
		{Name: "pseudo-random", New: newPseudoRandomUUID},
	}
}

func newRandomUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func newCryptoBytesUUID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return formatV4(b), nil
}

func newPseudoRandomUUID() (string, error) {
	var b [16]byte
	for i := range b {
		b[i] = byte(mrand.Intn(256))
	}
	return formatV4(b), nil
}

func formatV4(b [16]byte) string {
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// ClientOption configures a ClientManager.
type ClientOption func(*ClientManager)

// WithGenerators replaces the generator chain.
func WithGenerators(gens ...Generator) ClientOption {
	return func(m *ClientManager) {
		m.generators = gens
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(m *ClientManager) {
		m.logger = l
	}
}

// ClientManager owns the durable client id.
type ClientManager struct {
	store      storage.Store
	generators []Generator
	logger     *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	id        string
	persisted bool
}

// NewClientManager creates a manager over the durable storage area.
func NewClientManager(durable storage.Store, opts ...ClientOption) *ClientManager {
	m := &ClientManager{
		store:      durable,
		generators: DefaultGenerators(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "client_identity")
	return m
}

// GetOrCreateClientID returns the client id, loading or creating it on
// first use. It never fails; if storage is unavailable the id lives only
// in this process.
func (m *ClientManager) GetOrCreateClientID(ctx context.Context) string {
	if id := m.cached(); id != "" {
		return id
	}
	// Initialization is shared by every waiting caller and its result is
	// cached for the process, so one caller's cancellation must not decide it.
	initCtx := context.WithoutCancel(ctx)
	v, _, _ := m.group.Do(storage.KeyClientID, func() (any, error) {
		return m.initialize(initCtx), nil
	})
	return v.(string)
}

// Persisted reports whether the current id was written to or read from
// durable storage.
func (m *ClientManager) Persisted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.persisted
}

func (m *ClientManager) cached() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

func (m *ClientManager) initialize(ctx context.Context) string {
	if id := m.cached(); id != "" {
		return id
	}

	data, err := m.store.Get(ctx, storage.KeyClientID)
	switch {
	case err == nil && IsUUID(string(data)):
		m.set(string(data), true)
		return string(data)
	case err == nil:
		m.logger.Warn("stored client id is malformed, regenerating")
	case errors.Is(err, storage.ErrNotFound):
	default:
		id := m.generate()
		m.logger.Warn("storage unavailable, using process-local client id", "error", err)
		m.set(id, false)
		return id
	}

	id := m.generate()
	m.set(id, m.persist(ctx, id))
	return id
}

// Regenerate replaces the client id with a fresh one. Used for privacy
// resets.
func (m *ClientManager) Regenerate(ctx context.Context) string {
	id := m.generate()
	m.set(id, m.persist(ctx, id))
	m.logger.Info("client id regenerated")
	return id
}

// Clear removes the stored id; the next call creates a new one.
func (m *ClientManager) Clear(ctx context.Context) {
	m.mu.Lock()
	m.id = ""
	m.persisted = false
	m.mu.Unlock()

	if err := m.store.Remove(ctx, storage.KeyClientID); err != nil {
		m.logger.Warn("failed to remove client id", "error", err)
	}
}

func (m *ClientManager) set(id string, persisted bool) {
	m.mu.Lock()
	m.id = id
	m.persisted = persisted
	m.mu.Unlock()
}

func (m *ClientManager) persist(ctx context.Context, id string) bool {
	if err := m.store.Set(ctx, storage.KeyClientID, []byte(id)); err != nil {
		m.logger.Warn("failed to persist client id, keeping it in memory", "error", err)
		return false
	}
	return true
}

func (m *ClientManager) generate() string {
	for i, g := range m.generators {
		id, err := g.New()
		if err != nil || !IsUUID(id) {
			m.logger.Warn("client id generator unavailable", "generator", g.Name, "error", err)
			continue
		}
		if i > 0 {
			m.logger.Warn("client id generated with degraded generator", "generator", g.Name)
		}
		return id
	}
	// Every generator failed; the pseudo-random path cannot.
	id, _ := newPseudoRandomUUID()
	m.logger.Error("all client id generators failed, using fallback")
	return id
}
