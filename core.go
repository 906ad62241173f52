package keyfold

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keyfold/client-go/internal/crypto"
)

// Core is the entry point of the Keyfold client core. It owns the key
// derivation engine and the injected storage collaborators, and tracks the
// sessions it has produced so they can be locked together on Close.
//
// A Core holds no secret material itself; secrets live in the sessions. All
// methods are safe for concurrent use.
type Core struct {
	stores Stores
	engine *crypto.Engine
	logger zerolog.Logger

	unlockDelayMin time.Duration
	unlockDelayMax time.Duration

	rotationRetries   int
	rotationRetryBase time.Duration

	events *eventManager

	mu       sync.RWMutex
	sessions map[string]*Session // keyed by session id
	closed   bool
}

// New creates a Core around the given storage collaborators.
func New(stores Stores, opts ...Option) (*Core, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}

	cfg := &coreConfig{
		logger:            zerolog.Nop(),
		unlockDelayMin:    defaultUnlockDelayMin,
		unlockDelayMax:    defaultUnlockDelayMax,
		rotationRetryBase: defaultRotationRetryBase,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.unlockDelayMin < 0 || cfg.unlockDelayMax < cfg.unlockDelayMin {
		return nil, fmt.Errorf("invalid unlock delay bounds [%v, %v]", cfg.unlockDelayMin, cfg.unlockDelayMax)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return nil, err
	}

	return &Core{
		stores:            stores,
		engine:            engine,
		logger:            cfg.logger,
		unlockDelayMin:    cfg.unlockDelayMin,
		unlockDelayMax:    cfg.unlockDelayMax,
		rotationRetries:   cfg.rotationRetries,
		rotationRetryBase: cfg.rotationRetryBase,
		events:            newEventManager(),
		sessions:          make(map[string]*Session),
	}, nil
}

// buildEngine creates the derivation engine from the configured registry, or
// the default registry when none was supplied.
func buildEngine(cfg *coreConfig) (*crypto.Engine, error) {
	if cfg.kdfRegistry == nil {
		return crypto.NewEngine(), nil
	}

	registry := make(map[int]crypto.VersionParams, len(cfg.kdfRegistry))
	for version, vp := range cfg.kdfRegistry {
		registry[version] = crypto.VersionParams{
			Master: crypto.Params{
				Time:        vp.Master.Time,
				MemoryKiB:   vp.Master.MemoryKiB,
				Parallelism: vp.Master.Parallelism,
			},
			Integrity: crypto.Params{
				Time:        vp.Integrity.Time,
				MemoryKiB:   vp.Integrity.MemoryKiB,
				Parallelism: vp.Integrity.Parallelism,
			},
		}
	}
	return crypto.NewEngineWithRegistry(registry, cfg.kdfVersion)
}

// checkClosed returns ErrCoreClosed if the core has been closed.
func (c *Core) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCoreClosed
	}
	return nil
}

// registerSession adds a session to the core's tracking map.
func (c *Core) registerSession(s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCoreClosed
	}
	c.sessions[s.id] = s
	return nil
}

// unregisterSession removes a locked session from the tracking map.
func (c *Core) unregisterSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// Sessions returns the sessions currently tracked by this core.
func (c *Core) Sessions() []*Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		result = append(result, s)
	}
	return result
}

// Close locks every open session and releases the core. Further operations
// return ErrCoreClosed. Close is idempotent.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	// Lock outside the core mutex: Session.Lock calls back into
	// unregisterSession.
	for _, s := range sessions {
		s.Lock()
	}

	c.events.clear()
	return nil
}

func newSessionID() string {
	return uuid.NewString()
}
