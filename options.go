package keyfold

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	// defaultUnlockDelayMin is the lower bound of the random delay applied
	// after an unlock decision.
	defaultUnlockDelayMin = 1 * time.Millisecond
	// defaultUnlockDelayMax is the upper bound of the random delay applied
	// after an unlock decision.
	defaultUnlockDelayMax = 5 * time.Millisecond

	defaultRotationRetryBase = 500 * time.Millisecond
	defaultRotationRetryMax  = 10 * time.Second
)

// KDFParams holds argon2id cost parameters for one derivation purpose.
type KDFParams struct {
	// Time is the number of passes over memory.
	Time uint32
	// MemoryKiB is the memory cost in KiB.
	MemoryKiB uint32
	// Parallelism is the number of lanes.
	Parallelism uint8
}

// KDFVersionParams pairs the master-key derivation parameters with the
// lighter parameters used for the integrity key.
type KDFVersionParams struct {
	Master    KDFParams
	Integrity KDFParams
}

// coreConfig holds configuration for the core.
type coreConfig struct {
	logger            zerolog.Logger
	kdfRegistry       map[int]KDFVersionParams
	kdfVersion        int
	unlockDelayMin    time.Duration
	unlockDelayMax    time.Duration
	rotationRetries   int
	rotationRetryBase time.Duration
}

// Option configures the core.
type Option func(*coreConfig)

// WithLogger sets the structured logger. The core logs rotation lifecycle,
// compensating rollbacks and integrity mismatches; it never logs passwords,
// keys, or anything on the unlock path. Default: a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *coreConfig) {
		c.logger = logger
	}
}

// WithKDFRegistry replaces the key-derivation parameter registry and the
// version used for new credentials. Stored credentials referencing a version
// absent from the registry fail to derive, so registries must be grown, not
// swapped. Intended for tests and for staged parameter upgrades.
func WithKDFRegistry(registry map[int]KDFVersionParams, defaultVersion int) Option {
	return func(c *coreConfig) {
		c.kdfRegistry = registry
		c.kdfVersion = defaultVersion
	}
}

// WithUnlockDelay sets the bounds of the random delay applied after an unlock
// decision. The delay flattens residual timing differences between unlock
// outcomes. Default: 1ms to 5ms.
func WithUnlockDelay(min, max time.Duration) Option {
	return func(c *coreConfig) {
		c.unlockDelayMin = min
		c.unlockDelayMax = max
	}
}

// WithRotationRetries sets how many times a failed rotation commit is retried
// before giving up. Retries use exponential backoff with jitter and only help
// against transient storage failures; the commit itself is all-or-nothing
// either way. Default: 0 (no retries).
func WithRotationRetries(count int) Option {
	return func(c *coreConfig) {
		c.rotationRetries = count
	}
}

// WithRotationRetryBaseDelay sets the initial backoff delay between rotation
// retry attempts. Default: 500ms.
func WithRotationRetryBaseDelay(delay time.Duration) Option {
	return func(c *coreConfig) {
		c.rotationRetryBase = delay
	}
}
