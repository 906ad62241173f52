package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// integrityDomainTag extends the credential salt when deriving the integrity
// key, so the master key and the integrity key are never the same even for
// identical cost parameters.
const integrityDomainTag = "|integrity|v1"

// DefaultKDFVersion is the derivation version used for new credentials.
const DefaultKDFVersion = 1

// Params holds argon2id cost parameters.
type Params struct {
	// Time is the number of passes over memory.
	Time uint32
	// MemoryKiB is the memory cost in KiB.
	MemoryKiB uint32
	// Parallelism is the number of lanes.
	Parallelism uint8
}

// VersionParams pairs the parameters for master-key derivation with the
// lighter parameters used for the integrity key.
type VersionParams struct {
	Master    Params
	Integrity Params
}

// DefaultRegistry returns the derivation versions this build supports.
// Version 1 targets roughly 300ms on commodity hardware.
func DefaultRegistry() map[int]VersionParams {
	return map[int]VersionParams{
		1: {
			Master:    Params{Time: 3, MemoryKiB: 64 * 1024, Parallelism: 4},
			Integrity: Params{Time: 2, MemoryKiB: 16 * 1024, Parallelism: 4},
		},
	}
}

// Engine derives keys from passwords using versioned argon2id parameters.
// The version travels with the stored salt, so parameters can be raised in
// future versions without breaking existing credentials.
type Engine struct {
	registry       map[int]VersionParams
	defaultVersion int
}

// NewEngine creates an engine with the default parameter registry.
func NewEngine() *Engine {
	e, _ := NewEngineWithRegistry(DefaultRegistry(), DefaultKDFVersion)
	return e
}

// NewEngineWithRegistry creates an engine with a custom parameter registry.
// Tests use this to substitute cheap parameters.
func NewEngineWithRegistry(registry map[int]VersionParams, defaultVersion int) (*Engine, error) {
	if len(registry) == 0 {
		return nil, fmt.Errorf("empty parameter registry")
	}
	if _, ok := registry[defaultVersion]; !ok {
		return nil, fmt.Errorf("%w: default version %d not in registry", ErrUnknownKDFVersion, defaultVersion)
	}

	reg := make(map[int]VersionParams, len(registry))
	for v, p := range registry {
		reg[v] = p
	}

	return &Engine{registry: reg, defaultVersion: defaultVersion}, nil
}

// DefaultVersion returns the version used for new credentials.
func (e *Engine) DefaultVersion() int {
	return e.defaultVersion
}

// GenerateSalt returns a fresh random salt, base64-encoded for storage.
func (e *Engine) GenerateSalt() (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return ToBase64(salt), nil
}

// DeriveKey derives the 256-bit master key for a password and stored salt.
// Validation failures are cheap and happen before any memory-hard work.
func (e *Engine) DeriveKey(password []byte, saltB64 string, version int) ([]byte, error) {
	vp, salt, err := e.prepare(password, saltB64, version)
	if err != nil {
		return nil, err
	}

	return argon2.IDKey(password, salt, vp.Master.Time, vp.Master.MemoryKiB, vp.Master.Parallelism, AESKeySize), nil
}

// DeriveIntegrityKey derives the integrity HMAC key for a password and stored
// salt. It uses the same password with a domain-separated salt and lighter
// cost parameters, so integrity checks do not pay the full unlock cost.
func (e *Engine) DeriveIntegrityKey(password []byte, saltB64 string, version int) ([]byte, error) {
	vp, salt, err := e.prepare(password, saltB64, version)
	if err != nil {
		return nil, err
	}

	salt = append(salt, integrityDomainTag...)
	return argon2.IDKey(password, salt, vp.Integrity.Time, vp.Integrity.MemoryKiB, vp.Integrity.Parallelism, AESKeySize), nil
}

func (e *Engine) prepare(password []byte, saltB64 string, version int) (VersionParams, []byte, error) {
	vp, ok := e.registry[version]
	if !ok {
		return VersionParams{}, nil, fmt.Errorf("%w: %d", ErrUnknownKDFVersion, version)
	}

	if len(password) == 0 {
		return VersionParams{}, nil, ErrEmptyPassword
	}

	if saltB64 == "" {
		return VersionParams{}, nil, ErrInvalidSalt
	}
	salt, err := FromBase64(saltB64)
	if err != nil || len(salt) == 0 {
		return VersionParams{}, nil, ErrInvalidSalt
	}

	return vp, salt, nil
}

// CreateVerifier seals the fixed canary under key. The resulting blob is
// stored alongside the salt and proves key possession without revealing
// anything about the key.
func (e *Engine) CreateVerifier(key []byte) (string, error) {
	return Encrypt([]byte(VerifierCanary), key)
}

// VerifyKey reports whether key decrypts verifier to the expected canary.
// It never returns an error: a malformed verifier, a wrong key, and a
// mismatched canary all report false.
func (e *Engine) VerifyKey(verifier string, key []byte) bool {
	plaintext, err := Decrypt(verifier, key)
	if err != nil {
		return false
	}
	return hmac.Equal(plaintext, []byte(VerifierCanary))
}
