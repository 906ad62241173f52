package keyfold

import (
	"context"
	"errors"
	"sync"

	"github.com/keyfold/client-go/securebuf"
)

// UnlockOutcome identifies which vault an unlock attempt opened.
type UnlockOutcome string

const (
	// UnlockOutcomeReal means the master password matched.
	UnlockOutcomeReal UnlockOutcome = "real"
	// UnlockOutcomeDuress means the duress password matched. The session
	// presents the decoy vault.
	UnlockOutcomeDuress UnlockOutcome = "duress"
	// UnlockOutcomeInvalid means neither password matched. No session is
	// produced.
	UnlockOutcomeInvalid UnlockOutcome = "invalid"
)

// Session is an unlocked vault. It owns the derived key material for exactly
// one unlock attempt: keys live in locked memory and are wiped by [Session.Lock].
//
// A duress session behaves identically to a real one. The mode is available
// to the application through [Session.Mode], but nothing in the core's
// storage access pattern reveals it.
type Session struct {
	core       *Core
	id         string
	userID     string
	mode       UnlockOutcome
	kdfVersion int

	masterKey    *securebuf.Buffer
	integrityKey *securebuf.Buffer

	// anchorID addresses this session's integrity root in the trust
	// anchor store. It is derived from the integrity key, so the real and
	// duress vaults keep independent roots without the anchor store
	// revealing which is which.
	anchorID string

	mu         sync.Mutex
	memberKeys *MemberKeys
	locked     bool
}

// UserID returns the id of the user this session belongs to.
func (s *Session) UserID() string {
	return s.userID
}

// Mode reports whether this session opened the real or the decoy vault.
func (s *Session) Mode() UnlockOutcome {
	return s.mode
}

// Locked reports whether the session's keys have been wiped.
func (s *Session) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Lock wipes the session's key material and removes it from the core. The
// session is unusable afterwards; operations return ErrAuthenticationRequired.
// Lock is idempotent.
func (s *Session) Lock() {
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return
	}
	s.locked = true
	s.memberKeys = nil
	s.mu.Unlock()

	s.masterKey.Destroy()
	s.integrityKey.Destroy()
	s.core.unregisterSession(s.id)
}

// Logout locks the session and clears its persisted integrity root. The next
// unlock re-establishes the root on first verification, so tampering between
// logout and the next baseline is not detectable. Callers who want the root
// to survive should use [Session.Lock] alone.
func (s *Session) Logout(ctx context.Context) error {
	anchorID := s.anchorID
	s.Lock()
	return s.core.stores.Anchor.ClearRoot(ctx, anchorID)
}

// AttachMemberKeys gives the session custody of the member's hybrid keypair
// bundle for collection operations. The bundle is dropped on Lock.
func (s *Session) AttachMemberKeys(mk *MemberKeys) error {
	if mk == nil {
		return errors.New("member keys are nil")
	}
	if err := mk.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrAuthenticationRequired
	}
	s.memberKeys = mk
	return nil
}

// currentMemberKeys returns the attached keypair bundle, or
// ErrAuthenticationRequired when none is attached.
func (s *Session) currentMemberKeys() (*MemberKeys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked || s.memberKeys == nil {
		return nil, ErrAuthenticationRequired
	}
	return s.memberKeys, nil
}

// withMasterKey runs fn with the session's vault encryption key. The slice
// must not escape fn.
func (s *Session) withMasterKey(fn func(key []byte) error) error {
	err := s.masterKey.Use(fn)
	if errors.Is(err, securebuf.ErrDestroyed) {
		return ErrAuthenticationRequired
	}
	return err
}

// withIntegrityKey runs fn with the session's integrity HMAC key. The slice
// must not escape fn.
func (s *Session) withIntegrityKey(fn func(key []byte) error) error {
	err := s.integrityKey.Use(fn)
	if errors.Is(err, securebuf.ErrDestroyed) {
		return ErrAuthenticationRequired
	}
	return err
}
