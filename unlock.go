package keyfold

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keyfold/client-go/internal/crypto"
	"github.com/keyfold/client-go/securebuf"
)

// Dummy duress material used when duress mode is not configured. The dummy
// verifier is a structurally valid AEAD blob of the same length as a real
// one, so the disabled path performs the same derivation and decryption work
// as the enabled path.
var (
	dummyDuressSalt     = crypto.ToBase64(bytes.Repeat([]byte{0x5a}, crypto.SaltSize))
	dummyDuressVerifier = crypto.ToBase64(make([]byte, crypto.AESNonceSize+len(crypto.VerifierCanary)+crypto.AESTagSize))
)

// UnlockResult is the outcome of an unlock attempt. A wrong password is a
// normal result, not an error: Outcome is UnlockOutcomeInvalid and Session is
// nil. Session is non-nil only for the real and duress outcomes.
type UnlockResult struct {
	Outcome UnlockOutcome
	Session *Session
}

// unlockCandidates holds the four derivations of one unlock attempt. Both
// credential legs always derive a vault key and an integrity key, whether or
// not duress mode is configured, so every attempt costs the same.
type unlockCandidates struct {
	realKey         []byte
	realIntegrity   []byte
	duressKey       []byte
	duressIntegrity []byte
}

func (u *unlockCandidates) wipe() {
	securebuf.Wipe(u.realKey)
	securebuf.Wipe(u.realIntegrity)
	securebuf.Wipe(u.duressKey)
	securebuf.Wipe(u.duressIntegrity)
}

// Unlock attempts to open a user's vault with one password.
//
// The attempt derives key candidates for both the real and the duress
// credential and verifies both, deciding the outcome only after all work is
// done. When duress mode is not configured, fixed dummy material stands in
// for the duress credential so the cost is unchanged. A small random delay is
// added after the decision. An observer of wall-clock time or storage access
// therefore cannot tell a real unlock, a duress unlock, a wrong password, and
// an account without duress mode apart.
//
// ctx is honored before derivation starts. Once started, the attempt runs to
// completion even if ctx is cancelled: an interrupted attempt must cost the
// same as a completed one. Callers may discard the result.
func (c *Core) Unlock(ctx context.Context, userID string, password []byte) (*UnlockResult, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, wrapCryptoError(crypto.ErrEmptyPassword)
	}

	profile, err := c.stores.Profiles.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Resolve the duress leg. Disabled duress derives against the dummy
	// credential; the verifier can never match, but the work is the same.
	duressEnabled := profile.DuressCredential != nil
	duressSalt := dummyDuressSalt
	duressVerifier := dummyDuressVerifier
	duressVersion := profile.MasterCredential.KDFVersion
	if duressEnabled {
		duressSalt = profile.DuressCredential.Salt
		duressVerifier = profile.DuressCredential.Verifier
		duressVersion = profile.DuressCredential.KDFVersion
	}

	// Phase 1: fire all four derivations before awaiting any, so their
	// cost overlaps. Each derivation runs to completion once started.
	var cand unlockCandidates
	var g errgroup.Group
	g.Go(func() (err error) {
		cand.realKey, err = c.engine.DeriveKey(password, profile.MasterCredential.Salt, profile.MasterCredential.KDFVersion)
		return err
	})
	g.Go(func() (err error) {
		cand.realIntegrity, err = c.engine.DeriveIntegrityKey(password, profile.MasterCredential.Salt, profile.MasterCredential.KDFVersion)
		return err
	})
	g.Go(func() (err error) {
		cand.duressKey, err = c.engine.DeriveKey(password, duressSalt, duressVersion)
		return err
	})
	g.Go(func() (err error) {
		cand.duressIntegrity, err = c.engine.DeriveIntegrityKey(password, duressSalt, duressVersion)
		return err
	})
	if err := g.Wait(); err != nil {
		cand.wipe()
		return nil, wrapCryptoError(err)
	}

	// Phase 2: verify both candidates unconditionally.
	var realOK, duressOK bool
	var vg errgroup.Group
	vg.Go(func() error {
		realOK = c.engine.VerifyKey(profile.MasterCredential.Verifier, cand.realKey)
		return nil
	})
	vg.Go(func() error {
		duressOK = c.engine.VerifyKey(duressVerifier, cand.duressKey)
		return nil
	})
	_ = vg.Wait() // verification reports through realOK/duressOK, never an error

	// Phase 3: decide last, then flatten residual branch timing.
	outcome := UnlockOutcomeInvalid
	switch {
	case realOK:
		outcome = UnlockOutcomeReal
	case duressEnabled && duressOK:
		outcome = UnlockOutcomeDuress
	}

	c.sleepUnlockDelay()

	if outcome == UnlockOutcomeInvalid {
		cand.wipe()
		return &UnlockResult{Outcome: UnlockOutcomeInvalid}, nil
	}

	key, integrity := cand.realKey, cand.realIntegrity
	version := profile.MasterCredential.KDFVersion
	if outcome == UnlockOutcomeDuress {
		key, integrity = cand.duressKey, cand.duressIntegrity
		version = duressVersion
		securebuf.Wipe(cand.realKey)
		securebuf.Wipe(cand.realIntegrity)
	} else {
		securebuf.Wipe(cand.duressKey)
		securebuf.Wipe(cand.duressIntegrity)
	}

	session, err := c.newSession(userID, outcome, version, key, integrity)
	if err != nil {
		securebuf.Wipe(key)
		securebuf.Wipe(integrity)
		return nil, err
	}

	return &UnlockResult{Outcome: outcome, Session: session}, nil
}

// newSession moves the winning key material into locked memory and registers
// the session. key and integrity are wiped as a side effect.
func (c *Core) newSession(userID string, mode UnlockOutcome, kdfVersion int, key, integrity []byte) (*Session, error) {
	// The anchor id must be derived before the buffer takes ownership and
	// wipes the source slice.
	anchorID := crypto.AnchorID(integrity, userID)

	masterBuf, err := securebuf.FromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("seal master key: %w", err)
	}
	integrityBuf, err := securebuf.FromBytes(integrity)
	if err != nil {
		masterBuf.Destroy()
		return nil, fmt.Errorf("seal integrity key: %w", err)
	}

	s := &Session{
		core:         c,
		id:           newSessionID(),
		userID:       userID,
		mode:         mode,
		kdfVersion:   kdfVersion,
		masterKey:    masterBuf,
		integrityKey: integrityBuf,
		anchorID:     anchorID,
	}

	if err := c.registerSession(s); err != nil {
		s.Lock()
		return nil, err
	}
	return s, nil
}

// sleepUnlockDelay sleeps for a random duration within the configured bounds.
// The delay is not cancellable; it is part of the unlock cost.
func (c *Core) sleepUnlockDelay() {
	span := c.unlockDelayMax - c.unlockDelayMin
	if span <= 0 {
		if c.unlockDelayMin > 0 {
			time.Sleep(c.unlockDelayMin)
		}
		return
	}

	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// The delay is defense in depth; losing the jitter is better
		// than failing the unlock.
		time.Sleep(c.unlockDelayMin)
		return
	}
	jitter := time.Duration(binary.BigEndian.Uint64(raw[:]) % uint64(span))
	time.Sleep(c.unlockDelayMin + jitter)
}
