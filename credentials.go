package keyfold

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/keyfold/client-go/internal/crypto"
	"github.com/keyfold/client-go/securebuf"
)

// MinPasswordLength is the minimum accepted length, in bytes, for master and
// duress passwords.
const MinPasswordLength = 8

// validatePasswordStrength applies the cheap checks that run before any
// derivation work.
func validatePasswordStrength(password []byte) error {
	if len(password) == 0 {
		return &WeakSecretError{Reason: "password must not be empty"}
	}
	if len(password) < MinPasswordLength {
		return &WeakSecretError{Reason: fmt.Sprintf("password must be at least %d characters", MinPasswordLength)}
	}
	return nil
}

// Enroll creates the master credential for a new user: a fresh random salt,
// the current derivation version, and a verifier proving possession of the
// derived key. It fails with ErrProfileExists if the user already has
// credentials.
func (c *Core) Enroll(ctx context.Context, userID string, password []byte) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if userID == "" {
		return errors.New("user id must not be empty")
	}
	if err := validatePasswordStrength(password); err != nil {
		return err
	}

	_, err := c.stores.Profiles.Profile(ctx, userID)
	if err == nil {
		return ErrProfileExists
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return err
	}

	cred, key, err := c.buildCredential(password)
	if err != nil {
		return err
	}
	securebuf.Wipe(key)

	return c.stores.Profiles.SaveCredentials(ctx, userID, cred)
}

// buildCredential generates a salt, derives the key at the engine's default
// version and seals a verifier. The derived key is returned so callers that
// need it (password change re-encryption) avoid a second derivation; they
// own wiping it.
func (c *Core) buildCredential(password []byte) (MasterCredentialRecord, []byte, error) {
	salt, err := c.engine.GenerateSalt()
	if err != nil {
		return MasterCredentialRecord{}, nil, err
	}

	version := c.engine.DefaultVersion()
	key, err := c.engine.DeriveKey(password, salt, version)
	if err != nil {
		return MasterCredentialRecord{}, nil, wrapCryptoError(err)
	}

	verifier, err := c.engine.CreateVerifier(key)
	if err != nil {
		securebuf.Wipe(key)
		return MasterCredentialRecord{}, nil, wrapCryptoError(err)
	}

	return MasterCredentialRecord{Salt: salt, Verifier: verifier, KDFVersion: version}, key, nil
}

// ChangeMasterPassword replaces a user's master credential and re-encrypts
// the vault under the new derived key.
//
// Only rows that decrypt under the old key are rewritten; decoy rows belong
// to the duress key and are carried over untouched. The new credential and
// the rewritten items are committed in one atomic operation, after which the
// integrity root moves to the new credential's anchor. Every open session for
// the user is locked: their keys are stale.
func (c *Core) ChangeMasterPassword(ctx context.Context, userID string, oldPassword, newPassword []byte) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if err := validatePasswordStrength(newPassword); err != nil {
		return err
	}
	if bytes.Equal(oldPassword, newPassword) {
		return &WeakSecretError{Reason: "new password must differ from the current password"}
	}

	profile, err := c.stores.Profiles.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if err := profile.Validate(); err != nil {
		return err
	}

	oldKey, err := c.engine.DeriveKey(oldPassword, profile.MasterCredential.Salt, profile.MasterCredential.KDFVersion)
	if err != nil {
		return wrapCryptoError(err)
	}
	defer securebuf.Wipe(oldKey)

	if !c.engine.VerifyKey(profile.MasterCredential.Verifier, oldKey) {
		return ErrAuthenticationRequired
	}

	// The new password must not collide with the duress password, or the
	// two vaults would become distinguishable by which verifier matches.
	if profile.DuressCredential != nil {
		collides, err := c.passwordMatchesCredential(newPassword, profile.DuressCredential.Salt,
			profile.DuressCredential.KDFVersion, profile.DuressCredential.Verifier)
		if err != nil {
			return err
		}
		if collides {
			return &WeakSecretError{Reason: "new password must differ from the duress password"}
		}
	}

	cred, newKey, err := c.buildCredential(newPassword)
	if err != nil {
		return err
	}
	defer securebuf.Wipe(newKey)

	rewritten, err := c.rewrapVaultItems(ctx, userID, oldKey, newKey)
	if err != nil {
		return err
	}

	if err := c.stores.Profiles.CommitPasswordChange(ctx, userID, cred, rewritten); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", userID).
		Int("items", len(rewritten)).
		Int("kdf_version", cred.KDFVersion).
		Msg("master password changed")

	c.lockUserSessions(userID)

	return c.moveIntegrityAnchor(ctx, userID, oldPassword, profile.MasterCredential, newPassword, cred)
}

// rewrapVaultItems decrypts every row it can with oldKey and re-encrypts it
// with newKey. Rows that do not decrypt belong to the other credential and
// are left alone.
func (c *Core) rewrapVaultItems(ctx context.Context, userID string, oldKey, newKey []byte) ([]VaultItemRecord, error) {
	records, err := c.stores.Vault.Items(ctx, userID)
	if err != nil {
		return nil, err
	}

	rewritten := make([]VaultItemRecord, 0, len(records))
	for _, record := range records {
		plaintext, err := crypto.Decrypt(record.EncryptedData, oldKey)
		if err != nil {
			continue
		}

		blob, err := crypto.Encrypt(plaintext, newKey)
		securebuf.Wipe(plaintext)
		if err != nil {
			return nil, wrapCryptoError(err)
		}
		rewritten = append(rewritten, VaultItemRecord{ID: record.ID, EncryptedData: blob})
	}
	return rewritten, nil
}

// moveIntegrityAnchor recomputes the integrity root under the new credential
// and retires the old credential's anchor entry.
func (c *Core) moveIntegrityAnchor(ctx context.Context, userID string, oldPassword []byte, oldCred MasterCredentialRecord, newPassword []byte, newCred MasterCredentialRecord) error {
	oldIntegrity, err := c.engine.DeriveIntegrityKey(oldPassword, oldCred.Salt, oldCred.KDFVersion)
	if err != nil {
		return wrapCryptoError(err)
	}
	oldAnchor := crypto.AnchorID(oldIntegrity, userID)
	securebuf.Wipe(oldIntegrity)

	newIntegrity, err := c.engine.DeriveIntegrityKey(newPassword, newCred.Salt, newCred.KDFVersion)
	if err != nil {
		return wrapCryptoError(err)
	}
	defer securebuf.Wipe(newIntegrity)
	newAnchor := crypto.AnchorID(newIntegrity, userID)

	records, err := c.stores.Vault.Items(ctx, userID)
	if err != nil {
		return err
	}
	root := computeVaultRoot(records, newIntegrity)

	if err := c.stores.Anchor.SetRoot(ctx, newAnchor, root, 0); err != nil {
		return err
	}
	return c.stores.Anchor.ClearRoot(ctx, oldAnchor)
}

// passwordMatchesCredential derives password against a stored credential and
// reports whether it verifies. Used for the distinctness checks between the
// master and duress passwords.
func (c *Core) passwordMatchesCredential(password []byte, salt string, version int, verifier string) (bool, error) {
	key, err := c.engine.DeriveKey(password, salt, version)
	if err != nil {
		return false, wrapCryptoError(err)
	}
	defer securebuf.Wipe(key)
	return c.engine.VerifyKey(verifier, key), nil
}

// lockUserSessions locks every open session belonging to userID.
func (c *Core) lockUserSessions(userID string) {
	c.mu.RLock()
	stale := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s.userID == userID {
			stale = append(stale, s)
		}
	}
	c.mu.RUnlock()

	for _, s := range stale {
		s.Lock()
	}
}

// EnableDuress configures a duress password for the session's user. The
// duress password unlocks a decoy vault that is indistinguishable, in timing
// and storage access, from the real one.
//
// The session must have opened the real vault. The duress password must
// differ from the master password; equality is rejected with ErrWeakSecret
// before anything is stored. Enabling duress while it is already enabled
// replaces the configuration, and decoy items sealed under the previous
// duress key remain behind as undecryptable rows.
//
// Decoy items are seeded by unlocking with the duress password and creating
// items in that session.
func (c *Core) EnableDuress(ctx context.Context, session *Session, duressPassword []byte) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if session == nil || session.Locked() || session.Mode() != UnlockOutcomeReal {
		return ErrAuthenticationRequired
	}
	if err := validatePasswordStrength(duressPassword); err != nil {
		return err
	}

	profile, err := c.stores.Profiles.Profile(ctx, session.userID)
	if err != nil {
		return err
	}
	if err := profile.Validate(); err != nil {
		return err
	}

	matches, err := c.passwordMatchesCredential(duressPassword, profile.MasterCredential.Salt,
		profile.MasterCredential.KDFVersion, profile.MasterCredential.Verifier)
	if err != nil {
		return err
	}
	if matches {
		return &WeakSecretError{Reason: "duress password must differ from the master password"}
	}

	salt, err := c.engine.GenerateSalt()
	if err != nil {
		return err
	}
	if salt == profile.MasterCredential.Salt {
		return errors.New("salt collision")
	}

	version := c.engine.DefaultVersion()
	key, err := c.engine.DeriveKey(duressPassword, salt, version)
	if err != nil {
		return wrapCryptoError(err)
	}
	defer securebuf.Wipe(key)

	verifier, err := c.engine.CreateVerifier(key)
	if err != nil {
		return wrapCryptoError(err)
	}

	return c.stores.Profiles.SaveDuress(ctx, session.userID, &DuressCredentialRecord{
		Salt:       salt,
		Verifier:   verifier,
		KDFVersion: version,
	})
}

// DisableDuress removes the duress configuration. Decoy rows stay in the
// vault table as undecryptable ciphertexts: deleting them would require the
// duress key and would surface as a correlated mass deletion to the storage
// layer, which is exactly the signal the duress design avoids.
func (c *Core) DisableDuress(ctx context.Context, session *Session) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if session == nil || session.Locked() || session.Mode() != UnlockOutcomeReal {
		return ErrAuthenticationRequired
	}

	return c.stores.Profiles.SaveDuress(ctx, session.userID, nil)
}
