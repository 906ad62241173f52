package keyfold

import (
	"errors"
	"fmt"

	"github.com/keyfold/client-go/internal/crypto"
	"github.com/keyfold/client-go/securebuf"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrCoreClosed is returned when operations are attempted on a closed core.
	ErrCoreClosed = errors.New("core has been closed")

	// ErrAuthenticationRequired is returned when an operation needs an
	// unlocked session and none is available.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrKeyNotFound is returned when no wrapped key exists for a
	// collection and user. The caller either never had access or has been
	// removed from the collection.
	ErrKeyNotFound = errors.New("no wrapped key for this collection and user")

	// ErrDecryptionFailed is returned when decryption fails. A wrong key
	// and tampered ciphertext are deliberately not distinguished.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrCorruptItemData is returned when an item decrypts successfully
	// but its payload cannot be parsed. This indicates data corruption
	// under the correct key, which is distinct from a decryption failure.
	ErrCorruptItemData = errors.New("item data is corrupt")

	// ErrSecurityStandardViolation is returned when key material does not
	// meet Security Standard v1: hybrid post-quantum wrapping is
	// mandatory, with no classical-only fallback.
	ErrSecurityStandardViolation = errors.New("security standard v1 violation")

	// ErrWeakSecret is returned when a password is too short or equals
	// another password it must differ from.
	ErrWeakSecret = errors.New("secret does not meet strength requirements")

	// ErrRotationFailed is returned when the atomic rotation operation
	// aborted. The prior key generation remains authoritative; the caller
	// may retry.
	ErrRotationFailed = errors.New("collection key rotation failed")

	// ErrIntegrityMismatch reports that a computed integrity root differs
	// from the persisted root. Verification never returns it: a mismatch is
	// carried in the [IntegrityReport] and emitted as a security event. The
	// sentinel exists for callers that choose to escalate a bad report into
	// an error of their own.
	ErrIntegrityMismatch = errors.New("vault integrity mismatch")

	// ErrBufferDestroyed is returned when a zeroed secure buffer is used.
	ErrBufferDestroyed = securebuf.ErrDestroyed

	// ErrInvalidImportData is returned when imported member key data is invalid.
	ErrInvalidImportData = errors.New("invalid import data")

	// ErrMissingStore is returned by New when a required store is nil.
	ErrMissingStore = errors.New("required store is missing")

	// ErrProfileNotFound is returned when no credential row exists for a user.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrProfileExists is returned when enrolling a user that already has
	// credentials.
	ErrProfileExists = errors.New("profile already exists")

	// ErrItemNotFound is returned when a vault item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrMemberNotFound is returned when a user has no directory entry or
	// is not a member of a collection.
	ErrMemberNotFound = errors.New("member not found")

	// ErrAnchorNotFound is returned when no integrity root has been
	// persisted for an anchor id.
	ErrAnchorNotFound = errors.New("integrity root not established")

	// ErrAnchorConflict is returned when a compare-and-set of the
	// integrity root lost against a concurrent writer.
	ErrAnchorConflict = errors.New("integrity root version conflict")
)

// KeyfoldError is implemented by all structured errors in this package.
type KeyfoldError interface {
	error
	KeyfoldError() // marker method
}

// StandardViolationError reports non-hybrid key material where Security
// Standard v1 requires hybrid. Subject identifies the offending material,
// typically a user id or a stored key row.
type StandardViolationError struct {
	Subject string
	Detail  string
}

func (e *StandardViolationError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("security standard v1 violation: %s: %s", e.Subject, e.Detail)
	}
	return fmt.Sprintf("security standard v1 violation: %s", e.Detail)
}

// Is implements errors.Is for sentinel error matching.
func (e *StandardViolationError) Is(target error) bool {
	return target == ErrSecurityStandardViolation
}

// KeyfoldError implements the KeyfoldError interface.
func (e *StandardViolationError) KeyfoldError() {}

// WeakSecretError reports a password that failed a strength or distinctness
// requirement. The reason is specific and safe to show to the user.
type WeakSecretError struct {
	Reason string
}

func (e *WeakSecretError) Error() string {
	return fmt.Sprintf("weak secret: %s", e.Reason)
}

// Is implements errors.Is for sentinel error matching.
func (e *WeakSecretError) Is(target error) bool {
	return target == ErrWeakSecret
}

// KeyfoldError implements the KeyfoldError interface.
func (e *WeakSecretError) KeyfoldError() {}

// RotationError reports an aborted key rotation. The underlying storage
// failure is carried for logs but is not part of the public taxonomy; callers
// should treat the rotation as retryable.
type RotationError struct {
	CollectionID string
	Attempts     int
	Err          error
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("rotation of collection %s failed after %d attempt(s): %v", e.CollectionID, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *RotationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *RotationError) Is(target error) bool {
	return target == ErrRotationFailed
}

// KeyfoldError implements the KeyfoldError interface.
func (e *RotationError) KeyfoldError() {}

// wrapCryptoError converts internal crypto errors to public errors at the
// package boundary, so errors.Is() checks work with public sentinels and raw
// primitive failures never escape.
func wrapCryptoError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return ErrDecryptionFailed
	case errors.Is(err, crypto.ErrNotHybrid):
		return &StandardViolationError{Detail: "key material is not hybrid encrypted"}
	case errors.Is(err, crypto.ErrInvalidEnvelope):
		// A recognized hybrid envelope with a broken structure is
		// indistinguishable from tampering to the caller.
		return ErrDecryptionFailed
	case errors.Is(err, crypto.ErrEmptyPassword):
		return &WeakSecretError{Reason: "password must not be empty"}
	}

	return err
}
