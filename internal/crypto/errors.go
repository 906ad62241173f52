package crypto

import "errors"

var (
	// ErrDecryptionFailed is returned when decryption fails for any reason.
	// The failure cause is deliberately not distinguished: a malformed blob,
	// a wrong key, and a tampered ciphertext all look the same to callers.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidKeySize is returned when a symmetric key has the wrong size.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when an AES-GCM nonce has the wrong size.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrInvalidSecretKeySize is returned when an ML-KEM secret key has the wrong size.
	ErrInvalidSecretKeySize = errors.New("invalid secret key size")

	// ErrInvalidPublicKeySize is returned when an ML-KEM public key has the wrong size.
	ErrInvalidPublicKeySize = errors.New("invalid public key size")

	// ErrInvalidCiphertextSize is returned when an ML-KEM ciphertext has the wrong size.
	ErrInvalidCiphertextSize = errors.New("invalid ciphertext size")

	// ErrInvalidEnvelope is returned when a wrapped-key envelope is structurally
	// invalid: malformed JSON, missing fields, or undecodable encoding.
	ErrInvalidEnvelope = errors.New("invalid wrapped key envelope")

	// ErrNotHybrid is returned when key material does not use the hybrid
	// post-quantum suite. There is no fallback to classical-only wrapping.
	ErrNotHybrid = errors.New("key material is not hybrid encrypted")

	// ErrEmptyPassword is returned when a key derivation is attempted with an
	// empty password.
	ErrEmptyPassword = errors.New("password must not be empty")

	// ErrInvalidSalt is returned when a KDF salt is empty or undecodable.
	ErrInvalidSalt = errors.New("invalid salt")

	// ErrUnknownKDFVersion is returned when stored credentials reference a key
	// derivation version this build does not know.
	ErrUnknownKDFVersion = errors.New("unknown key derivation version")
)
