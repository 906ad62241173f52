// Package crypto provides the cryptographic primitives for the Keyfold
// client core: password-based key derivation, authenticated encryption,
// hybrid post-quantum key wrapping, and integrity tree hashing.
//
// # Algorithm Suite
//
// The package uses the following cryptographic algorithms:
//
//   - argon2id (RFC 9106): Memory-hard key derivation from master passwords.
//     Cost parameters are versioned through [Engine] so they can be raised
//     without breaking stored credentials.
//
//   - AES-256-GCM: Authenticated encryption with associated data (AEAD)
//     for vault item payloads and key verifiers.
//
//   - ML-KEM-768 (NIST FIPS 203) + RSA-4096-OAEP: Hybrid key wrapping for
//     shared collection keys. Both legs contribute to the wrapping key, so
//     recovering a wrapped key requires breaking both schemes.
//
//   - HKDF-SHA-512 (RFC 5869): Combines the two wrap leg secrets into the
//     AES wrapping key with domain separation.
//
//   - HMAC-SHA-256: Keyed leaf hashes for the vault integrity tree.
//
// # Security Model
//
// Keys derived from the master password never leave the client. Decryption
// failures are uniform: [Decrypt] and [UnwrapKey] report
// [ErrDecryptionFailed] without revealing whether encoding, key material, or
// authentication was at fault.
//
// There is no classical-only wrapping path. Key material that does not carry
// the full hybrid suite is rejected with [ErrNotHybrid] before any
// cryptographic work.
//
// AES-GCM nonces are generated fresh from crypto/rand for every encryption.
// Nonce reuse completely breaks the security of AES-GCM, so no API in this
// package accepts a caller-supplied nonce.
//
// # Key Management
//
// Use [GenerateKeypair] and [GenerateRSAKey] to create the two legs of a
// member's hybrid keypair. The ML-KEM-768 secret key embeds its public key
// at offset 1152, which [KeypairFromSecretKey] extracts.
//
// Keep secret keys secure. They should never be logged, transmitted in
// plaintext, or stored in version control.
package crypto
