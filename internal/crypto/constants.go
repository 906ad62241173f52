package crypto

const (
	// WrapContext is the HKDF domain-separation string for hybrid key wrapping.
	WrapContext = "keyfold:hybrid-wrap:v1"

	// VerifierCanary is the fixed plaintext sealed into a key verifier.
	// Successful decryption of the canary proves possession of the key.
	VerifierCanary = "keyfold:key-verification:v1"

	// MLKEMPublicKeySize is the size of an ML-KEM-768 public key in bytes.
	MLKEMPublicKeySize = 1184
	// MLKEMSecretKeySize is the size of an ML-KEM-768 secret key in bytes.
	MLKEMSecretKeySize = 2400
	// MLKEMCiphertextSize is the size of an ML-KEM-768 ciphertext in bytes.
	MLKEMCiphertextSize = 1088
	// MLKEMSharedKeySize is the size of the shared secret from ML-KEM-768 in bytes.
	MLKEMSharedKeySize = 32

	// RSAKeyBits is the modulus size of the classical wrap leg.
	RSAKeyBits = 4096
	// RSASecretSize is the size of the random secret carried by the RSA leg.
	RSASecretSize = 32

	// AESKeySize is the size of an AES-256 key in bytes.
	AESKeySize = 32
	// AESNonceSize is the size of an AES-GCM nonce in bytes.
	AESNonceSize = 12
	// AESTagSize is the size of an AES-GCM authentication tag in bytes.
	AESTagSize = 16

	// SaltSize is the size of a freshly generated KDF salt in bytes.
	SaltSize = 16

	// publicKeyOffset is the byte offset where the public key is embedded
	// within an ML-KEM-768 secret key.
	publicKeyOffset = 1152
)

// WrapAlgorithm is the canonical identifier of the hybrid wrap suite. Every
// wrapped-key envelope carries it; nothing in this package accepts any other
// suite.
const WrapAlgorithm = "ML-KEM-768+RSA-4096-OAEP"
