package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/hkdf"
)

// randReader is the random source used for key generation.
// It defaults to nil (which uses crypto/rand) but can be overridden for testing.
var randReader io.Reader

// wrapEnvelopeVersion is the current wrapped-key envelope version.
const wrapEnvelopeVersion = 1

// Keypair represents an ML-KEM-768 keypair, the post-quantum leg of the
// hybrid wrap suite.
type Keypair struct {
	// PublicKey is the raw ML-KEM-768 public key bytes.
	PublicKey []byte
	// SecretKey is the raw ML-KEM-768 secret key bytes.
	SecretKey []byte
}

// GenerateKeypair creates a new ML-KEM-768 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := mlkem768.GenerateKeyPair(randReader)
	if err != nil {
		return nil, err
	}

	// MarshalBinary never fails for valid keys from GenerateKeyPair
	pubBytes, _ := pub.MarshalBinary()
	privBytes, _ := priv.MarshalBinary()

	return &Keypair{
		PublicKey: pubBytes,
		SecretKey: privBytes,
	}, nil
}

// KeypairFromSecretKey reconstructs a keypair from the secret key.
// The public key is embedded in the secret key at offset 1152.
func KeypairFromSecretKey(secretKey []byte) (*Keypair, error) {
	if len(secretKey) != MLKEMSecretKeySize {
		return nil, ErrInvalidSecretKeySize
	}

	publicKey := make([]byte, MLKEMPublicKeySize)
	copy(publicKey, secretKey[publicKeyOffset:publicKeyOffset+MLKEMPublicKeySize])

	return &Keypair{
		PublicKey: publicKey,
		SecretKey: secretKey,
	}, nil
}

// Decapsulate recovers the shared secret from an encapsulated key.
func (k *Keypair) Decapsulate(encapsulatedKey []byte) ([]byte, error) {
	if len(encapsulatedKey) != MLKEMCiphertextSize {
		return nil, ErrInvalidCiphertextSize
	}

	var privKey mlkem768.PrivateKey
	if err := privKey.Unpack(k.SecretKey); err != nil {
		return nil, fmt.Errorf("unpack secret key: %w", err)
	}

	sharedSecret := make([]byte, MLKEMSharedKeySize)
	privKey.DecapsulateTo(sharedSecret, encapsulatedKey)

	return sharedSecret, nil
}

// encapsulate generates a fresh shared secret for an ML-KEM-768 public key.
func encapsulate(kemPublicKey []byte) (ciphertext, sharedSecret []byte, err error) {
	if len(kemPublicKey) != MLKEMPublicKeySize {
		return nil, nil, ErrInvalidPublicKeySize
	}

	var pubKey mlkem768.PublicKey
	if err := pubKey.Unpack(kemPublicKey); err != nil {
		return nil, nil, fmt.Errorf("unpack public key: %w", err)
	}

	ciphertext = make([]byte, MLKEMCiphertextSize)
	sharedSecret = make([]byte, MLKEMSharedKeySize)
	pubKey.EncapsulateTo(ciphertext, sharedSecret, nil)

	return ciphertext, sharedSecret, nil
}

// GenerateRSAKey creates the 4096-bit RSA key for the classical wrap leg.
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	rng := randReader
	if rng == nil {
		rng = rand.Reader
	}
	return rsa.GenerateKey(rng, RSAKeyBits)
}

// wrappedKeyEnvelope is the self-describing stored form of a wrapped key.
// All byte fields are base64url-encoded.
type wrappedKeyEnvelope struct {
	// V is the envelope version number.
	V int `json:"v"`
	// Alg identifies the wrap suite; always [WrapAlgorithm].
	Alg string `json:"alg"`
	// CtKem is the ML-KEM-768 ciphertext.
	CtKem string `json:"ct_kem"`
	// CtRSA is the RSA-OAEP ciphertext carrying the classical secret.
	CtRSA string `json:"ct_rsa"`
	// Wrapped is nonce || ciphertext || tag of the AES-GCM sealed key.
	Wrapped string `json:"wrapped"`
}

// WrapKey wraps a symmetric key for a recipient's hybrid keypair.
//
// Both legs run on every wrap: ML-KEM-768 encapsulation produces one secret,
// and a fresh random secret is RSA-4096-OAEP encrypted for the other. The
// wrapping key is derived from both, so an attacker must break both schemes
// to recover the wrapped key.
func WrapKey(key, kemPublicKey []byte, rsaPublicKey *rsa.PublicKey) (string, error) {
	if rsaPublicKey == nil || rsaPublicKey.Size() != RSAKeyBits/8 {
		return "", fmt.Errorf("%w: classical leg requires RSA-%d", ErrNotHybrid, RSAKeyBits)
	}

	ctKem, kemSecret, err := encapsulate(kemPublicKey)
	if err != nil {
		return "", err
	}

	classicalSecret := make([]byte, RSASecretSize)
	if _, err := rand.Read(classicalSecret); err != nil {
		return "", fmt.Errorf("generate classical secret: %w", err)
	}

	ctRSA, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPublicKey, classicalSecret, nil)
	if err != nil {
		return "", fmt.Errorf("rsa encrypt: %w", err)
	}

	kek, err := deriveWrapKey(kemSecret, classicalSecret, ctKem, ctRSA)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, AESNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed, err := sealAESGCM(kek, nonce, key, nil)
	if err != nil {
		return "", err
	}

	envelope := wrappedKeyEnvelope{
		V:       wrapEnvelopeVersion,
		Alg:     WrapAlgorithm,
		CtKem:   ToBase64URL(ctKem),
		CtRSA:   ToBase64URL(ctRSA),
		Wrapped: ToBase64URL(append(nonce, sealed...)),
	}

	blob, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	return string(blob), nil
}

// UnwrapKey recovers a key wrapped by [WrapKey]. Both the ML-KEM and RSA
// legs must succeed; a wrong key on either leg yields a wrapping key that
// fails authentication, reported as [ErrDecryptionFailed].
func UnwrapKey(blob string, kemSecretKey []byte, rsaPrivateKey *rsa.PrivateKey) ([]byte, error) {
	envelope, err := parseEnvelope(blob)
	if err != nil {
		return nil, err
	}

	if rsaPrivateKey == nil || rsaPrivateKey.Size() != RSAKeyBits/8 {
		return nil, fmt.Errorf("%w: classical leg requires RSA-%d", ErrNotHybrid, RSAKeyBits)
	}

	ctKem, err := FromBase64URL(envelope.CtKem)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ct_kem", ErrInvalidEnvelope)
	}

	ctRSA, err := FromBase64URL(envelope.CtRSA)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ct_rsa", ErrInvalidEnvelope)
	}

	wrapped, err := FromBase64URL(envelope.Wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: decode wrapped", ErrInvalidEnvelope)
	}
	if len(wrapped) < AESNonceSize+AESTagSize {
		return nil, fmt.Errorf("%w: wrapped field too short", ErrInvalidEnvelope)
	}

	keypair, err := KeypairFromSecretKey(kemSecretKey)
	if err != nil {
		return nil, err
	}

	kemSecret, err := keypair.Decapsulate(ctKem)
	if err != nil {
		return nil, err
	}

	classicalSecret, err := rsa.DecryptOAEP(sha256.New(), nil, rsaPrivateKey, ctRSA, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	kek, err := deriveWrapKey(kemSecret, classicalSecret, ctKem, ctRSA)
	if err != nil {
		return nil, err
	}

	key, err := openAESGCM(kek, wrapped[:AESNonceSize], wrapped[AESNonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return key, nil
}

// IsHybridEncrypted reports whether blob is a hybrid wrapped-key envelope.
// It inspects structure only and performs no decryption.
func IsHybridEncrypted(blob string) bool {
	_, err := parseEnvelope(blob)
	return err == nil
}

// parseEnvelope parses and structurally validates a wrapped-key envelope.
// Non-JSON input and foreign algorithm identifiers report ErrNotHybrid;
// a recognized envelope with missing fields reports ErrInvalidEnvelope.
func parseEnvelope(blob string) (*wrappedKeyEnvelope, error) {
	var envelope wrappedKeyEnvelope
	if err := json.Unmarshal([]byte(blob), &envelope); err != nil {
		return nil, ErrNotHybrid
	}

	if envelope.Alg != WrapAlgorithm {
		return nil, ErrNotHybrid
	}

	if envelope.V != wrapEnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, envelope.V)
	}

	if envelope.CtKem == "" || envelope.CtRSA == "" || envelope.Wrapped == "" {
		return nil, fmt.Errorf("%w: missing fields", ErrInvalidEnvelope)
	}

	return &envelope, nil
}

// deriveWrapKey combines both leg secrets into the AES wrapping key.
//
// The derivation uses:
//   - IKM: KEM shared secret || classical secret
//   - Salt: SHA-256 hash of both ciphertexts
//   - Info: the wrap context string
func deriveWrapKey(kemSecret, classicalSecret, ctKem, ctRSA []byte) ([]byte, error) {
	h := sha256.New()
	h.Write(ctKem)
	h.Write(ctRSA)
	salt := h.Sum(nil)

	ikm := make([]byte, 0, len(kemSecret)+len(classicalSecret))
	ikm = append(ikm, kemSecret...)
	ikm = append(ikm, classicalSecret...)

	reader := hkdf.New(sha512.New, ikm, salt, []byte(WrapContext))
	kek := make([]byte, AESKeySize)
	if _, err := io.ReadFull(reader, kek); err != nil {
		return nil, fmt.Errorf("derive wrap key: %w", err)
	}

	return kek, nil
}
