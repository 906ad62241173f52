package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// GenerateKey returns a fresh random 256-bit symmetric key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext with AES-256-GCM under key, using a fresh
// random 96-bit nonce. The returned blob is base64(nonce || ciphertext || tag).
func Encrypt(plaintext, key []byte) (string, error) {
	nonce := make([]byte, AESNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed, err := sealAESGCM(key, nonce, plaintext, nil)
	if err != nil {
		return "", err
	}

	return ToBase64(append(nonce, sealed...)), nil
}

// Decrypt decrypts a blob produced by [Encrypt].
//
// Every failure mode returns [ErrDecryptionFailed] unwrapped: bad encoding,
// a short blob, a wrong-size key, and an authentication failure are
// indistinguishable. Callers must not learn why a blob did not decrypt.
func Decrypt(blob string, key []byte) ([]byte, error) {
	raw, err := FromBase64(blob)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	if len(raw) < AESNonceSize+AESTagSize {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := openAESGCM(key, raw[:AESNonceSize], raw[AESNonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// sealAESGCM encrypts plaintext with AES-256-GCM.
// The result is ciphertext || tag (16 bytes); the nonce is not included.
func sealAESGCM(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), AESKeySize)
	}

	if len(nonce) != AESNonceSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), AESNonceSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return aesGCM.Seal(nil, nonce, plaintext, aad), nil
}

// openAESGCM decrypts ciphertext || tag produced by sealAESGCM.
func openAESGCM(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), AESKeySize)
	}

	if len(nonce) != AESNonceSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), AESNonceSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
