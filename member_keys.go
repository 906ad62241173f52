package keyfold

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keyfold/client-go/internal/crypto"
)

// MemberKeysExportVersion is the current keypair export format version.
const MemberKeysExportVersion = 1

// MemberKeys is a member's hybrid keypair bundle: the ML-KEM-768 keypair and
// the 4096-bit RSA keypair that together receive wrapped collection keys.
// Per Security Standard v1 both legs are mandatory; there is no classical-only
// bundle.
type MemberKeys struct {
	kem *crypto.Keypair
	rsa *rsa.PrivateKey
}

// GenerateMemberKeys creates a fresh hybrid keypair bundle. RSA-4096 key
// generation dominates the cost; expect this to take a few seconds.
func GenerateMemberKeys() (*MemberKeys, error) {
	kem, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate kem keypair: %w", err)
	}

	rsaKey, err := crypto.GenerateRSAKey()
	if err != nil {
		return nil, fmt.Errorf("generate rsa keypair: %w", err)
	}

	return &MemberKeys{kem: kem, rsa: rsaKey}, nil
}

func (mk *MemberKeys) validate() error {
	if mk.kem == nil || len(mk.kem.SecretKey) != crypto.MLKEMSecretKeySize {
		return &StandardViolationError{Detail: "bundle is missing the ML-KEM-768 leg"}
	}
	if mk.rsa == nil || mk.rsa.Size() != crypto.RSAKeyBits/8 {
		return &StandardViolationError{Detail: fmt.Sprintf("bundle is missing the RSA-%d leg", crypto.RSAKeyBits)}
	}
	return nil
}

// PublicKeys extracts the publishable half of the bundle for the member
// directory. The secret halves never leave the bundle.
func (mk *MemberKeys) PublicKeys(userID string) (*MemberPublicKeys, error) {
	if err := mk.validate(); err != nil {
		return nil, err
	}

	rsaDER, err := x509.MarshalPKIXPublicKey(&mk.rsa.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal rsa public key: %w", err)
	}

	return &MemberPublicKeys{
		UserID:       userID,
		KEMPublicKey: crypto.ToBase64URL(mk.kem.PublicKey),
		RSAPublicKey: crypto.ToBase64URL(rsaDER),
	}, nil
}

// UnwrapSharedKey recovers a collection shared key wrapped for this bundle.
// Both the post-quantum and the classical leg must decrypt; failure of either
// is reported as ErrDecryptionFailed.
func (mk *MemberKeys) UnwrapSharedKey(blob string) ([]byte, error) {
	if err := mk.validate(); err != nil {
		return nil, err
	}

	key, err := crypto.UnwrapKey(blob, mk.kem.SecretKey, mk.rsa)
	if err != nil {
		return nil, wrapCryptoError(err)
	}
	return key, nil
}

// parseMemberPublicKeys decodes a member's published material and enforces
// the hybrid standard: a raw ML-KEM-768 public key and a PKIX-encoded
// RSA-4096 public key, both present. Anything else is an
// ErrSecurityStandardViolation naming the member.
func parseMemberPublicKeys(pub *MemberPublicKeys) ([]byte, *rsa.PublicKey, error) {
	if pub == nil || pub.KEMPublicKey == "" || pub.RSAPublicKey == "" {
		subject := ""
		if pub != nil {
			subject = pub.UserID
		}
		return nil, nil, &StandardViolationError{Subject: subject, Detail: "member has not published hybrid key material"}
	}

	kemPub, err := crypto.FromBase64URL(pub.KEMPublicKey)
	if err != nil || len(kemPub) != crypto.MLKEMPublicKeySize {
		return nil, nil, &StandardViolationError{Subject: pub.UserID, Detail: "published KEM public key is malformed"}
	}

	rsaDER, err := crypto.FromBase64URL(pub.RSAPublicKey)
	if err != nil {
		return nil, nil, &StandardViolationError{Subject: pub.UserID, Detail: "published RSA public key is malformed"}
	}
	parsed, err := x509.ParsePKIXPublicKey(rsaDER)
	if err != nil {
		return nil, nil, &StandardViolationError{Subject: pub.UserID, Detail: "published RSA public key is malformed"}
	}
	rsaPub, ok := parsed.(*rsa.PublicKey)
	if !ok || rsaPub.Size() != crypto.RSAKeyBits/8 {
		return nil, nil, &StandardViolationError{Subject: pub.UserID, Detail: fmt.Sprintf("published classical key is not RSA-%d", crypto.RSAKeyBits)}
	}

	return kemPub, rsaPub, nil
}

// WrapSharedKey wraps a symmetric key for a member's published public keys.
// Material that does not carry both hybrid legs is rejected with
// ErrSecurityStandardViolation before any cryptographic work.
func WrapSharedKey(key []byte, pub *MemberPublicKeys) (string, error) {
	kemPub, rsaPub, err := parseMemberPublicKeys(pub)
	if err != nil {
		return "", err
	}

	blob, err := crypto.WrapKey(key, kemPub, rsaPub)
	if err != nil {
		return "", wrapCryptoError(err)
	}
	return blob, nil
}

// IsHybridEncrypted reports whether blob is a hybrid wrapped-key envelope.
// It inspects the envelope structure without decrypting, so it is cheap to
// call on legacy or foreign blobs.
func IsHybridEncrypted(blob string) bool {
	return crypto.IsHybridEncrypted(blob)
}

// ExportedMemberKeys is the serialized form of a keypair bundle.
// WARNING: it contains both secret keys - handle like a password.
type ExportedMemberKeys struct {
	// Version is the export format version. MUST be 1.
	Version int `json:"version"`
	// KEMSecretKey is the ML-KEM-768 secret key (base64url, 2400 bytes
	// decoded). The public key is embedded in it and is not exported
	// separately.
	KEMSecretKey string `json:"kemSecretKey"`
	// RSAPrivateKey is the PKCS#8 DER encoding of the RSA-4096 private key
	// (base64url).
	RSAPrivateKey string `json:"rsaPrivateKey"`
	// ExportedAt is the export timestamp. Informational only.
	ExportedAt time.Time `json:"exportedAt"`
}

// Validate checks that the exported data is structurally sound before any
// key material is reconstructed.
func (e *ExportedMemberKeys) Validate() error {
	if e.Version != MemberKeysExportVersion {
		return fmt.Errorf("%w: unsupported version %d, expected %d", ErrInvalidImportData, e.Version, MemberKeysExportVersion)
	}

	if e.KEMSecretKey == "" {
		return fmt.Errorf("%w: kemSecretKey is required", ErrInvalidImportData)
	}
	kemSecret, err := crypto.FromBase64URL(e.KEMSecretKey)
	if err != nil {
		return fmt.Errorf("%w: invalid kemSecretKey encoding", ErrInvalidImportData)
	}
	if len(kemSecret) != crypto.MLKEMSecretKeySize {
		return fmt.Errorf("%w: kemSecretKey size %d, expected %d", ErrInvalidImportData, len(kemSecret), crypto.MLKEMSecretKeySize)
	}

	if e.RSAPrivateKey == "" {
		return fmt.Errorf("%w: rsaPrivateKey is required", ErrInvalidImportData)
	}
	if _, err := crypto.FromBase64URL(e.RSAPrivateKey); err != nil {
		return fmt.Errorf("%w: invalid rsaPrivateKey encoding", ErrInvalidImportData)
	}

	return nil
}

// Export returns the serializable form of the bundle, secret keys included.
func (mk *MemberKeys) Export() (*ExportedMemberKeys, error) {
	if err := mk.validate(); err != nil {
		return nil, err
	}

	rsaDER, err := x509.MarshalPKCS8PrivateKey(mk.rsa)
	if err != nil {
		return nil, fmt.Errorf("marshal rsa private key: %w", err)
	}

	return &ExportedMemberKeys{
		Version:       MemberKeysExportVersion,
		KEMSecretKey:  crypto.ToBase64URL(mk.kem.SecretKey),
		RSAPrivateKey: crypto.ToBase64URL(rsaDER),
		ExportedAt:    time.Now().UTC(),
	}, nil
}

// ImportMemberKeys reconstructs a bundle from exported data. The ML-KEM
// public key is derived from the secret key rather than trusted from the
// export.
func ImportMemberKeys(data *ExportedMemberKeys) (*MemberKeys, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: data is nil", ErrInvalidImportData)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	// Validate() already verified encodings and sizes.
	kemSecret, _ := crypto.FromBase64URL(data.KEMSecretKey)
	rsaDER, _ := crypto.FromBase64URL(data.RSAPrivateKey)

	kem, err := crypto.KeypairFromSecretKey(kemSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to reconstruct kem keypair: %v", ErrInvalidImportData, err)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(rsaDER)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse rsa private key: %v", ErrInvalidImportData, err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", ErrInvalidImportData)
	}
	if rsaKey.Size() != crypto.RSAKeyBits/8 {
		return nil, fmt.Errorf("%w: rsa key size %d bits, expected %d", ErrInvalidImportData, rsaKey.Size()*8, crypto.RSAKeyBits)
	}
	if err := rsaKey.Validate(); err != nil {
		return nil, fmt.Errorf("%w: rsa key failed validation: %v", ErrInvalidImportData, err)
	}

	return &MemberKeys{kem: kem, rsa: rsaKey}, nil
}

// StoreMemberKeys seals the session's attached keypair bundle into the vault
// as a keyring item, creating it or replacing the existing one. The bundle
// then travels with the vault and can be recovered on a new device with
// [Session.LoadMemberKeys].
func (s *Session) StoreMemberKeys(ctx context.Context) error {
	mk, err := s.currentMemberKeys()
	if err != nil {
		return err
	}

	exported, err := mk.Export()
	if err != nil {
		return err
	}
	bundle, err := json.Marshal(exported)
	if err != nil {
		return fmt.Errorf("marshal keyring bundle: %w", err)
	}

	payload := ItemPayload{
		Kind:   ItemKindKeyring,
		Title:  "Member keys",
		Fields: map[string]string{"bundle": string(bundle)},
	}

	existing, err := s.findKeyringItem(ctx)
	if err != nil {
		return err
	}
	if existing != "" {
		_, err = s.UpdateItem(ctx, existing, payload)
		return err
	}
	_, err = s.CreateItem(ctx, payload)
	return err
}

// LoadMemberKeys finds the vault's keyring item, reconstructs the bundle and
// attaches it to the session. It fails with ErrItemNotFound when the vault
// has no keyring item.
func (s *Session) LoadMemberKeys(ctx context.Context) error {
	itemID, err := s.findKeyringItem(ctx)
	if err != nil {
		return err
	}
	if itemID == "" {
		return ErrItemNotFound
	}

	item, err := s.Item(ctx, itemID)
	if err != nil {
		return err
	}

	var exported ExportedMemberKeys
	if err := json.Unmarshal([]byte(item.Payload.Fields["bundle"]), &exported); err != nil {
		return fmt.Errorf("%w: keyring bundle: %v", ErrCorruptItemData, err)
	}

	mk, err := ImportMemberKeys(&exported)
	if err != nil {
		return err
	}
	return s.AttachMemberKeys(mk)
}

// findKeyringItem returns the id of the session's keyring item, or empty.
func (s *Session) findKeyringItem(ctx context.Context) (string, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return "", err
	}
	for _, item := range items {
		if item.Payload.Kind == ItemKindKeyring {
			return item.ID, nil
		}
	}
	return "", nil
}
