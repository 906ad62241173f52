package keyfold

import (
	"context"
	"fmt"
)

// ProfileRecord is the stored credential state for one user, as read from the
// profiles table. DuressCredential is nil when duress mode is disabled.
type ProfileRecord struct {
	UserID           string
	MasterCredential MasterCredentialRecord
	DuressCredential *DuressCredentialRecord
}

// MasterCredentialRecord holds the columns backing the real master password:
// encryption_salt, master_password_verifier and kdf_version.
type MasterCredentialRecord struct {
	// Salt is the base64-encoded KDF salt. Unique per credential; never
	// reused across derivation versions.
	Salt string
	// Verifier is the AEAD-sealed canary proving key possession.
	Verifier string
	// KDFVersion selects the derivation parameter set the salt was
	// created under.
	KDFVersion int
}

// DuressCredentialRecord holds the duress_salt, duress_password_verifier and
// duress_kdf_version columns. Structurally identical to the master
// credential; the two must never share a salt or a password.
type DuressCredentialRecord struct {
	Salt       string
	Verifier   string
	KDFVersion int
}

// Validate checks the structural invariants of a profile row. It is called
// once at the store boundary so the rest of the core can trust the shape.
func (p *ProfileRecord) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("profile record: missing user id")
	}
	if err := p.MasterCredential.validate(); err != nil {
		return fmt.Errorf("profile record: master credential: %w", err)
	}
	if p.DuressCredential != nil {
		dc := MasterCredentialRecord(*p.DuressCredential)
		if err := dc.validate(); err != nil {
			return fmt.Errorf("profile record: duress credential: %w", err)
		}
		if p.DuressCredential.Salt == p.MasterCredential.Salt {
			return fmt.Errorf("profile record: duress salt equals master salt")
		}
	}
	return nil
}

func (c *MasterCredentialRecord) validate() error {
	if c.Salt == "" {
		return fmt.Errorf("missing salt")
	}
	if c.Verifier == "" {
		return fmt.Errorf("missing verifier")
	}
	if c.KDFVersion <= 0 {
		return fmt.Errorf("invalid kdf version %d", c.KDFVersion)
	}
	return nil
}

// VaultItemRecord is one row of the vault_items table. EncryptedData is an
// opaque AEAD blob; the store never sees plaintext.
type VaultItemRecord struct {
	ID            string
	EncryptedData string
}

// CollectionRecord is one row of the collections table. KeyGeneration counts
// key rotations; every wrapped-key row carries the generation it belongs to.
type CollectionRecord struct {
	ID            string
	Name          string
	OwnerID       string
	KeyGeneration int64
}

// CollectionKeyRecord is one row of collection_keys: the collection's shared
// key, hybrid-wrapped for one member. WrappedKey and PQWrappedKey carry the
// same hybrid ciphertext; the dual columns are a storage-compatibility
// artifact, not two different secrets.
type CollectionKeyRecord struct {
	CollectionID string
	UserID       string
	WrappedKey   string
	PQWrappedKey string
	Generation   int64
}

// CollectionItemRecord is one row of shared_collection_items, encrypted under
// the collection's current shared key.
type CollectionItemRecord struct {
	ID            string
	VaultItemID   string
	CollectionID  string
	EncryptedData string
}

// MemberPublicKeys is a member's published key material from the directory.
// Both fields are base64url: the raw ML-KEM-768 public key and the
// PKIX/DER-encoded RSA-4096 public key. A missing field means the member has
// not published hybrid material and cannot receive wrapped keys.
type MemberPublicKeys struct {
	UserID       string
	KEMPublicKey string
	RSAPublicKey string
}

// RotationCommit is the payload of the atomic rotation entry point: the
// re-encrypted item set and the re-wrapped key set for one collection, to be
// applied together or not at all. Generation must be exactly one past the
// collection's current key generation.
type RotationCommit struct {
	CollectionID string
	Generation   int64
	Items        []CollectionItemRecord
	Keys         []CollectionKeyRecord
}

// ProfileStore persists per-user credential rows.
type ProfileStore interface {
	// Profile returns the credential row for a user, or ErrProfileNotFound.
	Profile(ctx context.Context, userID string) (*ProfileRecord, error)
	// SaveCredentials creates or replaces the master credential columns.
	SaveCredentials(ctx context.Context, userID string, cred MasterCredentialRecord) error
	// SaveDuress creates or replaces the duress credential columns.
	// A nil record clears them, disabling duress mode.
	SaveDuress(ctx context.Context, userID string, cred *DuressCredentialRecord) error
	// CommitPasswordChange replaces the master credential columns and the
	// listed vault items in one all-or-nothing transaction. A password
	// change that landed the new verifier but not the re-encrypted items
	// (or vice versa) would lock the user out, so partial application is
	// not acceptable.
	CommitPasswordChange(ctx context.Context, userID string, cred MasterCredentialRecord, items []VaultItemRecord) error
}

// VaultStore persists a user's encrypted vault items.
type VaultStore interface {
	Items(ctx context.Context, userID string) ([]VaultItemRecord, error)
	// Item returns one row, or ErrItemNotFound.
	Item(ctx context.Context, userID, itemID string) (*VaultItemRecord, error)
	PutItem(ctx context.Context, userID string, item VaultItemRecord) error
	DeleteItem(ctx context.Context, userID, itemID string) error
}

// CollectionStore persists collections, their membership, their wrapped keys
// and their shared items.
//
// CommitRotation is the atomic rotation entry point: it must apply all item
// and key writes in one all-or-nothing transaction, reject a commit whose
// Generation is not current+1, and accept no other mutation of the same
// collection while a commit is in flight. The core never attempts rotation
// as a sequence of independent writes.
type CollectionStore interface {
	// Collection returns a collection row, or ErrCollectionNotFound.
	Collection(ctx context.Context, collectionID string) (*CollectionRecord, error)
	CreateCollection(ctx context.Context, col CollectionRecord) error
	DeleteCollection(ctx context.Context, collectionID string) error

	Members(ctx context.Context, collectionID string) ([]string, error)
	AddMember(ctx context.Context, collectionID, userID string) error
	RemoveMember(ctx context.Context, collectionID, userID string) error

	// Key returns the wrapped key row for (collection, user), or
	// ErrKeyNotFound.
	Key(ctx context.Context, collectionID, userID string) (*CollectionKeyRecord, error)
	PutKey(ctx context.Context, key CollectionKeyRecord) error
	DeleteKey(ctx context.Context, collectionID, userID string) error

	Items(ctx context.Context, collectionID string) ([]CollectionItemRecord, error)
	PutItem(ctx context.Context, item CollectionItemRecord) error
	// DeleteItem removes an item by the (itemID, collectionID) compound
	// key only, so a guessed item id cannot delete across collections.
	DeleteItem(ctx context.Context, collectionID, itemID string) error

	CommitRotation(ctx context.Context, commit RotationCommit) error
}

// MemberDirectory resolves a user's published public key material.
type MemberDirectory interface {
	// PublicKeys returns a member's directory entry, or ErrMemberNotFound.
	PublicKeys(ctx context.Context, userID string) (*MemberPublicKeys, error)
}

// TrustAnchorStore persists integrity roots outside the vault's own storage,
// so a compromised storage layer cannot rewrite them transparently. Roots are
// versioned: SetRoot is a compare-and-set on the version last read, which is
// how concurrent devices avoid silently clobbering each other's roots.
type TrustAnchorStore interface {
	// Root returns the persisted root and its version for an anchor id,
	// or ErrAnchorNotFound before the first SetRoot.
	Root(ctx context.Context, anchorID string) (root string, version int64, err error)
	// SetRoot stores a new root. expectedVersion must match the stored
	// version (0 for the first write) or the call fails with
	// ErrAnchorConflict and nothing changes.
	SetRoot(ctx context.Context, anchorID, root string, expectedVersion int64) error
	// ClearRoot removes the anchor entry. Clearing a missing entry is not
	// an error.
	ClearRoot(ctx context.Context, anchorID string) error
}

// Stores bundles the storage collaborators a Core is constructed with. All
// fields are required.
type Stores struct {
	Profiles    ProfileStore
	Vault       VaultStore
	Collections CollectionStore
	Directory   MemberDirectory
	Anchor      TrustAnchorStore
}

func (s *Stores) validate() error {
	switch {
	case s.Profiles == nil:
		return fmt.Errorf("%w: Profiles store", ErrMissingStore)
	case s.Vault == nil:
		return fmt.Errorf("%w: Vault store", ErrMissingStore)
	case s.Collections == nil:
		return fmt.Errorf("%w: Collections store", ErrMissingStore)
	case s.Directory == nil:
		return fmt.Errorf("%w: Directory store", ErrMissingStore)
	case s.Anchor == nil:
		return fmt.Errorf("%w: Anchor store", ErrMissingStore)
	}
	return nil
}
