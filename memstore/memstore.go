// Package memstore provides an in-memory implementation of the keyfold
// storage interfaces, intended for tests, examples and prototyping. All data
// lives in process memory; nothing is persisted.
//
// A single Store backs every interface, so wiring a core is one call:
//
//	ms := memstore.New()
//	core, err := keyfold.New(ms.Stores())
package memstore

import (
	"context"
	"fmt"
	"sync"

	keyfold "github.com/keyfold/client-go"
)

// Store is the shared in-memory state behind every storage interface. It is
// safe for concurrent use; every operation takes one coarse lock, which is
// plenty for its intended scale.
//
// Store itself implements ProfileStore, MemberDirectory and TrustAnchorStore;
// the vault and collection interfaces have clashing method names and are
// exposed through [Store.VaultStore] and [Store.CollectionStore].
type Store struct {
	mu sync.Mutex

	profiles map[string]keyfold.ProfileRecord
	vaults   map[string]map[string]keyfold.VaultItemRecord

	collections     map[string]keyfold.CollectionRecord
	members         map[string][]string
	collectionKeys  map[string]map[string]keyfold.CollectionKeyRecord
	collectionItems map[string]map[string]keyfold.CollectionItemRecord

	directory map[string]keyfold.MemberPublicKeys

	anchors map[string]anchorRow

	rotationErr       error
	passwordChangeErr error
}

type anchorRow struct {
	root    string
	version int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		profiles:        make(map[string]keyfold.ProfileRecord),
		vaults:          make(map[string]map[string]keyfold.VaultItemRecord),
		collections:     make(map[string]keyfold.CollectionRecord),
		members:         make(map[string][]string),
		collectionKeys:  make(map[string]map[string]keyfold.CollectionKeyRecord),
		collectionItems: make(map[string]map[string]keyfold.CollectionItemRecord),
		directory:       make(map[string]keyfold.MemberPublicKeys),
		anchors:         make(map[string]anchorRow),
	}
}

// Stores returns the store wired into a keyfold.Stores bundle.
func (s *Store) Stores() keyfold.Stores {
	return keyfold.Stores{
		Profiles:    s,
		Vault:       s.VaultStore(),
		Collections: s.CollectionStore(),
		Directory:   s,
		Anchor:      s,
	}
}

// VaultStore returns the vault rows view of the store.
func (s *Store) VaultStore() keyfold.VaultStore {
	return vaultStore{s}
}

// CollectionStore returns the collections view of the store.
func (s *Store) CollectionStore() keyfold.CollectionStore {
	return collectionStore{s}
}

// FailNextRotation makes the next CommitRotation call fail with err without
// applying anything. Passing nil clears the injection.
func (s *Store) FailNextRotation(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotationErr = err
}

// FailNextPasswordChange makes the next CommitPasswordChange call fail with
// err without applying anything. Passing nil clears the injection.
func (s *Store) FailNextPasswordChange(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwordChangeErr = err
}

// --- ProfileStore ---

// Profile returns the stored credential state for userID.
func (s *Store) Profile(_ context.Context, userID string) (*keyfold.ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, keyfold.ErrProfileNotFound
	}
	return cloneProfile(profile), nil
}

// SaveCredentials creates or replaces the master credential for userID.
func (s *Store) SaveCredentials(_ context.Context, userID string, cred keyfold.MasterCredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := s.profiles[userID]
	profile.UserID = userID
	profile.MasterCredential = cred
	s.profiles[userID] = profile
	return nil
}

// SaveDuress sets or clears the duress credential for userID.
func (s *Store) SaveDuress(_ context.Context, userID string, cred *keyfold.DuressCredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return keyfold.ErrProfileNotFound
	}
	if cred == nil {
		profile.DuressCredential = nil
	} else {
		c := *cred
		profile.DuressCredential = &c
	}
	s.profiles[userID] = profile
	return nil
}

// CommitPasswordChange atomically replaces the master credential and the
// given re-encrypted vault rows. Rows not listed are left untouched.
func (s *Store) CommitPasswordChange(_ context.Context, userID string, cred keyfold.MasterCredentialRecord, items []keyfold.VaultItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.passwordChangeErr; err != nil {
		s.passwordChangeErr = nil
		return err
	}

	profile, ok := s.profiles[userID]
	if !ok {
		return keyfold.ErrProfileNotFound
	}

	vault := s.vaults[userID]
	for _, item := range items {
		if _, ok := vault[item.ID]; !ok {
			return fmt.Errorf("vault item %q does not exist", item.ID)
		}
	}

	profile.MasterCredential = cred
	s.profiles[userID] = profile
	for _, item := range items {
		vault[item.ID] = item
	}
	return nil
}

// --- VaultStore ---

type vaultStore struct {
	s *Store
}

// Items returns every vault row for userID, decoy rows included.
func (v vaultStore) Items(_ context.Context, userID string) ([]keyfold.VaultItemRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	vault := v.s.vaults[userID]
	items := make([]keyfold.VaultItemRecord, 0, len(vault))
	for _, item := range vault {
		items = append(items, item)
	}
	return items, nil
}

// Item returns one vault row.
func (v vaultStore) Item(_ context.Context, userID, itemID string) (*keyfold.VaultItemRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	item, ok := v.s.vaults[userID][itemID]
	if !ok {
		return nil, keyfold.ErrItemNotFound
	}
	return &item, nil
}

// PutItem creates or replaces a vault row.
func (v vaultStore) PutItem(_ context.Context, userID string, item keyfold.VaultItemRecord) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	vault, ok := v.s.vaults[userID]
	if !ok {
		vault = make(map[string]keyfold.VaultItemRecord)
		v.s.vaults[userID] = vault
	}
	vault[item.ID] = item
	return nil
}

// DeleteItem removes a vault row.
func (v vaultStore) DeleteItem(_ context.Context, userID, itemID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.vaults[userID][itemID]; !ok {
		return keyfold.ErrItemNotFound
	}
	delete(v.s.vaults[userID], itemID)
	return nil
}

// --- CollectionStore ---

type collectionStore struct {
	s *Store
}

// Collection returns the collection row.
func (c collectionStore) Collection(_ context.Context, collectionID string) (*keyfold.CollectionRecord, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	col, ok := c.s.collections[collectionID]
	if !ok {
		return nil, keyfold.ErrCollectionNotFound
	}
	return &col, nil
}

// CreateCollection stores a new collection row and registers the owner as a
// member.
func (c collectionStore) CreateCollection(_ context.Context, col keyfold.CollectionRecord) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.collections[col.ID]; ok {
		return fmt.Errorf("collection %q already exists", col.ID)
	}
	c.s.collections[col.ID] = col
	c.s.members[col.ID] = []string{col.OwnerID}
	c.s.collectionKeys[col.ID] = make(map[string]keyfold.CollectionKeyRecord)
	c.s.collectionItems[col.ID] = make(map[string]keyfold.CollectionItemRecord)
	return nil
}

// DeleteCollection removes the collection and everything hanging off it.
func (c collectionStore) DeleteCollection(_ context.Context, collectionID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.collections[collectionID]; !ok {
		return keyfold.ErrCollectionNotFound
	}
	delete(c.s.collections, collectionID)
	delete(c.s.members, collectionID)
	delete(c.s.collectionKeys, collectionID)
	delete(c.s.collectionItems, collectionID)
	return nil
}

// Members lists the member user ids of a collection.
func (c collectionStore) Members(_ context.Context, collectionID string) ([]string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.collections[collectionID]; !ok {
		return nil, keyfold.ErrCollectionNotFound
	}
	members := make([]string, len(c.s.members[collectionID]))
	copy(members, c.s.members[collectionID])
	return members, nil
}

// AddMember registers userID as a member. Adding an existing member is a
// no-op.
func (c collectionStore) AddMember(_ context.Context, collectionID, userID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.collections[collectionID]; !ok {
		return keyfold.ErrCollectionNotFound
	}
	for _, m := range c.s.members[collectionID] {
		if m == userID {
			return nil
		}
	}
	c.s.members[collectionID] = append(c.s.members[collectionID], userID)
	return nil
}

// RemoveMember removes userID from the member list.
func (c collectionStore) RemoveMember(_ context.Context, collectionID, userID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	members := c.s.members[collectionID]
	for i, m := range members {
		if m == userID {
			c.s.members[collectionID] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return keyfold.ErrMemberNotFound
}

// Key returns the wrapped collection key for one member.
func (c collectionStore) Key(_ context.Context, collectionID, userID string) (*keyfold.CollectionKeyRecord, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	key, ok := c.s.collectionKeys[collectionID][userID]
	if !ok {
		return nil, keyfold.ErrKeyNotFound
	}
	return &key, nil
}

// PutKey creates or replaces a member's wrapped key.
func (c collectionStore) PutKey(_ context.Context, key keyfold.CollectionKeyRecord) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	keys, ok := c.s.collectionKeys[key.CollectionID]
	if !ok {
		return keyfold.ErrCollectionNotFound
	}
	keys[key.UserID] = key
	return nil
}

// DeleteKey removes a member's wrapped key. Deleting an absent key is a
// no-op so revocation cleanup is idempotent.
func (c collectionStore) DeleteKey(_ context.Context, collectionID, userID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	delete(c.s.collectionKeys[collectionID], userID)
	return nil
}

// Items returns every shared item row of a collection.
func (c collectionStore) Items(_ context.Context, collectionID string) ([]keyfold.CollectionItemRecord, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.collections[collectionID]; !ok {
		return nil, keyfold.ErrCollectionNotFound
	}
	rows := c.s.collectionItems[collectionID]
	items := make([]keyfold.CollectionItemRecord, 0, len(rows))
	for _, item := range rows {
		items = append(items, item)
	}
	return items, nil
}

// PutItem creates or replaces a shared item row.
func (c collectionStore) PutItem(_ context.Context, item keyfold.CollectionItemRecord) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	rows, ok := c.s.collectionItems[item.CollectionID]
	if !ok {
		return keyfold.ErrCollectionNotFound
	}
	rows[item.ID] = item
	return nil
}

// DeleteItem removes a shared item row.
func (c collectionStore) DeleteItem(_ context.Context, collectionID, itemID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.collectionItems[collectionID][itemID]; !ok {
		return keyfold.ErrItemNotFound
	}
	delete(c.s.collectionItems[collectionID], itemID)
	return nil
}

// CommitRotation applies a key rotation atomically: the collection's
// generation is bumped, the wrapped key set is replaced wholesale and every
// item row is replaced by its re-encrypted successor. A commit whose
// generation is not exactly one past the current generation is rejected.
func (c collectionStore) CommitRotation(_ context.Context, commit keyfold.RotationCommit) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if err := c.s.rotationErr; err != nil {
		c.s.rotationErr = nil
		return err
	}

	col, ok := c.s.collections[commit.CollectionID]
	if !ok {
		return keyfold.ErrCollectionNotFound
	}
	if commit.Generation != col.KeyGeneration+1 {
		return fmt.Errorf("rotation generation %d does not follow current generation %d", commit.Generation, col.KeyGeneration)
	}

	col.KeyGeneration = commit.Generation
	c.s.collections[commit.CollectionID] = col

	keys := make(map[string]keyfold.CollectionKeyRecord, len(commit.Keys))
	for _, key := range commit.Keys {
		keys[key.UserID] = key
	}
	c.s.collectionKeys[commit.CollectionID] = keys

	items := make(map[string]keyfold.CollectionItemRecord, len(commit.Items))
	for _, item := range commit.Items {
		items[item.ID] = item
	}
	c.s.collectionItems[commit.CollectionID] = items

	return nil
}

// --- MemberDirectory ---

// Publish registers or replaces a member's public key material in the
// directory. It is how tests and examples stand in for a directory service.
func (s *Store) Publish(userID string, keys keyfold.MemberPublicKeys) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys.UserID = userID
	s.directory[userID] = keys
}

// PublicKeys returns a member's published key material.
func (s *Store) PublicKeys(_ context.Context, userID string) (*keyfold.MemberPublicKeys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.directory[userID]
	if !ok {
		return nil, keyfold.ErrMemberNotFound
	}
	return &keys, nil
}

// --- TrustAnchorStore ---

// Root returns the persisted integrity root and its version.
func (s *Store) Root(_ context.Context, anchorID string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.anchors[anchorID]
	if !ok {
		return "", 0, keyfold.ErrAnchorNotFound
	}
	return row.root, row.version, nil
}

// SetRoot stores a new root under compare-and-set semantics: expectedVersion
// must match the stored version, with 0 meaning "no root stored yet". On
// success the version advances by one.
func (s *Store) SetRoot(_ context.Context, anchorID, root string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.anchors[anchorID]
	if !ok {
		if expectedVersion != 0 {
			return keyfold.ErrAnchorConflict
		}
		s.anchors[anchorID] = anchorRow{root: root, version: 1}
		return nil
	}
	if row.version != expectedVersion {
		return keyfold.ErrAnchorConflict
	}
	s.anchors[anchorID] = anchorRow{root: root, version: row.version + 1}
	return nil
}

// ClearRoot deletes the persisted root. Clearing an absent root is a no-op.
func (s *Store) ClearRoot(_ context.Context, anchorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.anchors, anchorID)
	return nil
}

func cloneProfile(p keyfold.ProfileRecord) *keyfold.ProfileRecord {
	clone := p
	if p.DuressCredential != nil {
		dc := *p.DuressCredential
		clone.DuressCredential = &dc
	}
	return &clone
}
