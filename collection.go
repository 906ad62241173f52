package keyfold

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/keyfold/client-go/internal/crypto"
	"github.com/keyfold/client-go/securebuf"
)

// Collection is a handle to one shared collection, scoped to the session that
// opened it. The handle carries no key material; the shared key is unwrapped
// on demand for each operation and wiped afterwards.
type Collection struct {
	session *Session
	id      string
	name    string
	ownerID string
}

// ID returns the collection id.
func (col *Collection) ID() string {
	return col.id
}

// Name returns the collection's display name.
func (col *Collection) Name() string {
	return col.name
}

// OwnerID returns the user id of the collection's creator.
func (col *Collection) OwnerID() string {
	return col.ownerID
}

// Collection opens a handle to an existing collection. The session's member
// must hold a wrapped key for it; otherwise ErrKeyNotFound.
func (s *Session) Collection(ctx context.Context, collectionID string) (*Collection, error) {
	if err := s.core.checkClosed(); err != nil {
		return nil, err
	}

	record, err := s.core.stores.Collections.Collection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	// Probe for membership up front so the caller learns about a missing
	// key at open time, not on the first item operation.
	if _, err := s.core.stores.Collections.Key(ctx, collectionID, s.userID); err != nil {
		return nil, err
	}

	return &Collection{
		session: s,
		id:      record.ID,
		name:    record.Name,
		ownerID: record.OwnerID,
	}, nil
}

// CreateCollection creates a shared collection owned by the session's user:
// it generates a random shared key, wraps it for the creator's own hybrid
// keypair and stores collection and wrapped key at generation 1.
//
// The session must have a keypair bundle attached; the creator is the
// collection's first member.
func (s *Session) CreateCollection(ctx context.Context, name string) (*Collection, error) {
	if err := s.core.checkClosed(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.New("collection name is required")
	}

	mk, err := s.currentMemberKeys()
	if err != nil {
		return nil, err
	}
	pub, err := mk.PublicKeys(s.userID)
	if err != nil {
		return nil, err
	}

	sharedKey, err := generateSharedKey()
	if err != nil {
		return nil, err
	}
	defer securebuf.Wipe(sharedKey)

	wrapped, err := WrapSharedKey(sharedKey, pub)
	if err != nil {
		return nil, err
	}

	record := CollectionRecord{
		ID:            uuid.NewString(),
		Name:          name,
		OwnerID:       s.userID,
		KeyGeneration: 1,
	}
	if err := s.core.stores.Collections.CreateCollection(ctx, record); err != nil {
		return nil, err
	}

	keyRecord := CollectionKeyRecord{
		CollectionID: record.ID,
		UserID:       s.userID,
		WrappedKey:   wrapped,
		PQWrappedKey: wrapped,
		Generation:   1,
	}
	if err := s.core.stores.Collections.PutKey(ctx, keyRecord); err != nil {
		// Roll back the half-created collection; a collection whose
		// owner cannot read it is unrecoverable.
		if derr := s.core.stores.Collections.DeleteCollection(ctx, record.ID); derr != nil {
			s.core.logger.Error().
				Err(derr).
				Str("collection_id", record.ID).
				Msg("failed to roll back collection after key store failure")
		}
		return nil, fmt.Errorf("store wrapped key: %w", err)
	}

	s.core.logger.Debug().
		Str("collection_id", record.ID).
		Str("owner_id", s.userID).
		Msg("collection created")

	return &Collection{
		session: s,
		id:      record.ID,
		name:    record.Name,
		ownerID: record.OwnerID,
	}, nil
}

// AddMember grants userID access to the collection: the caller's own wrapped
// key is unwrapped to recover the shared key, which is then wrapped for the
// new member's published keys at the collection's current generation.
//
// Members whose directory entry lacks hybrid key material are rejected with
// ErrSecurityStandardViolation; the shared key is never wrapped classically.
func (col *Collection) AddMember(ctx context.Context, userID string) error {
	s := col.session
	if err := s.core.checkClosed(); err != nil {
		return err
	}
	if userID == "" {
		return errors.New("member user id is required")
	}

	pub, err := s.core.stores.Directory.PublicKeys(ctx, userID)
	if err != nil {
		return err
	}

	sharedKey, generation, err := col.unwrapSharedKey(ctx)
	if err != nil {
		return err
	}
	defer securebuf.Wipe(sharedKey)

	wrapped, err := WrapSharedKey(sharedKey, pub)
	if err != nil {
		return err
	}

	if err := s.core.stores.Collections.AddMember(ctx, col.id, userID); err != nil {
		return err
	}

	keyRecord := CollectionKeyRecord{
		CollectionID: col.id,
		UserID:       userID,
		WrappedKey:   wrapped,
		PQWrappedKey: wrapped,
		Generation:   generation,
	}
	if err := s.core.stores.Collections.PutKey(ctx, keyRecord); err != nil {
		// Without a wrapped key the membership row only grants phantom
		// access; remove it again.
		if derr := s.core.stores.Collections.RemoveMember(ctx, col.id, userID); derr != nil {
			s.core.logger.Error().
				Err(derr).
				Str("collection_id", col.id).
				Str("user_id", userID).
				Msg("failed to roll back membership after key store failure")
		}
		return fmt.Errorf("store wrapped key: %w", err)
	}

	s.core.logger.Debug().
		Str("collection_id", col.id).
		Str("user_id", userID).
		Msg("member added")
	return nil
}

// RemoveMember revokes userID's membership and deletes their wrapped key.
// The removed member may have cached the shared key while they had access;
// call [Collection.RotateKey] afterwards to make revocation cryptographic.
func (col *Collection) RemoveMember(ctx context.Context, userID string) error {
	s := col.session
	if err := s.core.checkClosed(); err != nil {
		return err
	}

	if err := s.core.stores.Collections.RemoveMember(ctx, col.id, userID); err != nil {
		return err
	}
	if err := s.core.stores.Collections.DeleteKey(ctx, col.id, userID); err != nil {
		return err
	}

	s.core.logger.Debug().
		Str("collection_id", col.id).
		Str("user_id", userID).
		Msg("member removed")
	return nil
}

// Members lists the user ids that currently hold membership.
func (col *Collection) Members(ctx context.Context) ([]string, error) {
	if err := col.session.core.checkClosed(); err != nil {
		return nil, err
	}
	return col.session.core.stores.Collections.Members(ctx, col.id)
}

// unwrapSharedKey recovers the collection's shared key using the session
// member's own wrapped copy, returning it with the generation it was wrapped
// at. The caller owns the returned key and must wipe it.
func (col *Collection) unwrapSharedKey(ctx context.Context) ([]byte, int64, error) {
	s := col.session

	mk, err := s.currentMemberKeys()
	if err != nil {
		return nil, 0, err
	}

	keyRecord, err := s.core.stores.Collections.Key(ctx, col.id, s.userID)
	if err != nil {
		return nil, 0, err
	}

	sharedKey, err := mk.UnwrapSharedKey(keyRecord.WrappedKey)
	if err != nil {
		return nil, 0, err
	}
	return sharedKey, keyRecord.Generation, nil
}

// generateSharedKey returns a fresh random collection key.
func generateSharedKey() ([]byte, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate shared key: %w", err)
	}
	return key, nil
}
