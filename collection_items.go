package keyfold

import (
	"context"

	"github.com/google/uuid"

	"github.com/keyfold/client-go/securebuf"
)

// CollectionItem is a decrypted shared item. VaultItemID links back to the
// personal vault item it was shared from, or is empty for items created
// directly in the collection.
type CollectionItem struct {
	ID          string
	VaultItemID string
	Payload     ItemPayload
}

// AddItem creates a new item directly in the collection, encrypted under the
// collection's shared key.
func (col *Collection) AddItem(ctx context.Context, payload ItemPayload) (*CollectionItem, error) {
	s := col.session
	if err := s.core.checkClosed(); err != nil {
		return nil, err
	}

	sharedKey, _, err := col.unwrapSharedKey(ctx)
	if err != nil {
		return nil, err
	}
	defer securebuf.Wipe(sharedKey)

	blob, err := encryptItemPayload(&payload, sharedKey)
	if err != nil {
		return nil, err
	}

	record := CollectionItemRecord{
		ID:            uuid.NewString(),
		CollectionID:  col.id,
		EncryptedData: blob,
	}
	if err := s.core.stores.Collections.PutItem(ctx, record); err != nil {
		return nil, err
	}

	return &CollectionItem{ID: record.ID, Payload: payload}, nil
}

// ShareItem copies a personal vault item into the collection: the item is
// decrypted with the session's vault key and re-encrypted under the shared
// key. The original stays in the personal vault; later edits to it do not
// propagate to the shared copy.
func (col *Collection) ShareItem(ctx context.Context, itemID string) (*CollectionItem, error) {
	s := col.session
	if err := s.core.checkClosed(); err != nil {
		return nil, err
	}

	item, err := s.Item(ctx, itemID)
	if err != nil {
		return nil, err
	}

	sharedKey, _, err := col.unwrapSharedKey(ctx)
	if err != nil {
		return nil, err
	}
	defer securebuf.Wipe(sharedKey)

	blob, err := encryptItemPayload(&item.Payload, sharedKey)
	if err != nil {
		return nil, err
	}

	record := CollectionItemRecord{
		ID:            uuid.NewString(),
		VaultItemID:   item.ID,
		CollectionID:  col.id,
		EncryptedData: blob,
	}
	if err := s.core.stores.Collections.PutItem(ctx, record); err != nil {
		return nil, err
	}

	s.core.logger.Debug().
		Str("collection_id", col.id).
		Str("item_id", record.ID).
		Str("vault_item_id", item.ID).
		Msg("item shared into collection")

	return &CollectionItem{ID: record.ID, VaultItemID: item.ID, Payload: item.Payload}, nil
}

// Items fetches and decrypts every item in the collection.
//
// Unlike the personal vault, all rows here are encrypted under the one shared
// key, so a row that fails to decrypt is an error (ErrDecryptionFailed), not
// another vault's data.
func (col *Collection) Items(ctx context.Context) ([]*CollectionItem, error) {
	s := col.session
	if err := s.core.checkClosed(); err != nil {
		return nil, err
	}

	records, err := s.core.stores.Collections.Items(ctx, col.id)
	if err != nil {
		return nil, err
	}

	sharedKey, _, err := col.unwrapSharedKey(ctx)
	if err != nil {
		return nil, err
	}
	defer securebuf.Wipe(sharedKey)

	items := make([]*CollectionItem, 0, len(records))
	for _, record := range records {
		payload, err := decryptItemPayload(record.EncryptedData, sharedKey)
		if err != nil {
			return nil, err
		}
		items = append(items, &CollectionItem{
			ID:          record.ID,
			VaultItemID: record.VaultItemID,
			Payload:     *payload,
		})
	}
	return items, nil
}

// RemoveItem deletes a shared item. The session must hold a working wrapped
// key for the collection; unwrapping it proves membership before the delete.
func (col *Collection) RemoveItem(ctx context.Context, itemID string) error {
	s := col.session
	if err := s.core.checkClosed(); err != nil {
		return err
	}

	sharedKey, _, err := col.unwrapSharedKey(ctx)
	if err != nil {
		return err
	}
	securebuf.Wipe(sharedKey)

	return s.core.stores.Collections.DeleteItem(ctx, col.id, itemID)
}
