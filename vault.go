package keyfold

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/keyfold/client-go/internal/crypto"
)

// Item payload kinds. Kind is free-form; these are the ones the core itself
// creates or recognizes.
const (
	// ItemKindLogin is a credential entry: site, username, password.
	ItemKindLogin = "login"
	// ItemKindNote is a free-text secure note.
	ItemKindNote = "note"
	// ItemKindKeyring is the session's member keypair bundle, stored as a
	// regular vault item so it travels with the vault.
	ItemKindKeyring = "keyring"
)

// ItemPayload is the plaintext form of a vault item. It exists only inside
// the client; storage sees the AEAD ciphertext.
//
// Decoy marks items that belong to the decoy vault. The marker lives in the
// encrypted payload, so its existence is as confidential as the item itself.
type ItemPayload struct {
	Kind   string            `json:"kind"`
	Title  string            `json:"title"`
	Fields map[string]string `json:"fields,omitempty"`
	Notes  string            `json:"notes,omitempty"`
	Decoy  bool              `json:"decoy,omitempty"`
}

// VaultItem is a decrypted vault item.
type VaultItem struct {
	ID      string
	Payload ItemPayload
}

// encryptItemPayload serializes a payload to JSON and seals it.
func encryptItemPayload(payload *ItemPayload, key []byte) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal item payload: %w", err)
	}

	blob, err := crypto.Encrypt(plaintext, key)
	if err != nil {
		return "", wrapCryptoError(err)
	}
	return blob, nil
}

// decryptItemPayload opens a blob and parses the payload.
//
// A decryption failure and a parse failure are distinct outcomes: the first
// means a wrong key or tampered ciphertext (ErrDecryptionFailed), the second
// means the data is corrupt under the correct key (ErrCorruptItemData).
func decryptItemPayload(blob string, key []byte) (*ItemPayload, error) {
	plaintext, err := crypto.Decrypt(blob, key)
	if err != nil {
		return nil, wrapCryptoError(err)
	}

	var payload ItemPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptItemData, err)
	}
	return &payload, nil
}

// CreateItem encrypts payload under the session key and stores it as a new
// vault item. In a duress session the item is silently marked as a decoy, so
// items created under coercion never leak into the real vault's view.
//
// The integrity root is refreshed after the write. If the refresh fails the
// item write is already durable; the error is returned so the caller can
// retry [Session.UpdateIntegrityRoot].
func (s *Session) CreateItem(ctx context.Context, payload ItemPayload) (*VaultItem, error) {
	if err := s.core.checkClosed(); err != nil {
		return nil, err
	}

	payload.Decoy = s.mode == UnlockOutcomeDuress

	var blob string
	err := s.withMasterKey(func(key []byte) error {
		var err error
		blob, err = encryptItemPayload(&payload, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	item := VaultItemRecord{ID: uuid.NewString(), EncryptedData: blob}
	if err := s.core.stores.Vault.PutItem(ctx, s.userID, item); err != nil {
		return nil, err
	}

	if err := s.refreshIntegrityRoot(ctx); err != nil {
		return nil, err
	}

	return &VaultItem{ID: item.ID, Payload: payload}, nil
}

// Item fetches and decrypts one vault item. Requesting an item that does not
// decrypt under this session's key fails with ErrDecryptionFailed, whether it
// belongs to the other vault or has been tampered with.
func (s *Session) Item(ctx context.Context, itemID string) (*VaultItem, error) {
	if err := s.core.checkClosed(); err != nil {
		return nil, err
	}

	record, err := s.core.stores.Vault.Item(ctx, s.userID, itemID)
	if err != nil {
		return nil, err
	}

	var payload *ItemPayload
	err = s.withMasterKey(func(key []byte) error {
		var err error
		payload, err = decryptItemPayload(record.EncryptedData, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &VaultItem{ID: record.ID, Payload: *payload}, nil
}

// Items fetches and decrypts the session's vault items.
//
// The vault table holds the real and the decoy vault side by side, so rows
// that do not decrypt under this session's key are skipped, not errors: they
// belong to the other vault. Tampered rows are likewise skipped here; tamper
// detection is [Session.VerifyIntegrity]'s job, which covers every row
// regardless of which vault owns it. A row that decrypts but fails to parse
// is corruption under the correct key and is returned as ErrCorruptItemData.
func (s *Session) Items(ctx context.Context) ([]*VaultItem, error) {
	if err := s.core.checkClosed(); err != nil {
		return nil, err
	}

	records, err := s.core.stores.Vault.Items(ctx, s.userID)
	if err != nil {
		return nil, err
	}

	items := make([]*VaultItem, 0, len(records))
	err = s.withMasterKey(func(key []byte) error {
		for _, record := range records {
			payload, err := decryptItemPayload(record.EncryptedData, key)
			if err != nil {
				if errors.Is(err, ErrDecryptionFailed) {
					continue
				}
				return fmt.Errorf("item %s: %w", record.ID, err)
			}
			items = append(items, &VaultItem{ID: record.ID, Payload: *payload})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

// UpdateItem replaces an item's payload. The existing row must decrypt under
// this session's key first: a session can only rewrite items of its own
// vault, never the other vault's rows.
func (s *Session) UpdateItem(ctx context.Context, itemID string, payload ItemPayload) (*VaultItem, error) {
	if err := s.core.checkClosed(); err != nil {
		return nil, err
	}

	record, err := s.core.stores.Vault.Item(ctx, s.userID, itemID)
	if err != nil {
		return nil, err
	}

	payload.Decoy = s.mode == UnlockOutcomeDuress

	var blob string
	err = s.withMasterKey(func(key []byte) error {
		if _, err := decryptItemPayload(record.EncryptedData, key); err != nil {
			return err
		}
		var err error
		blob, err = encryptItemPayload(&payload, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	item := VaultItemRecord{ID: itemID, EncryptedData: blob}
	if err := s.core.stores.Vault.PutItem(ctx, s.userID, item); err != nil {
		return nil, err
	}

	if err := s.refreshIntegrityRoot(ctx); err != nil {
		return nil, err
	}

	return &VaultItem{ID: itemID, Payload: payload}, nil
}

// DeleteItem removes a vault item. Like UpdateItem, the row must decrypt
// under this session's key before it can be deleted.
func (s *Session) DeleteItem(ctx context.Context, itemID string) error {
	if err := s.core.checkClosed(); err != nil {
		return err
	}

	record, err := s.core.stores.Vault.Item(ctx, s.userID, itemID)
	if err != nil {
		return err
	}

	err = s.withMasterKey(func(key []byte) error {
		_, err := decryptItemPayload(record.EncryptedData, key)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.core.stores.Vault.DeleteItem(ctx, s.userID, itemID); err != nil {
		return err
	}

	return s.refreshIntegrityRoot(ctx)
}
