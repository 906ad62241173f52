package keyfold

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keyfold/client-go/internal/crypto"
)

// cryptoFanout bounds the concurrent tasks used for leaf hashing and
// per-member key wrapping.
const cryptoFanout = 8

// IntegrityReport is the outcome of a vault integrity verification.
//
// A mismatch is advisory: it is reported here and through the security event
// subscription, never as a call error. The caller decides whether to block
// further use of the vault.
type IntegrityReport struct {
	// Valid is true when the computed root matches the persisted root, or
	// when no root was persisted yet.
	Valid bool
	// FirstCheck is true when no persisted root existed. The first check
	// cannot detect tampering; it establishes trust in the current state.
	FirstCheck bool
	// ComputedRoot is the Merkle root over the current item set.
	ComputedRoot string
	// StoredRoot is the persisted root, empty on the first check.
	StoredRoot string
}

// computeVaultRoot folds all vault rows into a Merkle root. Rows are sorted
// by item id first, so the root does not depend on the order storage returned
// them in.
func computeVaultRoot(records []VaultItemRecord, integrityKey []byte) string {
	sorted := make([]VaultItemRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	leaves := make([][]byte, len(sorted))
	var g errgroup.Group
	g.SetLimit(cryptoFanout)
	for i, record := range sorted {
		g.Go(func() error {
			leaves[i] = crypto.LeafHash(integrityKey, record.ID, record.EncryptedData)
			return nil
		})
	}
	_ = g.Wait() // leaf hashing never returns an error

	return crypto.ComputeRoot(leaves)
}

// VerifyIntegrity recomputes the Merkle root over every vault row and
// compares it to the root persisted in the trust anchor store.
//
// Every row is covered, including rows this session cannot decrypt: the tree
// is built from ciphertexts, so the decoy vault's items are protected by the
// real vault's root and vice versa. The first verification of a credential
// has no baseline to compare against and reports Valid with FirstCheck set;
// call [Session.UpdateIntegrityRoot] to establish the baseline.
func (s *Session) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if err := s.core.checkClosed(); err != nil {
		return nil, err
	}

	records, err := s.core.stores.Vault.Items(ctx, s.userID)
	if err != nil {
		return nil, err
	}

	var computed string
	err = s.withIntegrityKey(func(key []byte) error {
		computed = computeVaultRoot(records, key)
		return nil
	})
	if err != nil {
		return nil, err
	}

	stored, _, err := s.core.stores.Anchor.Root(ctx, s.anchorID)
	if errors.Is(err, ErrAnchorNotFound) {
		return &IntegrityReport{Valid: true, FirstCheck: true, ComputedRoot: computed}, nil
	}
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{
		Valid:        computed == stored,
		ComputedRoot: computed,
		StoredRoot:   stored,
	}

	if !report.Valid {
		s.core.logger.Warn().
			Str("user_id", s.userID).
			Str("computed_root", computed).
			Str("stored_root", stored).
			Msg("vault integrity mismatch")
		s.core.events.notify(SecurityEvent{
			Kind:   EventIntegrityMismatch,
			UserID: s.userID,
			Detail: "computed root does not match persisted root",
			At:     time.Now(),
		})
	}

	return report, nil
}

// UpdateIntegrityRoot recomputes the root over the current item set and
// persists it under this session's anchor. It must run after every accepted
// mutation; the vault item methods call it themselves.
//
// Persisting is a compare-and-set against the anchor version last read, so a
// concurrent device that updated the root in between surfaces as
// ErrAnchorConflict rather than being silently overwritten.
func (s *Session) UpdateIntegrityRoot(ctx context.Context) (string, error) {
	if err := s.core.checkClosed(); err != nil {
		return "", err
	}

	records, err := s.core.stores.Vault.Items(ctx, s.userID)
	if err != nil {
		return "", err
	}

	var computed string
	err = s.withIntegrityKey(func(key []byte) error {
		computed = computeVaultRoot(records, key)
		return nil
	})
	if err != nil {
		return "", err
	}

	_, version, err := s.core.stores.Anchor.Root(ctx, s.anchorID)
	if err != nil && !errors.Is(err, ErrAnchorNotFound) {
		return "", err
	}

	if err := s.core.stores.Anchor.SetRoot(ctx, s.anchorID, computed, version); err != nil {
		return "", err
	}

	s.core.logger.Debug().
		Str("user_id", s.userID).
		Str("root", computed).
		Int64("version", version+1).
		Msg("integrity root updated")

	return computed, nil
}

// refreshIntegrityRoot is the post-mutation root update used by the vault
// item methods.
func (s *Session) refreshIntegrityRoot(ctx context.Context) error {
	_, err := s.UpdateIntegrityRoot(ctx)
	return err
}
