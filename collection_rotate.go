package keyfold

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keyfold/client-go/securebuf"
)

// retryPolicy is the backoff schedule for rotation commit retries.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     float64
}

func (c *Core) rotationRetryPolicy() retryPolicy {
	return retryPolicy{
		maxRetries: c.rotationRetries,
		baseDelay:  c.rotationRetryBase,
		maxDelay:   defaultRotationRetryMax,
		multiplier: 2.0,
		jitter:     0.2,
	}
}

// delay calculates the backoff before the next attempt with jitter.
func (p retryPolicy) delay(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(p.multiplier, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}

	if p.jitter > 0 {
		jitterAmount := delay * p.jitter
		delay = delay - jitterAmount + (rand.Float64() * 2 * jitterAmount)
	}

	return time.Duration(delay)
}

// wait blocks for the attempt's backoff delay, or until ctx is done.
func (p retryPolicy) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RotateKey replaces the collection's shared key: every item is re-encrypted
// under a fresh random key and the new key is re-wrapped for every current
// member, all committed as one atomic generation bump.
//
// Rotation is all-or-nothing. Every member's published key material is
// checked before any re-encryption starts; a member without hybrid material
// aborts the rotation with ErrSecurityStandardViolation and no work done.
// A commit failure is retried with exponential backoff up to the configured
// retry count and then reported as a RotationError; the previous generation
// remains fully intact and readable in that case.
//
// Rotate after removing a member: deleting their wrapped key stops new
// access, but only a new key makes revocation cryptographic.
func (col *Collection) RotateKey(ctx context.Context) error {
	s := col.session
	if err := s.core.checkClosed(); err != nil {
		return err
	}

	record, err := s.core.stores.Collections.Collection(ctx, col.id)
	if err != nil {
		return err
	}

	members, err := s.core.stores.Collections.Members(ctx, col.id)
	if err != nil {
		return err
	}

	// Preflight every member before touching any item. Aborting here costs
	// nothing; aborting halfway through re-encryption costs the whole run.
	memberPubs := make(map[string]*MemberPublicKeys, len(members))
	for _, userID := range members {
		pub, err := s.core.stores.Directory.PublicKeys(ctx, userID)
		if err != nil {
			return err
		}
		if _, _, err := parseMemberPublicKeys(pub); err != nil {
			return err
		}
		memberPubs[userID] = pub
	}

	oldKey, _, err := col.unwrapSharedKey(ctx)
	if err != nil {
		return err
	}
	defer securebuf.Wipe(oldKey)

	newKey, err := generateSharedKey()
	if err != nil {
		return err
	}
	defer securebuf.Wipe(newKey)

	items, err := s.core.stores.Collections.Items(ctx, col.id)
	if err != nil {
		return err
	}

	generation := record.KeyGeneration + 1
	s.core.logger.Info().
		Str("collection_id", col.id).
		Int64("generation", generation).
		Int("items", len(items)).
		Int("members", len(members)).
		Msg("key rotation started")

	commit := RotationCommit{
		CollectionID: col.id,
		Generation:   generation,
		Items:        make([]CollectionItemRecord, len(items)),
		Keys:         make([]CollectionKeyRecord, len(members)),
	}

	var g errgroup.Group
	g.SetLimit(cryptoFanout)
	for i, item := range items {
		g.Go(func() error {
			payload, err := decryptItemPayload(item.EncryptedData, oldKey)
			if err != nil {
				return err
			}
			blob, err := encryptItemPayload(payload, newKey)
			if err != nil {
				return err
			}
			next := item
			next.EncryptedData = blob
			commit.Items[i] = next
			return nil
		})
	}
	for i, userID := range members {
		g.Go(func() error {
			wrapped, err := WrapSharedKey(newKey, memberPubs[userID])
			if err != nil {
				return err
			}
			commit.Keys[i] = CollectionKeyRecord{
				CollectionID: col.id,
				UserID:       userID,
				WrappedKey:   wrapped,
				PQWrappedKey: wrapped,
				Generation:   generation,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Nothing has been written; the old generation is untouched.
		s.core.logger.Warn().
			Err(err).
			Str("collection_id", col.id).
			Msg("key rotation aborted before commit")
		return err
	}

	if err := col.commitRotation(ctx, commit); err != nil {
		return err
	}

	s.core.logger.Info().
		Str("collection_id", col.id).
		Int64("generation", generation).
		Msg("key rotation committed")
	s.core.events.notify(SecurityEvent{
		Kind:         EventRotationCommitted,
		UserID:       s.userID,
		CollectionID: col.id,
		At:           time.Now().UTC(),
	})
	return nil
}

// commitRotation drives the atomic commit with bounded retries. Only the
// commit is retried; the re-encrypted payload is reused across attempts.
func (col *Collection) commitRotation(ctx context.Context, commit RotationCommit) error {
	s := col.session
	policy := s.core.rotationRetryPolicy()

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= policy.maxRetries; attempt++ {
		attempts++
		lastErr = s.core.stores.Collections.CommitRotation(ctx, commit)
		if lastErr == nil {
			return nil
		}

		if attempt == policy.maxRetries {
			break
		}
		s.core.logger.Warn().
			Err(lastErr).
			Str("collection_id", col.id).
			Int("attempt", attempts).
			Msg("rotation commit failed, backing off")
		if err := policy.wait(ctx, attempt); err != nil {
			lastErr = err
			break
		}
	}

	s.core.logger.Error().
		Err(lastErr).
		Str("collection_id", col.id).
		Int("attempts", attempts).
		Msg("key rotation aborted")
	s.core.events.notify(SecurityEvent{
		Kind:         EventRotationAborted,
		UserID:       s.userID,
		CollectionID: col.id,
		Detail:       lastErr.Error(),
		At:           time.Now().UTC(),
	})
	return &RotationError{CollectionID: col.id, Attempts: attempts, Err: lastErr}
}
