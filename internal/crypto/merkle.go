package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// emptyTreeTag is hashed to produce the root of a tree with no leaves, so an
// empty vault still has a distinguished, non-degenerate root.
const emptyTreeTag = "keyfold:integrity:empty:v1"

// anchorTag domain-separates anchor id derivation from leaf hashing.
const anchorTag = "keyfold:integrity:anchor:v1|"

// AnchorID derives the trust-anchor address for one user's integrity root.
// Binding the id to the integrity key gives the real and duress vaults
// independent root tracks, and keeps anchor entries opaque: an observer of
// the anchor store cannot tell which user or vault an entry belongs to.
func AnchorID(integrityKey []byte, userID string) string {
	mac := hmac.New(sha256.New, integrityKey)
	mac.Write([]byte(anchorTag))
	mac.Write([]byte(userID))
	return ToBase64URL(mac.Sum(nil))
}

// LeafHash computes the HMAC-SHA-256 leaf for one vault item. The item id is
// bound into the MAC, so ciphertexts cannot be swapped between items without
// changing the root.
func LeafHash(integrityKey []byte, itemID, ciphertext string) []byte {
	mac := hmac.New(sha256.New, integrityKey)
	mac.Write([]byte(itemID))
	mac.Write([]byte("|"))
	mac.Write([]byte(ciphertext))
	return mac.Sum(nil)
}

// EmptyRoot returns the fixed root of a tree with no leaves.
func EmptyRoot() string {
	sum := sha256.Sum256([]byte(emptyTreeTag))
	return ToBase64URL(sum[:])
}

// ComputeRoot folds leaf hashes into a Merkle root, base64url-encoded.
//
// Leaves must already be in canonical order; the tree is built level by
// level, hashing adjacent pairs with SHA-256. An unpaired trailing node
// carries up to the next level unchanged.
func ComputeRoot(leafHashes [][]byte) string {
	if len(leafHashes) == 0 {
		return EmptyRoot()
	}

	level := make([][]byte, len(leafHashes))
	copy(level, leafHashes)

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}

	return ToBase64URL(level[0])
}
