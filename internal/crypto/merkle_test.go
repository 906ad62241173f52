package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"testing"
)

func testIntegrityKey(t testing.TB) []byte {
	t.Helper()
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return key
}

func TestLeafHash_Deterministic(t *testing.T) {
	key := testIntegrityKey(t)

	h1 := LeafHash(key, "item-1", "ciphertext-blob")
	h2 := LeafHash(key, "item-1", "ciphertext-blob")

	if !bytes.Equal(h1, h2) {
		t.Error("same inputs produced different leaf hashes")
	}
	if len(h1) != sha256.Size {
		t.Errorf("leaf hash length = %d, want %d", len(h1), sha256.Size)
	}
}

func TestLeafHash_Separation(t *testing.T) {
	key := testIntegrityKey(t)
	otherKey := testIntegrityKey(t)

	base := LeafHash(key, "item-1", "ciphertext-blob")

	tests := []struct {
		name       string
		key        []byte
		itemID     string
		ciphertext string
	}{
		{"different item id", key, "item-2", "ciphertext-blob"},
		{"different ciphertext", key, "item-1", "other-blob"},
		{"different key", otherKey, "item-1", "ciphertext-blob"},
		// The separator prevents boundary ambiguity between id and blob.
		{"shifted boundary", key, "item-1c", "iphertext-blob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := LeafHash(tt.key, tt.itemID, tt.ciphertext)
			if bytes.Equal(base, h) {
				t.Error("inputs changed but leaf hash did not")
			}
		})
	}
}

func TestEmptyRoot(t *testing.T) {
	root := EmptyRoot()

	if root == "" {
		t.Fatal("EmptyRoot() returned empty string")
	}
	if root != EmptyRoot() {
		t.Error("EmptyRoot() is not stable")
	}
	if ComputeRoot(nil) != root {
		t.Error("ComputeRoot(nil) != EmptyRoot()")
	}
	if ComputeRoot([][]byte{}) != root {
		t.Error("ComputeRoot(empty) != EmptyRoot()")
	}

	// The fixed value other implementations must agree on.
	sum := sha256.Sum256([]byte("keyfold:integrity:empty:v1"))
	if root != ToBase64URL(sum[:]) {
		t.Errorf("EmptyRoot() = %q, want hash of the empty-tree tag", root)
	}
}

func TestComputeRoot_SingleLeaf(t *testing.T) {
	key := testIntegrityKey(t)
	leaf := LeafHash(key, "item-1", "blob")

	root := ComputeRoot([][]byte{leaf})

	// A single leaf is its own root.
	if root != ToBase64URL(leaf) {
		t.Errorf("single-leaf root = %q, want the leaf itself", root)
	}
}

func TestComputeRoot_PairStructure(t *testing.T) {
	key := testIntegrityKey(t)
	l1 := LeafHash(key, "item-1", "blob-1")
	l2 := LeafHash(key, "item-2", "blob-2")

	h := sha256.New()
	h.Write(l1)
	h.Write(l2)
	want := ToBase64URL(h.Sum(nil))

	if got := ComputeRoot([][]byte{l1, l2}); got != want {
		t.Errorf("two-leaf root = %q, want sha256(l1 || l2) = %q", got, want)
	}
}

func TestComputeRoot_OddLeafCarriesForward(t *testing.T) {
	key := testIntegrityKey(t)
	l1 := LeafHash(key, "item-1", "blob-1")
	l2 := LeafHash(key, "item-2", "blob-2")
	l3 := LeafHash(key, "item-3", "blob-3")

	h := sha256.New()
	h.Write(l1)
	h.Write(l2)
	pair := h.Sum(nil)

	h = sha256.New()
	h.Write(pair)
	h.Write(l3)
	want := ToBase64URL(h.Sum(nil))

	if got := ComputeRoot([][]byte{l1, l2, l3}); got != want {
		t.Errorf("three-leaf root = %q, want %q", got, want)
	}
}

func TestComputeRoot_Sensitivity(t *testing.T) {
	key := testIntegrityKey(t)

	leaves := make([][]byte, 7)
	for i := range leaves {
		leaves[i] = LeafHash(key, string(rune('a'+i)), "blob")
	}

	base := ComputeRoot(leaves)

	for i := range leaves {
		mutated := make([][]byte, len(leaves))
		copy(mutated, leaves)
		flipped := make([]byte, len(leaves[i]))
		copy(flipped, leaves[i])
		flipped[0] ^= 0x01
		mutated[i] = flipped

		if ComputeRoot(mutated) == base {
			t.Errorf("flipping a bit in leaf %d did not change the root", i)
		}
	}

	// Dropping a leaf changes the root.
	if ComputeRoot(leaves[:len(leaves)-1]) == base {
		t.Error("dropping a leaf did not change the root")
	}

	// Order matters at this level; callers are responsible for canonical order.
	swapped := make([][]byte, len(leaves))
	copy(swapped, leaves)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	if ComputeRoot(swapped) == base {
		t.Error("swapping leaves did not change the root")
	}
}

func TestComputeRoot_DoesNotMutateInput(t *testing.T) {
	key := testIntegrityKey(t)

	leaves := [][]byte{
		LeafHash(key, "item-1", "blob-1"),
		LeafHash(key, "item-2", "blob-2"),
		LeafHash(key, "item-3", "blob-3"),
	}
	snapshot := make([][]byte, len(leaves))
	for i, l := range leaves {
		snapshot[i] = append([]byte(nil), l...)
	}

	ComputeRoot(leaves)

	for i := range leaves {
		if !bytes.Equal(leaves[i], snapshot[i]) {
			t.Errorf("ComputeRoot mutated leaf %d", i)
		}
	}
}

func BenchmarkComputeRoot_1000(b *testing.B) {
	key := make([]byte, AESKeySize)
	rand.Read(key)

	leaves := make([][]byte, 1000)
	for i := range leaves {
		leaves[i] = LeafHash(key, "item", "blob")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ComputeRoot(leaves)
	}
}
