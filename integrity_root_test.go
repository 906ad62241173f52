package keyfold

import (
	"testing"

	"github.com/keyfold/client-go/internal/crypto"
)

func testVaultRecords() []VaultItemRecord {
	return []VaultItemRecord{
		{ID: "c", EncryptedData: "blob-c"},
		{ID: "a", EncryptedData: "blob-a"},
		{ID: "b", EncryptedData: "blob-b"},
	}
}

func TestComputeVaultRoot_OrderIndependent(t *testing.T) {
	key := []byte("integrity key for root tests....")

	records := testVaultRecords()
	reversed := []VaultItemRecord{records[2], records[1], records[0]}

	first := computeVaultRoot(records, key)
	second := computeVaultRoot(reversed, key)
	if first != second {
		t.Errorf("computeVaultRoot() depends on storage order: %s != %s", first, second)
	}
}

func TestComputeVaultRoot_EmptyVault(t *testing.T) {
	key := []byte("integrity key for root tests....")

	got := computeVaultRoot(nil, key)
	if got != crypto.EmptyRoot() {
		t.Errorf("computeVaultRoot(nil) = %s, want the fixed empty root", got)
	}
	if got == "" {
		t.Error("computeVaultRoot(nil) is empty, want a distinguished root")
	}
}

func TestComputeVaultRoot_SensitiveToContent(t *testing.T) {
	key := []byte("integrity key for root tests....")
	baseline := computeVaultRoot(testVaultRecords(), key)

	tampered := testVaultRecords()
	tampered[1].EncryptedData = "blob-a-modified"
	if got := computeVaultRoot(tampered, key); got == baseline {
		t.Error("computeVaultRoot() unchanged after ciphertext modification")
	}

	truncated := testVaultRecords()[:2]
	if got := computeVaultRoot(truncated, key); got == baseline {
		t.Error("computeVaultRoot() unchanged after row deletion")
	}

	// Swapping two ciphertexts keeps the multiset of blobs identical; the
	// id binding in the leaves must still change the root.
	swapped := testVaultRecords()
	swapped[0].EncryptedData, swapped[1].EncryptedData = swapped[1].EncryptedData, swapped[0].EncryptedData
	if got := computeVaultRoot(swapped, key); got == baseline {
		t.Error("computeVaultRoot() unchanged after ciphertext swap between items")
	}
}

func TestComputeVaultRoot_KeyDependence(t *testing.T) {
	records := testVaultRecords()

	first := computeVaultRoot(records, []byte("integrity key one..............."))
	second := computeVaultRoot(records, []byte("integrity key two..............."))
	if first == second {
		t.Error("computeVaultRoot() identical under different integrity keys")
	}
}
