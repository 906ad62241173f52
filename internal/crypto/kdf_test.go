package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

// cheapEngine returns an engine whose parameters are fast enough for unit
// tests. Production parameters are exercised in the integration suite.
func cheapEngine(t testing.TB) *Engine {
	t.Helper()

	registry := map[int]VersionParams{
		1: {
			Master:    Params{Time: 1, MemoryKiB: 64, Parallelism: 1},
			Integrity: Params{Time: 1, MemoryKiB: 32, Parallelism: 1},
		},
		2: {
			Master:    Params{Time: 2, MemoryKiB: 64, Parallelism: 1},
			Integrity: Params{Time: 1, MemoryKiB: 32, Parallelism: 1},
		},
	}

	engine, err := NewEngineWithRegistry(registry, 1)
	if err != nil {
		t.Fatalf("NewEngineWithRegistry() error = %v", err)
	}
	return engine
}

func TestDeriveKey_Deterministic(t *testing.T) {
	engine := cheapEngine(t)

	salt, err := engine.GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}

	key1, err := engine.DeriveKey([]byte("correct horse battery staple"), salt, 1)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	key2, err := engine.DeriveKey([]byte("correct horse battery staple"), salt, 1)
	if err != nil {
		t.Fatal(err)
	}

	if len(key1) != AESKeySize {
		t.Errorf("key length = %d, want %d", len(key1), AESKeySize)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("same password and salt produced different keys")
	}
}

func TestDeriveKey_Separation(t *testing.T) {
	engine := cheapEngine(t)

	salt1, _ := engine.GenerateSalt()
	salt2, _ := engine.GenerateSalt()
	password := []byte("correct horse battery staple")

	base, err := engine.DeriveKey(password, salt1, 1)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		password []byte
		salt     string
		version  int
	}{
		{"different password", []byte("wrong horse"), salt1, 1},
		{"different salt", password, salt2, 1},
		{"different version", password, salt1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := engine.DeriveKey(tt.password, tt.salt, tt.version)
			if err != nil {
				t.Fatalf("DeriveKey() error = %v", err)
			}
			if bytes.Equal(base, key) {
				t.Error("derivation inputs changed but key did not")
			}
		})
	}
}

func TestDeriveIntegrityKey_DiffersFromMasterKey(t *testing.T) {
	engine := cheapEngine(t)

	salt, _ := engine.GenerateSalt()
	password := []byte("correct horse battery staple")

	master, err := engine.DeriveKey(password, salt, 1)
	if err != nil {
		t.Fatal(err)
	}
	integrity, err := engine.DeriveIntegrityKey(password, salt, 1)
	if err != nil {
		t.Fatalf("DeriveIntegrityKey() error = %v", err)
	}

	if bytes.Equal(master, integrity) {
		t.Error("integrity key equals master key")
	}
	if len(integrity) != AESKeySize {
		t.Errorf("integrity key length = %d, want %d", len(integrity), AESKeySize)
	}

	// Deterministic like the master key.
	again, err := engine.DeriveIntegrityKey(password, salt, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(integrity, again) {
		t.Error("integrity key is not deterministic")
	}
}

func TestDeriveKey_ValidationErrors(t *testing.T) {
	engine := cheapEngine(t)
	salt, _ := engine.GenerateSalt()

	tests := []struct {
		name     string
		password []byte
		salt     string
		version  int
		wantErr  error
	}{
		{"empty password", []byte{}, salt, 1, ErrEmptyPassword},
		{"nil password", nil, salt, 1, ErrEmptyPassword},
		{"empty salt", []byte("pw"), "", 1, ErrInvalidSalt},
		{"undecodable salt", []byte("pw"), "!!!", 1, ErrInvalidSalt},
		{"unknown version", []byte("pw"), salt, 99, ErrUnknownKDFVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.DeriveKey(tt.password, tt.salt, tt.version)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DeriveKey() error = %v, want %v", err, tt.wantErr)
			}

			_, err = engine.DeriveIntegrityKey(tt.password, tt.salt, tt.version)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DeriveIntegrityKey() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateSalt(t *testing.T) {
	engine := cheapEngine(t)

	salt1, err := engine.GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}
	salt2, err := engine.GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}

	if salt1 == salt2 {
		t.Error("two generated salts are identical")
	}

	raw, err := FromBase64(salt1)
	if err != nil {
		t.Fatalf("salt is not standard base64: %v", err)
	}
	if len(raw) != SaltSize {
		t.Errorf("salt length = %d, want %d", len(raw), SaltSize)
	}
}

func TestVerifier_RoundTrip(t *testing.T) {
	engine := cheapEngine(t)

	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	verifier, err := engine.CreateVerifier(key)
	if err != nil {
		t.Fatalf("CreateVerifier() error = %v", err)
	}

	if !engine.VerifyKey(verifier, key) {
		t.Error("VerifyKey() = false for the key that created the verifier")
	}
}

func TestVerifyKey_Failures(t *testing.T) {
	engine := cheapEngine(t)

	key := make([]byte, AESKeySize)
	wrongKey := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(wrongKey); err != nil {
		t.Fatal(err)
	}

	verifier, err := engine.CreateVerifier(key)
	if err != nil {
		t.Fatal(err)
	}

	// A valid blob that does not contain the canary.
	notCanary, err := Encrypt([]byte("something else entirely"), key)
	if err != nil {
		t.Fatal(err)
	}

	tampered := []byte(verifier)
	tampered[len(tampered)/2] ^= 0x01

	tests := []struct {
		name     string
		verifier string
		key      []byte
	}{
		{"wrong key", verifier, wrongKey},
		{"garbage verifier", "not a verifier", key},
		{"empty verifier", "", key},
		{"tampered verifier", string(tampered), key},
		{"wrong canary", notCanary, key},
		{"short key", verifier, make([]byte, 16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if engine.VerifyKey(tt.verifier, tt.key) {
				t.Error("VerifyKey() = true, want false")
			}
		})
	}
}

func TestNewEngineWithRegistry_Validation(t *testing.T) {
	t.Run("empty registry", func(t *testing.T) {
		_, err := NewEngineWithRegistry(nil, 1)
		if err == nil {
			t.Error("expected error for empty registry")
		}
	})

	t.Run("default version missing", func(t *testing.T) {
		registry := map[int]VersionParams{
			2: {Master: Params{Time: 1, MemoryKiB: 64, Parallelism: 1}},
		}
		_, err := NewEngineWithRegistry(registry, 1)
		if !errors.Is(err, ErrUnknownKDFVersion) {
			t.Errorf("expected ErrUnknownKDFVersion, got %v", err)
		}
	})
}

func TestNewEngine_Defaults(t *testing.T) {
	engine := NewEngine()

	if engine.DefaultVersion() != DefaultKDFVersion {
		t.Errorf("DefaultVersion() = %d, want %d", engine.DefaultVersion(), DefaultKDFVersion)
	}

	params, ok := DefaultRegistry()[DefaultKDFVersion]
	if !ok {
		t.Fatal("default registry missing the default version")
	}
	if params.Master.MemoryKiB != 64*1024 || params.Master.Time != 3 || params.Master.Parallelism != 4 {
		t.Errorf("unexpected version 1 master parameters: %+v", params.Master)
	}
	if params.Integrity.MemoryKiB >= params.Master.MemoryKiB {
		t.Error("integrity parameters should be lighter than master parameters")
	}
}

func BenchmarkDeriveKey_Production(b *testing.B) {
	engine := NewEngine()
	salt, err := engine.GenerateSalt()
	if err != nil {
		b.Fatal(err)
	}
	password := []byte("correct horse battery staple")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.DeriveKey(password, salt, DefaultKDFVersion); err != nil {
			b.Fatal(err)
		}
	}
}
