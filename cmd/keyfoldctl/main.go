package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	keyfold "github.com/keyfold/client-go"
	"github.com/keyfold/client-go/internal/crypto"
)

// Config wires the command streams so commands can be tested without a
// process boundary.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultConfig returns a Config wired to the process streams.
func DefaultConfig() *Config {
	return &Config{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func run(args []string, cfg *Config) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: keyfoldctl <keygen|wrap|unwrap|root|bench-kdf> [args]")
	}

	switch args[1] {
	case "keygen":
		return runKeygen(cfg)
	case "wrap":
		if len(args) < 3 {
			return fmt.Errorf("usage: keyfoldctl wrap <key-base64url> < public-keys.json")
		}
		return runWrap(args[2], cfg)
	case "unwrap":
		if len(args) < 3 {
			return fmt.Errorf("usage: keyfoldctl unwrap <wrapped-blob> < keys.json")
		}
		return runUnwrap(args[2], cfg)
	case "root":
		return runRoot(cfg)
	case "bench-kdf":
		return runBenchKDF(cfg)
	default:
		return fmt.Errorf("unknown command: %s", args[1])
	}
}

// KeygenOutput is the result of keygen. Keys holds both secret keys; treat
// the output like a password.
type KeygenOutput struct {
	Keys       *keyfold.ExportedMemberKeys `json:"keys"`
	PublicKeys PublicKeysOutput            `json:"publicKeys"`
}

// PublicKeysOutput is the shareable half of a keypair bundle, the input
// format of the wrap command.
type PublicKeysOutput struct {
	UserID       string `json:"userId,omitempty"`
	KEMPublicKey string `json:"kemPublicKey"`
	RSAPublicKey string `json:"rsaPublicKey"`
}

func runKeygen(cfg *Config) error {
	mk, err := keyfold.GenerateMemberKeys()
	if err != nil {
		return fmt.Errorf("generate keys: %w", err)
	}

	exported, err := mk.Export()
	if err != nil {
		return fmt.Errorf("export keys: %w", err)
	}
	pub, err := mk.PublicKeys("")
	if err != nil {
		return fmt.Errorf("extract public keys: %w", err)
	}

	out := KeygenOutput{
		Keys: exported,
		PublicKeys: PublicKeysOutput{
			KEMPublicKey: pub.KEMPublicKey,
			RSAPublicKey: pub.RSAPublicKey,
		},
	}
	return json.NewEncoder(cfg.Stdout).Encode(out)
}

func runWrap(keyB64 string, cfg *Config) error {
	key, err := base64.RawURLEncoding.DecodeString(keyB64)
	if err != nil {
		return fmt.Errorf("decode key: %w", err)
	}

	data, err := io.ReadAll(cfg.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	var pub PublicKeysOutput
	if err := json.Unmarshal(data, &pub); err != nil {
		return fmt.Errorf("parse public keys: %w", err)
	}

	blob, err := keyfold.WrapSharedKey(key, &keyfold.MemberPublicKeys{
		UserID:       pub.UserID,
		KEMPublicKey: pub.KEMPublicKey,
		RSAPublicKey: pub.RSAPublicKey,
	})
	if err != nil {
		return fmt.Errorf("wrap key: %w", err)
	}

	return json.NewEncoder(cfg.Stdout).Encode(map[string]string{"wrapped": blob})
}

func runUnwrap(blob string, cfg *Config) error {
	data, err := io.ReadAll(cfg.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	var exported keyfold.ExportedMemberKeys
	if err := json.Unmarshal(data, &exported); err != nil {
		return fmt.Errorf("parse keys: %w", err)
	}

	mk, err := keyfold.ImportMemberKeys(&exported)
	if err != nil {
		return fmt.Errorf("import keys: %w", err)
	}
	key, err := mk.UnwrapSharedKey(blob)
	if err != nil {
		return fmt.Errorf("unwrap key: %w", err)
	}

	return json.NewEncoder(cfg.Stdout).Encode(map[string]string{
		"key": base64.RawURLEncoding.EncodeToString(key),
	})
}

// RootInput is the input format of the root command: an integrity key and the
// raw vault rows, in any order.
type RootInput struct {
	IntegrityKey string     `json:"integrityKey"`
	Items        []RootItem `json:"items"`
}

// RootItem is one vault row as stored: the item id and its ciphertext.
type RootItem struct {
	ID            string `json:"id"`
	EncryptedData string `json:"encryptedData"`
}

// runRoot recomputes the integrity root over a dumped item set, for checking
// a vault against another implementation.
func runRoot(cfg *Config) error {
	data, err := io.ReadAll(cfg.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	var in RootInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}

	key, err := base64.RawURLEncoding.DecodeString(in.IntegrityKey)
	if err != nil {
		return fmt.Errorf("decode integrity key: %w", err)
	}

	sort.Slice(in.Items, func(i, j int) bool { return in.Items[i].ID < in.Items[j].ID })
	leaves := make([][]byte, len(in.Items))
	for i, item := range in.Items {
		leaves[i] = crypto.LeafHash(key, item.ID, item.EncryptedData)
	}

	return json.NewEncoder(cfg.Stdout).Encode(map[string]string{
		"root": crypto.ComputeRoot(leaves),
	})
}

// BenchOutput is the result of bench-kdf: wall-clock timings of the default
// derivation parameters on this machine.
type BenchOutput struct {
	KDFVersion  int   `json:"kdfVersion"`
	MasterMs    int64 `json:"masterMs"`
	IntegrityMs int64 `json:"integrityMs"`
}

// runBenchKDF times the production argon2id parameters. Unlock latency is
// dominated by these derivations, so the numbers approximate user-visible
// unlock time on the current hardware.
func runBenchKDF(cfg *Config) error {
	engine := crypto.NewEngine()
	salt, err := engine.GenerateSalt()
	if err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	password := []byte("keyfoldctl benchmark password")
	version := engine.DefaultVersion()

	start := time.Now()
	if _, err := engine.DeriveKey(password, salt, version); err != nil {
		return fmt.Errorf("derive master key: %w", err)
	}
	master := time.Since(start)

	start = time.Now()
	if _, err := engine.DeriveIntegrityKey(password, salt, version); err != nil {
		return fmt.Errorf("derive integrity key: %w", err)
	}
	integrity := time.Since(start)

	return json.NewEncoder(cfg.Stdout).Encode(BenchOutput{
		KDFVersion:  version,
		MasterMs:    master.Milliseconds(),
		IntegrityMs: integrity.Milliseconds(),
	})
}
