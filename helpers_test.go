package keyfold_test

import (
	"context"
	"sync"
	"testing"

	keyfold "github.com/keyfold/client-go"
	"github.com/keyfold/client-go/memstore"
)

// testRegistry returns argon2id parameters fast enough for unit tests.
// Production parameters are exercised in the integration suite.
func testRegistry() map[int]keyfold.KDFVersionParams {
	return map[int]keyfold.KDFVersionParams{
		1: {
			Master:    keyfold.KDFParams{Time: 1, MemoryKiB: 64, Parallelism: 1},
			Integrity: keyfold.KDFParams{Time: 1, MemoryKiB: 32, Parallelism: 1},
		},
		2: {
			Master:    keyfold.KDFParams{Time: 2, MemoryKiB: 64, Parallelism: 1},
			Integrity: keyfold.KDFParams{Time: 1, MemoryKiB: 32, Parallelism: 1},
		},
	}
}

func newTestCore(t testing.TB, opts ...keyfold.Option) (*keyfold.Core, *memstore.Store) {
	t.Helper()

	ms := memstore.New()
	opts = append([]keyfold.Option{
		keyfold.WithKDFRegistry(testRegistry(), 1),
		keyfold.WithUnlockDelay(0, 0),
	}, opts...)

	core, err := keyfold.New(ms.Stores(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { core.Close() })
	return core, ms
}

func mustEnroll(t testing.TB, core *keyfold.Core, userID, password string) {
	t.Helper()
	if err := core.Enroll(context.Background(), userID, []byte(password)); err != nil {
		t.Fatalf("Enroll(%s) error = %v", userID, err)
	}
}

func mustUnlock(t testing.TB, core *keyfold.Core, userID, password string) *keyfold.Session {
	t.Helper()
	res, err := core.Unlock(context.Background(), userID, []byte(password))
	if err != nil {
		t.Fatalf("Unlock(%s) error = %v", userID, err)
	}
	if res.Session == nil {
		t.Fatalf("Unlock(%s) outcome = %s, want a session", userID, res.Outcome)
	}
	return res.Session
}

// Hybrid keypair bundles are expensive to generate (RSA-4096), so the suite
// shares two fixed bundles. Keys carry no identity; reusing a bundle for
// different test users is fine.
var (
	memberKeysOnce [2]sync.Once
	memberKeysVal  [2]*keyfold.MemberKeys
	memberKeysErr  [2]error
)

func sharedMemberKeys(t testing.TB, i int) *keyfold.MemberKeys {
	t.Helper()
	memberKeysOnce[i].Do(func() {
		memberKeysVal[i], memberKeysErr[i] = keyfold.GenerateMemberKeys()
	})
	if memberKeysErr[i] != nil {
		t.Fatalf("GenerateMemberKeys() error = %v", memberKeysErr[i])
	}
	return memberKeysVal[i]
}

// attachAndPublish attaches bundle i to the session and publishes its public
// half in the directory under the session's user id.
func attachAndPublish(t testing.TB, ms *memstore.Store, session *keyfold.Session, i int) *keyfold.MemberKeys {
	t.Helper()

	mk := sharedMemberKeys(t, i)
	if err := session.AttachMemberKeys(mk); err != nil {
		t.Fatalf("AttachMemberKeys() error = %v", err)
	}
	pub, err := mk.PublicKeys(session.UserID())
	if err != nil {
		t.Fatalf("PublicKeys() error = %v", err)
	}
	ms.Publish(session.UserID(), *pub)
	return mk
}
