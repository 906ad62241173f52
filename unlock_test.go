package keyfold_test

import (
	"context"
	"errors"
	"testing"

	keyfold "github.com/keyfold/client-go"
)

const (
	realPassword   = "correct horse battery staple"
	duressPassword = "open the other vault"
	wrongPassword  = "not the password"
)

// enrollWithDuress enrolls a user and configures a duress password.
func enrollWithDuress(t testing.TB, core *keyfold.Core, userID string) {
	t.Helper()

	mustEnroll(t, core, userID, realPassword)
	session := mustUnlock(t, core, userID, realPassword)
	defer session.Lock()

	if err := core.EnableDuress(context.Background(), session, []byte(duressPassword)); err != nil {
		t.Fatalf("EnableDuress() error = %v", err)
	}
}

func TestUnlock_Outcomes(t *testing.T) {
	core, _ := newTestCore(t)
	enrollWithDuress(t, core, "alice")

	tests := []struct {
		name     string
		password string
		want     keyfold.UnlockOutcome
	}{
		{"master password", realPassword, keyfold.UnlockOutcomeReal},
		{"duress password", duressPassword, keyfold.UnlockOutcomeDuress},
		{"wrong password", wrongPassword, keyfold.UnlockOutcomeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := core.Unlock(context.Background(), "alice", []byte(tt.password))
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			if res.Outcome != tt.want {
				t.Errorf("Outcome = %s, want %s", res.Outcome, tt.want)
			}
			if tt.want == keyfold.UnlockOutcomeInvalid {
				if res.Session != nil {
					t.Error("invalid outcome must not carry a session")
				}
				return
			}
			if res.Session == nil {
				t.Fatal("successful outcome must carry a session")
			}
			if res.Session.Mode() != tt.want {
				t.Errorf("Session.Mode() = %s, want %s", res.Session.Mode(), tt.want)
			}
			res.Session.Lock()
		})
	}
}

func TestUnlock_WithoutDuressConfigured(t *testing.T) {
	core, _ := newTestCore(t)
	mustEnroll(t, core, "alice", realPassword)

	res, err := core.Unlock(context.Background(), "alice", []byte(duressPassword))
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if res.Outcome != keyfold.UnlockOutcomeInvalid {
		t.Errorf("Outcome = %s, want invalid when duress is not configured", res.Outcome)
	}
}

func TestUnlock_EmptyPassword(t *testing.T) {
	core, _ := newTestCore(t)
	mustEnroll(t, core, "alice", realPassword)

	_, err := core.Unlock(context.Background(), "alice", nil)
	if !errors.Is(err, keyfold.ErrWeakSecret) {
		t.Errorf("Unlock(empty) error = %v, want ErrWeakSecret", err)
	}
}

func TestUnlock_UnknownUser(t *testing.T) {
	core, _ := newTestCore(t)

	_, err := core.Unlock(context.Background(), "nobody", []byte(realPassword))
	if !errors.Is(err, keyfold.ErrProfileNotFound) {
		t.Errorf("Unlock(unknown) error = %v, want ErrProfileNotFound", err)
	}
}

func TestUnlock_ContextCancelledBeforeDerivation(t *testing.T) {
	core, _ := newTestCore(t)
	mustEnroll(t, core, "alice", realPassword)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := core.Unlock(ctx, "alice", []byte(realPassword))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Unlock(cancelled ctx) error = %v, want context.Canceled", err)
	}
}

func TestUnlock_IndependentSessions(t *testing.T) {
	core, _ := newTestCore(t)
	mustEnroll(t, core, "alice", realPassword)

	s1 := mustUnlock(t, core, "alice", realPassword)
	s2 := mustUnlock(t, core, "alice", realPassword)

	s1.Lock()
	if s2.Locked() {
		t.Error("locking one session must not lock another")
	}

	// The surviving session still works.
	if _, err := s2.Items(context.Background()); err != nil {
		t.Errorf("Items() on surviving session error = %v", err)
	}
	s2.Lock()
}

func TestSession_LockedOperationsFail(t *testing.T) {
	core, _ := newTestCore(t)
	mustEnroll(t, core, "alice", realPassword)

	session := mustUnlock(t, core, "alice", realPassword)
	session.Lock()

	if !session.Locked() {
		t.Fatal("session should report locked")
	}
	_, err := session.CreateItem(context.Background(), keyfold.ItemPayload{Kind: keyfold.ItemKindNote, Title: "x"})
	if !errors.Is(err, keyfold.ErrAuthenticationRequired) {
		t.Errorf("CreateItem() on locked session error = %v, want ErrAuthenticationRequired", err)
	}

	// Lock is idempotent.
	session.Lock()
}
