// Package keyfold is the client-side cryptographic core of the Keyfold
// password manager.
//
// Everything here runs on the user's device under a zero-knowledge model:
// keys are derived from the master password with argon2id and never persisted,
// vault items are sealed with AES-256-GCM before they reach storage, and
// collection keys travel between members under hybrid post-quantum wrapping
// (ML-KEM-768 plus RSA-4096-OAEP). Storage backends only ever see ciphertext,
// salts and verifiers.
//
// Basic usage:
//
//	core, err := keyfold.New(stores)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer core.Close()
//
//	if err := core.Enroll(ctx, "alice", password); err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := core.Unlock(ctx, "alice", password)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if res.Outcome == keyfold.UnlockOutcomeInvalid {
//	    log.Fatal("wrong password")
//	}
//	session := res.Session
//	defer session.Lock()
//
//	item, err := session.CreateItem(ctx, keyfold.ItemPayload{
//	    Kind:   keyfold.ItemKindLogin,
//	    Title:  "example.com",
//	    Fields: map[string]string{"username": "alice", "password": "hunter2"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("created:", item.ID)
package keyfold
