// Package securebuf wraps key material in page-locked memory that is wiped
// on release. Every component that holds a secret transiently holds it in a
// [Buffer]: access is scoped through [Buffer.Use], destruction is explicit
// and idempotent, and a garbage-collection finalizer wipes buffers whose
// owners forgot to destroy them. The finalizer is a fallback, never a
// substitute for calling [Buffer.Destroy].
package securebuf

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a buffer is used after Destroy.
var ErrDestroyed = errors.New("secure buffer already destroyed")

// Wipe zero-fills b in place. Use it to discard transient key material that
// never made it into a Buffer.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}

// Buffer owns a fixed-size region of locked memory holding key material.
// It is safe for concurrent use.
type Buffer struct {
	mu    sync.Mutex
	inner *memguard.LockedBuffer
}

// FromBytes creates a buffer holding a copy of src in locked memory.
// src is wiped as a side effect, so the only remaining copy of the
// material is inside the buffer.
func FromBytes(src []byte) (*Buffer, error) {
	if len(src) == 0 {
		return nil, errors.New("securebuf: empty source")
	}
	return &Buffer{inner: memguard.NewBufferFromBytes(src)}, nil
}

// FromHex creates a buffer from a hex-encoded string.
func FromHex(s string) (*Buffer, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("securebuf: decode hex: %w", err)
	}
	return FromBytes(raw)
}

// Random creates a buffer holding n bytes from the system CSPRNG.
func Random(n int) (*Buffer, error) {
	if n <= 0 {
		return nil, errors.New("securebuf: size must be positive")
	}
	return &Buffer{inner: memguard.NewBufferRandom(n)}, nil
}

// Use gives fn scoped access to the buffer contents. The slice passed to fn
// aliases locked memory and must not be retained, returned, or written to
// longer-lived storage. The buffer stays locked for the duration of fn, so
// fn must not call back into this buffer.
func (b *Buffer) Use(fn func(data []byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.alive() {
		return ErrDestroyed
	}
	return fn(b.inner.Bytes())
}

// Len returns the buffer size in bytes, or 0 after Destroy.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.alive() {
		return 0
	}
	return b.inner.Size()
}

// Equal compares two buffers in constant time with respect to their
// contents. Buffer sizes are not secret; two buffers of different sizes
// compare unequal immediately.
func (b *Buffer) Equal(other *Buffer) (bool, error) {
	if b == other {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.alive() {
			return false, ErrDestroyed
		}
		return true, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if !b.alive() || !other.alive() {
		return false, ErrDestroyed
	}

	return subtle.ConstantTimeCompare(b.inner.Bytes(), other.inner.Bytes()) == 1, nil
}

// Destroy wipes the buffer and marks it unusable. It is idempotent and safe
// to call from a deferred cleanup that may run after an explicit Destroy.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.alive() {
		b.inner.Destroy()
	}
	b.inner = nil
}

// Destroyed reports whether the buffer has been destroyed.
func (b *Buffer) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.alive()
}

func (b *Buffer) alive() bool {
	return b.inner != nil && b.inner.IsAlive()
}
