package securebuf

import (
	"bytes"
	"errors"
	"testing"
)

func TestFromBytes_WipesSource(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	want := append([]byte(nil), src...)

	buf, err := FromBytes(src)
	if err != nil {
		t.Fatalf("FromBytes() error = %v", err)
	}
	defer buf.Destroy()

	if !bytes.Equal(src, make([]byte, len(src))) {
		t.Error("source bytes were not wiped")
	}

	err = buf.Use(func(data []byte) error {
		if !bytes.Equal(data, want) {
			t.Errorf("buffer contents = %v, want %v", data, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Use() error = %v", err)
	}
}

func TestFromBytes_Empty(t *testing.T) {
	if _, err := FromBytes(nil); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := FromBytes([]byte{}); err == nil {
		t.Error("expected error for empty source")
	}
}

func TestFromHex(t *testing.T) {
	buf, err := FromHex("00ff7f80")
	if err != nil {
		t.Fatalf("FromHex() error = %v", err)
	}
	defer buf.Destroy()

	err = buf.Use(func(data []byte) error {
		if !bytes.Equal(data, []byte{0x00, 0xff, 0x7f, 0x80}) {
			t.Errorf("buffer contents = %v", data)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("invalid hex", func(t *testing.T) {
		if _, err := FromHex("not hex"); err == nil {
			t.Error("expected error for invalid hex")
		}
	})

	t.Run("empty hex", func(t *testing.T) {
		if _, err := FromHex(""); err == nil {
			t.Error("expected error for empty hex")
		}
	})
}

func TestRandom(t *testing.T) {
	buf1, err := Random(32)
	if err != nil {
		t.Fatalf("Random() error = %v", err)
	}
	defer buf1.Destroy()

	buf2, err := Random(32)
	if err != nil {
		t.Fatal(err)
	}
	defer buf2.Destroy()

	if buf1.Len() != 32 {
		t.Errorf("Len() = %d, want 32", buf1.Len())
	}

	equal, err := buf1.Equal(buf2)
	if err != nil {
		t.Fatal(err)
	}
	if equal {
		t.Error("two random buffers are identical")
	}

	t.Run("invalid size", func(t *testing.T) {
		if _, err := Random(0); err == nil {
			t.Error("expected error for zero size")
		}
		if _, err := Random(-1); err == nil {
			t.Error("expected error for negative size")
		}
	})
}

func TestDestroy_Idempotent(t *testing.T) {
	buf, err := Random(16)
	if err != nil {
		t.Fatal(err)
	}

	buf.Destroy()
	buf.Destroy()
	buf.Destroy()

	if !buf.Destroyed() {
		t.Error("Destroyed() = false after Destroy")
	}
}

func TestUse_AfterDestroy(t *testing.T) {
	buf, err := Random(16)
	if err != nil {
		t.Fatal(err)
	}
	buf.Destroy()

	err = buf.Use(func(data []byte) error {
		t.Error("fn called on destroyed buffer")
		return nil
	})
	if !errors.Is(err, ErrDestroyed) {
		t.Errorf("Use() error = %v, want ErrDestroyed", err)
	}

	if buf.Len() != 0 {
		t.Errorf("Len() = %d after Destroy, want 0", buf.Len())
	}
}

func TestUse_PropagatesError(t *testing.T) {
	buf, err := Random(16)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Destroy()

	sentinel := errors.New("sentinel")
	if err := buf.Use(func([]byte) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("Use() error = %v, want sentinel", err)
	}
}

func TestEqual(t *testing.T) {
	material := []byte("0123456789abcdef0123456789abcdef")

	fresh := func(t *testing.T) *Buffer {
		t.Helper()
		b, err := FromBytes(append([]byte(nil), material...))
		if err != nil {
			t.Fatal(err)
		}
		return b
	}

	t.Run("equal contents", func(t *testing.T) {
		a := fresh(t)
		defer a.Destroy()
		b := fresh(t)
		defer b.Destroy()

		equal, err := a.Equal(b)
		if err != nil {
			t.Fatal(err)
		}
		if !equal {
			t.Error("Equal() = false for identical contents")
		}
	})

	t.Run("different contents", func(t *testing.T) {
		a := fresh(t)
		defer a.Destroy()
		b, err := Random(len(material))
		if err != nil {
			t.Fatal(err)
		}
		defer b.Destroy()

		equal, err := a.Equal(b)
		if err != nil {
			t.Fatal(err)
		}
		if equal {
			t.Error("Equal() = true for different contents")
		}
	})

	t.Run("different sizes", func(t *testing.T) {
		a := fresh(t)
		defer a.Destroy()
		b, err := Random(8)
		if err != nil {
			t.Fatal(err)
		}
		defer b.Destroy()

		equal, err := a.Equal(b)
		if err != nil {
			t.Fatal(err)
		}
		if equal {
			t.Error("Equal() = true for different sizes")
		}
	})

	t.Run("self", func(t *testing.T) {
		a := fresh(t)
		defer a.Destroy()

		equal, err := a.Equal(a)
		if err != nil {
			t.Fatal(err)
		}
		if !equal {
			t.Error("Equal() = false for self")
		}
	})

	t.Run("destroyed operand", func(t *testing.T) {
		a := fresh(t)
		defer a.Destroy()
		b := fresh(t)
		b.Destroy()

		if _, err := a.Equal(b); !errors.Is(err, ErrDestroyed) {
			t.Errorf("Equal() error = %v, want ErrDestroyed", err)
		}
		if _, err := b.Equal(a); !errors.Is(err, ErrDestroyed) {
			t.Errorf("Equal() error = %v, want ErrDestroyed", err)
		}
	})
}

func TestUse_Concurrent(t *testing.T) {
	buf, err := Random(32)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Destroy()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				_ = buf.Use(func(data []byte) error {
					if len(data) != 32 {
						t.Errorf("len(data) = %d", len(data))
					}
					return nil
				})
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
