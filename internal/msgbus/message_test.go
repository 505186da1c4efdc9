package msgbus

import "testing"

func TestNewMessageStartsAtOneRef(t *testing.T) {
	m := NewMessage([]byte("hello"))
	if m.RefCount() != 1 {
		t.Fatalf("RefCount() = %d, want 1", m.RefCount())
	}
	if string(m.Bytes()) != "hello" {
		t.Fatalf("Bytes() = %q, want %q", m.Bytes(), "hello")
	}
	if m.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", m.Size())
	}
}

func TestRetainReleaseBalance(t *testing.T) {
	m := NewMessage([]byte("x"))
	m.Retain()
	m.Retain()
	if m.RefCount() != 3 {
		t.Fatalf("RefCount() = %d, want 3", m.RefCount())
	}
	m.Release()
	m.Release()
	if m.RefCount() != 1 {
		t.Fatalf("RefCount() = %d, want 1", m.RefCount())
	}
	m.Release()
	if m.RefCount() != 0 {
		t.Fatalf("RefCount() = %d, want 0", m.RefCount())
	}
}

func TestReleaseBelowZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Release below zero to panic")
		}
	}()
	m := NewMessage([]byte("x"))
	m.Release()
	m.Release()
}

func TestNewMessageCopiesInput(t *testing.T) {
	src := []byte("abc")
	m := NewMessage(src)
	src[0] = 'z'
	if m.Bytes()[0] != 'a' {
		t.Fatal("Message must not alias the caller's backing array")
	}
}
