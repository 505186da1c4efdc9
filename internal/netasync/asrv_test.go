package netasync

import (
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestAsyncServerAcceptsAndReceives(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "srv.sock")

	connects := make(chan int, 2)
	received := make(chan string, 2)

	srv := NewAsyncServer("unix", sockPath, 2, 256, ServerCallbacks{
		OnConnect: func(slot int, sock *AsyncSocket) { connects <- slot },
		OnData: func(slot int, buf []byte, begin *int, end int) {
			received <- string(buf[*begin:end])
			*begin = end
		},
	})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnConnect")
	}

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-received:
		if msg != "hello" {
			t.Fatalf("received %q, want %q", msg, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnData")
	}
}

func TestAsyncServerPoolExhaustion(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "full.sock")

	poolEmpty := make(chan struct{}, 1)
	connects := make(chan int, 1)

	srv := NewAsyncServer("unix", sockPath, 1, 256, ServerCallbacks{
		OnConnect: func(slot int, sock *AsyncSocket) { connects <- slot },
	})
	srv.OnPoolEmpty = func() {
		select {
		case poolEmpty <- struct{}{}:
		default:
		}
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	first, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial 1: %v", err)
	}
	defer first.Close()

	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first OnConnect")
	}

	second, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial 2: %v", err)
	}
	defer second.Close()

	select {
	case <-poolEmpty:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnPoolEmpty once capacity is exhausted")
	}
}
