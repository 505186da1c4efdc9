package netasync

import (
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestAsyncSocketSendAndReceive(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "echo.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		conn.Write(buf[:n])
	}()

	sock := NewAsyncSocket(256)

	connected := make(chan Status, 1)
	sock.OnConnect = func(s Status) { connected <- s }

	received := make(chan string, 1)
	sock.OnData = func(buf []byte, begin *int, end int) {
		received <- string(buf[*begin:end])
		*begin = end
	}

	sock.connectTo("unix", sockPath)

	select {
	case s := <-connected:
		if s != StatusOK {
			t.Fatalf("OnConnect status = %v, want StatusOK", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect")
	}

	if !sock.Send([]byte("ping")) {
		t.Fatal("Send should succeed once connected")
	}

	select {
	case msg := <-received:
		if msg != "ping" {
			t.Fatalf("received %q, want %q", msg, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed data")
	}

	<-serverDone
}

func TestAsyncSocketSendWhileIdleFails(t *testing.T) {
	sock := NewAsyncSocket(64)
	if sock.Send([]byte("x")) {
		t.Fatal("Send on an idle (never-connected) socket should fail")
	}
}

func TestAsyncSocketDisconnectFiresOnce(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "slow.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	sock := NewAsyncSocket(64)
	connected := make(chan struct{})
	sock.OnConnect = func(Status) { close(connected) }

	disconnects := 0
	sock.OnDisconnect = func(Status) { disconnects++ }

	sock.connectTo("unix", sockPath)
	<-connected
	<-accepted

	sock.Disconnect()
	sock.Disconnect() // must be a no-op the second time

	if disconnects != 1 {
		t.Fatalf("OnDisconnect fired %d times, want 1", disconnects)
	}
}
