package daemon_test

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jfdispatch/dispatcherd/internal/config"
	"github.com/jfdispatch/dispatcherd/internal/daemon"
	"github.com/jfdispatch/dispatcherd/internal/header"
	"github.com/jfdispatch/dispatcherd/internal/reactor"
	"github.com/rs/zerolog"
)

func writeService(t *testing.T, dir, file, yaml string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write %s: %v", file, err)
	}
}

// TestDaemonEndToEndFanOut exercises the full path a message takes:
// publisher connects to service A's ingress, the frame is dispatched,
// routed to service B's subscription, and forwarded out over B's
// configured inbound socket once B has activated.
func TestDaemonEndToEndFanOut(t *testing.T) {
	dir := t.TempDir()
	aOut := filepath.Join(dir, "a.out.sock")
	aIn := filepath.Join(dir, "a.in.sock")
	bOut := filepath.Join(dir, "b.out.sock")
	bIn := filepath.Join(dir, "b.in.sock")

	writeService(t, dir, "a.yaml", `
config_id: 1
name: svc-a
user_id: `+strconv.Itoa(os.Getuid())+`
group_id: 0
messaging_in_path: `+aIn+`
messaging_out_path: `+aOut+`
max_queued_msgs: 16
max_msg_size: 4096
published:
  - msg_id: 10
`)
	writeService(t, dir, "b.yaml", `
config_id: 2
name: svc-b
user_id: `+strconv.Itoa(os.Getuid())+`
group_id: 0
messaging_in_path: `+bIn+`
messaging_out_path: `+bOut+`
max_queued_msgs: 16
max_msg_size: 4096
subscribed:
  - msg_id: 10
`)

	store, err := config.Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	bListener, err := net.Listen("unix", bIn)
	if err != nil {
		t.Fatalf("listen on b's inbound socket: %v", err)
	}
	defer bListener.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := bListener.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		received <- append([]byte(nil), buf[:n]...)
	}()

	chain := reactor.New()
	go chain.Run()
	defer chain.Stop()

	d := daemon.New(store, chain, 1, nil, zerolog.Nop())
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Shutdown()

	// Activate B by sending SERV_ACTIVE on its own ingress connection.
	bConn, err := net.Dial("unix", bOut)
	if err != nil {
		t.Fatalf("dial b ingress: %v", err)
	}
	defer bConn.Close()
	activatePayload := make([]byte, 4)
	header.EncodeServActivePayload(activatePayload, header.ServActivePayload{ServiceID: 22})
	activateFrame := make([]byte, header.Size+4)
	header.Init(activateFrame, header.ServActive, header.PriorityMid, 4, 22)
	copy(activateFrame[header.Size:], activatePayload)
	if _, err := bConn.Write(activateFrame); err != nil {
		t.Fatalf("write activate frame: %v", err)
	}

	// Give the activation a moment to land before A publishes.
	time.Sleep(100 * time.Millisecond)

	aConn, err := net.Dial("unix", aOut)
	if err != nil {
		t.Fatalf("dial a ingress: %v", err)
	}
	defer aConn.Close()

	dataFrame := make([]byte, header.Size+5)
	header.Init(dataFrame, 10, header.PriorityMid, 5, 1)
	copy(dataFrame[header.Size:], "price")
	if _, err := aConn.Write(dataFrame); err != nil {
		t.Fatalf("write data frame: %v", err)
	}

	select {
	case frame := <-received:
		if len(frame) < header.Size {
			t.Fatalf("received frame too short: %d bytes", len(frame))
		}
		h := header.Decode(frame)
		if h.MsgID != 10 {
			t.Fatalf("MsgID = %d, want 10", h.MsgID)
		}
		payload := frame[header.Size:header.MsgSize(frame)]
		if string(payload) != "price" {
			t.Fatalf("payload = %q, want %q", payload, "price")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscriber to receive the forwarded message")
	}
}
