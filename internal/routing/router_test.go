package routing

import (
	"path/filepath"
	"testing"

	"github.com/jfdispatch/dispatcherd/internal/header"
	"github.com/jfdispatch/dispatcherd/internal/msgbus"
	"github.com/jfdispatch/dispatcherd/internal/reactor"
)

func newTestClient(t *testing.T, configID int32, name string, maxQueue int) *ServiceClient {
	t.Helper()
	chain := reactor.New()
	go chain.Run()
	t.Cleanup(chain.Stop)

	sockPath := filepath.Join(t.TempDir(), name+".sock")
	xfer := msgbus.NewXfer(chain, "unix", sockPath, header.Size+64, maxQueue)
	return NewServiceClient(configID, name, xfer)
}

func testFrame(msgID uint32, payload string) *msgbus.Message {
	buf := make([]byte, header.Size+len(payload))
	header.Init(buf, msgID, header.PriorityMid, uint32(len(payload)), 0)
	copy(buf[header.Size:], payload)
	return msgbus.NewMessage(buf)
}

// TestRouterDispatchQueuesBroadcastBeforeActivation covers the
// lazy-start scenario: a broadcast published before a subscriber has
// completed its SERV_ACTIVE handshake must still be accepted onto the
// subscriber's queue (and delivered once it activates and resumes),
// not silently skipped.
func TestRouterDispatchQueuesBroadcastBeforeActivation(t *testing.T) {
	idx := NewIndex()
	c := newTestClient(t, 1, "sub", 4)
	idx.Insert(10, c)

	r := NewRouter(idx)
	res := r.Dispatch(10, 0, testFrame(10, "x"))

	if res.Delivered != 1 || res.Dropped != 0 {
		t.Fatalf("Dispatch to an inactive subscriber (broadcast) = %+v, want 1 delivered, 0 dropped", res)
	}
	if c.Xfer().QueueLen() != 1 {
		t.Fatalf("QueueLen = %d, want 1 (queued pending activation)", c.Xfer().QueueLen())
	}
}

// TestRouterDispatchUnicastSkipsInactiveSubscriber covers the other half
// of the same invariant: a unicast (destination_id != 0) message is not
// offered to a subscriber that hasn't activated, since there is no
// runtime id yet to match against.
func TestRouterDispatchUnicastSkipsInactiveSubscriber(t *testing.T) {
	idx := NewIndex()
	c := newTestClient(t, 1, "sub", 4)
	idx.Insert(10, c)

	r := NewRouter(idx)
	res := r.Dispatch(10, 99, testFrame(10, "x"))

	if res.Delivered != 0 || c.Xfer().QueueLen() != 0 {
		t.Fatalf("unicast to an inactive subscriber should be silently skipped (not queued); Delivered = %d, QueueLen = %d", res.Delivered, c.Xfer().QueueLen())
	}
}

func TestRouterDispatchFanOut(t *testing.T) {
	idx := NewIndex()
	a := newTestClient(t, 1, "a", 4)
	b := newTestClient(t, 2, "b", 4)
	a.BindRuntimeID(11)
	b.BindRuntimeID(22)
	idx.Insert(10, a)
	idx.Insert(10, b)

	r := NewRouter(idx)
	res := r.Dispatch(10, 0, testFrame(10, "x"))

	if res.Delivered != 2 {
		t.Fatalf("Delivered = %d, want 2", res.Delivered)
	}
}

func TestRouterDispatchUnicastFilter(t *testing.T) {
	idx := NewIndex()
	a := newTestClient(t, 1, "a", 4)
	b := newTestClient(t, 2, "b", 4)
	a.BindRuntimeID(11)
	b.BindRuntimeID(22)
	idx.Insert(10, a)
	idx.Insert(10, b)

	r := NewRouter(idx)
	res := r.Dispatch(10, 22, testFrame(10, "x"))

	if res.Delivered != 1 {
		t.Fatalf("Delivered = %d, want 1 (unicast to runtime id 22 only)", res.Delivered)
	}
}

func TestRouterDispatchQueueFull(t *testing.T) {
	idx := NewIndex()
	c := newTestClient(t, 1, "full", 1)
	c.BindRuntimeID(5)
	idx.Insert(10, c)

	r := NewRouter(idx)
	r.Dispatch(10, 0, testFrame(10, "first"))
	res := r.Dispatch(10, 0, testFrame(10, "second"))

	if res.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", res.Dropped)
	}
}
