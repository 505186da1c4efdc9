package msgbus

import (
	"sync"
	"time"

	"github.com/jfdispatch/dispatcherd/internal/netasync"
	"github.com/jfdispatch/dispatcherd/internal/reactor"
)

// Xfer owns the single outbound connector slot to one subscriber's
// messaging_in socket and the bounded FIFO of Message references queued
// for it. It is the Go analogue of the source's xfer: the only object in
// the chain that actually dials out, and the only one whose queue can
// report QUEUE_FULL back to the router.
//
// A freshly created Xfer starts paused: the service router holds it off
// until the subscriber has proven itself live by sending SERV_ACTIVE on
// its own messaging_out connection, matching the lazy-start invariant.
type Xfer struct {
	mu       sync.Mutex
	client   *netasync.AsyncClient
	slot     int
	slotOK   bool
	network  string
	addr     string
	maxQueue int
	queue    []*Message
	paused   bool

	chain *reactor.Chain

	OnQueueFull func(m *Message)
}

// NewXfer creates an Xfer dialing network/addr through a dedicated
// one-slot AsyncClient, bounded to maxQueue pending messages.
func NewXfer(chain *reactor.Chain, network, addr string, bufSize, maxQueue int) *Xfer {
	x := &Xfer{
		network:  network,
		addr:     addr,
		maxQueue: maxQueue,
		paused:   true,
		chain:    chain,
	}
	x.client = netasync.NewAsyncClient(1, bufSize, netasync.ClientCallbacks{
		OnConnect:      x.onConnect,
		OnSendComplete: x.onSendComplete,
		OnDisconnect:   x.onDisconnect,
	})
	chain.Add(x)
	return x
}

// Poll implements reactor.Object: on every chain tick, an unpaused Xfer
// with no live connection attempts to (re)connect. This is the lazy
// connect-on-demand behavior: a subscriber with no traffic queued never
// causes a dial.
func (x *Xfer) Poll(_ time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.paused || x.slotOK || len(x.queue) == 0 {
		return
	}
	slot, ok := x.client.ConnectTo(x.network, x.addr)
	if !ok {
		return
	}
	x.slot = slot
	x.slotOK = true
}

// Resume clears the pause flag, allowing the next Poll to connect and
// drain the queue. Called once the subscriber's own messaging_out
// connection reports SERV_ACTIVE.
func (x *Xfer) Resume() {
	x.mu.Lock()
	x.paused = false
	x.mu.Unlock()
	x.chain.Wakeup()
}

// Pause stops new connection attempts; in-flight sends are unaffected.
func (x *Xfer) Pause() {
	x.mu.Lock()
	x.paused = true
	x.mu.Unlock()
}

// SendMsg enqueues m (retaining a reference) for delivery. Returns false
// if the queue is already at maxQueue (QUEUE_FULL); the caller must not
// have retained on m's behalf in that case; SendMsg does not retain
// either.
func (x *Xfer) SendMsg(m *Message) bool {
	x.mu.Lock()
	if len(x.queue) >= x.maxQueue {
		x.mu.Unlock()
		if x.OnQueueFull != nil {
			x.OnQueueFull(m)
		}
		return false
	}
	m.Retain()
	x.queue = append(x.queue, m)
	// Only push when m is the sole item: otherwise the head is already in
	// flight and onSendComplete will push the next one.
	full := x.slotOK && len(x.queue) == 1
	x.mu.Unlock()

	if full {
		x.drain()
	} else {
		x.chain.Wakeup()
	}
	return true
}

// QueueLen reports pending (unsent or in-flight) messages.
func (x *Xfer) QueueLen() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.queue)
}

func (x *Xfer) onConnect(_ int, status netasync.Status) {
	if status != netasync.StatusOK {
		x.mu.Lock()
		x.slotOK = false
		x.mu.Unlock()
		return
	}
	x.drain()
}

// drain pushes the head of the queue onto the connector socket. Only one
// item is ever in flight per Xfer: the next is pushed once
// onSendComplete fires for the current head, preserving per-subscriber
// FIFO order. Each Message already holds a fully framed buffer (header
// plus payload) stamped by ingress, so drain forwards it unmodified.
func (x *Xfer) drain() {
	x.mu.Lock()
	if !x.slotOK || len(x.queue) == 0 {
		x.mu.Unlock()
		return
	}
	head := x.queue[0]
	slot := x.slot
	x.mu.Unlock()

	x.client.Send(slot, head.Bytes())
}

func (x *Xfer) onSendComplete(_ int, status netasync.Status, _ []byte) {
	x.mu.Lock()
	if len(x.queue) == 0 {
		x.mu.Unlock()
		return
	}
	sent := x.queue[0]
	x.queue = x.queue[1:]
	remaining := len(x.queue) > 0
	x.mu.Unlock()

	sent.Release()

	if status == netasync.StatusOK && remaining {
		x.drain()
	}
}

func (x *Xfer) onDisconnect(_ int, _ netasync.Status) {
	x.mu.Lock()
	x.slotOK = false
	x.mu.Unlock()
	x.chain.Wakeup()
}

// Destroy releases every queued message reference and tears down the
// connector without firing per-message callbacks, for shutdown.
func (x *Xfer) Destroy() {
	x.mu.Lock()
	pending := x.queue
	x.queue = nil
	x.mu.Unlock()
	for _, m := range pending {
		m.Release()
	}
	x.client.Destroy()
}
