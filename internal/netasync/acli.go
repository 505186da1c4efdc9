package netasync

import "sync"

// ClientCallbacks are trampolined through from each connector socket with
// the caller-supplied user data passed back alongside.
type ClientCallbacks struct {
	OnConnect      func(slot int, status Status)
	OnData         func(slot int, buf []byte, begin *int, end int)
	OnDisconnect   func(slot int, status Status)
	OnSendComplete func(slot int, status Status, data []byte)
}

// AsyncClient is a fixed pool of outbound connector sockets, the Go
// analogue of the source's acli. A per-slot mutex serializes the
// caller-visible Send/Disconnect against slot reuse.
type AsyncClient struct {
	bufSize int
	cbs     ClientCallbacks

	mu    sync.Mutex
	slots []*AsyncSocket
	locks []*sync.Mutex
	next  []int
	head  int
}

// NewAsyncClient creates a pool of capacity outbound connector slots.
func NewAsyncClient(capacity, bufSize int, cbs ClientCallbacks) *AsyncClient {
	c := &AsyncClient{
		bufSize: bufSize,
		cbs:     cbs,
		slots:   make([]*AsyncSocket, capacity),
		locks:   make([]*sync.Mutex, capacity),
		next:    make([]int, capacity),
	}
	for i := 0; i < capacity; i++ {
		c.slots[i] = NewAsyncSocket(bufSize)
		c.locks[i] = &sync.Mutex{}
		if i == capacity-1 {
			c.next[i] = -1
		} else {
			c.next[i] = i + 1
		}
	}
	if capacity == 0 {
		c.head = -1
	}
	return c
}

// ConnectTo grabs a free slot and begins dialing network/addr, returning
// the slot index (used as the caller's handle for Send/Disconnect) or
// false if the pool is exhausted.
func (c *AsyncClient) ConnectTo(network, addr string) (int, bool) {
	c.mu.Lock()
	if c.head == -1 {
		c.mu.Unlock()
		return 0, false
	}
	slot := c.head
	c.head = c.next[slot]
	c.mu.Unlock()

	slotCopy := slot
	sock := c.slots[slot]
	sock.OnConnect = func(status Status) {
		if c.cbs.OnConnect != nil {
			c.cbs.OnConnect(slotCopy, status)
		}
	}
	sock.OnData = func(buf []byte, begin *int, end int) {
		if c.cbs.OnData != nil {
			c.cbs.OnData(slotCopy, buf, begin, end)
		}
	}
	sock.OnDisconnect = func(status Status) {
		if c.cbs.OnDisconnect != nil {
			c.cbs.OnDisconnect(slotCopy, status)
		}
	}
	sock.OnSendComplete = func(status Status, data []byte) {
		if c.cbs.OnSendComplete != nil {
			c.cbs.OnSendComplete(slotCopy, status, data)
		}
	}

	sock.connectTo(network, addr)
	return slot, true
}

// Send enqueues data on the given slot's socket.
func (c *AsyncClient) Send(slot int, data []byte) bool {
	c.locks[slot].Lock()
	defer c.locks[slot].Unlock()
	return c.slots[slot].Send(data)
}

// State reports the connection state of a slot.
func (c *AsyncClient) State(slot int) State {
	return c.slots[slot].State()
}

// Disconnect tears down slot's socket (firing OnDisconnect) and returns
// it to the free list.
func (c *AsyncClient) Disconnect(slot int) {
	c.locks[slot].Lock()
	c.slots[slot].Disconnect()
	c.locks[slot].Unlock()

	c.mu.Lock()
	c.slots[slot].reset()
	c.next[slot] = c.head
	c.head = slot
	c.mu.Unlock()
}

// Destroy closes every slot immediately without firing OnDisconnect,
// flushing each outbound queue with StatusLocalClosed.
func (c *AsyncClient) Destroy() {
	for i, sock := range c.slots {
		c.locks[i].Lock()
		sock.mu.Lock()
		conn := sock.conn
		pending := sock.outbound
		sock.outbound = nil
		sock.conn = nil
		sock.mu.Unlock()
		if conn != nil {
			// Closing stopRead first makes the reader exit quietly
			// instead of reporting the close as a peer disconnect.
			close(sock.stopRead)
			conn.Close()
		}
		for _, it := range pending {
			if sock.OnSendComplete != nil {
				sock.OnSendComplete(StatusLocalClosed, it.data)
			}
		}
		c.locks[i].Unlock()
	}
}
