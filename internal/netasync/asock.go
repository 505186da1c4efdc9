package netasync

import (
	"net"
	"sync"
	"sync/atomic"
)

// DataFunc is invoked whenever new bytes have been read into buf[*begin:end].
// It must advance *begin past every complete message it consumed; bytes
// left between *begin and end are preserved across calls (a short read of
// a still-incomplete frame). Returning with *begin == 0 and end == len(buf)
// without having consumed anything is a buffer-full condition: the
// buffered bytes are discarded and reading continues on the same
// connection.
type DataFunc func(buf []byte, begin *int, end int)

// outboundItem is one pending send, with a byte cursor for partial writes.
type outboundItem struct {
	data   []byte
	cursor int
}

// AsyncSocket wraps one non-blocking-in-spirit stream connection with an
// outbound queue and four callbacks, the Go analogue of the source's
// asock. Reads and writes are driven by one owned goroutine pair rather
// than pre/post-select hooks; Send/Disconnect may be called from
// any goroutine and only touch the outbound queue under mu.
type AsyncSocket struct {
	mu    sync.Mutex // guards conn, outbound, state transitions callers can race
	conn  net.Conn
	state atomic.Int32

	outbound []outboundItem

	bufSize int
	tag     atomic.Value // caller-opaque association, set via SetTag

	OnConnect      func(status Status)
	OnDisconnect   func(status Status)
	OnData         DataFunc
	OnSendComplete func(status Status, data []byte)

	closeOnce sync.Once
	stopRead  chan struct{}
	wake      chan struct{}
}

// NewAsyncSocket creates an idle socket with the given read-buffer size.
func NewAsyncSocket(bufSize int) *AsyncSocket {
	s := &AsyncSocket{
		bufSize:  bufSize,
		stopRead: make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
	s.state.Store(int32(StateIdle))
	return s
}

// State returns the current connection state.
func (s *AsyncSocket) State() State { return State(s.state.Load()) }

// SetTag stores a caller-opaque value alongside the socket.
func (s *AsyncSocket) SetTag(v any) { s.tag.Store(&v) }

// GetTag retrieves the value stored by SetTag, or nil if none.
func (s *AsyncSocket) GetTag() any {
	if v := s.tag.Load(); v != nil {
		return *(v.(*any))
	}
	return nil
}

// adopt wires an already-connected net.Conn into the socket (used by
// AsyncServer for accepted connections, and by AsyncClient once a dial
// succeeds). It starts the reader/writer goroutines and fires OnConnect.
func (s *AsyncSocket) adopt(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.state.Store(int32(StateConnected))
	s.stopRead = make(chan struct{})
	s.mu.Unlock()

	go s.readLoop()
	go s.writeLoop()

	if s.OnConnect != nil {
		s.OnConnect(StatusOK)
	}
}

// connectTo dials remoteAddr ("unix", path) in the background; on success
// it adopts the connection, on failure it fires OnConnect with a failure
// status and returns to Idle.
func (s *AsyncSocket) connectTo(network, addr string) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return
	}
	go func() {
		conn, err := net.Dial(network, addr)
		if err != nil {
			s.state.Store(int32(StateIdle))
			if s.OnConnect != nil {
				s.OnConnect(StatusConnectionNotSetup)
			}
			return
		}
		s.adopt(conn)
	}()
}

// Send enqueues data for delivery. Returns false (NOT_CONNECTED) if the
// socket is Idle.
func (s *AsyncSocket) Send(data []byte) bool {
	if s.State() == StateIdle {
		return false
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.outbound = append(s.outbound, outboundItem{data: cp})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Disconnect closes the socket, flushing the outbound queue with
// StatusLocalClosed and firing OnDisconnect exactly once.
func (s *AsyncSocket) Disconnect() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		pending := s.outbound
		s.outbound = nil
		s.conn = nil
		s.mu.Unlock()

		if conn != nil {
			close(s.stopRead)
			conn.Close()
		}

		for _, it := range pending {
			if s.OnSendComplete != nil {
				s.OnSendComplete(StatusLocalClosed, it.data)
			}
		}

		s.state.Store(int32(StateDisconnected))
		if s.OnDisconnect != nil {
			s.OnDisconnect(StatusLocalClosed)
		}
	})
}

// reset returns a disconnected socket to Idle so a pool can reuse it.
func (s *AsyncSocket) reset() {
	s.closeOnce = sync.Once{}
	s.state.Store(int32(StateIdle))
}

func (s *AsyncSocket) disconnectWithStatus(status Status) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		pending := s.outbound
		s.outbound = nil
		s.conn = nil
		s.mu.Unlock()

		if conn != nil {
			close(s.stopRead)
			conn.Close()
		}
		for _, it := range pending {
			if s.OnSendComplete != nil {
				s.OnSendComplete(StatusFailSendData, it.data)
			}
		}

		s.state.Store(int32(StateDisconnected))
		if s.OnDisconnect != nil {
			s.OnDisconnect(status)
		}
	})
}

func (s *AsyncSocket) readLoop() {
	s.mu.Lock()
	conn := s.conn
	stop := s.stopRead
	s.mu.Unlock()
	if conn == nil {
		return
	}

	buf := make([]byte, s.bufSize)
	begin, end := 0, 0

	for {
		n, err := conn.Read(buf[end:])
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			s.disconnectWithStatus(StatusPeerClosed)
			return
		}
		if n == 0 {
			s.disconnectWithStatus(StatusPeerClosed)
			return
		}
		end += n

		if s.OnData != nil {
			s.OnData(buf, &begin, end)
		}

		switch {
		case begin == end:
			begin, end = 0, 0
		case begin > 0:
			copy(buf, buf[begin:end])
			end -= begin
			begin = 0
		case end == len(buf):
			// Buffer full and caller consumed nothing: oversized frame.
			begin, end = 0, 0
		}
	}
}

func (s *AsyncSocket) writeLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		s.mu.Lock()
		hasWork := len(s.outbound) > 0
		s.mu.Unlock()

		if !hasWork {
			select {
			case <-s.wake:
			case <-s.stopRead:
				return
			}
			continue
		}

		s.mu.Lock()
		if len(s.outbound) == 0 {
			s.mu.Unlock()
			continue
		}
		item := s.outbound[0]
		s.mu.Unlock()

		n, err := conn.Write(item.data[item.cursor:])
		if err != nil {
			s.mu.Lock()
			pending := s.outbound
			s.outbound = nil
			s.mu.Unlock()
			for _, it := range pending {
				if s.OnSendComplete != nil {
					s.OnSendComplete(StatusFailSendData, it.data)
				}
			}
			s.disconnectWithStatus(StatusFailSendData)
			return
		}

		item.cursor += n
		if item.cursor >= len(item.data) {
			s.mu.Lock()
			if len(s.outbound) > 0 {
				s.outbound = s.outbound[1:]
			}
			s.mu.Unlock()
			if s.OnSendComplete != nil {
				s.OnSendComplete(StatusOK, item.data)
			}
		} else {
			s.mu.Lock()
			if len(s.outbound) > 0 {
				s.outbound[0] = item
			}
			s.mu.Unlock()
		}
	}
}

// QueueLen reports the number of outbound items not yet fully sent.
func (s *AsyncSocket) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbound)
}
