// Package ingress implements the per-service inbound listener (C8): one
// AsyncServer bound to a service's messaging_out_path, validating every
// frame a publisher sends before handing it to the daemon's dispatch
// queue.
package ingress

import (
	"syscall"

	"github.com/jfdispatch/dispatcherd/internal/config"
	"github.com/jfdispatch/dispatcherd/internal/header"
	"github.com/jfdispatch/dispatcherd/internal/netasync"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// QueueFunc hands a validated inbound frame to the daemon's dispatch
// queue. It is called with the decoded header and the payload slice,
// which must not be retained past the call (the caller copies what it
// needs).
type QueueFunc func(h header.Header, payload []byte)

// ActivateFunc is called when a connection on this service's inbound
// socket proves itself live via SERV_ACTIVE, with the service_id it
// claimed.
type ActivateFunc func(serviceID int32)

// ServiceServer is the ingress endpoint for one configured service: a
// capacity-1 AsyncServer (a service has exactly one publisher connection
// at a time) enforcing peer-credential authorization and frame
// validation before any message reaches routing.
type ServiceServer struct {
	svc    *config.ServiceConfig
	server *netasync.AsyncServer
	log    zerolog.Logger

	Queue    QueueFunc
	Activate ActivateFunc

	// Admit is consulted for every non-control frame before it reaches
	// Queue. A false return drops the frame silently, the admission
	// guard's rate/CPU budget rather than a published-list violation.
	// Nil means no admission control is applied.
	Admit func() bool
}

// NewServiceServer builds (but does not start listening on) the ingress
// endpoint for svc.
func NewServiceServer(svc *config.ServiceConfig, log zerolog.Logger) *ServiceServer {
	s := &ServiceServer{
		svc: svc,
		log: log.With().Str("service", svc.Name).Logger(),
	}
	s.server = netasync.NewAsyncServer("unix", svc.MessagingOutPath, 1, svc.MaxMsgSize+header.Size, netasync.ServerCallbacks{
		OnConnect:      s.onConnect,
		OnData:         s.onData,
		OnDisconnect:   s.onDisconnect,
		OnSendComplete: nil,
	})
	s.server.OnPoolEmpty = func() {
		s.log.Warn().Msg("ingress pool empty: a second publisher tried to connect")
	}
	return s
}

// Listen binds the service's messaging_out_path.
func (s *ServiceServer) Listen() error { return s.server.Listen() }

// Close tears down the listener and any connected publisher.
func (s *ServiceServer) Close() { s.server.Close() }

func (s *ServiceServer) onConnect(slot int, sock *netasync.AsyncSocket) {
	conn := s.server.Conn(slot)
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		s.log.Error().Err(err).Msg("syscall conn unavailable for peer-credential check")
		sock.Disconnect()
		return
	}

	var cred *unix.Ucred
	var credErr error
	ctlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctlErr != nil || credErr != nil {
		s.log.Error().Err(credErr).Msg("peer-credential lookup failed")
		sock.Disconnect()
		return
	}

	if int(cred.Uid) != s.svc.UserID {
		s.log.Warn().Uint32("peer_uid", cred.Uid).Msg("unauthorized publisher rejected")
		sock.Disconnect()
		return
	}

	s.log.Debug().Int("slot", slot).Msg("publisher connected")
}

func (s *ServiceServer) onData(slot int, buf []byte, begin *int, end int) {
	for {
		available := end - *begin
		if available < header.Size {
			return
		}
		frame := buf[*begin:end]
		if err := header.IsFullMsg(frame, available); err != nil {
			return
		}

		h := header.Decode(frame)
		msgSize := header.MsgSize(frame)
		payload := frame[header.Size:msgSize]

		switch {
		case h.MsgID == header.ServActive:
			p := header.DecodeServActivePayload(payload)
			if p.ServiceID != h.SourceID {
				s.log.Warn().Msg("SERV_ACTIVE service_id does not match source_id, rejecting")
				break
			}
			if s.Activate != nil {
				s.Activate(p.ServiceID)
			}

		case header.IsReservedID(h.MsgID):
			s.log.Warn().Uint32("msg_id", h.MsgID).Msg("reserved msg_id from publisher, dropping")

		case !s.svc.PublishesMsg(h.MsgID):
			s.log.Warn().Uint32("msg_id", h.MsgID).Msg("msg_id not in published list, dropping")

		default:
			if s.Admit != nil && !s.Admit() {
				s.log.Debug().Uint32("msg_id", h.MsgID).Msg("ingress admission guard dropped frame")
				break
			}
			if s.Queue != nil {
				s.Queue(h, payload)
			}
		}

		*begin += msgSize
	}
}

func (s *ServiceServer) onDisconnect(slot int, status netasync.Status) {
	s.log.Debug().Int("slot", slot).Str("status", status.String()).Msg("publisher disconnected")
}
