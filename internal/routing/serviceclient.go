package routing

import (
	"sync/atomic"

	"github.com/jfdispatch/dispatcherd/internal/msgbus"
)

// InvalidServiceID is the sentinel runtime_service_id value for a
// configured service that has not yet proven itself live by sending
// SERV_ACTIVE on its inbound connection.
const InvalidServiceID int32 = -1

// ServiceClient is the routing-side handle for one configured
// subscriber: its Xfer (the actual outbound connector + queue) plus the
// runtime identity learned from the service's own SERV_ACTIVE handshake.
// The struct is immutable except for runtimeID, which flips
// exactly once per live connection and is read on every dispatch, so it
// is stored atomically rather than behind a mutex.
type ServiceClient struct {
	ConfigID   int32
	Name       string
	xfer       *msgbus.Xfer
	runtimeID  atomic.Int32
}

// NewServiceClient wraps xfer with routing identity for a configured
// service. The client starts with no runtime identity bound.
func NewServiceClient(configID int32, name string, xfer *msgbus.Xfer) *ServiceClient {
	c := &ServiceClient{ConfigID: configID, Name: name, xfer: xfer}
	c.runtimeID.Store(InvalidServiceID)
	return c
}

// BindRuntimeID records the service_id a SERV_ACTIVE handshake proved
// live, and resumes the paused Xfer so queued traffic starts flowing.
func (c *ServiceClient) BindRuntimeID(id int32) {
	c.runtimeID.Store(id)
	c.xfer.Resume()
}

// RuntimeID returns the bound runtime service id, or InvalidServiceID if
// the service has not yet activated.
func (c *ServiceClient) RuntimeID() int32 { return c.runtimeID.Load() }

// Active reports whether the service has completed its SERV_ACTIVE
// handshake.
func (c *ServiceClient) Active() bool { return c.runtimeID.Load() != InvalidServiceID }

// Dispatch offers m to this client's queue, honoring an optional unicast
// destinationID filter (0 means broadcast to every subscriber of the
// msg_id). It returns false on QUEUE_FULL so the caller can count drops.
func (c *ServiceClient) Dispatch(m *msgbus.Message, destinationID int32) bool {
	if destinationID != 0 && destinationID != c.runtimeID.Load() {
		return true
	}
	return c.xfer.SendMsg(m)
}

// Xfer returns the underlying transfer, for wiring pause/resume and
// queue-depth metrics from the daemon layer.
func (c *ServiceClient) Xfer() *msgbus.Xfer { return c.xfer }
