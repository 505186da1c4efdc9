// Package daemon wires every configured service's ingress and routing
// together and runs the dispatcher's work queue (C9): the single choke
// point every inbound message passes through before fan-out.
package daemon

import (
	"sync"

	"github.com/jfdispatch/dispatcherd/internal/config"
	"github.com/jfdispatch/dispatcherd/internal/header"
	"github.com/jfdispatch/dispatcherd/internal/ingress"
	"github.com/jfdispatch/dispatcherd/internal/metrics"
	"github.com/jfdispatch/dispatcherd/internal/msgbus"
	"github.com/jfdispatch/dispatcherd/internal/platform"
	"github.com/jfdispatch/dispatcherd/internal/reactor"
	"github.com/jfdispatch/dispatcherd/internal/routing"
	"github.com/rs/zerolog"
)

// queuedFrame is one fully-framed inbound message waiting for a worker.
type queuedFrame struct {
	h       header.Header
	payload []byte
}

// Daemon owns the in-queue, the worker pool draining it, and every
// service's ingress listener and routing client. Workers is the number
// of concurrent dispatch workers (MAX_CONCURRENT_MSGS); the default of 1
// gives strict global ordering of dispatch, matching the source's single
// worker thread, but is configurable since no invariant in this design
// actually requires it.
type Daemon struct {
	log    zerolog.Logger
	chain  *reactor.Chain
	index  *routing.Index
	router *routing.Router

	servers []*ingress.ServiceServer
	clients map[int32]*routing.ServiceClient

	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []queuedFrame
	closing bool
	wg      sync.WaitGroup

	OnQueueFull func(serviceName string, h header.Header)

	metrics *metrics.Metrics
}

// SetMetrics wires a Metrics bundle so dispatch activity is observable.
// Optional: a Daemon with no metrics set simply skips recording.
func (d *Daemon) SetMetrics(m *metrics.Metrics) { d.metrics = m }

// New builds a Daemon from a loaded config Store. It creates one
// ServiceServer per configured service and one ServiceClient/Xfer per
// service's subscriber, but does not start listening or dispatching
// until Start is called.
func New(store *config.Store, chain *reactor.Chain, workers int, guard *platform.IngressGuard, log zerolog.Logger) *Daemon {
	if workers < 1 {
		workers = 1
	}
	d := &Daemon{
		log:     log,
		chain:   chain,
		index:   routing.NewIndex(),
		workers: workers,
		clients: make(map[int32]*routing.ServiceClient),
	}
	d.router = routing.NewRouter(d.index)
	d.cond = sync.NewCond(&d.mu)

	for _, svc := range store.All() {
		svc := svc
		xfer := msgbus.NewXfer(chain, "unix", svc.MessagingInPath, svc.MaxMsgSize+header.Size, svc.MaxQueuedMsgs)
		xfer.OnQueueFull = func(m *msgbus.Message) {
			if d.OnQueueFull != nil {
				d.OnQueueFull(svc.Name, header.Header{})
			}
			if d.metrics != nil {
				d.metrics.MessagesDropped.WithLabelValues("queue_full").Inc()
			}
			log.Warn().Str("service", svc.Name).Msg("subscriber queue full, dropping message")
		}
		client := routing.NewServiceClient(svc.ConfigID, svc.Name, xfer)
		d.clients[svc.ConfigID] = client
		for _, sub := range svc.Subscribed {
			d.index.Insert(sub.MsgID, client)
		}

		srv := ingress.NewServiceServer(svc, log)
		if guard != nil {
			srv.Admit = guard.AllowFrame
		}
		srv.Queue = func(h header.Header, payload []byte) { d.enqueue(h, payload) }
		srv.Activate = func(serviceID int32) {
			wasActive := client.Active()
			client.BindRuntimeID(serviceID)
			if !wasActive && d.metrics != nil {
				d.metrics.ConnectedServices.Inc()
			}
		}
		d.servers = append(d.servers, srv)
	}

	return d
}

// Start binds every service's ingress listener and spawns the
// dispatcher's worker pool.
func (d *Daemon) Start() error {
	for _, srv := range d.servers {
		if err := srv.Listen(); err != nil {
			return err
		}
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return nil
}

// enqueue copies h and payload into the in-queue and wakes one worker.
// The queue itself is unbounded: back-pressure in this design lives
// entirely in the per-subscriber Xfer queues, not here, matching the
// source's split between an unbounded dispatch queue and bounded
// per-destination delivery queues.
func (d *Daemon) enqueue(h header.Header, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	d.mu.Lock()
	d.queue = append(d.queue, queuedFrame{h: h, payload: cp})
	depth := len(d.queue)
	d.cond.Signal()
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.QueueDepth.Set(float64(depth))
	}
}

func (d *Daemon) work() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closing {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closing {
			d.mu.Unlock()
			return
		}
		item := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.dispatch(item)
	}
}

func (d *Daemon) dispatch(item queuedFrame) {
	frame := make([]byte, header.Size+len(item.payload))
	header.Encode(frame, item.h)
	copy(frame[header.Size:], item.payload)

	msg := msgbus.NewMessage(frame)
	res := d.router.Dispatch(item.h.MsgID, item.h.DestinationID, msg)
	if res.Dropped > 0 {
		d.log.Warn().Uint32("msg_id", item.h.MsgID).Int("dropped", res.Dropped).Msg("message dropped on full subscriber queue")
	}

	if d.metrics != nil {
		d.metrics.MessagesDispatched.Add(float64(res.Delivered))
		if res.Dropped > 0 {
			d.metrics.MessagesDropped.WithLabelValues("queue_full").Add(float64(res.Dropped))
		}
		d.sampleSubscriberQueueLens(d.index.Lookup(item.h.MsgID))
	}
}

// sampleSubscriberQueueLens updates the per-service queue-length gauge
// for every client this dispatch touched.
func (d *Daemon) sampleSubscriberQueueLens(clients []*routing.ServiceClient) {
	for _, c := range clients {
		d.metrics.SubscriberQueueLen.WithLabelValues(c.Name).Set(float64(c.Xfer().QueueLen()))
	}
}

// Shutdown stops accepting new ingress traffic, drains the in-queue, and
// tears down every service's transfer.
func (d *Daemon) Shutdown() {
	for _, srv := range d.servers {
		srv.Close()
	}

	d.mu.Lock()
	d.closing = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()

	for _, c := range d.clients {
		c.Xfer().Destroy()
	}
}

// QueueDepth reports the number of frames waiting for a worker, for
// metrics.
func (d *Daemon) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}
