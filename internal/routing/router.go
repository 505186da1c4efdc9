package routing

import "github.com/jfdispatch/dispatcherd/internal/msgbus"

// Router ties the subscribed-message Index to message dispatch: given an
// inbound message, it looks up every subscriber bound to its msg_id and
// offers the message to each, honoring an optional destination_id
// unicast filter.
type Router struct {
	index *Index
}

// NewRouter wraps idx for dispatch.
func NewRouter(idx *Index) *Router { return &Router{index: idx} }

// DispatchResult tallies the outcome of fanning m out to its subscribers.
type DispatchResult struct {
	Delivered int
	Dropped   int
}

// Dispatch fans m out to every ServiceClient subscribed to msgID. m
// starts with refcount 1 held by the caller (the ingress path); Dispatch
// releases that initial reference once fan-out is complete, since every
// successful SendMsg has taken its own retain.
func (r *Router) Dispatch(msgID uint32, destinationID int32, m *msgbus.Message) DispatchResult {
	var res DispatchResult
	for _, c := range r.index.Lookup(msgID) {
		// Activation only gates the unicast destination_id match, not
		// whether a subscriber is offered the message at all: a broadcast
		// published before a subscriber's SERV_ACTIVE still queues on its
		// xfer (which is paused, not closed) and drains once it activates.
		// A subscriber excluded by the unicast filter is neither delivered
		// to nor dropped, so it is left out of the tally.
		if destinationID != 0 && destinationID != c.RuntimeID() {
			continue
		}
		if c.Dispatch(m, destinationID) {
			res.Delivered++
		} else {
			res.Dropped++
		}
	}
	m.Release()
	return res
}
