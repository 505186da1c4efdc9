// Package routing implements the subscribed-message index and the
// per-service client objects that own a subscriber's outbound transfer
// (C7). Dispatch is a bucket lookup followed by a linear scan of the
// (usually short) chain hanging off that bucket.
package routing

import "sync"

const bucketCount = 256

// msgNode is one (msg_id, subscriber) binding inside a bucket chain.
type msgNode struct {
	msgID   uint32
	client  *ServiceClient
	next    *msgNode
}

// Index is a fixed 256-bucket hash table mapping msg_id to every
// ServiceClient subscribed to it. It is built once per configuration
// load and is safe for concurrent Lookup while Insert/Remove are
// serialized through the same mutex (config reloads are rare and
// Lookup is the hot path, so a single RWMutex-free mutex is adequate:
// contention is negligible compared to socket I/O).
type Index struct {
	mu      sync.Mutex
	buckets [bucketCount]*msgNode
}

// NewIndex creates an empty index.
func NewIndex() *Index { return &Index{} }

func bucketOf(msgID uint32) uint32 { return msgID % bucketCount }

// Insert binds client to receive messages with msgID.
func (idx *Index) Insert(msgID uint32, client *ServiceClient) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	b := bucketOf(msgID)
	idx.buckets[b] = &msgNode{msgID: msgID, client: client, next: idx.buckets[b]}
}

// RemoveClient unbinds every subscription belonging to client, used when
// a service's configuration is torn down.
func (idx *Index) RemoveClient(client *ServiceClient) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for b := range idx.buckets {
		var prev *msgNode
		n := idx.buckets[b]
		for n != nil {
			if n.client == client {
				if prev == nil {
					idx.buckets[b] = n.next
				} else {
					prev.next = n.next
				}
				n = n.next
				continue
			}
			prev = n
			n = n.next
		}
	}
}

// Lookup returns every ServiceClient subscribed to msgID.
func (idx *Index) Lookup(msgID uint32) []*ServiceClient {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var out []*ServiceClient
	for n := idx.buckets[bucketOf(msgID)]; n != nil; n = n.next {
		if n.msgID == msgID {
			out = append(out, n.client)
		}
	}
	return out
}
