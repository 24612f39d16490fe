package network

import (
	"sort"
	"sync"

	"xornet/internal/protocol"
	"xornet/internal/xorname"
)

const bucketSize = 20

// Contact is a routable peer: its key-space identity plus the address
// it was last reachable at.
type Contact struct {
	ID   protocol.PeerID
	Addr string
}

// routingTable keeps contacts in 256 XOR-distance buckets relative to
// the local peer, most recently seen first within a bucket.
type routingTable struct {
	self    protocol.PeerID
	mu      sync.RWMutex
	buckets [xorname.Size * 8][]Contact
	count   int
}

func newRoutingTable(self protocol.PeerID) *routingTable {
	return &routingTable{self: self}
}

// add inserts or refreshes a contact. It reports whether the contact
// is new to the table. Full buckets drop newcomers: liveness-based
// eviction is a node-side maintenance concern, and a stale entry only
// costs one failed exchange.
func (rt *routingTable) add(c Contact) bool {
	if c.ID == rt.self || c.Addr == "" {
		return false
	}
	idx := rt.bucketIndex(c.ID.Name())
	rt.mu.Lock()
	defer rt.mu.Unlock()
	b := rt.buckets[idx]
	for i := range b {
		if b[i].ID == c.ID {
			// Refresh address and move to front.
			copy(b[1:i+1], b[:i])
			b[0] = c
			return false
		}
	}
	if len(b) >= bucketSize {
		return false
	}
	rt.buckets[idx] = append([]Contact{c}, b...)
	rt.count++
	return true
}

// lookup resolves a peer's dial address.
func (rt *routingTable) lookup(id protocol.PeerID) (Contact, bool) {
	idx := rt.bucketIndex(id.Name())
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, c := range rt.buckets[idx] {
		if c.ID == id {
			return c, true
		}
	}
	return Contact{}, false
}

// findClosest returns up to count contacts sorted by increasing XOR
// distance to target.
func (rt *routingTable) findClosest(target xorname.XorName, count int) []Contact {
	rt.mu.RLock()
	candidates := make([]Contact, 0, count*2)
	idx := rt.bucketIndex(target)
	candidates = append(candidates, rt.buckets[idx]...)
	for i := 1; (idx-i >= 0 || idx+i < len(rt.buckets)) && len(candidates) < count; i++ {
		if idx-i >= 0 {
			candidates = append(candidates, rt.buckets[idx-i]...)
		}
		if idx+i < len(rt.buckets) {
			candidates = append(candidates, rt.buckets[idx+i]...)
		}
	}
	rt.mu.RUnlock()

	sort.SliceStable(candidates, func(a, b int) bool {
		return target.CloserTo(candidates[a].ID.Name(), candidates[b].ID.Name())
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

func (rt *routingTable) size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.count
}

// bucketIndex is the position of the first differing bit between the
// target and the local peer.
func (rt *routingTable) bucketIndex(target xorname.XorName) int {
	d := rt.self.Name().Distance(target)
	for i := 0; i < xorname.Size; i++ {
		for j := 0; j < 8; j++ {
			if (d[i]>>uint(7-j))&0x1 != 0 {
				return i*8 + j
			}
		}
	}
	return xorname.Size*8 - 1
}
