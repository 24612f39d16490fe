// Package network is the routing/transport layer the quorum client
// operates against: a Kademlia-style routing table over QUIC
// request/response exchanges. Callers share one Network handle across
// any number of goroutines; all synchronization is internal.
//
// The layer makes no completeness promises: close-group resolution
// returns the current best-known approximation and may be partial or
// stale under churn. Quorum logic above must tolerate that.
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"xornet/internal/debuglog"
	"xornet/internal/event"
	"xornet/internal/protocol"
	"xornet/internal/xorname"
)

// lookupParallelism is how many peers a close-group resolution asks
// for their own view of the target.
const lookupParallelism = 3

// ErrNoKnownPeers means the routing table is empty and no operation
// can be routed yet.
var ErrNoKnownPeers = errors.New("network: no known peers")

// Event is a network-layer fact. Exactly one arm is set.
type Event struct {
	// PeerAdded fires when a previously unknown peer enters the
	// routing table.
	PeerAdded *protocol.PeerID
	// NewListenAddr fires when the local listener binds.
	NewListenAddr *string
	// RequestReceived fires for every inbound protocol request.
	// Client-side subscribers ignore it.
	RequestReceived *protocol.Request
}

// RequestHandler produces the response for an inbound request. A nil
// handler (client mode) leaves inbound requests unanswered.
type RequestHandler func(from protocol.PeerID, req *protocol.Request) *protocol.Response

// PeerResult is one peer's outcome within a fan-out call.
type PeerResult struct {
	Peer     protocol.PeerID
	Response *protocol.Response
	Err      error
}

// Config configures a Network.
type Config struct {
	Self     Contact
	Insecure bool
	Handler  RequestHandler
}

// Network is the shared handle. It is cheap to hand around: all state
// lives behind the pointer and every method is safe for concurrent
// use.
type Network struct {
	self     Contact
	insecure bool
	handler  RequestHandler
	rt       *routingTable
	pool     *clientPool
	events   *event.Stream[Event]

	mu       sync.Mutex
	selfAddr string
}

func New(cfg Config) *Network {
	return &Network{
		self:     cfg.Self,
		insecure: cfg.Insecure,
		handler:  cfg.Handler,
		rt:       newRoutingTable(cfg.Self.ID),
		pool:     newClientPool(clientConnIdle),
		events:   event.NewStream[Event](256),
		selfAddr: cfg.Self.Addr,
	}
}

// Subscribe attaches a new event consumer at the current stream head.
func (n *Network) Subscribe() *event.Subscription[Event] {
	return n.events.Subscribe()
}

// Close ends the event stream. In-flight exchanges finish on their own.
func (n *Network) Close() {
	n.events.Close()
}

// Serve binds addr and answers inbound exchanges until the listener
// fails. If ready is non-nil the bound address is sent once.
func (n *Network) Serve(addr string, ready chan<- string) error {
	return n.listenAndServe(addr, ready)
}

// SetAdvertiseAddr sets the dial address stamped into outbound
// messages. Nodes call it once the listener reports its bound address.
func (n *Network) SetAdvertiseAddr(addr string) {
	n.mu.Lock()
	n.selfAddr = addr
	n.mu.Unlock()
}

// AddToRoutingTable seeds a contact without dialing it.
func (n *Network) AddToRoutingTable(c Contact) {
	n.addPeer(c)
}

// KnownPeers reports the routing table size, for diagnostics.
func (n *Network) KnownPeers() int {
	return n.rt.size()
}

// Dial performs a hello exchange with a seed contact and, on success,
// admits it to the routing table.
func (n *Network) Dial(ctx context.Context, c Contact) error {
	payload, err := protocol.EncodeMessage(protocol.TypeHello, helloMsg{From: n.selfContact()})
	if err != nil {
		return err
	}
	raw, err := n.exchange(ctx, c.Addr, payload)
	if err != nil {
		return fmt.Errorf("network: dial %s: %w", c.Addr, err)
	}
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil || env.Type != protocol.TypeHelloOK {
		return fmt.Errorf("network: dial %s: bad hello reply", c.Addr)
	}
	var msg helloMsg
	if err := protocol.DecodeBody(env, &msg); err != nil {
		return fmt.Errorf("network: dial %s: %w", c.Addr, err)
	}
	peer := Contact{ID: msg.From.ID, Addr: c.Addr}
	if c.ID != (protocol.PeerID{}) && c.ID != peer.ID {
		return fmt.Errorf("network: dial %s: peer identity mismatch", c.Addr)
	}
	n.addPeer(peer)
	return nil
}

// GetClosestPeers resolves the replication group for an address: the
// local view plus one round of queries to the nearest known peers,
// sorted by increasing XOR distance, at most CloseGroupSize entries.
func (n *Network) GetClosestPeers(ctx context.Context, target protocol.NetworkAddress) ([]protocol.PeerID, error) {
	name := target.Name()
	seeds := n.rt.findClosest(name, xorname.CloseGroupSize)
	if len(seeds) == 0 {
		return nil, ErrNoKnownPeers
	}
	asked := seeds
	if len(asked) > lookupParallelism {
		asked = asked[:lookupParallelism]
	}
	var wg sync.WaitGroup
	for _, c := range asked {
		wg.Add(1)
		go func(c Contact) {
			defer wg.Done()
			contacts, err := n.findNode(ctx, c, name)
			if err != nil {
				debuglog.Debugf("find_node via %s failed: %v", c.ID.Short(), err)
				return
			}
			for _, found := range contacts {
				n.addPeer(found)
			}
		}(c)
	}
	wg.Wait()

	closest := n.rt.findClosest(name, xorname.CloseGroupSize)
	peers := make([]protocol.PeerID, 0, len(closest))
	for _, c := range closest {
		peers = append(peers, c.ID)
	}
	return peers, nil
}

// SendRequest performs one request/response exchange with a peer.
func (n *Network) SendRequest(ctx context.Context, req *protocol.Request, peer protocol.PeerID) (*protocol.Response, error) {
	contact, ok := n.rt.lookup(peer)
	if !ok {
		return nil, fmt.Errorf("network: unknown peer %s", peer.Short())
	}
	payload, err := protocol.EncodeMessage(protocol.TypeRequest, requestMsg{From: n.selfContact(), Request: *req})
	if err != nil {
		return nil, err
	}
	raw, err := n.exchange(ctx, contact.Addr, payload)
	if err != nil {
		return nil, fmt.Errorf("network: send to %s: %w", peer.Short(), err)
	}
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		return nil, fmt.Errorf("network: reply from %s: %w", peer.Short(), err)
	}
	if env.Type != protocol.TypeResponse {
		return nil, fmt.Errorf("network: reply from %s has type %q", peer.Short(), env.Type)
	}
	var msg responseMsg
	if err := protocol.DecodeBody(env, &msg); err != nil {
		return nil, fmt.Errorf("network: reply from %s: %w", peer.Short(), err)
	}
	return &msg.Response, nil
}

// SendToClosest resolves the close group for the request's own
// destination and collects one result per member.
func (n *Network) SendToClosest(ctx context.Context, req *protocol.Request) ([]PeerResult, error) {
	dst, err := req.Dst()
	if err != nil {
		return nil, err
	}
	peers, err := n.GetClosestPeers(ctx, dst)
	if err != nil {
		return nil, err
	}
	results := make([]PeerResult, len(peers))
	var wg sync.WaitGroup
	for i, peer := range peers {
		wg.Add(1)
		go func(i int, peer protocol.PeerID) {
			defer wg.Done()
			resp, err := n.SendRequest(ctx, req, peer)
			results[i] = PeerResult{Peer: peer, Response: resp, Err: err}
		}(i, peer)
	}
	wg.Wait()
	return results, nil
}

// GetProvidedData fetches content-addressed data by key. One correct
// answer suffices, so members of the key's close group are tried in
// distance order until one produces the payload.
func (n *Network) GetProvidedData(ctx context.Context, key xorname.XorName) (*protocol.QueryResponse, error) {
	addr := protocol.ChunkAddress(key)
	peers, err := n.GetClosestPeers(ctx, protocol.AddrFromChunk(addr))
	if err != nil {
		return nil, err
	}
	req := &protocol.Request{Query: &protocol.Query{GetChunk: &addr}}
	var fallback *protocol.QueryResponse
	var lastErr error
	for _, peer := range peers {
		resp, err := n.SendRequest(ctx, req, peer)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Query == nil {
			lastErr = fmt.Errorf("network: peer %s answered a query with a non-query response", peer.Short())
			continue
		}
		if resp.Query.GetChunk != nil && resp.Query.GetChunk.Chunk != nil {
			return resp.Query, nil
		}
		if fallback == nil {
			fallback = resp.Query
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("network: no provider for %s", key.Short())
}

func (n *Network) selfContact() wireContact {
	n.mu.Lock()
	addr := n.selfAddr
	n.mu.Unlock()
	return wireContact{ID: n.self.ID, Addr: addr}
}

func (n *Network) addPeer(c Contact) {
	if n.rt.add(c) {
		id := c.ID
		debuglog.Debugf("peer added: %s at %s", id.Short(), c.Addr)
		n.events.Publish(Event{PeerAdded: &id})
	}
}

func (n *Network) findNode(ctx context.Context, via Contact, target xorname.XorName) ([]Contact, error) {
	payload, err := protocol.EncodeMessage(protocol.TypeFindNode, findNodeMsg{From: n.selfContact(), Target: target})
	if err != nil {
		return nil, err
	}
	raw, err := n.exchange(ctx, via.Addr, payload)
	if err != nil {
		return nil, err
	}
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if env.Type != protocol.TypeFindNodeOK {
		return nil, fmt.Errorf("network: unexpected find_node reply %q", env.Type)
	}
	var msg contactsMsg
	if err := protocol.DecodeBody(env, &msg); err != nil {
		return nil, err
	}
	contacts := make([]Contact, 0, len(msg.Contacts))
	for _, wc := range msg.Contacts {
		if wc.Addr == "" {
			continue
		}
		contacts = append(contacts, Contact{ID: wc.ID, Addr: wc.Addr})
	}
	return contacts, nil
}
