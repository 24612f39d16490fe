// Package client implements the close-group quorum protocol: storing
// data with majority acknowledgement, fetching by content hash,
// broadcasting spend certificates, and detecting double spends through
// majority agreement. It trusts no single peer; correctness comes from
// content verification and counting.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xornet/internal/debuglog"
	"xornet/internal/event"
	"xornet/internal/network"
	"xornet/internal/protocol"
	"xornet/internal/transfers"
	"xornet/internal/xorname"
)

const defaultBootstrapTimeout = 30 * time.Second

// connectedThreshold is how many distinct peers must enter the routing
// table before the client considers itself on the network: one full
// close group plus a spare.
const connectedThreshold = xorname.CloseGroupSize + 1

// Network is what the client needs from the layer below. The concrete
// implementation is network.Network; tests substitute fakes.
type Network interface {
	GetClosestPeers(ctx context.Context, target protocol.NetworkAddress) ([]protocol.PeerID, error)
	SendRequest(ctx context.Context, req *protocol.Request, peer protocol.PeerID) (*protocol.Response, error)
	GetProvidedData(ctx context.Context, key xorname.XorName) (*protocol.QueryResponse, error)
	Subscribe() *event.Subscription[network.Event]
}

// Config configures a Client.
type Config struct {
	Net    Network
	Signer *transfers.Signer
	// Bootstrap, when set, is started once the client is subscribed to
	// network events, so no peer-added event can be missed. It should
	// dial seed peers and return.
	Bootstrap func(ctx context.Context)
	// BootstrapTimeout bounds how long New waits for the network to
	// materialize. Zero means the default.
	BootstrapTimeout time.Duration
}

// Client is a stateless protocol driver over a Network. Safe for
// concurrent use.
type Client struct {
	net    Network
	signer *transfers.Signer
}

// New builds a client and waits until enough distinct peers are known
// that close groups can be resolved. It fails with ErrBootstrap when
// the deadline passes first.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Net == nil {
		return nil, errors.New("client: network is required")
	}
	signer := cfg.Signer
	if signer == nil {
		var err error
		signer, err = transfers.NewSigner()
		if err != nil {
			return nil, fmt.Errorf("client: generate signer: %w", err)
		}
	}
	c := &Client{net: cfg.Net, signer: signer}

	timeout := cfg.BootstrapTimeout
	if timeout <= 0 {
		timeout = defaultBootstrapTimeout
	}
	if err := c.awaitConnected(ctx, timeout, cfg.Bootstrap); err != nil {
		return nil, err
	}
	return c, nil
}

// awaitConnected consumes network events until connectedThreshold
// distinct peers have been added. Each new peer triggers an async
// closest-peer probe that warms the routing table; its outcome is
// diagnostic only.
func (c *Client) awaitConnected(ctx context.Context, timeout time.Duration, bootstrap func(context.Context)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sub := c.net.Subscribe()
	if bootstrap != nil {
		go bootstrap(ctx)
	}
	seen := make(map[protocol.PeerID]struct{})
	for len(seen) < connectedThreshold {
		ev, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, event.ErrLagged) {
				continue
			}
			return fmt.Errorf("%w: %d of %d peers after %s",
				ErrBootstrap, len(seen), connectedThreshold, timeout)
		}
		if ev.PeerAdded == nil {
			continue
		}
		peer := *ev.PeerAdded
		if _, ok := seen[peer]; ok {
			continue
		}
		seen[peer] = struct{}{}
		debuglog.Debugf("bootstrap: peer %s joined (%d/%d)", peer.Short(), len(seen), connectedThreshold)
		go c.probeClosest(peer)
	}
	return nil
}

// probeClosest asks the network for the close group of a fresh peer.
// The lookup round pulls that peer's neighbours into our table; the
// result itself is only logged.
func (c *Client) probeClosest(peer protocol.PeerID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	peers, err := c.net.GetClosestPeers(ctx, protocol.AddrFromPeer(peer))
	if err != nil {
		debuglog.Debugf("closest-peer probe for %s failed: %v", peer.Short(), err)
		return
	}
	debuglog.Debugf("closest-peer probe for %s found %d peers", peer.Short(), len(peers))
}

// Signer returns the key that signs this client's spends.
func (c *Client) Signer() *transfers.Signer { return c.signer }

// PublicKey is the client's spend verification key.
func (c *Client) PublicKey() []byte { return c.signer.PublicKey() }
