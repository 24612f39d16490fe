package client

import (
	"context"
	"fmt"
	"time"

	"xornet/internal/debuglog"
	"xornet/internal/network"
	"xornet/internal/protocol"
	"xornet/internal/transfers"
	"xornet/internal/xorname"
)

// peerOutcome is one peer's answer inside a fan-out, delivered as it
// completes.
type peerOutcome struct {
	peer protocol.PeerID
	resp *protocol.Response
	err  error
}

// fanOut sends req to every peer concurrently and returns a channel of
// outcomes in completion order. The channel is buffered for all peers,
// so abandoning it mid-stream leaks nothing.
func (c *Client) fanOut(ctx context.Context, req *protocol.Request, peers []protocol.PeerID) <-chan peerOutcome {
	out := make(chan peerOutcome, len(peers))
	for _, peer := range peers {
		go func(peer protocol.PeerID) {
			resp, err := c.net.SendRequest(ctx, req, peer)
			out <- peerOutcome{peer: peer, resp: resp, err: err}
		}(peer)
	}
	return out
}

// closeGroup resolves the close group of the request's destination.
func (c *Client) closeGroup(ctx context.Context, req *protocol.Request) ([]protocol.PeerID, error) {
	dst, err := req.Dst()
	if err != nil {
		return nil, err
	}
	if err := dst.Valid(); err != nil {
		return nil, err
	}
	return c.net.GetClosestPeers(ctx, dst)
}

// SendToClosest sends req to every member of its destination's close
// group and returns one result per member, in no particular order. No
// reduction is applied; callers count for themselves.
func (c *Client) SendToClosest(ctx context.Context, req *protocol.Request) ([]network.PeerResult, error) {
	peers, err := c.closeGroup(ctx, req)
	if err != nil {
		return nil, err
	}
	results := make([]network.PeerResult, 0, len(peers))
	outcomes := c.fanOut(ctx, req, peers)
	for range peers {
		o := <-outcomes
		results = append(results, network.PeerResult{Peer: o.peer, Response: o.resp, Err: o.err})
	}
	return results, nil
}

// cmdQuorum broadcasts a command and reduces acknowledgements as they
// complete. pick extracts the mirror result for the command variant
// that was sent; any other shape is a protocol violation. The call
// returns as soon as a majority has acknowledged, abandoning slower
// peers; short of that it drains every response, so a rejection or
// transport failure is classified no matter how late it arrives.
func (c *Client) cmdQuorum(ctx context.Context, req *protocol.Request, pick func(*protocol.CmdResponse) *protocol.CmdResult) error {
	peers, err := c.closeGroup(ctx, req)
	if err != nil {
		return err
	}
	need := xorname.Majority(len(peers))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	outcomes := c.fanOut(ctx, req, peers)

	acks := 0
	unexpected := 0
	var firstRejection *Rejection
	var firstNetErr error
	for pending := len(peers); pending > 0; pending-- {
		o := <-outcomes
		switch {
		case o.err != nil:
			debuglog.Debugf("%s: peer %s unreachable: %v", req, o.peer.Short(), o.err)
			if firstNetErr == nil {
				firstNetErr = o.err
			}
		case o.resp == nil || o.resp.Cmd == nil:
			unexpected++
		default:
			res := pick(o.resp.Cmd)
			switch {
			case res == nil:
				unexpected++
			case res.Err != nil:
				debuglog.Debugf("%s: rejected by %s: %s", req, o.peer.Short(), res.Err.Error())
				if firstRejection == nil {
					firstRejection = &Rejection{Peer: o.peer, Err: res.Err}
				}
			default:
				acks++
				if acks >= need {
					return nil
				}
			}
		}
	}

	if firstRejection != nil {
		return firstRejection
	}
	if firstNetErr != nil {
		return fmt.Errorf("client: %d of %d acks: %w", acks, need, firstNetErr)
	}
	if unexpected > 0 {
		return fmt.Errorf("%w: %d of %d peers", ErrUnexpectedResponses, unexpected, len(peers))
	}
	return &QuorumError{Got: acks, Need: need}
}

// StoreChunk uploads a chunk and succeeds once a majority of its close
// group has acknowledged the store.
func (c *Client) StoreChunk(ctx context.Context, chunk *protocol.Chunk) error {
	if err := chunk.Valid(); err != nil {
		return err
	}
	req := &protocol.Request{Cmd: &protocol.Cmd{StoreChunk: chunk}}
	return c.cmdQuorum(ctx, req, func(r *protocol.CmdResponse) *protocol.CmdResult { return r.StoreChunk })
}

// GetChunk fetches a chunk by address and verifies its content against
// the address before returning it. A chunk that hashes to the wrong
// name is a protocol violation no matter how many peers served it.
func (c *Client) GetChunk(ctx context.Context, addr protocol.ChunkAddress) (*protocol.Chunk, error) {
	resp, err := c.net.GetProvidedData(ctx, addr.Name())
	if err != nil {
		return nil, err
	}
	res := resp.GetChunk
	if res == nil {
		return nil, fmt.Errorf("%w: non-chunk answer to a chunk query", ErrUnexpectedResponses)
	}
	if res.Err != nil {
		return nil, &Rejection{Err: res.Err}
	}
	if res.Chunk == nil {
		return nil, fmt.Errorf("%w: empty chunk answer", ErrUnexpectedResponses)
	}
	if res.Chunk.Address() != addr {
		return nil, fmt.Errorf("%w: chunk content does not hash to %s", ErrUnexpectedResponses, addr.Name().Short())
	}
	return res.Chunk, nil
}

// WriteRegister applies a register command once a majority of the
// register's close group has acknowledged it.
func (c *Client) WriteRegister(ctx context.Context, cmd *protocol.RegisterCmd) error {
	if err := cmd.Valid(); err != nil {
		return err
	}
	req := &protocol.Request{Cmd: &protocol.Cmd{Register: cmd}}
	return c.cmdQuorum(ctx, req, func(r *protocol.CmdResponse) *protocol.CmdResult { return r.Register })
}

// SendSpend broadcasts a signed spend certificate to its close group
// and succeeds once a majority has accepted it. Individual rejections
// and network errors are logged and do not vote; the only failure is
// *QuorumError when too few peers accepted.
func (c *Client) SendSpend(ctx context.Context, ss *transfers.SignedSpend, parentTx []byte) error {
	if err := ss.Verify(); err != nil {
		return err
	}
	req := &protocol.Request{Cmd: &protocol.Cmd{Spend: &protocol.SpendRequest{
		SignedSpend: *ss,
		ParentTx:    parentTx,
	}}}
	peers, err := c.closeGroup(ctx, req)
	if err != nil {
		return err
	}
	need := xorname.Majority(len(peers))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	outcomes := c.fanOut(ctx, req, peers)

	acks := 0
	for pending := len(peers); pending > 0; pending-- {
		o := <-outcomes
		switch {
		case o.err != nil:
			debuglog.Debugf("%s: peer %s unreachable: %v", req, o.peer.Short(), o.err)
		case o.resp == nil || o.resp.Cmd == nil || o.resp.Cmd.Spend == nil:
			debuglog.Debugf("%s: peer %s answered out of protocol", req, o.peer.Short())
		case o.resp.Cmd.Spend.Err != nil:
			debuglog.Debugf("%s: rejected by %s: %s", req, o.peer.Short(), o.resp.Cmd.Spend.Err.Error())
		default:
			acks++
			if acks >= need {
				return nil
			}
		}
	}
	return &QuorumError{Got: acks, Need: need}
}

// GetSpend fetches the certificate stored at addr, requiring a
// majority of the close group to agree on identical bytes. Without
// such agreement the fetch fails with *QuorumError. Conflicting valid
// certificates observed along the way are reported to the network as a
// DoubleSpendObserved event, best effort.
func (c *Client) GetSpend(ctx context.Context, addr protocol.SpendAddress) (*transfers.SignedSpend, error) {
	spendAddr := addr
	req := &protocol.Request{Query: &protocol.Query{GetSpend: &spendAddr}}
	peers, err := c.closeGroup(ctx, req)
	if err != nil {
		return nil, err
	}
	need := xorname.Majority(len(peers))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	outcomes := c.fanOut(ctx, req, peers)

	// Agreement classes keyed by the certificate's canonical bytes.
	// Everything that is not a valid matching certificate is logged and
	// ignored; it votes for no class.
	classes := make(map[string]*agreementClass)
	best := 0
	for pending := len(peers); pending > 0; pending-- {
		o := <-outcomes
		switch {
		case o.err != nil:
			debuglog.Debugf("%s: peer %s unreachable: %v", req, o.peer.Short(), o.err)
		case o.resp == nil || o.resp.Query == nil || o.resp.Query.GetSpend == nil:
			debuglog.Debugf("%s: peer %s answered out of protocol", req, o.peer.Short())
		case o.resp.Query.GetSpend.Err != nil:
			debuglog.Debugf("%s: rejected by %s: %s", req, o.peer.Short(), o.resp.Query.GetSpend.Err.Error())
		case o.resp.Query.GetSpend.Spend == nil:
			debuglog.Debugf("%s: peer %s answered with no certificate", req, o.peer.Short())
		default:
			spend := o.resp.Query.GetSpend.Spend
			if protocol.SpendAddressOf(spend) != addr || spend.Verify() != nil {
				debuglog.Debugf("%s: peer %s served a mismatched or forged certificate", req, o.peer.Short())
				break
			}
			key, err := spend.Canonical()
			if err != nil {
				break
			}
			cls := classes[string(key)]
			if cls == nil {
				cls = &agreementClass{spend: spend}
				classes[string(key)] = cls
			}
			cls.count++
			if cls.count > best {
				best = cls.count
			}
			if cls.count >= need {
				c.maybeReportConflict(addr, classes)
				return cls.spend, nil
			}
		}
	}

	c.maybeReportConflict(addr, classes)
	return nil, &QuorumError{Got: best, Need: need}
}

// maybeReportConflict broadcasts conflict evidence when a fetch
// observed two or more distinct valid certificates for one address.
// Fire and forget: the fetch outcome does not depend on it.
func (c *Client) maybeReportConflict(addr protocol.SpendAddress, classes map[string]*agreementClass) {
	if len(classes) < 2 {
		return
	}
	evidence := &protocol.DoubleSpendEvent{Address: addr}
	for _, cls := range classes {
		evidence.Spends = append(evidence.Spends, *cls.spend)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.ReportDoubleSpend(ctx, evidence); err != nil {
			debuglog.Debugf("double spend report for %s failed: %v", addr.Name().Short(), err)
		}
	}()
}

type agreementClass struct {
	spend *transfers.SignedSpend
	count int
}

// ReportDoubleSpend broadcasts observed conflict evidence to the spend
// address's close group. Delivery is best effort: the network learning
// about a conflict matters more than who acknowledged hearing it.
func (c *Client) ReportDoubleSpend(ctx context.Context, evidence *protocol.DoubleSpendEvent) error {
	if len(evidence.Spends) < 2 {
		return fmt.Errorf("client: double spend evidence needs at least 2 certificates, have %d", len(evidence.Spends))
	}
	req := &protocol.Request{Event: &protocol.Event{DoubleSpendObserved: evidence}}
	peers, err := c.closeGroup(ctx, req)
	if err != nil {
		return err
	}
	outcomes := c.fanOut(ctx, req, peers)
	delivered := 0
	for range peers {
		o := <-outcomes
		if o.err == nil {
			delivered++
		}
	}
	if delivered == 0 {
		return fmt.Errorf("client: double spend report reached no peers")
	}
	return nil
}
