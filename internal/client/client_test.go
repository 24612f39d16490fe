package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"xornet/internal/event"
	"xornet/internal/network"
	"xornet/internal/protocol"
	"xornet/internal/transfers"
	"xornet/internal/xorname"
)

func peerID(b byte) protocol.PeerID {
	var id protocol.PeerID
	id[xorname.Size-1] = b
	return id
}

func peerSet(n int) []protocol.PeerID {
	peers := make([]protocol.PeerID, n)
	for i := range peers {
		peers[i] = peerID(byte(i + 1))
	}
	return peers
}

// fakeNet scripts per-peer behavior for the quorum reductions.
type fakeNet struct {
	peers   []protocol.PeerID
	respond func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error)
	delay   map[protocol.PeerID]time.Duration
	stream  *event.Stream[network.Event]

	mu    sync.Mutex
	calls int
}

func newFakeNet(n int, respond func(protocol.PeerID, *protocol.Request) (*protocol.Response, error)) *fakeNet {
	return &fakeNet{
		peers:   peerSet(n),
		respond: respond,
		stream:  event.NewStream[network.Event](64),
	}
}

func (f *fakeNet) GetClosestPeers(ctx context.Context, target protocol.NetworkAddress) ([]protocol.PeerID, error) {
	return append([]protocol.PeerID(nil), f.peers...), nil
}

func (f *fakeNet) SendRequest(ctx context.Context, req *protocol.Request, peer protocol.PeerID) (*protocol.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if d, ok := f.delay[peer]; ok && d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.respond(peer, req)
}

func (f *fakeNet) GetProvidedData(ctx context.Context, key xorname.XorName) (*protocol.QueryResponse, error) {
	addr := protocol.ChunkAddress(key)
	req := &protocol.Request{Query: &protocol.Query{GetChunk: &addr}}
	var fallback *protocol.QueryResponse
	var lastErr error
	for _, peer := range f.peers {
		resp, err := f.SendRequest(ctx, req, peer)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Query == nil {
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
	return nil, errors.New("no provider")
}

func (f *fakeNet) Subscribe() *event.Subscription[network.Event] {
	return f.stream.Subscribe()
}

func (f *fakeNet) addPeers(n int) {
	for i := 0; i < n; i++ {
		id := peerID(byte(0x40 + i))
		f.stream.Publish(network.Event{PeerAdded: &id})
	}
}

func (f *fakeNet) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// newTestClient skips bootstrap; the fake network is always connected.
func newTestClient(t *testing.T, net *fakeNet) *Client {
	t.Helper()
	signer, err := transfers.NewSignerFromSeed([]byte("test-client-seed-0123456789abcdef"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return &Client{net: net, signer: signer}
}

func ack(which string) *protocol.Response {
	res := &protocol.CmdResult{}
	cr := &protocol.CmdResponse{}
	switch which {
	case "store_chunk":
		cr.StoreChunk = res
	case "spend":
		cr.Spend = res
	case "register":
		cr.Register = res
	}
	return &protocol.Response{Cmd: cr}
}

func rejection(which, code string) *protocol.Response {
	res := &protocol.CmdResult{Err: &protocol.WireError{Code: code}}
	cr := &protocol.CmdResponse{}
	switch which {
	case "store_chunk":
		cr.StoreChunk = res
	case "spend":
		cr.Spend = res
	}
	return &protocol.Response{Cmd: cr}
}

func TestBootstrapWaitsForEnoughPeers(t *testing.T) {
	net := newFakeNet(0, nil)
	go func() {
		// A duplicate early on must not count twice.
		net.addPeers(1)
		net.addPeers(connectedThreshold)
	}()
	c, err := New(context.Background(), Config{Net: net, BootstrapTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if c.Signer() == nil || len(c.PublicKey()) == 0 {
		t.Fatalf("client has no signer")
	}
}

func TestBootstrapFailsOnDeadline(t *testing.T) {
	net := newFakeNet(0, nil)
	net.addPeers(3)
	_, err := New(context.Background(), Config{Net: net, BootstrapTimeout: 50 * time.Millisecond})
	if !errors.Is(err, ErrBootstrap) {
		t.Fatalf("err = %v, want ErrBootstrap", err)
	}
}

func TestBootstrapFailsWhenStreamCloses(t *testing.T) {
	net := newFakeNet(0, nil)
	net.addPeers(3)
	net.stream.Close()
	_, err := New(context.Background(), Config{Net: net, BootstrapTimeout: 5 * time.Second})
	if !errors.Is(err, ErrBootstrap) {
		t.Fatalf("err = %v, want ErrBootstrap", err)
	}
}

func TestStoreChunkMajorityAck(t *testing.T) {
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		if req.Cmd == nil || req.Cmd.StoreChunk == nil {
			t.Errorf("peer %s saw non-store request %s", peer.Short(), req)
		}
		return ack("store_chunk"), nil
	})
	c := newTestClient(t, net)
	chunk := protocol.NewChunk([]byte("hello quorum"))
	if err := c.StoreChunk(context.Background(), &chunk); err != nil {
		t.Fatalf("store: %v", err)
	}
}

func TestStoreChunkSurfacesNetworkError(t *testing.T) {
	errDown := errors.New("connection refused")
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		if peer == peerID(1) {
			return ack("store_chunk"), nil
		}
		return nil, errDown
	})
	c := newTestClient(t, net)
	chunk := protocol.NewChunk([]byte("lonely"))
	err := c.StoreChunk(context.Background(), &chunk)
	if !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want the transport failure", err)
	}
	var qe *QuorumError
	if errors.As(err, &qe) {
		t.Fatalf("transport failure demoted to QuorumError: %v", err)
	}
}

func TestStoreChunkEmptyGroupFailsQuorum(t *testing.T) {
	net := newFakeNet(0, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		return ack("store_chunk"), nil
	})
	c := newTestClient(t, net)
	chunk := protocol.NewChunk([]byte("nobody home"))
	err := c.StoreChunk(context.Background(), &chunk)
	var qe *QuorumError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuorumError", err)
	}
	if qe.Got != 0 || qe.Need != 1 {
		t.Fatalf("QuorumError = %+v, want got=0 need=1", qe)
	}
}

func TestStoreChunkRejectionPreferredOverNetworkError(t *testing.T) {
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		if peer == peerID(2) {
			return rejection("store_chunk", protocol.CodeStorageFull), nil
		}
		return nil, errors.New("timeout")
	})
	c := newTestClient(t, net)
	chunk := protocol.NewChunk([]byte("full"))
	err := c.StoreChunk(context.Background(), &chunk)
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want Rejection", err)
	}
	if rej.Err.Code != protocol.CodeStorageFull {
		t.Fatalf("rejection code = %q, want %q", rej.Err.Code, protocol.CodeStorageFull)
	}
}

func TestStoreChunkLateRejectionStillSurfaces(t *testing.T) {
	// The rejection arrives after both transport failures; the reducer
	// must keep draining rather than give up once a majority is out of
	// reach.
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		if peer == peerID(2) {
			return rejection("store_chunk", protocol.CodeStorageFull), nil
		}
		return nil, errors.New("timeout")
	})
	net.delay = map[protocol.PeerID]time.Duration{
		peerID(2): 100 * time.Millisecond,
	}
	c := newTestClient(t, net)
	chunk := protocol.NewChunk([]byte("slow refusal"))
	err := c.StoreChunk(context.Background(), &chunk)
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want Rejection", err)
	}
	if rej.Err.Code != protocol.CodeStorageFull {
		t.Fatalf("rejection code = %q, want %q", rej.Err.Code, protocol.CodeStorageFull)
	}
}

func TestStoreChunkUnexpectedResponses(t *testing.T) {
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		// A query response to a command is a protocol violation.
		return &protocol.Response{Query: &protocol.QueryResponse{}}, nil
	})
	c := newTestClient(t, net)
	chunk := protocol.NewChunk([]byte("weird"))
	err := c.StoreChunk(context.Background(), &chunk)
	if !errors.Is(err, ErrUnexpectedResponses) {
		t.Fatalf("err = %v, want ErrUnexpectedResponses", err)
	}
}

func TestStoreChunkRejectsOversizedLocally(t *testing.T) {
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		return ack("store_chunk"), nil
	})
	c := newTestClient(t, net)
	chunk := protocol.NewChunk(make([]byte, protocol.MaxChunkSize+1))
	if err := c.StoreChunk(context.Background(), &chunk); err == nil {
		t.Fatalf("oversized chunk accepted")
	}
	if net.callCount() != 0 {
		t.Fatalf("oversized chunk reached the network: %d calls", net.callCount())
	}
}

func TestStoreChunkIdempotentReplay(t *testing.T) {
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		// A node that already holds the chunk acks the replay.
		return ack("store_chunk"), nil
	})
	c := newTestClient(t, net)
	chunk := protocol.NewChunk([]byte("again and again"))
	for i := 0; i < 2; i++ {
		if err := c.StoreChunk(context.Background(), &chunk); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}
}

func TestBroadcastStopsAtFastMajority(t *testing.T) {
	signer, err := transfers.NewSignerFromSeed([]byte("broadcast-latency-seed-0123456789"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	ss, err := signer.SignSpend(transfers.Spend{Amount: 7})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	slow := 2 * time.Second
	net := newFakeNet(5, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		return ack("spend"), nil
	})
	net.delay = map[protocol.PeerID]time.Duration{
		peerID(4): slow,
		peerID(5): slow,
	}
	c := newTestClient(t, net)
	start := time.Now()
	if err := c.SendSpend(context.Background(), &ss, nil); err != nil {
		t.Fatalf("send spend: %v", err)
	}
	if elapsed := time.Since(start); elapsed > slow/2 {
		t.Fatalf("broadcast waited on slow peers: %s", elapsed)
	}
}

func TestBroadcastRejectionsDoNotVote(t *testing.T) {
	signer, err := transfers.NewSignerFromSeed([]byte("broadcast-reject-seed-0123456789a"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	ss, err := signer.SignSpend(transfers.Spend{Amount: 3})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// One ack, two rejections over 3: the shortfall surfaces as a
	// QuorumError, not as the rejection.
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		if peer == peerID(1) {
			return ack("spend"), nil
		}
		return rejection("spend", protocol.CodeDoubleSpend), nil
	})
	c := newTestClient(t, net)
	err = c.SendSpend(context.Background(), &ss, nil)
	var qe *QuorumError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuorumError", err)
	}
	if qe.Got != 1 || qe.Need != 2 {
		t.Fatalf("QuorumError = %+v, want got=1 need=2", qe)
	}
}

func TestGetChunkVerifiesContentHash(t *testing.T) {
	good := protocol.NewChunk([]byte("verified content"))
	bogus := protocol.NewChunk([]byte("tampered content"))
	serve := &bogus
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		return &protocol.Response{Query: &protocol.QueryResponse{
			GetChunk: &protocol.GetChunkResult{Chunk: serve},
		}}, nil
	})
	c := newTestClient(t, net)

	if _, err := c.GetChunk(context.Background(), good.Address()); !errors.Is(err, ErrUnexpectedResponses) {
		t.Fatalf("tampered chunk err = %v, want ErrUnexpectedResponses", err)
	}
	serve = &good
	got, err := c.GetChunk(context.Background(), good.Address())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Value) != string(good.Value) {
		t.Fatalf("got %q, want %q", got.Value, good.Value)
	}
}

func TestGetChunkNotFound(t *testing.T) {
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		return &protocol.Response{Query: &protocol.QueryResponse{
			GetChunk: &protocol.GetChunkResult{Err: &protocol.WireError{Code: protocol.CodeNotFound}},
		}}, nil
	})
	c := newTestClient(t, net)
	addr := protocol.NewChunk([]byte("missing")).Address()
	_, err := c.GetChunk(context.Background(), addr)
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want Rejection", err)
	}
	if rej.Err.Code != protocol.CodeNotFound {
		t.Fatalf("code = %q, want not_found", rej.Err.Code)
	}
}

func spendResponse(ss *transfers.SignedSpend) *protocol.Response {
	return &protocol.Response{Query: &protocol.QueryResponse{
		GetSpend: &protocol.GetSpendResult{Spend: ss},
	}}
}

func TestGetSpendMajorityAgreement(t *testing.T) {
	signer, err := transfers.NewSignerFromSeed([]byte("agreement-seed-0123456789abcdefgh"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	a, err := signer.SignSpend(transfers.Spend{Amount: 1})
	if err != nil {
		t.Fatalf("sign a: %v", err)
	}
	b, err := signer.SignSpend(transfers.Spend{Amount: 2})
	if err != nil {
		t.Fatalf("sign b: %v", err)
	}
	// {A, A, B}: class A reaches majority 2.
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		if req.Event != nil {
			return &protocol.Response{Cmd: &protocol.CmdResponse{}}, nil
		}
		if peer == peerID(3) {
			return spendResponse(&b), nil
		}
		return spendResponse(&a), nil
	})
	c := newTestClient(t, net)
	got, err := c.GetSpend(context.Background(), protocol.SpendAddressOf(&a))
	if err != nil {
		t.Fatalf("get spend: %v", err)
	}
	if !got.Equal(&a) {
		t.Fatalf("agreement picked wrong certificate: %s", got)
	}
}

func TestGetSpendNoAgreementFailsQuorum(t *testing.T) {
	signer, err := transfers.NewSignerFromSeed([]byte("disagreement-seed-0123456789abcd"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	var spends []transfers.SignedSpend
	for amount := uint64(1); amount <= 3; amount++ {
		ss, err := signer.SignSpend(transfers.Spend{Amount: amount})
		if err != nil {
			t.Fatalf("sign %d: %v", amount, err)
		}
		spends = append(spends, ss)
	}
	// {A, B, C}: no class reaches majority 2 despite three answers.
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		if req.Event != nil {
			return &protocol.Response{Cmd: &protocol.CmdResponse{}}, nil
		}
		idx := int(peer[xorname.Size-1]) - 1
		return spendResponse(&spends[idx]), nil
	})
	c := newTestClient(t, net)
	_, err = c.GetSpend(context.Background(), protocol.SpendAddressOf(&spends[0]))
	var qe *QuorumError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuorumError", err)
	}
	if qe.Need != 2 {
		t.Fatalf("need = %d, want 2", qe.Need)
	}
}

func TestGetSpendPartialAgreementWithErrorsFailsQuorum(t *testing.T) {
	signer, err := transfers.NewSignerFromSeed([]byte("partial-seed-0123456789abcdefghij"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	a, err := signer.SignSpend(transfers.Spend{Amount: 1})
	if err != nil {
		t.Fatalf("sign a: %v", err)
	}
	b, err := signer.SignSpend(transfers.Spend{Amount: 2})
	if err != nil {
		t.Fatalf("sign b: %v", err)
	}
	// {A, A, B, error, error} over 5: best class 2 < majority 3.
	net := newFakeNet(5, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		if req.Event != nil {
			return &protocol.Response{Cmd: &protocol.CmdResponse{}}, nil
		}
		switch peer {
		case peerID(1), peerID(2):
			return spendResponse(&a), nil
		case peerID(3):
			return spendResponse(&b), nil
		default:
			return nil, fmt.Errorf("peer %s down", peer.Short())
		}
	})
	c := newTestClient(t, net)
	_, err = c.GetSpend(context.Background(), protocol.SpendAddressOf(&a))
	var qe *QuorumError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuorumError", err)
	}
	if qe.Got != 2 || qe.Need != 3 {
		t.Fatalf("QuorumError = %+v, want got=2 need=3", qe)
	}
}

func TestGetSpendForgedCertificatesVoteForNothing(t *testing.T) {
	signer, err := transfers.NewSignerFromSeed([]byte("forged-seed-0123456789abcdefghijk"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	a, err := signer.SignSpend(transfers.Spend{Amount: 1})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	forged := a
	forged.Spend.Amount = 999 // signature no longer covers the content
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		return spendResponse(&forged), nil
	})
	c := newTestClient(t, net)
	_, err = c.GetSpend(context.Background(), protocol.SpendAddressOf(&a))
	var qe *QuorumError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuorumError", err)
	}
	if qe.Got != 0 || qe.Need != 2 {
		t.Fatalf("QuorumError = %+v, want got=0 need=2", qe)
	}
}

func TestGetSpendAllRejectionsFailQuorum(t *testing.T) {
	signer, err := transfers.NewSignerFromSeed([]byte("rejected-seed-0123456789abcdefgh"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	a, err := signer.SignSpend(transfers.Spend{Amount: 1})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// Every peer answers not_found: no class forms, and the shortfall
	// is a QuorumError, not the rejection.
	net := newFakeNet(3, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		return &protocol.Response{Query: &protocol.QueryResponse{
			GetSpend: &protocol.GetSpendResult{Err: &protocol.WireError{Code: protocol.CodeNotFound}},
		}}, nil
	})
	c := newTestClient(t, net)
	_, err = c.GetSpend(context.Background(), protocol.SpendAddressOf(&a))
	var qe *QuorumError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuorumError", err)
	}
	if qe.Got != 0 || qe.Need != 2 {
		t.Fatalf("QuorumError = %+v, want got=0 need=2", qe)
	}
}

func TestSendToClosestReturnsPerPeerResults(t *testing.T) {
	net := newFakeNet(4, func(peer protocol.PeerID, req *protocol.Request) (*protocol.Response, error) {
		if peer == peerID(2) {
			return nil, errors.New("down")
		}
		return ack("store_chunk"), nil
	})
	c := newTestClient(t, net)
	chunk := protocol.NewChunk([]byte("fan out"))
	results, err := c.SendToClosest(context.Background(), &protocol.Request{
		Cmd: &protocol.Cmd{StoreChunk: &chunk},
	})
	if err != nil {
		t.Fatalf("send to closest: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
			if r.Peer != peerID(2) {
				t.Fatalf("unexpected failing peer %s", r.Peer.Short())
			}
		}
	}
	if failures != 1 {
		t.Fatalf("failures = %d, want 1", failures)
	}
}
