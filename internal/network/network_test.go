package network

import (
	"context"
	"testing"
	"time"

	"xornet/internal/event"
	"xornet/internal/protocol"
	"xornet/internal/xorname"
)

func peerID(b byte) protocol.PeerID {
	var id protocol.PeerID
	id[xorname.Size-1] = b
	return id
}

func testNetwork(handler RequestHandler) *Network {
	return New(Config{
		Self:    Contact{ID: peerID(0), Addr: "127.0.0.1:0"},
		Handler: handler,
	})
}

func TestRoutingTableOrdersByDistance(t *testing.T) {
	rt := newRoutingTable(peerID(0))
	for _, b := range []byte{0x08, 0x01, 0x04, 0x02, 0x10} {
		if !rt.add(Contact{ID: peerID(b), Addr: "addr"}) {
			t.Fatalf("contact %#x not admitted", b)
		}
	}
	var target xorname.XorName // zero target: distance is the ID itself
	got := rt.findClosest(target, 3)
	want := []byte{0x01, 0x02, 0x04}
	if len(got) != len(want) {
		t.Fatalf("findClosest returned %d contacts, want %d", len(got), len(want))
	}
	for i, c := range got {
		if c.ID != peerID(want[i]) {
			t.Fatalf("position %d: got %s, want %s", i, c.ID, peerID(want[i]))
		}
	}
}

func TestRoutingTableRefreshIsNotNew(t *testing.T) {
	rt := newRoutingTable(peerID(0))
	c := Contact{ID: peerID(1), Addr: "a"}
	if !rt.add(c) {
		t.Fatalf("first add should report new")
	}
	c.Addr = "b"
	if rt.add(c) {
		t.Fatalf("refresh should not report new")
	}
	if rt.size() != 1 {
		t.Fatalf("size = %d after refresh, want 1", rt.size())
	}
	got, ok := rt.lookup(peerID(1))
	if !ok || got.Addr != "b" {
		t.Fatalf("refresh did not update address: %+v ok=%v", got, ok)
	}
}

func TestRoutingTableRejectsSelfAndUnroutable(t *testing.T) {
	self := peerID(7)
	rt := newRoutingTable(self)
	if rt.add(Contact{ID: self, Addr: "a"}) {
		t.Fatalf("table admitted self")
	}
	if rt.add(Contact{ID: peerID(1)}) {
		t.Fatalf("table admitted contact without address")
	}
	if rt.size() != 0 {
		t.Fatalf("size = %d, want 0", rt.size())
	}
}

func recvEvent(t *testing.T, sub *event.Subscription[Event]) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("recv event: %v", err)
	}
	return ev
}

func TestServeFrameHelloAdmitsPeer(t *testing.T) {
	n := testNetwork(nil)
	defer n.Close()
	sub := n.Subscribe()

	payload, err := protocol.EncodeMessage(protocol.TypeHello, helloMsg{
		From: wireContact{ID: peerID(3), Addr: "127.0.0.1:9999"},
	})
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	reply := n.serveFrame(payload)
	if reply == nil {
		t.Fatalf("hello got no reply")
	}
	env, err := protocol.DecodeEnvelope(reply)
	if err != nil || env.Type != protocol.TypeHelloOK {
		t.Fatalf("hello reply type %q err %v", env.Type, err)
	}
	var msg helloMsg
	if err := protocol.DecodeBody(env, &msg); err != nil {
		t.Fatalf("decode hello reply: %v", err)
	}
	if msg.From.ID != peerID(0) {
		t.Fatalf("hello reply from %s, want local peer", msg.From.ID)
	}
	if n.KnownPeers() != 1 {
		t.Fatalf("known peers = %d, want 1", n.KnownPeers())
	}
	ev := recvEvent(t, sub)
	if ev.PeerAdded == nil || *ev.PeerAdded != peerID(3) {
		t.Fatalf("expected PeerAdded for sender, got %+v", ev)
	}
}

func TestServeFrameFindNodeReturnsClosest(t *testing.T) {
	n := testNetwork(nil)
	defer n.Close()
	for _, b := range []byte{0x01, 0x02, 0x04} {
		n.AddToRoutingTable(Contact{ID: peerID(b), Addr: "addr"})
	}
	payload, err := protocol.EncodeMessage(protocol.TypeFindNode, findNodeMsg{
		From:   wireContact{ID: peerID(9), Addr: "127.0.0.1:9998"},
		Target: xorname.XorName{},
	})
	if err != nil {
		t.Fatalf("encode find_node: %v", err)
	}
	reply := n.serveFrame(payload)
	if reply == nil {
		t.Fatalf("find_node got no reply")
	}
	env, err := protocol.DecodeEnvelope(reply)
	if err != nil || env.Type != protocol.TypeFindNodeOK {
		t.Fatalf("find_node reply type %q err %v", env.Type, err)
	}
	var msg contactsMsg
	if err := protocol.DecodeBody(env, &msg); err != nil {
		t.Fatalf("decode contacts: %v", err)
	}
	// The sender itself was admitted before the lookup ran, so it may
	// appear in the answer. The seeded contacts must all be present and
	// distance-ordered.
	seen := make(map[protocol.PeerID]int)
	for i, wc := range msg.Contacts {
		seen[wc.ID] = i
	}
	if seen[peerID(0x01)] > seen[peerID(0x02)] || seen[peerID(0x02)] > seen[peerID(0x04)] {
		t.Fatalf("contacts not distance ordered: %+v", msg.Contacts)
	}
	for _, b := range []byte{0x01, 0x02, 0x04} {
		if _, ok := seen[peerID(b)]; !ok {
			t.Fatalf("contact %#x missing from answer", b)
		}
	}
}

func TestServeFrameRequestDispatchesHandler(t *testing.T) {
	addr := protocol.ChunkAddress(xorname.FromContent([]byte("payload")))
	var gotFrom protocol.PeerID
	handler := func(from protocol.PeerID, req *protocol.Request) *protocol.Response {
		gotFrom = from
		return &protocol.Response{Query: &protocol.QueryResponse{
			GetChunk: &protocol.GetChunkResult{Err: &protocol.WireError{Code: protocol.CodeNotFound}},
		}}
	}
	n := testNetwork(handler)
	defer n.Close()
	sub := n.Subscribe()

	payload, err := protocol.EncodeMessage(protocol.TypeRequest, requestMsg{
		From:    wireContact{ID: peerID(5), Addr: "127.0.0.1:9997"},
		Request: protocol.Request{Query: &protocol.Query{GetChunk: &addr}},
	})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	reply := n.serveFrame(payload)
	if reply == nil {
		t.Fatalf("request got no reply")
	}
	if gotFrom != peerID(5) {
		t.Fatalf("handler saw sender %s, want %s", gotFrom, peerID(5))
	}
	env, err := protocol.DecodeEnvelope(reply)
	if err != nil || env.Type != protocol.TypeResponse {
		t.Fatalf("request reply type %q err %v", env.Type, err)
	}
	var msg responseMsg
	if err := protocol.DecodeBody(env, &msg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if msg.Response.Query == nil || msg.Response.Query.GetChunk == nil ||
		msg.Response.Query.GetChunk.Err == nil ||
		msg.Response.Query.GetChunk.Err.Code != protocol.CodeNotFound {
		t.Fatalf("handler response lost in transit: %+v", msg.Response)
	}

	// PeerAdded for the sender, then the request event.
	ev := recvEvent(t, sub)
	if ev.PeerAdded == nil {
		t.Fatalf("expected PeerAdded first, got %+v", ev)
	}
	ev = recvEvent(t, sub)
	if ev.RequestReceived == nil || ev.RequestReceived.Query == nil {
		t.Fatalf("expected RequestReceived, got %+v", ev)
	}
}

func TestServeFrameClientModeAnswersNoRequests(t *testing.T) {
	addr := protocol.ChunkAddress(xorname.FromContent([]byte("x")))
	n := testNetwork(nil)
	defer n.Close()
	payload, err := protocol.EncodeMessage(protocol.TypeRequest, requestMsg{
		From:    wireContact{ID: peerID(2), Addr: "127.0.0.1:9996"},
		Request: protocol.Request{Query: &protocol.Query{GetChunk: &addr}},
	})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	if reply := n.serveFrame(payload); reply != nil {
		t.Fatalf("client mode produced a reply")
	}
}

func TestServeFrameRejectsGarbage(t *testing.T) {
	n := testNetwork(nil)
	defer n.Close()
	if reply := n.serveFrame([]byte("not json")); reply != nil {
		t.Fatalf("garbage frame produced a reply")
	}
	payload, _ := protocol.EncodeMessage("unknown_type", struct{}{})
	if reply := n.serveFrame(payload); reply != nil {
		t.Fatalf("unknown type produced a reply")
	}
}
