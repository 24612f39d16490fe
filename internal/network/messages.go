package network

import (
	"xornet/internal/debuglog"
	"xornet/internal/protocol"
	"xornet/internal/xorname"
)

// Wire bodies. Every message carries the sender's contact so the
// receiver can grow its routing table from traffic alone.

type wireContact struct {
	ID   protocol.PeerID `json:"id"`
	Addr string          `json:"addr,omitempty"`
}

type helloMsg struct {
	From wireContact `json:"from"`
}

type findNodeMsg struct {
	From   wireContact     `json:"from"`
	Target xorname.XorName `json:"target"`
}

type contactsMsg struct {
	From     wireContact   `json:"from"`
	Contacts []wireContact `json:"contacts"`
}

type requestMsg struct {
	From    wireContact      `json:"from"`
	Request protocol.Request `json:"request"`
}

type responseMsg struct {
	From     wireContact       `json:"from"`
	Response protocol.Response `json:"response"`
}

// serveFrame handles one inbound payload and returns the reply payload,
// or nil when no reply is owed. Any sender with a dial address is
// admitted to the routing table, whatever it asked for.
func (n *Network) serveFrame(payload []byte) []byte {
	env, err := protocol.DecodeEnvelope(payload)
	if err != nil {
		debuglog.Debugf("inbound frame rejected: %v", err)
		return nil
	}
	switch env.Type {
	case protocol.TypeHello:
		var msg helloMsg
		if err := protocol.DecodeBody(env, &msg); err != nil {
			debuglog.Debugf("bad hello: %v", err)
			return nil
		}
		n.admit(msg.From)
		return n.encodeReply(protocol.TypeHelloOK, helloMsg{From: n.selfContact()})

	case protocol.TypeFindNode:
		var msg findNodeMsg
		if err := protocol.DecodeBody(env, &msg); err != nil {
			debuglog.Debugf("bad find_node: %v", err)
			return nil
		}
		n.admit(msg.From)
		closest := n.rt.findClosest(msg.Target, bucketSize)
		contacts := make([]wireContact, 0, len(closest))
		for _, c := range closest {
			contacts = append(contacts, wireContact{ID: c.ID, Addr: c.Addr})
		}
		return n.encodeReply(protocol.TypeFindNodeOK, contactsMsg{From: n.selfContact(), Contacts: contacts})

	case protocol.TypeRequest:
		var msg requestMsg
		if err := protocol.DecodeBody(env, &msg); err != nil {
			debuglog.Debugf("bad request: %v", err)
			return nil
		}
		n.admit(msg.From)
		req := msg.Request
		n.events.Publish(Event{RequestReceived: &req})
		if n.handler == nil {
			return nil
		}
		resp := n.handler(msg.From.ID, &req)
		if resp == nil {
			return nil
		}
		return n.encodeReply(protocol.TypeResponse, responseMsg{From: n.selfContact(), Response: *resp})
	}
	debuglog.Debugf("inbound frame with unhandled type %q", env.Type)
	return nil
}

// admit adds a traffic-observed sender to the routing table. Senders
// without a dial address (pure clients) are not routable and stay out.
func (n *Network) admit(from wireContact) {
	if from.Addr == "" {
		return
	}
	n.addPeer(Contact{ID: from.ID, Addr: from.Addr})
}

func (n *Network) encodeReply(typ string, v any) []byte {
	payload, err := protocol.EncodeMessage(typ, v)
	if err != nil {
		debuglog.Debugf("encode %s reply: %v", typ, err)
		return nil
	}
	return payload
}
