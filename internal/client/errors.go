package client

import (
	"errors"
	"fmt"

	"xornet/internal/protocol"
)

var (
	// ErrBootstrap means the client could not gather enough network
	// connections before its deadline.
	ErrBootstrap = errors.New("client: bootstrap failed: not enough network connections")

	// ErrUnexpectedResponses means peers answered, but with response
	// variants or payloads the request cannot have produced. This is a
	// protocol violation, not a quorum shortfall.
	ErrUnexpectedResponses = errors.New("client: peers answered with unexpected responses")
)

// Rejection is an explicit application-level refusal from a peer. It
// is distinct from a transport failure: the peer was reached and said
// no.
type Rejection struct {
	Peer protocol.PeerID
	Err  *protocol.WireError
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("client: rejected by %s: %s", r.Peer.Short(), r.Err.Error())
}

func (r *Rejection) Unwrap() error { return r.Err }

// QuorumError means too few peers confirmed an operation or agreed on
// an answer.
type QuorumError struct {
	Got  int
	Need int
}

func (q *QuorumError) Error() string {
	return fmt.Sprintf("client: quorum not reached: %d of %d required acks", q.Got, q.Need)
}
