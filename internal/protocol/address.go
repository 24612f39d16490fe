package protocol

import (
	"fmt"

	"xornet/internal/crypto"
	"xornet/internal/transfers"
	"xornet/internal/xorname"
)

const peerIDLabel = "xornet:peerid:v1"

// PeerID names a peer in the same key space as data. It is derived
// from the peer's identity public key, never from its network address.
type PeerID xorname.XorName

// DerivePeerID maps an identity public key into the key space.
func DerivePeerID(pub []byte) PeerID {
	buf := make([]byte, 0, len(peerIDLabel)+len(pub))
	buf = append(buf, []byte(peerIDLabel)...)
	buf = append(buf, pub...)
	var id PeerID
	copy(id[:], crypto.SHA3_256(buf))
	return id
}

func (p PeerID) Name() xorname.XorName { return xorname.XorName(p) }
func (p PeerID) String() string        { return xorname.XorName(p).String() }
func (p PeerID) Short() string         { return xorname.XorName(p).Short() }

func (p PeerID) MarshalText() ([]byte, error) {
	return xorname.XorName(p).MarshalText()
}

func (p *PeerID) UnmarshalText(text []byte) error {
	return (*xorname.XorName)(p).UnmarshalText(text)
}

// ChunkAddress is the name of a content-addressed chunk: the hash of
// its bytes.
type ChunkAddress xorname.XorName

func (a ChunkAddress) Name() xorname.XorName { return xorname.XorName(a) }
func (a ChunkAddress) String() string        { return "ChunkAddress(" + xorname.XorName(a).Short() + ")" }

func (a ChunkAddress) MarshalText() ([]byte, error) {
	return xorname.XorName(a).MarshalText()
}

func (a *ChunkAddress) UnmarshalText(text []byte) error {
	return (*xorname.XorName)(a).UnmarshalText(text)
}

// RegisterAddress names a register replica: a base name plus a user
// tag, folded into one network name.
type RegisterAddress struct {
	Base xorname.XorName `json:"base"`
	Tag  uint64          `json:"tag"`
}

func (a RegisterAddress) Name() xorname.XorName {
	return xorname.FromContent([]byte(fmt.Sprintf("xornet:register:v1:%s:%d", a.Base, a.Tag)))
}

func (a RegisterAddress) String() string {
	return fmt.Sprintf("RegisterAddress(%s,%d)", a.Base.Short(), a.Tag)
}

// SpendAddress is the network name of a spend certificate, derived
// from its one-time public key.
type SpendAddress xorname.XorName

// SpendAddressOf returns the address a certificate is stored under.
func SpendAddressOf(ss *transfers.SignedSpend) SpendAddress {
	return SpendAddress(ss.AddressName())
}

// SpendAddressFromID wraps a spend identifier as an address.
func SpendAddressFromID(id xorname.XorName) SpendAddress { return SpendAddress(id) }

func (a SpendAddress) Name() xorname.XorName { return xorname.XorName(a) }
func (a SpendAddress) String() string        { return "SpendAddress(" + xorname.XorName(a).Short() + ")" }

func (a SpendAddress) MarshalText() ([]byte, error) {
	return xorname.XorName(a).MarshalText()
}

func (a *SpendAddress) UnmarshalText(text []byte) error {
	return (*xorname.XorName)(a).UnmarshalText(text)
}

// AddressKind discriminates NetworkAddress variants.
type AddressKind string

const (
	KindPeer     AddressKind = "peer"
	KindChunk    AddressKind = "chunk"
	KindRegister AddressKind = "register"
	KindSpend    AddressKind = "spend"
)

// NetworkAddress is the routable identity of any storable entity or
// peer. Routing and close-group membership are always computed from
// Name(); the variant tag only tells handlers how to dispatch.
// Immutable once constructed.
type NetworkAddress struct {
	Kind     AddressKind      `json:"kind"`
	Peer     *PeerID          `json:"peer,omitempty"`
	Chunk    *ChunkAddress    `json:"chunk,omitempty"`
	Register *RegisterAddress `json:"register,omitempty"`
	Spend    *SpendAddress    `json:"spend,omitempty"`
}

func AddrFromPeer(p PeerID) NetworkAddress {
	return NetworkAddress{Kind: KindPeer, Peer: &p}
}

func AddrFromChunk(a ChunkAddress) NetworkAddress {
	return NetworkAddress{Kind: KindChunk, Chunk: &a}
}

func AddrFromRegister(a RegisterAddress) NetworkAddress {
	return NetworkAddress{Kind: KindRegister, Register: &a}
}

func AddrFromSpend(a SpendAddress) NetworkAddress {
	return NetworkAddress{Kind: KindSpend, Spend: &a}
}

// Name yields the single 256-bit key of the address.
func (a NetworkAddress) Name() xorname.XorName {
	switch a.Kind {
	case KindPeer:
		return a.Peer.Name()
	case KindChunk:
		return a.Chunk.Name()
	case KindRegister:
		return a.Register.Name()
	case KindSpend:
		return a.Spend.Name()
	}
	return xorname.XorName{}
}

// Valid reports whether exactly the tagged variant is populated.
func (a NetworkAddress) Valid() error {
	switch a.Kind {
	case KindPeer:
		if a.Peer == nil {
			return fmt.Errorf("protocol: peer address without peer id")
		}
	case KindChunk:
		if a.Chunk == nil {
			return fmt.Errorf("protocol: chunk address without name")
		}
	case KindRegister:
		if a.Register == nil {
			return fmt.Errorf("protocol: register address without name")
		}
	case KindSpend:
		if a.Spend == nil {
			return fmt.Errorf("protocol: spend address without name")
		}
	default:
		return fmt.Errorf("protocol: unknown address kind %q", a.Kind)
	}
	return nil
}

func (a NetworkAddress) String() string {
	return fmt.Sprintf("NetworkAddress(%s,%s)", a.Kind, a.Name().Short())
}
