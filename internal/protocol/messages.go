// Package protocol defines the request/response vocabulary exchanged
// between client and peers, the typed network addresses operations are
// routed by, and the replicated-data envelope used for bulk
// replication. Every request can compute its destination before any
// I/O happens, and every message round-trips through a tagged,
// self-describing wire encoding.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"xornet/internal/transfers"
	"xornet/internal/xorname"
)

// Rejection codes a node may answer with. These travel on the wire,
// so they are stable strings rather than Go error values.
const (
	CodeChunkTooLarge    = "chunk_too_large"
	CodeStorageFull      = "storage_full"
	CodeNotFound         = "not_found"
	CodeInvalidSignature = "invalid_signature"
	CodeDoubleSpend      = "double_spend"
	CodeBadRequest       = "bad_request"
)

// WireError is an explicit application-level rejection from a peer.
type WireError struct {
	Code string `json:"code"`
	Msg  string `json:"msg,omitempty"`
}

func (e *WireError) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return e.Code + ": " + e.Msg
}

// SpendRequest submits a certificate together with the transaction
// that created the spent output.
type SpendRequest struct {
	SignedSpend transfers.SignedSpend `json:"signed_spend"`
	ParentTx    []byte                `json:"parent_tx,omitempty"`
}

// Cmd is a mutating request. Exactly one variant is set.
type Cmd struct {
	StoreChunk *Chunk          `json:"store_chunk,omitempty"`
	Register   *RegisterCmd    `json:"register,omitempty"`
	Spend      *SpendRequest   `json:"spend,omitempty"`
	Replicate  *ReplicatedData `json:"replicate,omitempty"`
}

// Query is a read-only request. Exactly one variant is set.
type Query struct {
	GetChunk    *ChunkAddress    `json:"get_chunk,omitempty"`
	GetSpend    *SpendAddress    `json:"get_spend,omitempty"`
	GetRegister *RegisterAddress `json:"get_register,omitempty"`
}

// DoubleSpendEvent is a fact: conflicting certificates were observed
// for one spend address. The set is unordered and holds at least two
// certificates when built from genuine conflict evidence.
type DoubleSpendEvent struct {
	Address SpendAddress            `json:"address"`
	Spends  []transfers.SignedSpend `json:"spends"`
}

// Event is an informational request carrying a fact, not an order.
type Event struct {
	DoubleSpendObserved *DoubleSpendEvent `json:"double_spend_observed,omitempty"`
}

// Request is what a client or node sends to a peer: a command, a
// query, or an event. Exactly one arm is set.
type Request struct {
	Cmd   *Cmd   `json:"cmd,omitempty"`
	Query *Query `json:"query,omitempty"`
	Event *Event `json:"event,omitempty"`
}

// Dst computes where the request must be routed. It is pure: no
// network access, derived entirely from the payload.
func (r *Request) Dst() (NetworkAddress, error) {
	switch {
	case r.Cmd != nil:
		return r.Cmd.Dst()
	case r.Query != nil:
		return r.Query.Dst()
	case r.Event != nil:
		return r.Event.Dst()
	}
	return NetworkAddress{}, fmt.Errorf("protocol: empty request")
}

func (c *Cmd) Dst() (NetworkAddress, error) {
	switch {
	case c.StoreChunk != nil:
		return AddrFromChunk(c.StoreChunk.Address()), nil
	case c.Register != nil:
		return AddrFromRegister(c.Register.Dst()), nil
	case c.Spend != nil:
		return AddrFromSpend(SpendAddressOf(&c.Spend.SignedSpend)), nil
	case c.Replicate != nil:
		return c.Replicate.Dst()
	}
	return NetworkAddress{}, fmt.Errorf("protocol: empty cmd")
}

func (q *Query) Dst() (NetworkAddress, error) {
	switch {
	case q.GetChunk != nil:
		return AddrFromChunk(*q.GetChunk), nil
	case q.GetSpend != nil:
		return AddrFromSpend(*q.GetSpend), nil
	case q.GetRegister != nil:
		return AddrFromRegister(*q.GetRegister), nil
	}
	return NetworkAddress{}, fmt.Errorf("protocol: empty query")
}

func (e *Event) Dst() (NetworkAddress, error) {
	switch {
	case e.DoubleSpendObserved != nil:
		return AddrFromSpend(e.DoubleSpendObserved.Address), nil
	}
	return NetworkAddress{}, fmt.Errorf("protocol: empty event")
}

// CmdResult is the nested outcome of a command: nil Err means the
// command was applied.
type CmdResult struct {
	Err *WireError `json:"err,omitempty"`
}

// CmdResponse answers a Cmd. The populated variant mirrors the
// command that was sent.
type CmdResponse struct {
	StoreChunk *CmdResult `json:"store_chunk,omitempty"`
	Register   *CmdResult `json:"register,omitempty"`
	Spend      *CmdResult `json:"spend,omitempty"`
	Replicate  *CmdResult `json:"replicate,omitempty"`
}

// GetChunkResult carries either the chunk or a rejection.
type GetChunkResult struct {
	Chunk *Chunk     `json:"chunk,omitempty"`
	Err   *WireError `json:"err,omitempty"`
}

// GetSpendResult carries either the certificate or a rejection.
type GetSpendResult struct {
	Spend *transfers.SignedSpend `json:"spend,omitempty"`
	Err   *WireError             `json:"err,omitempty"`
}

// GetRegisterResult carries either the op log or a rejection.
type GetRegisterResult struct {
	Log *ReplicatedRegisterLog `json:"log,omitempty"`
	Err *WireError             `json:"err,omitempty"`
}

// QueryResponse answers a Query.
type QueryResponse struct {
	GetChunk    *GetChunkResult    `json:"get_chunk,omitempty"`
	GetSpend    *GetSpendResult    `json:"get_spend,omitempty"`
	GetRegister *GetRegisterResult `json:"get_register,omitempty"`
}

// Response is a peer's reply: exactly one of Cmd or Query.
type Response struct {
	Cmd   *CmdResponse   `json:"cmd,omitempty"`
	Query *QueryResponse `json:"query,omitempty"`
}

// Canonical returns the deterministic encoded bytes of a message.
// Equality over messages is structural: same variant, same
// destination, same payload bytes.
func Canonical(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Equal reports structural equality of two encodable values.
func Equal(a, b any) bool {
	ab, errA := Canonical(a)
	bb, errB := Canonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// String implementations keep payload bytes and certificate lists out
// of plain logs; only identifiers appear.

func (r Request) String() string {
	switch {
	case r.Cmd != nil:
		return "Request(" + r.Cmd.String() + ")"
	case r.Query != nil:
		return "Request(" + r.Query.String() + ")"
	case r.Event != nil:
		return "Request(" + r.Event.String() + ")"
	}
	return "Request(empty)"
}

func (c Cmd) String() string {
	switch {
	case c.StoreChunk != nil:
		return "StoreChunk(" + c.StoreChunk.Name().Short() + ")"
	case c.Register != nil:
		return c.Register.String()
	case c.Spend != nil:
		return "Spend(" + c.Spend.SignedSpend.ID().Short() + ")"
	case c.Replicate != nil:
		return "Replicate(" + c.Replicate.String() + ")"
	}
	return "Cmd(empty)"
}

func (q Query) String() string {
	switch {
	case q.GetChunk != nil:
		return "GetChunk(" + q.GetChunk.Name().Short() + ")"
	case q.GetSpend != nil:
		return "GetSpend(" + q.GetSpend.Name().Short() + ")"
	case q.GetRegister != nil:
		return "GetRegister(" + q.GetRegister.Name().Short() + ")"
	}
	return "Query(empty)"
}

func (e Event) String() string {
	if e.DoubleSpendObserved != nil {
		return fmt.Sprintf("DoubleSpendObserved(%s,%d certs)",
			e.DoubleSpendObserved.Address.Name().Short(), len(e.DoubleSpendObserved.Spends))
	}
	return "Event(empty)"
}

func (r Response) String() string {
	switch {
	case r.Cmd != nil:
		return "Response(" + r.Cmd.String() + ")"
	case r.Query != nil:
		return "Response(" + r.Query.String() + ")"
	}
	return "Response(empty)"
}

func (c CmdResponse) String() string {
	name := func(res *CmdResult, label string) string {
		if res.Err != nil {
			return label + "(err=" + res.Err.Code + ")"
		}
		return label + "(ok)"
	}
	switch {
	case c.StoreChunk != nil:
		return name(c.StoreChunk, "StoreChunkAck")
	case c.Register != nil:
		return name(c.Register, "RegisterAck")
	case c.Spend != nil:
		return name(c.Spend, "SpendAck")
	case c.Replicate != nil:
		return name(c.Replicate, "ReplicateAck")
	}
	return "CmdResponse(empty)"
}

func (q QueryResponse) String() string {
	switch {
	case q.GetChunk != nil:
		if q.GetChunk.Err != nil {
			return "GetChunk(err=" + q.GetChunk.Err.Code + ")"
		}
		if q.GetChunk.Chunk != nil {
			return "GetChunk(ok," + q.GetChunk.Chunk.Name().Short() + ")"
		}
		return "GetChunk(empty)"
	case q.GetSpend != nil:
		if q.GetSpend.Err != nil {
			return "GetSpend(err=" + q.GetSpend.Err.Code + ")"
		}
		if q.GetSpend.Spend != nil {
			return "GetSpend(ok," + q.GetSpend.Spend.ID().Short() + ")"
		}
		return "GetSpend(empty)"
	case q.GetRegister != nil:
		if q.GetRegister.Err != nil {
			return "GetRegister(err=" + q.GetRegister.Err.Code + ")"
		}
		return "GetRegister(ok)"
	}
	return "QueryResponse(empty)"
}

// NameOfSpendID is a convenience for callers that hold a raw spend
// identifier rather than an address value.
func NameOfSpendID(id xorname.XorName) SpendAddress { return SpendAddress(id) }
