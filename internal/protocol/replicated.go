package protocol

import (
	"fmt"

	"xornet/internal/transfers"
	"xornet/internal/xorname"
)

// DoubleSpendEvidence is the stored form of a detected conflict: all
// certificates seen for one spend address that disagree in content.
// The set is unordered and holds at least two certificates when built
// from genuine conflict evidence.
type DoubleSpendEvidence struct {
	Address SpendAddress            `json:"address"`
	Spends  []transfers.SignedSpend `json:"spends"`
}

// ReplicatedData is the envelope for bulk replication between nodes.
// Name and Dst are pure functions of content, never of the peer that
// holds a copy, so replicas sent to different group members stay
// comparable and deduplicable. Exactly one variant is set.
type ReplicatedData struct {
	Chunk         *Chunk                 `json:"chunk,omitempty"`
	RegisterWrite *RegisterCmd           `json:"register_write,omitempty"`
	RegisterLog   *ReplicatedRegisterLog `json:"register_log,omitempty"`
	ValidSpend    *transfers.SignedSpend `json:"valid_spend,omitempty"`
	DoubleSpend   *DoubleSpendEvidence   `json:"double_spend,omitempty"`
}

// Name returns the data's key in the address space.
func (d *ReplicatedData) Name() (xorname.XorName, error) {
	switch {
	case d.Chunk != nil:
		return d.Chunk.Name(), nil
	case d.RegisterWrite != nil:
		return d.RegisterWrite.Dst().Name(), nil
	case d.RegisterLog != nil:
		return d.RegisterLog.Address.Name(), nil
	case d.ValidSpend != nil:
		return d.ValidSpend.AddressName(), nil
	case d.DoubleSpend != nil:
		return d.DoubleSpend.Address.Name(), nil
	}
	return xorname.XorName{}, fmt.Errorf("protocol: empty replicated data")
}

// Dst returns the typed address replicas are routed to.
func (d *ReplicatedData) Dst() (NetworkAddress, error) {
	switch {
	case d.Chunk != nil:
		return AddrFromChunk(d.Chunk.Address()), nil
	case d.RegisterWrite != nil:
		return AddrFromRegister(d.RegisterWrite.Dst()), nil
	case d.RegisterLog != nil:
		return AddrFromRegister(d.RegisterLog.Address), nil
	case d.ValidSpend != nil:
		return AddrFromSpend(SpendAddressOf(d.ValidSpend)), nil
	case d.DoubleSpend != nil:
		return AddrFromSpend(d.DoubleSpend.Address), nil
	}
	return NetworkAddress{}, fmt.Errorf("protocol: empty replicated data")
}

func (d ReplicatedData) String() string {
	switch {
	case d.Chunk != nil:
		return d.Chunk.String()
	case d.RegisterWrite != nil:
		return d.RegisterWrite.String()
	case d.RegisterLog != nil:
		return d.RegisterLog.String()
	case d.ValidSpend != nil:
		return "ValidSpend(" + d.ValidSpend.ID().Short() + ")"
	case d.DoubleSpend != nil:
		return fmt.Sprintf("DoubleSpend(%s,%d certs)",
			d.DoubleSpend.Address.Name().Short(), len(d.DoubleSpend.Spends))
	}
	return "ReplicatedData(empty)"
}
