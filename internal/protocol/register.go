package protocol

import (
	"fmt"

	"xornet/internal/xorname"
)

// Register messages. The CRDT merge itself lives node-side; the
// protocol only moves signed operations and whole op logs around.

// SignedRegisterCreate establishes a register replica and its owner.
type SignedRegisterCreate struct {
	Address RegisterAddress `json:"address"`
	Owner   []byte          `json:"owner"`
	Sig     []byte          `json:"sig"`
}

// SignedRegisterEdit appends an entry to a register.
type SignedRegisterEdit struct {
	Address RegisterAddress   `json:"address"`
	Entry   []byte            `json:"entry"`
	Parents []xorname.XorName `json:"parents,omitempty"`
	Sig     []byte            `json:"sig"`
}

// RegisterCmd is one mutating register operation: exactly one of
// Create or Edit is set.
type RegisterCmd struct {
	Create *SignedRegisterCreate `json:"create,omitempty"`
	Edit   *SignedRegisterEdit   `json:"edit,omitempty"`
}

// Dst returns the register the command applies to.
func (c RegisterCmd) Dst() RegisterAddress {
	switch {
	case c.Create != nil:
		return c.Create.Address
	case c.Edit != nil:
		return c.Edit.Address
	}
	return RegisterAddress{}
}

func (c RegisterCmd) Valid() error {
	set := 0
	if c.Create != nil {
		set++
	}
	if c.Edit != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("protocol: register cmd must set exactly one op, has %d", set)
	}
	return nil
}

func (c RegisterCmd) String() string {
	switch {
	case c.Create != nil:
		return fmt.Sprintf("RegisterCmd(create,%s)", c.Create.Address)
	case c.Edit != nil:
		return fmt.Sprintf("RegisterCmd(edit,%s)", c.Edit.Address)
	}
	return "RegisterCmd(empty)"
}

// ReplicatedRegisterLog carries a register's entire op log between
// replicas.
type ReplicatedRegisterLog struct {
	Address RegisterAddress `json:"address"`
	Ops     []RegisterCmd   `json:"ops"`
}

func (l ReplicatedRegisterLog) String() string {
	return fmt.Sprintf("ReplicatedRegisterLog(%s,%d ops)", l.Address, len(l.Ops))
}
