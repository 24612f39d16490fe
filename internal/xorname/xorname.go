// Package xorname defines the 256-bit key space of the network.
// Every storable entity and every peer maps to exactly one XorName,
// and closeness between names is bitwise XOR distance.
package xorname

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Size is the number of bytes in a XorName.
const Size = 32

// CloseGroupSize is the replication factor of the network: the number
// of peers closest to an address that are responsible for it. Client
// and node sides must agree on this value.
const CloseGroupSize = 8

// XorName is a 256-bit key in XOR-distance space.
type XorName [Size]byte

// Majority returns the number of matching answers required to accept
// an outcome from a group of n peers. Majority(0) is 1 so that an
// empty group can never produce a false success.
func Majority(n int) int {
	if n < 0 {
		n = 0
	}
	return n/2 + 1
}

// FromContent derives a name from raw content bytes. Content-addressed
// data is verifiable: the retriever can recompute the name from the
// bytes it received.
func FromContent(content []byte) XorName {
	return XorName(sha3.Sum256(content))
}

// FromHex parses a 64-character hex string.
func FromHex(s string) (XorName, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return XorName{}, err
	}
	if len(raw) != Size {
		return XorName{}, fmt.Errorf("xorname: need %d bytes, got %d", Size, len(raw))
	}
	var n XorName
	copy(n[:], raw)
	return n, nil
}

// Random returns a uniformly random name.
func Random() XorName {
	var n XorName
	_, _ = rand.Read(n[:])
	return n
}

// Distance returns the XOR distance between two names.
func (n XorName) Distance(other XorName) XorName {
	var d XorName
	for i := 0; i < Size; i++ {
		d[i] = n[i] ^ other[i]
	}
	return d
}

// Less compares names lexicographically, which orders XOR distances.
func (n XorName) Less(other XorName) bool {
	return bytes.Compare(n[:], other[:]) < 0
}

// CloserTo reports whether a is strictly closer to n than b is.
func (n XorName) CloserTo(a, b XorName) bool {
	return n.Distance(a).Less(n.Distance(b))
}

// IsZero reports whether the name is all zero bytes.
func (n XorName) IsZero() bool {
	return n == XorName{}
}

func (n XorName) String() string {
	return hex.EncodeToString(n[:])
}

// Short returns an abbreviated form for logs.
func (n XorName) Short() string {
	return hex.EncodeToString(n[:4])
}

// MarshalText encodes the name as lowercase hex, which keeps JSON
// encodings of messages canonical and comparable.
func (n XorName) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(n[:])), nil
}

func (n *XorName) UnmarshalText(text []byte) error {
	parsed, err := FromHex(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
