// Package transfers implements signed spend certificates: the objects
// a client broadcasts to a close group to assert a value transfer, and
// the evidence shape for conflicting (double-spent) certificates.
//
// A spend is keyed by a one-time BLS public key. Its network address
// is a pure function of that key, so every replica of the same spend
// lands on the same close group and replicas from different peers are
// directly comparable.
package transfers

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/bls"

	"xornet/internal/xorname"
)

const addressLabel = "xornet:spend:v1"

// Spend is the signed portion of a certificate.
type Spend struct {
	// UniquePubKey is the one-time BLS public key this spend is keyed
	// by. Spending the same key twice with different content is a
	// double spend.
	UniquePubKey []byte `json:"unique_pub_key"`
	// ParentTx names the transaction that created the spent output.
	ParentTx xorname.XorName `json:"parent_tx"`
	// Amount is the transferred value.
	Amount uint64 `json:"amount"`
	// Reason commits to the transaction the value moves into.
	Reason xorname.XorName `json:"reason"`
}

// SignedSpend is a spend plus the signature by its one-time key.
type SignedSpend struct {
	Spend Spend  `json:"spend"`
	Sig   []byte `json:"sig"`
}

// Signer owns a one-time BLS signing key.
type Signer struct {
	priv *bls.PrivateKey[bls.G1]
	pub  []byte
}

// NewSigner generates a fresh one-time key.
func NewSigner() (*Signer, error) {
	ikm := make([]byte, 32)
	if _, err := rand.Read(ikm); err != nil {
		return nil, err
	}
	return NewSignerFromSeed(ikm)
}

// NewSignerFromSeed derives a key from 32+ bytes of key material.
func NewSignerFromSeed(ikm []byte) (*Signer, error) {
	priv, err := bls.KeyGen[bls.G1](ikm, nil, []byte(addressLabel))
	if err != nil {
		return nil, err
	}
	pub, err := priv.PublicKey().MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// PublicKey returns the marshalled BLS public key.
func (s *Signer) PublicKey() []byte {
	out := make([]byte, len(s.pub))
	copy(out, s.pub)
	return out
}

// Sign signs arbitrary bytes with the signer's key.
func (s *Signer) Sign(msg []byte) []byte {
	return bls.Sign(s.priv, msg)
}

// SignSpend fills in the spend's key from the signer and signs its
// canonical bytes.
func (s *Signer) SignSpend(spend Spend) (SignedSpend, error) {
	spend.UniquePubKey = s.PublicKey()
	msg, err := canonical(spend)
	if err != nil {
		return SignedSpend{}, err
	}
	return SignedSpend{Spend: spend, Sig: bls.Sign(s.priv, msg)}, nil
}

// Verify checks the signature against the spend's own one-time key.
func (ss *SignedSpend) Verify() error {
	if len(ss.Spend.UniquePubKey) == 0 {
		return errors.New("transfers: spend has no public key")
	}
	var pub bls.PublicKey[bls.G1]
	if err := pub.UnmarshalBinary(ss.Spend.UniquePubKey); err != nil {
		return fmt.Errorf("transfers: bad public key: %w", err)
	}
	msg, err := canonical(ss.Spend)
	if err != nil {
		return err
	}
	if !bls.Verify(&pub, msg, ss.Sig) {
		return errors.New("transfers: invalid spend signature")
	}
	return nil
}

// ID is the identifier of the spend, derived from its one-time key.
// Every certificate answering for the same spend reports the same ID
// even when its content diverges.
func (ss *SignedSpend) ID() xorname.XorName {
	return IDFromPubKey(ss.Spend.UniquePubKey)
}

// AddressName is the network name the spend is stored under. Identical
// to ID: routing is always computed from the one-time key, never from
// the certificate content.
func (ss *SignedSpend) AddressName() xorname.XorName {
	return ss.ID()
}

// IDFromPubKey derives a spend identifier from a marshalled key.
func IDFromPubKey(pub []byte) xorname.XorName {
	buf := make([]byte, 0, len(addressLabel)+len(pub))
	buf = append(buf, []byte(addressLabel)...)
	buf = append(buf, pub...)
	return xorname.FromContent(buf)
}

// Canonical returns the deterministic encoded bytes of the whole
// certificate. Structural equality of certificates is equality of
// these bytes.
func (ss *SignedSpend) Canonical() ([]byte, error) {
	return json.Marshal(ss)
}

// Equal reports structural equality of two certificates.
func (ss *SignedSpend) Equal(other *SignedSpend) bool {
	if ss == nil || other == nil {
		return ss == other
	}
	a, errA := ss.Canonical()
	b, errB := other.Canonical()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// IsDoubleSpend reports whether a and b are conflicting certificates:
// same spend identifier, different content.
func IsDoubleSpend(a, b *SignedSpend) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ID() == b.ID() && !a.Equal(b)
}

func (ss SignedSpend) String() string {
	return fmt.Sprintf("SignedSpend(%s)", ss.ID().Short())
}

func canonical(spend Spend) ([]byte, error) {
	return json.Marshal(spend)
}
