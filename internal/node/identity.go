// Package node runs a storage peer: a persistent identity, a request
// runner that applies the protocol against local storage, and the
// daemon loop that serves the network and replicates accepted data to
// the rest of its close group.
package node

import (
	"os"

	"xornet/internal/crypto"
	"xornet/internal/protocol"
)

// Identity is a node's long-lived ed25519 keypair and the peer id
// derived from it.
type Identity struct {
	Pub  []byte
	Priv []byte
	ID   protocol.PeerID
}

// LoadOrCreateIdentity reads the keypair from dir, generating and
// persisting a fresh one on first run.
func LoadOrCreateIdentity(dir string) (*Identity, error) {
	pub, priv, err := crypto.LoadKeypair(dir)
	if err != nil {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
		pub, priv, err = crypto.GenKeypair()
		if err != nil {
			return nil, err
		}
		if err := crypto.SaveKeypair(dir, pub, priv); err != nil {
			return nil, err
		}
	}
	return &Identity{Pub: pub, Priv: priv, ID: protocol.DerivePeerID(pub)}, nil
}

// Sign signs msg with the node's identity key.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	return crypto.Sign(id.Priv, msg)
}
