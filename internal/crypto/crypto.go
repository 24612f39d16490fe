// Package crypto holds the fixed crypto suite of the repo:
// ed25519 for node identity, SHA3-256 for names and key derivation,
// XChaCha20-Poly1305 for sealing chunk payloads.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/sha3"
)

const (
	// XChaCha20-Poly1305 sizes.
	SealKeySize   = chacha20poly1305.KeySize    // 32
	SealNonceSize = chacha20poly1305.NonceSizeX // 24
)

func SHA3_256(msg []byte) []byte {
	sum := sha3.Sum256(msg)
	return sum[:]
}

// KDF derives a 32-byte key from a label and parts, SHA3-256 based.
func KDF(label string, parts ...[]byte) []byte {
	buf := make([]byte, 0, len(label))
	buf = append(buf, []byte(label)...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return SHA3_256(buf)
}

// Seal encrypts plaintext under key32 with a nonce derived from the
// key and aad. Deterministic sealing keeps convergent encryption
// convergent: same content, same key, same ciphertext.
func Seal(key32, plaintext, aad []byte) ([]byte, error) {
	if len(key32) != SealKeySize {
		return nil, fmt.Errorf("bad key size: need %d", SealKeySize)
	}
	aead, err := chacha20poly1305.NewX(key32)
	if err != nil {
		return nil, err
	}
	nonce := KDF("xornet:seal:nonce:v1", key32, aad)[:SealNonceSize]
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func Open(key32, ciphertext, aad []byte) ([]byte, error) {
	if len(key32) != SealKeySize {
		return nil, fmt.Errorf("bad key size: need %d", SealKeySize)
	}
	aead, err := chacha20poly1305.NewX(key32)
	if err != nil {
		return nil, err
	}
	nonce := KDF("xornet:seal:nonce:v1", key32, aad)[:SealNonceSize]
	return aead.Open(nil, nonce, ciphertext, aad)
}

// GenKeypair creates a fresh ed25519 identity keypair.
func GenKeypair() ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func Sign(priv []byte, msg []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("bad private key size")
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), msg), nil
}

func Verify(pub []byte, msg []byte, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

const (
	pubFile  = "pub.hex"
	privFile = "priv.hex"
)

func SaveKeypair(dir string, pub, priv []byte) error {
	if len(pub) == 0 || len(priv) == 0 {
		return errors.New("empty key")
	}
	if err := os.WriteFile(filepath.Join(dir, pubFile), []byte(hex.EncodeToString(pub)), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, privFile), []byte(hex.EncodeToString(priv)), 0600)
}

func LoadKeypair(dir string) ([]byte, []byte, error) {
	pubHex, err := os.ReadFile(filepath.Join(dir, pubFile))
	if err != nil {
		return nil, nil, err
	}
	privHex, err := os.ReadFile(filepath.Join(dir, privFile))
	if err != nil {
		return nil, nil, err
	}
	pub, err := hex.DecodeString(string(pubHex))
	if err != nil {
		return nil, nil, errors.New("bad pub.hex")
	}
	priv, err := hex.DecodeString(string(privHex))
	if err != nil {
		return nil, nil, errors.New("bad priv.hex")
	}
	return pub, priv, nil
}
