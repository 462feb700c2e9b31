// Package crypto wraps the cryptographic primitives the marketplace protocol
// is built on: Ed25519 identity signatures, Curve25519 authenticated sealed
// boxes, SHA-512, and an HKDF-based child-key derivation (hkdf.go). The
// BIP32 per-order escrow keys are derived by internal/escrow, not here.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// ErrAuthenticationFailed is returned by Open when the sealed box fails to
// authenticate - distinct from a malformed-input error so callers (and the
// MESSAGE/ORDER/... handlers) can tell "this was tampered with or meant for
// someone else" apart from "this wasn't a sealed box at all".
var ErrAuthenticationFailed = errors.New("crypto: sealed box authentication failed")

// Sign produces a detached 64-byte Ed25519 signature over message.
func Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Verify reports whether sig is a valid Ed25519 signature over message under pub.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// SHA512 returns the SHA-512 digest of data.
func SHA512(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:]
}

// Seal encrypts message to recipientPub using an ephemeral NaCl box keypair
// and returns (ephemeralPub, ciphertext). The ciphertext authenticates the
// ephemeral key, so Open can detect tampering or the wrong recipient.
func Seal(message []byte, recipientPub *[32]byte) (ephemeralPub *[32]byte, ciphertext []byte, err error) {
	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: generate ephemeral key: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	sealed := box.Seal(nonce[:], message, &nonce, recipientPub, ephemeralPriv)
	return ephemeralPub, sealed, nil
}

// Open decrypts a sealed box produced by Seal (or the peer's equivalent),
// using the local Curve25519 private key and the sender's ephemeral public
// key. The first 24 bytes of ciphertext are expected to be the nonce
// prepended by Seal.
func Open(ephemeralPub *[32]byte, ciphertext []byte, localPriv *[32]byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, fmt.Errorf("crypto: ciphertext too short: %d bytes", len(ciphertext))
	}

	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])

	plain, ok := box.Open(nil, ciphertext[24:], &nonce, ephemeralPub, localPriv)
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	return plain, nil
}
