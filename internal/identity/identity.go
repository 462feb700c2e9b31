package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/tyler-smith/go-bip39"

	mbcrypto "github.com/meshbazaar/node/internal/crypto"
)

// GuidSize is the length in bytes of a node guid (§3 "Node descriptor").
const GuidSize = 20

// powThreshold is the `< 50` bound on int(h[40:46], 16), where h is the
// hex-encoded SHA-512(pubkey) (§9 "PoW gate constant"). This value and the
// window are protocol-visible; changing either breaks interoperability
// with every other node.
const powThreshold = 50

// powWindowStart and powWindowEnd bound the proof-of-work window within the
// raw SHA-512(pubkey) digest: hex characters [40:46] of h are exactly
// digest bytes [20:23].
const (
	powWindowStart = 20
	powWindowEnd   = 23
)

// Node is this node's long-lived Ed25519 signing identity: a keypair whose
// public key hashes, under SHA-512, to a guid in its first 20 bytes and a
// proof-of-work window in digest bytes [20:23] below powThreshold.
type Node struct {
	Guid    [GuidSize]byte
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// DeriveGuid computes the 20-byte guid a pubkey binds to: the first 20
// bytes of SHA-512(pubkey) (§3 Invariants: "A node's pubkey uniquely
// determines its guid").
func DeriveGuid(pub ed25519.PublicKey) [GuidSize]byte {
	digest := mbcrypto.SHA512(pub)
	var guid [GuidSize]byte
	copy(guid[:], digest[:GuidSize])
	return guid
}

// SatisfiesProofOfWork reports whether pub's SHA-512 digest has a
// sufficiently low value in the protocol's PoW byte window - the
// anti-spam gate every node identity (and, per §4.3 MESSAGE, every sender)
// must satisfy.
func SatisfiesProofOfWork(pub ed25519.PublicKey) bool {
	digest := mbcrypto.SHA512(pub)
	return powWindowValue(digest) < powThreshold
}

func powWindowValue(digest []byte) int64 {
	window := digest[powWindowStart:powWindowEnd]
	var value int64
	for _, b := range window {
		value = value<<8 | int64(b)
	}
	return value
}

// GenerateNode mines a fresh Ed25519 keypair until its public key satisfies
// the proof-of-work gate, then returns the bound Node identity. Mining an
// average keypair under the `< 50` threshold over a 3-byte window takes on
// the order of 2^24/50 (about 335,000) attempts.
func GenerateNode() (*Node, error) {
	for {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("identity: generate keypair: %w", err)
		}
		if SatisfiesProofOfWork(pub) {
			return &Node{Guid: DeriveGuid(pub), Public: pub, Private: priv}, nil
		}
	}
}

// NodeFromSeed reconstructs a Node from a 32-byte Ed25519 seed (as recovered
// from a mnemonic via MnemonicService.MnemonicToSeed, truncated to the
// Ed25519 seed size) without re-mining - the operator is restoring a
// previously mined identity, not creating a new one.
func NodeFromSeed(seed []byte) (*Node, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Node{Guid: DeriveGuid(pub), Public: pub, Private: priv}, nil
}

// GuidHex returns the node's guid as a lowercase hex string, the form used
// in log fields and the datastore's file-bucket keys.
func (n *Node) GuidHex() string {
	return hex.EncodeToString(n.Guid[:])
}

// Sign produces a detached Ed25519 signature over message under this
// node's private key.
func (n *Node) Sign(message []byte) []byte {
	return mbcrypto.Sign(n.Private, message)
}

// X25519Private returns this node's Curve25519 private key for sealed-box
// key agreement, derived from the Ed25519 signing key via the standard
// birational mapping (§9 "Sealed-box key derivation").
func (n *Node) X25519Private() (*[32]byte, error) {
	return mbcrypto.X25519FromEd25519Private(n.Private)
}

// VerifySenderGuid reports whether a claimed sender guid and pubkey satisfy
// both the guid-binding invariant and the proof-of-work gate - the check
// the MESSAGE handler (§4.3) applies to every inbound sender.
func VerifySenderGuid(guid [GuidSize]byte, pub ed25519.PublicKey) bool {
	return DeriveGuid(pub) == guid && SatisfiesProofOfWork(pub)
}

// mnemonicToEd25519Seed reduces a BIP39 64-byte seed to the 32-byte seed
// Ed25519 expects, taking its first half - the mnemonic's full entropy
// already exceeds what Ed25519 needs, and using a fixed half keeps
// mnemonic recovery deterministic.
func mnemonicToEd25519Seed(bip39Seed []byte) []byte {
	return bip39Seed[:ed25519.SeedSize]
}

// NodeFromMnemonic recovers a Node identity from a BIP39 mnemonic phrase
// and optional passphrase, the `meshbazaard init --recover` path.
func NodeFromMnemonic(mnemonic, passphrase string) (*Node, error) {
	svc := NewMnemonicService()
	if err := svc.ValidateMnemonic(mnemonic); err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	seed, err := svc.MnemonicToSeed(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return NodeFromSeed(mnemonicToEd25519Seed(seed))
}

// MintRecoveryMnemonic generates a fresh BIP39 mnemonic for `meshbazaard
// init`. Because GenerateNode mines for a proof-of-work-satisfying
// keypair, a node identity is backed up by encrypting its seed
// (EncryptSecret) rather than by deriving it from mnemonic entropy - this
// helper exists for the rare operator flow that intentionally wants a
// mnemonic-recoverable identity and is willing to accept the mining cost
// of NodeFromMnemonic never landing on a fresh PoW-valid key by chance;
// callers should prefer GenerateNode + EncryptSecret for normal operation.
func MintRecoveryMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("identity: generate mnemonic entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}
