package crypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveChildPublicKey derives a child Ed25519-style public key from a
// master extended public key plus a chain code, using HKDF-SHA512 as the
// key-stretching function (RFC 5869). This is the "public child key"
// default path of §4.1's child-key derivation contract.
//
// The derived bytes are not a point on the curve themselves; callers that
// need an actual curve point (e.g. the escrow package deriving a BIP32
// Bitcoin child key) use internal/escrow's hdkeychain-based derivation
// instead - this function serves message-authentication-style child keys
// where only key-uniform bytes are required.
func DeriveChildPublicKey(masterPub, chainCode []byte) ([]byte, error) {
	return deriveChild(masterPub, chainCode, ed25519.PublicKeySize)
}

// DeriveChildPrivateKey derives a child private key when the caller
// supplies the master's private key material (the "private-master prefix"
// case in §4.1). The caller is responsible for treating the 32-byte output
// as raw key material appropriate to the consuming algorithm.
func DeriveChildPrivateKey(masterPriv, chainCode []byte) ([]byte, error) {
	return deriveChild(masterPriv, chainCode, ed25519.SeedSize)
}

func deriveChild(master, chainCode []byte, size int) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("crypto: empty master key")
	}
	if len(chainCode) == 0 {
		return nil, fmt.Errorf("crypto: empty chain code")
	}

	reader := hkdf.New(sha512.New, master, chainCode, []byte("meshbazaar-child-key"))
	child := make([]byte, size)
	if _, err := io.ReadFull(reader, child); err != nil {
		return nil, fmt.Errorf("crypto: derive child key: %w", err)
	}
	return child, nil
}
