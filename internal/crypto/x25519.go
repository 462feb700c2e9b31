package crypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"
	"math/big"
)

// field prime 2^255 - 19, shared by Curve25519 and Edwards25519.
var fieldPrime, _ = new(big.Int).SetString("7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffed", 16)

// X25519FromEd25519Private maps an Ed25519 signing key to the Curve25519
// private scalar used for sealed-box key agreement. Per RFC 8032 the
// Ed25519 private key is a 64-byte seed||pubkey pair whose first 32 bytes,
// once SHA-512'd and clamped, are exactly the standard birational mapping
// to Curve25519 - this is the "standard Ed25519-to-X25519 mapping" the
// protocol requires (naively truncating or re-encoding the seed produces a
// key that does not agree with the X25519 public key peers compute from
// our Ed25519 public key).
func X25519FromEd25519Private(priv ed25519.PrivateKey) (*[32]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: invalid ed25519 private key size %d", len(priv))
	}

	seed := priv.Seed()
	digest := sha512.Sum512(seed)

	var out [32]byte
	copy(out[:], digest[:32])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64

	return &out, nil
}

// X25519FromEd25519Public maps an Ed25519 verify key to its Curve25519
// public counterpart via the standard birational map between the Edwards
// and Montgomery curve models, u = (1+y)/(1-y) mod p, so a peer who only
// knows our Ed25519 pubkey can still compute the matching sealed-box key.
func X25519FromEd25519Public(pub ed25519.PublicKey) (*[32]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("crypto: invalid ed25519 public key size %d", len(pub))
	}

	// Decode the compressed Edwards point: low 255 bits are y, top bit of
	// the last byte is the sign of x (irrelevant for the u-coordinate).
	yBytes := make([]byte, 32)
	copy(yBytes, pub)
	yBytes[31] &= 0x7f
	reverse(yBytes)
	y := new(big.Int).SetBytes(yBytes)
	if y.Cmp(fieldPrime) >= 0 {
		return nil, fmt.Errorf("crypto: invalid ed25519 public key encoding")
	}

	one := big.NewInt(1)
	numerator := new(big.Int).Add(one, y)
	numerator.Mod(numerator, fieldPrime)

	denominator := new(big.Int).Sub(one, y)
	denominator.Mod(denominator, fieldPrime)
	if denominator.ModInverse(denominator, fieldPrime) == nil {
		return nil, fmt.Errorf("crypto: ed25519 public key has no corresponding montgomery point")
	}

	u := new(big.Int).Mul(numerator, denominator)
	u.Mod(u, fieldPrime)

	var out [32]byte
	uBytes := u.Bytes()
	// u.Bytes() is big-endian and may be shorter than 32 bytes; place it
	// right-aligned then reverse into little-endian field encoding.
	copy(out[32-len(uBytes):], uBytes)
	reverse(out[:])

	return &out, nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
