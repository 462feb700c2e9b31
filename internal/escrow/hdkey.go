// Package escrow builds, signs, and combines the 2-of-3 multisig Bitcoin
// transactions that settle a contract: the buyer's per-order escrow key,
// the redeem script all three parties agree the escrow address commits to,
// and (via refund.go's caller) the combined signature set spent from it.
package escrow

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// KeyDeriver derives the buyer/vendor escrow child key for a single
// contract from that party's wallet master key and the contract's
// chaincode - the generalization of the teacher's hdkey.HDKeyService's
// BIP44-path derivation to the protocol's raw-chaincode derivation
// (§4.3 ORDER: "derive_childkey(buyer_master_pubkey, chaincode)").
type KeyDeriver struct {
	params *chaincfg.Params
}

// NewKeyDeriver returns a deriver for mainnet or testnet3, matching the
// node's configured network.
func NewKeyDeriver(testnet bool) *KeyDeriver {
	if testnet {
		return &KeyDeriver{params: &chaincfg.TestNet3Params}
	}
	return &KeyDeriver{params: &chaincfg.MainNetParams}
}

// ChildPublicKey derives the compressed public key of child index 0 under
// a synthetic extended public key built from masterPub and chainCode. The
// contract never transmits a full xpub - only the raw 33-byte compressed
// public key and 32-byte chain code - so the extended key is reconstructed
// here rather than parsed from a serialized string.
func (d *KeyDeriver) ChildPublicKey(masterPub, chainCode []byte) ([]byte, error) {
	if len(masterPub) != 33 {
		return nil, fmt.Errorf("escrow: master public key must be 33 bytes, got %d", len(masterPub))
	}
	if len(chainCode) != 32 {
		return nil, fmt.Errorf("escrow: chain code must be 32 bytes, got %d", len(chainCode))
	}

	extKey := hdkeychain.NewExtendedKey(
		d.params.HDPublicKeyID[:],
		masterPub,
		chainCode,
		[]byte{0, 0, 0, 0},
		0,
		0,
		false,
	)

	child, err := extKey.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("escrow: derive child public key: %w", err)
	}

	pub, err := child.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("escrow: extract child public key: %w", err)
	}
	return pub.SerializeCompressed(), nil
}

// ChildPrivateKey derives the secp256k1 private key of child index 0 under
// a synthetic extended private key built from masterPriv and chainCode -
// used when this node is the buyer or vendor co-signing a refund (§4.4.c).
func (d *KeyDeriver) ChildPrivateKey(masterPriv, chainCode []byte) (*btcec.PrivateKey, error) {
	if len(masterPriv) != 32 {
		return nil, fmt.Errorf("escrow: master private key must be 32 bytes, got %d", len(masterPriv))
	}
	if len(chainCode) != 32 {
		return nil, fmt.Errorf("escrow: chain code must be 32 bytes, got %d", len(chainCode))
	}

	extKey := hdkeychain.NewExtendedKey(
		d.params.HDPrivateKeyID[:],
		masterPriv,
		chainCode,
		[]byte{0, 0, 0, 0},
		0,
		0,
		true,
	)

	child, err := extKey.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("escrow: derive child private key: %w", err)
	}

	return child.ECPrivKey()
}
