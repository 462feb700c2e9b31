package escrow

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Outpoint is the reconstituted form of the opaque blob the datastore
// persists per sale (§3 "Outpoints"): a spendable output of a prior
// funding transaction to the escrow address.
type Outpoint struct {
	TxID         string
	Vout         uint32
	Value        int64
	ScriptPubKey []byte
}

// BuildRedeemScript constructs the 2-of-3 multisig redeem script for an
// escrow address from the buyer, vendor, and moderator compressed public
// keys, in that fixed order - both the Contract object (verifying
// payment.address) and the refund flow (spending from it) must build this
// identically, or the script hash in payment.address will never match.
func BuildRedeemScript(buyerPub, vendorPub, moderatorPub []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	for _, pub := range [][]byte{buyerPub, vendorPub, moderatorPub} {
		if len(pub) != 33 {
			return nil, fmt.Errorf("escrow: escrow public key must be 33 bytes, got %d", len(pub))
		}
		builder.AddData(pub)
	}
	builder.AddOp(txscript.OP_3)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// EscrowAddress derives the P2SH address committing to redeemScript.
func EscrowAddress(redeemScript []byte, testnet bool) (btcutil.Address, error) {
	params := mainOrTestnet(testnet)
	scriptHash := btcutil.Hash160(redeemScript)
	return btcutil.NewAddressScriptHashFromHash(scriptHash, params)
}

func mainOrTestnet(testnet bool) *chaincfg.Params {
	if testnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// BuildSpendingTransaction constructs an unsigned transaction spending the
// given outpoints to a single output of outputValue satoshis at
// outputAddress - used by the refund flow (§4.4.b-c) to build the refund
// transaction before either party has signed.
func BuildSpendingTransaction(outpoints []Outpoint, outputValue int64, outputAddress string, testnet bool) (*wire.MsgTx, error) {
	if len(outpoints) == 0 {
		return nil, fmt.Errorf("escrow: no outpoints to spend")
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, op := range outpoints {
		hash, err := chainhash.NewHashFromStr(op.TxID)
		if err != nil {
			return nil, fmt.Errorf("escrow: invalid outpoint txid %q: %w", op.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, op.Vout), nil, nil))
	}

	addr, err := btcutil.DecodeAddress(outputAddress, mainOrTestnet(testnet))
	if err != nil {
		return nil, fmt.Errorf("escrow: invalid output address %q: %w", outputAddress, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("escrow: build output script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(outputValue, script))

	return tx, nil
}

// SignInputs produces this party's raw ECDSA signature (SIGHASH_ALL) for
// every input of tx under the given redeem script, keyed by input index -
// the per-party half of the 2-of-3 spend that REFUND.e pairs up against the
// counterparty's signatures already present in the decrypted refund
// payload.
func SignInputs(tx *wire.MsgTx, outpoints []Outpoint, redeemScript []byte, priv *btcec.PrivateKey) (map[int][]byte, error) {
	if len(outpoints) != len(tx.TxIn) {
		return nil, fmt.Errorf("escrow: outpoint count %d does not match input count %d", len(outpoints), len(tx.TxIn))
	}

	sigs := make(map[int][]byte, len(tx.TxIn))
	for i := range tx.TxIn {
		hash, err := txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, tx, i)
		if err != nil {
			return nil, fmt.Errorf("escrow: calc signature hash for input %d: %w", i, err)
		}

		sig := ecdsa.Sign(priv, hash)
		sigs[i] = append(sig.Serialize(), byte(txscript.SigHashAll))
	}
	return sigs, nil
}

// CombineSignatures assembles the final scriptSig for every input of tx
// from this party's signatures and the counterparty's signatures (matched
// by input index, per §8's "indices matched" invariant), finalizing the
// transaction for broadcast. Bitcoin's OP_CHECKMULTISIG has a well-known
// off-by-one bug requiring a leading dummy element, hence the leading
// txscript.OP_0 push below.
func CombineSignatures(tx *wire.MsgTx, redeemScript []byte, ours, theirs map[int][]byte) error {
	for i := range tx.TxIn {
		oursSig, ok := ours[i]
		if !ok {
			return fmt.Errorf("escrow: missing our signature for input %d", i)
		}
		theirsSig, ok := theirs[i]
		if !ok {
			return fmt.Errorf("escrow: missing counterparty signature for input %d", i)
		}

		// OP_CHECKMULTISIG verifies signatures in the order the pubkeys
		// appear in the redeem script, so the two signatures must be
		// supplied in ascending order of which pubkey produced them. We
		// determine that order by trial-verifying rather than assuming a
		// fixed buyer-then-vendor order, since either party may sign first.
		ordered, err := orderSignatures(redeemScript, tx, i, oursSig, theirsSig)
		if err != nil {
			return fmt.Errorf("escrow: order signatures for input %d: %w", i, err)
		}

		builder := txscript.NewScriptBuilder()
		builder.AddOp(txscript.OP_0)
		for _, sig := range ordered {
			builder.AddData(sig)
		}
		builder.AddData(redeemScript)
		scriptSig, err := builder.Script()
		if err != nil {
			return fmt.Errorf("escrow: build scriptSig for input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = scriptSig
	}
	return nil
}

func orderSignatures(redeemScript []byte, tx *wire.MsgTx, idx int, a, b []byte) ([][]byte, error) {
	hash, err := txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, tx, idx)
	if err != nil {
		return nil, err
	}

	aFirst := verifiesAgainstEarlierKey(redeemScript, hash, a)
	bFirst := verifiesAgainstEarlierKey(redeemScript, hash, b)
	if aFirst && !bFirst {
		return [][]byte{a, b}, nil
	}
	if bFirst && !aFirst {
		return [][]byte{b, a}, nil
	}
	// Ambiguous (both or neither verify against the first key) - preserve
	// the given order; invalid signatures are not rejected here.
	return [][]byte{a, b}, nil
}

// verifiesAgainstEarlierKey reports whether the first of the redeem
// script's public keys that sig verifies against is the script's first key
// (the buyer's, in BuildRedeemScript's order).
func verifiesAgainstEarlierKey(redeemScript []byte, hash []byte, sig []byte) bool {
	pubkeys := extractMultisigPubkeys(redeemScript)
	if len(pubkeys) == 0 {
		return false
	}
	parsedSig, err := ecdsa.ParseDERSignature(trimHashType(sig))
	if err != nil {
		return false
	}
	for i, pk := range pubkeys {
		pub, err := btcec.ParsePubKey(pk)
		if err != nil {
			continue
		}
		if parsedSig.Verify(hash, pub) {
			return i == 0
		}
	}
	return false
}

func trimHashType(sig []byte) []byte {
	if len(sig) == 0 {
		return sig
	}
	return sig[:len(sig)-1]
}

// extractMultisigPubkeys parses the raw 33-byte data pushes out of a
// 2-of-3 OP_CHECKMULTISIG redeem script built by BuildRedeemScript, in the
// script's own order.
func extractMultisigPubkeys(redeemScript []byte) [][]byte {
	tokenizer := txscript.MakeScriptTokenizer(0, redeemScript)
	var pubkeys [][]byte
	for tokenizer.Next() {
		data := tokenizer.Data()
		if len(data) == 33 {
			pubkeys = append(pubkeys, data)
		}
	}
	return pubkeys
}
