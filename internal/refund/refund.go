// Package refund implements C4: the refund flow that loads an in-progress
// order, attaches a refund block, co-signs and broadcasts the refund
// multisig transaction when needed, and transitions the sale to its
// terminal "refunded" status (§4.4).
package refund

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/wire"

	"github.com/meshbazaar/node/internal/blockchain"
	"github.com/meshbazaar/node/internal/datastore"
	"github.com/meshbazaar/node/internal/escrow"
	"github.com/meshbazaar/node/internal/listener"
	"github.com/meshbazaar/node/internal/orderedjson"
)

// InputSignature is one element of the refund block's signature list -
// the vendor's (or buyer's, from the counterparty's perspective) signature
// for spending input Index under the escrow redeem script.
type InputSignature struct {
	Index     int    `json:"index"`
	Signature []byte `json:"signature"`
}

// Request is the decrypted payload of a REFUND RPC (§4.4): the order to
// refund, the refund amount in BTC, signatures the requester already
// produced for each input, and an optional already-broadcast txid.
type Request struct {
	OrderID    string           `json:"order_id"`
	Value      float64          `json:"value"`
	Signatures []InputSignature `json:"signatures"`
	TxID       string           `json:"txid,omitempty"`
}

// Keys bundles the escrow key-derivation material this node needs to
// produce its own half of the refund signatures (§4.4.c-d).
type Keys struct {
	MasterPrivateKey []byte
	ChainCode        []byte
	RedeemScript     []byte
}

// Apply runs the full refund flow against a loaded sale: attaches the
// refund block to the persisted order, builds and broadcasts the refund
// transaction when req.TxID is empty, advances the sale's status, moves
// the order record from "in progress" to "trade receipts", and notifies
// the registered listener. testnet selects the network the refund
// transaction is built for.
func Apply(store datastore.SalesStore, bc blockchain.Gateway, notify listener.NotificationSink, deriver *escrow.KeyDeriver, keys Keys, req Request, testnet bool) (orderID string, err error) {
	orderJSON, err := store.LoadInProgressOrder(req.OrderID)
	if err != nil {
		return "", fmt.Errorf("refund: load in-progress order %q: %w", req.OrderID, err)
	}

	doc, err := orderedjson.Parse(orderJSON)
	if err != nil {
		return "", fmt.Errorf("refund: parse order: %w", err)
	}

	refundDoc := orderedjson.NewDocument()
	refundDoc.Set("value", req.Value)
	if len(req.Signatures) > 0 {
		sigList := make([]orderedjson.Value, 0, len(req.Signatures))
		for _, s := range req.Signatures {
			entry := orderedjson.NewDocument()
			entry.Set("index", s.Index)
			entry.Set("signature", base64.StdEncoding.EncodeToString(s.Signature))
			sigList = append(sigList, entry)
		}
		refundDoc.Set("signatures", sigList)
	}
	if req.TxID != "" {
		refundDoc.Set("txid", req.TxID)
	}
	doc.Set("refund", refundDoc)

	if req.TxID == "" {
		if err := broadcastRefundTransaction(store, bc, deriver, keys, req, testnet); err != nil {
			return "", fmt.Errorf("refund: build and broadcast: %w", err)
		}
	}

	if err := store.UpdateStatus(req.OrderID, datastore.SaleStatusRefunded); err != nil {
		return "", fmt.Errorf("refund: update status: %w", err)
	}

	updated, err := orderedjson.Serialize(doc)
	if err != nil {
		return "", fmt.Errorf("refund: serialize updated order: %w", err)
	}
	if err := store.MoveToTradeReceipts(req.OrderID, updated); err != nil {
		return "", fmt.Errorf("refund: move to trade receipts: %w", err)
	}

	if notify != nil {
		guid, handle, title, imageHash := buyerNotificationFields(doc)
		notify(guid, handle, "refund", req.OrderID, title, imageHash)
	}

	return req.OrderID, nil
}

func broadcastRefundTransaction(store datastore.SalesStore, bc blockchain.Gateway, deriver *escrow.KeyDeriver, keys Keys, req Request, testnet bool) error {
	outpointBlob, err := store.GetOutpoint(req.OrderID)
	if err != nil {
		return fmt.Errorf("load outpoints: %w", err)
	}
	var outpoints []escrow.Outpoint
	if err := json.Unmarshal(outpointBlob, &outpoints); err != nil {
		return fmt.Errorf("decode outpoints: %w", err)
	}

	orderJSON, err := store.LoadInProgressOrder(req.OrderID)
	if err != nil {
		return fmt.Errorf("reload order for refund address: %w", err)
	}
	doc, err := orderedjson.Parse(orderJSON)
	if err != nil {
		return fmt.Errorf("parse order for refund address: %w", err)
	}
	buyerOrder := doc.GetDocument("buyer_order")
	if buyerOrder == nil {
		return fmt.Errorf("order has no buyer_order section")
	}
	order := buyerOrder.GetDocument("order")
	if order == nil {
		return fmt.Errorf("order has no order section")
	}
	refundAddress := order.GetString("refund_address")
	if refundAddress == "" {
		return fmt.Errorf("order has no refund_address")
	}

	outputValue := int64(math.Round(req.Value * 100_000_000))

	tx, err := escrow.BuildSpendingTransaction(outpoints, outputValue, refundAddress, testnet)
	if err != nil {
		return fmt.Errorf("build spending transaction: %w", err)
	}

	childPriv, err := deriver.ChildPrivateKey(keys.MasterPrivateKey, keys.ChainCode)
	if err != nil {
		return fmt.Errorf("derive child private key: %w", err)
	}

	ourSigs, err := escrow.SignInputs(tx, outpoints, keys.RedeemScript, childPriv)
	if err != nil {
		return fmt.Errorf("sign inputs: %w", err)
	}

	theirSigs := make(map[int][]byte, len(req.Signatures))
	for _, s := range req.Signatures {
		theirSigs[s.Index] = s.Signature
	}

	if err := escrow.CombineSignatures(tx, keys.RedeemScript, ourSigs, theirSigs); err != nil {
		return fmt.Errorf("combine signatures: %w", err)
	}

	signedTx, err := serializeTx(tx)
	if err != nil {
		return fmt.Errorf("serialize transaction: %w", err)
	}

	if _, err := bc.Broadcast(signedTx); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	return nil
}

// buyerNotificationFields reads buyer_guid/handle, title, and image_hash
// from the freshly loaded order object itself, never from a non-existent
// top-level contract reference - the exact bug the original refund flow
// had to be rewritten around (§9). Missing image_hashes or blockchain_id
// yield empty strings rather than an error.
func buyerNotificationFields(doc *orderedjson.Document) (guid [20]byte, handle, title, imageHash string) {
	buyerOrder := doc.GetDocument("buyer_order")
	if buyerOrder != nil {
		if order := buyerOrder.GetDocument("order"); order != nil {
			if buyerID := order.GetDocument("buyer_id"); buyerID != nil {
				if raw, ok := buyerID.Get("guid"); ok {
					if s, ok := raw.(string); ok {
						if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
							copy(guid[:], decoded)
						}
					}
				}
				handle = buyerID.GetString("blockchain_id")
			}
		}
	}

	vendorOffer := doc.GetDocument("vendor_offer")
	if vendorOffer != nil {
		if listing := vendorOffer.GetDocument("listing"); listing != nil {
			title = listing.GetString("title")
			if images, ok := listing.Get("image_hashes"); ok {
				if list, ok := images.([]orderedjson.Value); ok && len(list) > 0 {
					if s, ok := list[0].(string); ok {
						imageHash = s
					}
				}
			}
		}
	}
	return guid, handle, title, imageHash
}

func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
