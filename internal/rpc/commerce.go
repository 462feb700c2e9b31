package rpc

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	mbcrypto "github.com/meshbazaar/node/internal/crypto"
	"github.com/meshbazaar/node/internal/contract"
	"github.com/meshbazaar/node/internal/dispute"
	"github.com/meshbazaar/node/internal/escrow"
	"github.com/meshbazaar/node/internal/orderedjson"
	"github.com/meshbazaar/node/internal/refund"
	"github.com/meshbazaar/node/internal/rpcerr"
	"github.com/meshbazaar/node/internal/transport"
)

// openSealedBox validates the (ephem_pubkey, ciphertext) argument pair
// every commerce opcode shares and decrypts it under the node's own
// Curve25519 private key.
func (h *Handlers) openSealedBox(sender transport.Sender, args [][]byte) ([]byte, bool) {
	if len(args) != 2 || len(args[0]) != 32 {
		return nil, false
	}
	var ephemeralPub [32]byte
	copy(ephemeralPub[:], args[0])

	localPriv, err := h.node.X25519Private()
	if err != nil {
		h.log.Errorw("derive local x25519 key failed", "peer_guid", sender.ID, "error", err)
		return nil, false
	}
	plaintext, err := mbcrypto.Open(&ephemeralPub, args[1], localPriv)
	if err != nil {
		h.log.Warnw("sealed box open failed", "peer_guid", sender.ID, "error", err)
		return nil, false
	}
	return plaintext, true
}

func decodeBase64(doc *orderedjson.Document, key string) ([]byte, bool) {
	raw, ok := doc.Get(key)
	if !ok {
		return nil, false
	}
	s, ok := raw.(string)
	if !ok {
		return nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// handleOrder opens the sealed box, constructs and verifies the contract,
// derives the buyer's per-contract escrow child key, signs the payment
// commitment, registers the funding watch, and persists the new sale
// (§4.3 "ORDER").
func (h *Handlers) handleOrder(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	plaintext, ok := h.openSealedBox(sender, args)
	if !ok {
		return rpcerr.Rejected
	}

	c, err := contract.Parse(plaintext, h.testnet)
	if err != nil {
		h.log.Warnw("order rejected: parse failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}
	if !c.Verify(ed25519.PublicKey(sender.PublicKey)) {
		h.log.Warnw("order rejected: contract verification failed", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}

	doc := c.Document()
	buyerOrder := doc.GetDocument("buyer_order")
	if buyerOrder == nil {
		return rpcerr.Rejected
	}
	order := buyerOrder.GetDocument("order")
	if order == nil {
		return rpcerr.Rejected
	}
	payment := order.GetDocument("payment")
	buyerID := order.GetDocument("buyer_id")
	if payment == nil || buyerID == nil {
		return rpcerr.Rejected
	}

	buyerMasterPub, ok := decodeBase64(buyerID, "pubkey")
	if !ok {
		h.log.Warnw("order rejected: missing buyer master pubkey", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}
	chainCode, ok := decodeBase64(payment, "chaincode")
	if !ok {
		h.log.Warnw("order rejected: missing chaincode", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}
	buyerBitcoinKey, err := h.deriver.ChildPublicKey(buyerMasterPub, chainCode)
	if err != nil {
		h.log.Warnw("order rejected: derive buyer key failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}

	address := c.PaymentAddress()
	amount := c.Amount()
	listingHash := c.OrderID()
	if address == "" || listingHash == "" {
		return rpcerr.Rejected
	}

	payload := []byte(address)
	payload = append(payload, []byte(strconv.FormatInt(amount, 10))...)
	payload = append(payload, []byte(listingHash)...)
	payload = append(payload, buyerBitcoinKey...)
	sig := signResponse(h.node.Private, payload)

	if err := c.AwaitFunding(h.listeners.FirstNotification(), h.blockchain, sig, false); err != nil {
		h.log.Errorw("order: register funding watch failed", "peer_guid", sender.ID, "order_id", listingHash, "error", err)
		return rpcerr.Rejected
	}

	serialized, err := c.Serialize()
	if err != nil {
		h.log.Errorw("order: serialize contract failed", "order_id", listingHash, "error", err)
		return rpcerr.Rejected
	}
	if err := h.store.Sales().CreateInProgress(listingHash, serialized, nil); err != nil {
		h.log.Errorw("order: persist sale failed", "order_id", listingHash, "error", err)
		return rpcerr.Rejected
	}

	h.addToRoutingTable(sender)
	return rpcerr.Ok(sig)
}

// handleOrderConfirmation merges the incoming vendor_order_confirmation
// block into the stored order, validates the vendor's signature over it,
// and persists the extended contract (§4.3).
func (h *Handlers) handleOrderConfirmation(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	plaintext, ok := h.openSealedBox(sender, args)
	if !ok {
		return rpcerr.Rejected
	}
	incoming, err := orderedjson.Parse(plaintext)
	if err != nil {
		h.log.Warnw("order_confirmation rejected: parse failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}
	orderID := incoming.GetString("order_id")
	confirmation := incoming.GetDocument("vendor_order_confirmation")
	if orderID == "" || confirmation == nil {
		return rpcerr.Rejected
	}

	orderJSON, err := h.store.Sales().LoadInProgressOrder(orderID)
	if err != nil {
		h.log.Warnw("order_confirmation rejected: order not found", "order_id", orderID, "error", err)
		return rpcerr.Rejected
	}
	c, err := contract.Parse(orderJSON, h.testnet)
	if err != nil {
		h.log.Errorw("order_confirmation: reparse stored order failed", "order_id", orderID, "error", err)
		return rpcerr.Rejected
	}
	c.Document().Set("vendor_order_confirmation", confirmation)

	if _, ok := c.AcceptOrderConfirmation(h.listeners.FirstNotification(), ed25519.PublicKey(sender.PublicKey)); !ok {
		h.log.Warnw("order_confirmation rejected: signature invalid", "order_id", orderID)
		return rpcerr.Rejected
	}

	serialized, err := c.Serialize()
	if err != nil {
		h.log.Errorw("order_confirmation: serialize failed", "order_id", orderID, "error", err)
		return rpcerr.Rejected
	}
	if err := h.store.Sales().PersistInProgress(orderID, serialized); err != nil {
		h.log.Errorw("order_confirmation: persist failed", "order_id", orderID, "error", err)
		return rpcerr.Rejected
	}

	h.addToRoutingTable(sender)
	return rpcerr.Ok([]byte("True"))
}

// handleCompleteOrder merges the incoming buyer_receipt block into the
// stored order, validates the buyer's signature over it, and moves the
// sale record to trade receipts - the protocol's successful terminal path
// (§4.3).
func (h *Handlers) handleCompleteOrder(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	plaintext, ok := h.openSealedBox(sender, args)
	if !ok {
		return rpcerr.Rejected
	}
	incoming, err := orderedjson.Parse(plaintext)
	if err != nil {
		h.log.Warnw("complete_order rejected: parse failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}
	orderID := incoming.GetString("order_id")
	receipt := incoming.GetDocument("buyer_receipt")
	if orderID == "" || receipt == nil {
		return rpcerr.Rejected
	}

	orderJSON, err := h.store.Sales().LoadInProgressOrder(orderID)
	if err != nil {
		h.log.Warnw("complete_order rejected: order not found", "order_id", orderID, "error", err)
		return rpcerr.Rejected
	}
	c, err := contract.Parse(orderJSON, h.testnet)
	if err != nil {
		h.log.Errorw("complete_order: reparse stored order failed", "order_id", orderID, "error", err)
		return rpcerr.Rejected
	}
	c.Document().Set("buyer_receipt", receipt)

	if _, ok := c.AcceptReceipt(h.listeners.FirstNotification(), ed25519.PublicKey(sender.PublicKey)); !ok {
		h.log.Warnw("complete_order rejected: signature invalid", "order_id", orderID)
		return rpcerr.Rejected
	}

	serialized, err := c.Serialize()
	if err != nil {
		h.log.Errorw("complete_order: serialize failed", "order_id", orderID, "error", err)
		return rpcerr.Rejected
	}
	if err := h.store.Sales().MoveToTradeReceipts(orderID, serialized); err != nil {
		h.log.Errorw("complete_order: move to trade receipts failed", "order_id", orderID, "error", err)
		return rpcerr.Rejected
	}

	h.addToRoutingTable(sender)
	return rpcerr.Ok([]byte("True"))
}

// handleDisputeOpen opens the sealed box and delegates to the moderation
// module's Open transition (§4.3).
func (h *Handlers) handleDisputeOpen(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	plaintext, ok := h.openSealedBox(sender, args)
	if !ok {
		return rpcerr.Rejected
	}
	incoming, err := orderedjson.Parse(plaintext)
	if err != nil {
		h.log.Warnw("dispute_open rejected: parse failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}
	sig, ok := decodeBase64(incoming, "signature")
	if !ok {
		return rpcerr.Rejected
	}
	req := dispute.OpenRequest{
		OrderID:   incoming.GetString("order_id"),
		Claim:     incoming.GetString("claim"),
		Signature: sig,
	}
	if req.OrderID == "" || req.Claim == "" {
		return rpcerr.Rejected
	}

	if _, err := dispute.Open(h.store.Sales(), h.listeners.FirstNotification(), ed25519.PublicKey(sender.PublicKey), req); err != nil {
		h.log.Warnw("dispute_open rejected", "order_id", req.OrderID, "error", err)
		return rpcerr.Rejected
	}

	h.addToRoutingTable(sender)
	return rpcerr.Ok([]byte("True"))
}

// handleDisputeClose opens the sealed box and delegates to the moderation
// module's Close transition, under the assumption that the sender calling
// this opcode is the contract's moderator (§4.3).
func (h *Handlers) handleDisputeClose(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	plaintext, ok := h.openSealedBox(sender, args)
	if !ok {
		return rpcerr.Rejected
	}
	incoming, err := orderedjson.Parse(plaintext)
	if err != nil {
		h.log.Warnw("dispute_close rejected: parse failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}
	sig, ok := decodeBase64(incoming, "signature")
	if !ok {
		return rpcerr.Rejected
	}
	req := dispute.CloseRequest{
		OrderID:    incoming.GetString("order_id"),
		Resolution: incoming.GetString("resolution"),
		Signature:  sig,
	}
	if req.OrderID == "" || req.Resolution == "" {
		return rpcerr.Rejected
	}

	if _, err := dispute.Close(h.store.Sales(), h.listeners.FirstNotification(), ed25519.PublicKey(sender.PublicKey), req); err != nil {
		h.log.Warnw("dispute_close rejected", "order_id", req.OrderID, "error", err)
		return rpcerr.Rejected
	}

	h.addToRoutingTable(sender)
	return rpcerr.Ok([]byte("True"))
}

// handleRefund opens the sealed box, reconstructs this node's half of the
// escrow key material from the stored order, and delegates to the refund
// flow (§4.4).
func (h *Handlers) handleRefund(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	plaintext, ok := h.openSealedBox(sender, args)
	if !ok {
		return rpcerr.Rejected
	}
	var req refund.Request
	if err := json.Unmarshal(plaintext, &req); err != nil {
		h.log.Warnw("refund rejected: parse failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}
	if req.OrderID == "" {
		return rpcerr.Rejected
	}

	keys, err := h.refundKeysFor(req.OrderID)
	if err != nil {
		h.log.Warnw("refund rejected: key material unavailable", "order_id", req.OrderID, "error", err)
		return rpcerr.Rejected
	}

	if _, err := refund.Apply(h.store.Sales(), h.blockchain, h.listeners.FirstNotification(), h.deriver, keys, req, h.testnet); err != nil {
		h.log.Warnw("refund rejected", "order_id", req.OrderID, "error", err)
		return rpcerr.Rejected
	}

	h.addToRoutingTable(sender)
	return rpcerr.Ok([]byte("True"))
}

// refundKeysFor rebuilds the redeem script from the order's recorded
// buyer/vendor/moderator public key material - the moderator's key is
// used as-is, never derived, matching how the contract's payment address
// was originally committed to (§4.4.c-d).
func (h *Handlers) refundKeysFor(orderID string) (refund.Keys, error) {
	orderJSON, err := h.store.Sales().LoadInProgressOrder(orderID)
	if err != nil {
		return refund.Keys{}, fmt.Errorf("load order: %w", err)
	}
	doc, err := orderedjson.Parse(orderJSON)
	if err != nil {
		return refund.Keys{}, fmt.Errorf("parse order: %w", err)
	}

	buyerOrder := doc.GetDocument("buyer_order")
	vendorOffer := doc.GetDocument("vendor_offer")
	if buyerOrder == nil || vendorOffer == nil {
		return refund.Keys{}, fmt.Errorf("order missing buyer_order/vendor_offer")
	}
	order := buyerOrder.GetDocument("order")
	listing := vendorOffer.GetDocument("listing")
	if order == nil || listing == nil {
		return refund.Keys{}, fmt.Errorf("order missing order/listing section")
	}
	payment := order.GetDocument("payment")
	buyerID := order.GetDocument("buyer_id")
	vendorID := listing.GetDocument("vendor_id")
	moderator := listing.GetDocument("moderator")
	if payment == nil || buyerID == nil || vendorID == nil || moderator == nil {
		return refund.Keys{}, fmt.Errorf("order missing escrow key material")
	}

	chainCode, ok := decodeBase64(payment, "chaincode")
	if !ok {
		return refund.Keys{}, fmt.Errorf("order has no chaincode")
	}
	buyerMasterPub, ok := decodeBase64(buyerID, "pubkey")
	if !ok {
		return refund.Keys{}, fmt.Errorf("order has no buyer master pubkey")
	}
	vendorMasterPub, ok := decodeBase64(vendorID, "pubkey")
	if !ok {
		return refund.Keys{}, fmt.Errorf("order has no vendor master pubkey")
	}
	moderatorPub, ok := decodeBase64(moderator, "pubkey")
	if !ok {
		return refund.Keys{}, fmt.Errorf("order has no moderator pubkey")
	}

	buyerChildPub, err := h.deriver.ChildPublicKey(buyerMasterPub, chainCode)
	if err != nil {
		return refund.Keys{}, fmt.Errorf("derive buyer child key: %w", err)
	}
	vendorChildPub, err := h.deriver.ChildPublicKey(vendorMasterPub, chainCode)
	if err != nil {
		return refund.Keys{}, fmt.Errorf("derive vendor child key: %w", err)
	}

	redeemScript, err := escrow.BuildRedeemScript(buyerChildPub, vendorChildPub, moderatorPub)
	if err != nil {
		return refund.Keys{}, fmt.Errorf("build redeem script: %w", err)
	}

	return refund.Keys{
		MasterPrivateKey: h.escrowMasterPrivateKey,
		ChainCode:        chainCode,
		RedeemScript:     redeemScript,
	}, nil
}
