package rpc

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshbazaar/node/internal/blockchain"
	mbcrypto "github.com/meshbazaar/node/internal/crypto"
	"github.com/meshbazaar/node/internal/datastore"
	"github.com/meshbazaar/node/internal/escrow"
	"github.com/meshbazaar/node/internal/listener"
	"github.com/meshbazaar/node/internal/orderedjson"
	"github.com/meshbazaar/node/internal/refund"
	"github.com/meshbazaar/node/internal/transport"
)

// sealTo encrypts plaintext under recipient's Ed25519 public key, returning
// the (ephemeral_pubkey, ciphertext) arg pair every commerce opcode expects.
func sealTo(t *testing.T, plaintext []byte, recipient ed25519.PublicKey) ([]byte, []byte) {
	t.Helper()
	recipientX25519, err := mbcrypto.X25519FromEd25519Public(recipient)
	require.NoError(t, err)
	ephemeralPub, ciphertext, err := mbcrypto.Seal(plaintext, recipientX25519)
	require.NoError(t, err)
	return ephemeralPub[:], ciphertext
}

// buildOrderDoc constructs a complete buyer_order/vendor_offer document
// signed by buyerPriv, with escrow key material (buyer/vendor/moderator
// master pubkeys and a chaincode) attached so the ORDER and REFUND flows
// can derive per-contract escrow keys from it.
func buildOrderDoc(t *testing.T, orderID string, buyerPriv ed25519.PrivateKey, buyerMasterPub, vendorMasterPub, moderatorPub, chainCode []byte, address string, amount int) *orderedjson.Document {
	t.Helper()
	doc := orderedjson.NewDocument()

	vendorOffer := orderedjson.NewDocument()
	listing := orderedjson.NewDocument()
	listing.Set("contract_id", orderID)
	listing.Set("title", "Widget")
	listing.Set("image_hashes", []orderedjson.Value{"imghash"})
	vendorID := orderedjson.NewDocument()
	vendorID.Set("handle", "vendor-handle")
	vendorID.Set("pubkey", base64.StdEncoding.EncodeToString(vendorMasterPub))
	listing.Set("vendor_id", vendorID)
	moderator := orderedjson.NewDocument()
	moderator.Set("pubkey", base64.StdEncoding.EncodeToString(moderatorPub))
	listing.Set("moderator", moderator)
	vendorOffer.Set("listing", listing)
	doc.Set("vendor_offer", vendorOffer)

	order := orderedjson.NewDocument()
	payment := orderedjson.NewDocument()
	payment.Set("address", address)
	payment.Set("chaincode", base64.StdEncoding.EncodeToString(chainCode))
	payment.Set("amount", amount)
	order.Set("payment", payment)
	buyerID := orderedjson.NewDocument()
	buyerID.Set("handle", "buyer-handle")
	buyerID.Set("pubkey", base64.StdEncoding.EncodeToString(buyerMasterPub))
	order.Set("buyer_id", buyerID)

	payload, err := orderedjson.Serialize(order)
	require.NoError(t, err)
	sig := ed25519.Sign(buyerPriv, payload)

	buyerOrder := orderedjson.NewDocument()
	buyerOrder.Set("order", order)
	buyerOrder.Set("signature", base64.StdEncoding.EncodeToString(sig))
	doc.Set("buyer_order", buyerOrder)

	return doc
}

func TestHandleOrderVerifiesDerivesSignsAndPersists(t *testing.T) {
	store := datastore.NewMemoryStore("")
	gw := blockchain.NewMockGateway(true)
	registry := listener.NewRegistry()
	h, node := newTestHandlers(t, store, gw, registry)

	buyer, err := generateTestNode()
	require.NoError(t, err)
	buyerEscrow, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	vendorEscrow, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	moderatorEscrow, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	chainCode := make([]byte, 32)
	chainCode[0] = 0x09

	const orderID = "order-1"
	const address = "2N3p4j56w7x8y9"
	const amount = 150000

	doc := buildOrderDoc(t, orderID, buyer.Private,
		buyerEscrow.PubKey().SerializeCompressed(),
		vendorEscrow.PubKey().SerializeCompressed(),
		moderatorEscrow.PubKey().SerializeCompressed(),
		chainCode, address, amount)
	plaintext, err := orderedjson.Serialize(doc)
	require.NoError(t, err)

	ephemeralPub, ciphertext := sealTo(t, plaintext, node.Public)
	sender := transport.Sender{ID: buyer.Guid, PublicKey: buyer.Public}

	var notifiedKind, notifiedOrderID string
	registry.Add(listener.AsNotification(func(guid [20]byte, handle, kind, subID, title, imageHash string) {
		notifiedKind = kind
		notifiedOrderID = subID
	}))

	outcome := h.dispatch(context.Background(), OpOrder, sender, [][]byte{ephemeralPub, ciphertext})
	require.True(t, outcome.IsOK())
	parts := outcome.Parts()
	require.Len(t, parts, 1)
	sig := parts[0]

	deriver := escrow.NewKeyDeriver(true)
	buyerChildPub, err := deriver.ChildPublicKey(buyerEscrow.PubKey().SerializeCompressed(), chainCode)
	require.NoError(t, err)

	expectedPayload := []byte(address)
	expectedPayload = append(expectedPayload, []byte("150000")...)
	expectedPayload = append(expectedPayload, []byte(orderID)...)
	expectedPayload = append(expectedPayload, buyerChildPub...)
	assert.True(t, ed25519.Verify(node.Public, expectedPayload, sig))

	stored, err := store.Sales().LoadInProgressOrder(orderID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)

	gw.Fire(address, amount)
	assert.Equal(t, "new order", notifiedKind)
	assert.Equal(t, orderID, notifiedOrderID)
}

func TestHandleOrderRejectsTamperedSignature(t *testing.T) {
	store := datastore.NewMemoryStore("")
	gw := blockchain.NewMockGateway(true)
	h, node := newTestHandlers(t, store, gw, listener.NewRegistry())

	buyer, err := generateTestNode()
	require.NoError(t, err)
	buyerEscrow, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	vendorEscrow, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	moderatorEscrow, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	chainCode := make([]byte, 32)

	doc := buildOrderDoc(t, "order-2", buyer.Private,
		buyerEscrow.PubKey().SerializeCompressed(),
		vendorEscrow.PubKey().SerializeCompressed(),
		moderatorEscrow.PubKey().SerializeCompressed(),
		chainCode, "addr", 1000)

	// Tamper with the signed order after signing, so Verify fails.
	buyerOrder := doc.GetDocument("buyer_order")
	order := buyerOrder.GetDocument("order")
	order.GetDocument("payment").Set("amount", 999999)

	plaintext, err := orderedjson.Serialize(doc)
	require.NoError(t, err)
	ephemeralPub, ciphertext := sealTo(t, plaintext, node.Public)
	sender := transport.Sender{ID: buyer.Guid, PublicKey: buyer.Public}

	outcome := h.dispatch(context.Background(), OpOrder, sender, [][]byte{ephemeralPub, ciphertext})
	assert.True(t, outcome.IsRejected())
}

func TestHandleOrderConfirmationMergesAndPersists(t *testing.T) {
	store := datastore.NewMemoryStore("")
	h, node := newTestHandlers(t, store, blockchain.NewMockGateway(true), listener.NewRegistry())

	vendorPub, vendorPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	const orderID = "order-confirm-1"
	doc := orderedjson.NewDocument()
	vendorOffer := orderedjson.NewDocument()
	listing := orderedjson.NewDocument()
	listing.Set("contract_id", orderID)
	vendorOffer.Set("listing", listing)
	doc.Set("vendor_offer", vendorOffer)
	orderJSON, err := orderedjson.Serialize(doc)
	require.NoError(t, err)
	require.NoError(t, store.Sales().CreateInProgress(orderID, orderJSON, nil))

	confirmationBody := orderedjson.NewDocument()
	confirmationBody.Set("accepted", true)
	bodyPayload, err := orderedjson.Serialize(confirmationBody)
	require.NoError(t, err)
	sig := ed25519.Sign(vendorPriv, bodyPayload)

	confirmation := orderedjson.NewDocument()
	confirmation.Set("confirmation", confirmationBody)
	confirmation.Set("signature", base64.StdEncoding.EncodeToString(sig))

	envelope := orderedjson.NewDocument()
	envelope.Set("order_id", orderID)
	envelope.Set("vendor_order_confirmation", confirmation)
	plaintext, err := orderedjson.Serialize(envelope)
	require.NoError(t, err)

	ephemeralPub, ciphertext := sealTo(t, plaintext, node.Public)
	sender := transport.Sender{ID: [20]byte{}, PublicKey: vendorPub}

	outcome := h.dispatch(context.Background(), OpOrderConfirmation, sender, [][]byte{ephemeralPub, ciphertext})
	require.True(t, outcome.IsOK())

	updated, err := store.Sales().LoadInProgressOrder(orderID)
	require.NoError(t, err)
	reparsed, err := orderedjson.Parse(updated)
	require.NoError(t, err)
	assert.NotNil(t, reparsed.GetDocument("vendor_order_confirmation"))
}

func TestHandleOrderConfirmationRejectsUnknownOrder(t *testing.T) {
	store := datastore.NewMemoryStore("")
	h, node := newTestHandlers(t, store, blockchain.NewMockGateway(true), listener.NewRegistry())

	vendorPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	envelope := orderedjson.NewDocument()
	envelope.Set("order_id", "nonexistent")
	confirmation := orderedjson.NewDocument()
	confirmation.Set("confirmation", orderedjson.NewDocument())
	confirmation.Set("signature", base64.StdEncoding.EncodeToString([]byte("sig")))
	envelope.Set("vendor_order_confirmation", confirmation)
	plaintext, err := orderedjson.Serialize(envelope)
	require.NoError(t, err)

	ephemeralPub, ciphertext := sealTo(t, plaintext, node.Public)
	sender := transport.Sender{ID: [20]byte{}, PublicKey: vendorPub}

	outcome := h.dispatch(context.Background(), OpOrderConfirmation, sender, [][]byte{ephemeralPub, ciphertext})
	assert.True(t, outcome.IsRejected())
}

func TestHandleCompleteOrderMovesToTradeReceipts(t *testing.T) {
	store := datastore.NewMemoryStore("")
	h, node := newTestHandlers(t, store, blockchain.NewMockGateway(true), listener.NewRegistry())

	buyerPub, buyerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	const orderID = "order-complete-1"
	doc := orderedjson.NewDocument()
	vendorOffer := orderedjson.NewDocument()
	listing := orderedjson.NewDocument()
	listing.Set("contract_id", orderID)
	vendorOffer.Set("listing", listing)
	doc.Set("vendor_offer", vendorOffer)
	orderJSON, err := orderedjson.Serialize(doc)
	require.NoError(t, err)
	require.NoError(t, store.Sales().CreateInProgress(orderID, orderJSON, nil))

	receiptBody := orderedjson.NewDocument()
	receiptBody.Set("received", true)
	bodyPayload, err := orderedjson.Serialize(receiptBody)
	require.NoError(t, err)
	sig := ed25519.Sign(buyerPriv, bodyPayload)

	receipt := orderedjson.NewDocument()
	receipt.Set("receipt", receiptBody)
	receipt.Set("signature", base64.StdEncoding.EncodeToString(sig))

	envelope := orderedjson.NewDocument()
	envelope.Set("order_id", orderID)
	envelope.Set("buyer_receipt", receipt)
	plaintext, err := orderedjson.Serialize(envelope)
	require.NoError(t, err)

	ephemeralPub, ciphertext := sealTo(t, plaintext, node.Public)
	sender := transport.Sender{ID: [20]byte{}, PublicKey: buyerPub}

	outcome := h.dispatch(context.Background(), OpCompleteOrder, sender, [][]byte{ephemeralPub, ciphertext})
	require.True(t, outcome.IsOK())

	updated, err := store.Sales().LoadInProgressOrder(orderID)
	require.NoError(t, err)
	reparsed, err := orderedjson.Parse(updated)
	require.NoError(t, err)
	assert.NotNil(t, reparsed.GetDocument("buyer_receipt"))
}

func TestHandleDisputeOpenTransitionsStatus(t *testing.T) {
	store := datastore.NewMemoryStore("")
	h, node := newTestHandlers(t, store, blockchain.NewMockGateway(true), listener.NewRegistry())

	opener, err := generateTestNode()
	require.NoError(t, err)

	const orderID = "order-dispute-1"
	orderJSON, err := orderedjson.Serialize(orderedjson.NewDocument())
	require.NoError(t, err)
	require.NoError(t, store.Sales().CreateInProgress(orderID, orderJSON, nil))

	claim := "item never arrived"
	sig := opener.Sign([]byte(claim))

	envelope := orderedjson.NewDocument()
	envelope.Set("order_id", orderID)
	envelope.Set("claim", claim)
	envelope.Set("signature", base64.StdEncoding.EncodeToString(sig))
	plaintext, err := orderedjson.Serialize(envelope)
	require.NoError(t, err)

	ephemeralPub, ciphertext := sealTo(t, plaintext, node.Public)
	sender := transport.Sender{ID: opener.Guid, PublicKey: opener.Public}

	outcome := h.dispatch(context.Background(), OpDisputeOpen, sender, [][]byte{ephemeralPub, ciphertext})
	require.True(t, outcome.IsOK())

	updated, err := store.Sales().LoadInProgressOrder(orderID)
	require.NoError(t, err)
	reparsed, err := orderedjson.Parse(updated)
	require.NoError(t, err)
	disputeDoc := reparsed.GetDocument("dispute")
	require.NotNil(t, disputeDoc)
	assert.NotNil(t, disputeDoc.GetDocument("opened"))
}

func TestHandleDisputeCloseMovesToTradeReceipts(t *testing.T) {
	store := datastore.NewMemoryStore("")
	h, node := newTestHandlers(t, store, blockchain.NewMockGateway(true), listener.NewRegistry())

	moderator, err := generateTestNode()
	require.NoError(t, err)

	const orderID = "order-dispute-2"
	orderJSON, err := orderedjson.Serialize(orderedjson.NewDocument())
	require.NoError(t, err)
	require.NoError(t, store.Sales().CreateInProgress(orderID, orderJSON, nil))

	resolution := "refund buyer in full"
	sig := moderator.Sign([]byte(resolution))

	envelope := orderedjson.NewDocument()
	envelope.Set("order_id", orderID)
	envelope.Set("resolution", resolution)
	envelope.Set("signature", base64.StdEncoding.EncodeToString(sig))
	plaintext, err := orderedjson.Serialize(envelope)
	require.NoError(t, err)

	ephemeralPub, ciphertext := sealTo(t, plaintext, node.Public)
	sender := transport.Sender{ID: moderator.Guid, PublicKey: moderator.Public}

	outcome := h.dispatch(context.Background(), OpDisputeClose, sender, [][]byte{ephemeralPub, ciphertext})
	require.True(t, outcome.IsOK())

	updated, err := store.Sales().LoadInProgressOrder(orderID)
	require.NoError(t, err)
	reparsed, err := orderedjson.Parse(updated)
	require.NoError(t, err)
	disputeDoc := reparsed.GetDocument("dispute")
	require.NotNil(t, disputeDoc)
	assert.NotNil(t, disputeDoc.GetDocument("closed"))
}

func TestHandleRefundWithExistingTxIDSkipsBroadcast(t *testing.T) {
	store := datastore.NewMemoryStore("")
	gw := blockchain.NewMockGateway(true)
	h, node := newTestHandlers(t, store, gw, listener.NewRegistry())

	requester, err := generateTestNode()
	require.NoError(t, err)
	buyerEscrow, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	vendorEscrow, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	moderatorEscrow, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	chainCode := make([]byte, 32)
	chainCode[0] = 0x0a

	const orderID = "order-refund-1"
	doc := buildOrderDoc(t, orderID, requester.Private,
		buyerEscrow.PubKey().SerializeCompressed(),
		vendorEscrow.PubKey().SerializeCompressed(),
		moderatorEscrow.PubKey().SerializeCompressed(),
		chainCode, "mzBc4XEFSdzCDcTxAgf6EZXgsZWpztRhef", 150000)
	orderJSON, err := orderedjson.Serialize(doc)
	require.NoError(t, err)
	require.NoError(t, store.Sales().CreateInProgress(orderID, orderJSON, nil))

	req := refund.Request{OrderID: orderID, Value: 0.001, TxID: "already-broadcast-hash"}
	reqJSON, err := json.Marshal(req)
	require.NoError(t, err)

	ephemeralPub, ciphertext := sealTo(t, reqJSON, node.Public)
	sender := transport.Sender{ID: requester.Guid, PublicKey: requester.Public}

	outcome := h.dispatch(context.Background(), OpRefund, sender, [][]byte{ephemeralPub, ciphertext})
	require.True(t, outcome.IsOK())
	assert.Empty(t, gw.Broadcasts)

	updated, err := store.Sales().LoadInProgressOrder(orderID)
	require.NoError(t, err)
	reparsed, err := orderedjson.Parse(updated)
	require.NoError(t, err)
	assert.NotNil(t, reparsed.GetDocument("refund"))
}

func TestHandleRefundRejectsWhenEscrowKeyMaterialMissing(t *testing.T) {
	store := datastore.NewMemoryStore("")
	h, node := newTestHandlers(t, store, blockchain.NewMockGateway(true), listener.NewRegistry())

	requester, err := generateTestNode()
	require.NoError(t, err)

	const orderID = "order-refund-missing"
	orderJSON, err := orderedjson.Serialize(orderedjson.NewDocument())
	require.NoError(t, err)
	require.NoError(t, store.Sales().CreateInProgress(orderID, orderJSON, nil))

	req := refund.Request{OrderID: orderID, Value: 0.001, TxID: "already-broadcast-hash"}
	reqJSON, err := json.Marshal(req)
	require.NoError(t, err)

	ephemeralPub, ciphertext := sealTo(t, reqJSON, node.Public)
	sender := transport.Sender{ID: requester.Guid, PublicKey: requester.Public}

	outcome := h.dispatch(context.Background(), OpRefund, sender, [][]byte{ephemeralPub, ciphertext})
	assert.True(t, outcome.IsRejected())
}
