package refund

import (
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshbazaar/node/internal/blockchain"
	"github.com/meshbazaar/node/internal/datastore"
	"github.com/meshbazaar/node/internal/escrow"
	"github.com/meshbazaar/node/internal/listener"
	"github.com/meshbazaar/node/internal/orderedjson"
)

func threeKeys(t *testing.T) (buyer, vendor, moderator *btcec.PrivateKey) {
	t.Helper()
	b, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	v, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	m, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return b, v, m
}

func buildOrderJSON(t *testing.T, refundAddress string) []byte {
	t.Helper()
	doc := orderedjson.NewDocument()

	vendorOffer := orderedjson.NewDocument()
	listing := orderedjson.NewDocument()
	listing.Set("contract_id", "order-refund-1")
	listing.Set("title", "Widget")
	listing.Set("image_hashes", []orderedjson.Value{"imghash"})
	vendorOffer.Set("listing", listing)
	doc.Set("vendor_offer", vendorOffer)

	buyerOrder := orderedjson.NewDocument()
	order := orderedjson.NewDocument()
	order.Set("refund_address", refundAddress)
	buyerID := orderedjson.NewDocument()
	buyerID.Set("guid", "AQIDBAUGBwgJCgsMDQ4PEBESExQ=")
	buyerID.Set("blockchain_id", "buyer-handle")
	order.Set("buyer_id", buyerID)
	buyerOrder.Set("order", order)
	doc.Set("buyer_order", buyerOrder)

	encoded, err := orderedjson.Serialize(doc)
	require.NoError(t, err)
	return encoded
}

func fakeOutpoint(t *testing.T) escrow.Outpoint {
	t.Helper()
	var hashBytes [32]byte
	hashBytes[0] = 0x01
	h, err := chainhash.NewHash(hashBytes[:])
	require.NoError(t, err)
	return escrow.Outpoint{TxID: h.String(), Vout: 0, Value: 200000}
}

func TestApplyWithExistingTxIDSkipsBroadcast(t *testing.T) {
	store := datastore.NewMemoryStore("")
	orderJSON := buildOrderJSON(t, "mzBc4XEFSdzCDcTxAgf6EZXgsZWpztRhef")
	require.NoError(t, store.PutSale(datastore.SaleRecord{
		OrderID:   "order-refund-1",
		Status:    1,
		OrderJSON: orderJSON,
	}))

	gw := blockchain.NewMockGateway(true)
	var notifiedKind, orderIDSeen string
	sink := listener.NotificationSink(func(guid [20]byte, handle, kind, subID, title, imageHash string) {
		notifiedKind = kind
		orderIDSeen = subID
	})

	req := Request{OrderID: "order-refund-1", Value: 0.002, TxID: "already-broadcast-hash"}
	orderID, err := Apply(store.Sales(), gw, sink, escrow.NewKeyDeriver(true), Keys{}, req, true)
	require.NoError(t, err)
	assert.Equal(t, "order-refund-1", orderID)
	assert.Equal(t, "refund", notifiedKind)
	assert.Equal(t, "order-refund-1", orderIDSeen)
	assert.Empty(t, gw.Broadcasts)
}

func TestApplyBuildsAndBroadcastsWhenNoTxID(t *testing.T) {
	buyerKey, vendorKey, moderatorKey := threeKeys(t)
	chainCode := make([]byte, 32)
	chainCode[0] = 0x07

	deriver := escrow.NewKeyDeriver(true)
	buyerChildPub, err := deriver.ChildPublicKey(buyerKey.PubKey().SerializeCompressed(), chainCode)
	require.NoError(t, err)
	vendorChildPub, err := deriver.ChildPublicKey(vendorKey.PubKey().SerializeCompressed(), chainCode)
	require.NoError(t, err)

	redeemScript, err := escrow.BuildRedeemScript(
		buyerChildPub,
		vendorChildPub,
		moderatorKey.PubKey().SerializeCompressed(),
	)
	require.NoError(t, err)

	addr, err := escrow.EscrowAddress(redeemScript, true)
	require.NoError(t, err)

	store := datastore.NewMemoryStore("")
	orderJSON := buildOrderJSON(t, "mzBc4XEFSdzCDcTxAgf6EZXgsZWpztRhef")

	outpoint := fakeOutpoint(t)
	outpointBlob, err := json.Marshal([]escrow.Outpoint{outpoint})
	require.NoError(t, err)

	require.NoError(t, store.PutSale(datastore.SaleRecord{
		OrderID:      "order-refund-1",
		Status:       1,
		OrderJSON:    orderJSON,
		OutpointBlob: outpointBlob,
	}))

	// vendor produces its half of the signature over the unsigned refund tx,
	// signing with its own escrow child key for this contract
	vendorChildPriv, err := deriver.ChildPrivateKey(vendorKey.Serialize(), chainCode)
	require.NoError(t, err)
	tx, err := escrow.BuildSpendingTransaction([]escrow.Outpoint{outpoint}, 200000, "mzBc4XEFSdzCDcTxAgf6EZXgsZWpztRhef", true)
	require.NoError(t, err)
	vendorSigs, err := escrow.SignInputs(tx, []escrow.Outpoint{outpoint}, redeemScript, vendorChildPriv)
	require.NoError(t, err)

	gw := blockchain.NewMockGateway(true)
	var notified bool
	sink := listener.NotificationSink(func(guid [20]byte, handle, kind, subID, title, imageHash string) {
		notified = kind == "refund"
	})

	req := Request{
		OrderID: "order-refund-1",
		Value:   0.002,
		Signatures: []InputSignature{
			{Index: 0, Signature: vendorSigs[0]},
		},
	}
	keys := Keys{
		MasterPrivateKey: buyerKey.Serialize(),
		ChainCode:        chainCode,
		RedeemScript:     redeemScript,
	}

	orderID, err := Apply(store.Sales(), gw, sink, deriver, keys, req, true)
	require.NoError(t, err)
	assert.Equal(t, "order-refund-1", orderID)
	assert.True(t, notified)
	require.Len(t, gw.Broadcasts, 1)
	_ = addr
}

func TestApplyPropagatesLoadError(t *testing.T) {
	store := datastore.NewMemoryStore("")
	gw := blockchain.NewMockGateway(true)

	_, err := Apply(store.Sales(), gw, nil, escrow.NewKeyDeriver(true), Keys{}, Request{OrderID: "missing"}, true)
	assert.Error(t, err)
}
