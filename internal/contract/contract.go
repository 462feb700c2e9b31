// Package contract implements C3: the in-memory representation of a
// purchase contract as an ordered JSON document, and the operations that
// verify, await funding, and progress it through confirmation and receipt
// (§4.2).
package contract

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/meshbazaar/node/internal/blockchain"
	"github.com/meshbazaar/node/internal/listener"
	"github.com/meshbazaar/node/internal/orderedjson"
)

// Contract wraps an ordered JSON document describing a purchase,
// progressively extended by each protocol step (vendor_offer -> buyer_order
// -> vendor_order_confirmation -> buyer_receipt / dispute / refund).
type Contract struct {
	doc     *orderedjson.Document
	testnet bool

	mu            sync.Mutex
	fundingNotified bool
}

// New wraps an already-parsed ordered JSON document as a Contract.
func New(doc *orderedjson.Document, testnet bool) *Contract {
	return &Contract{doc: doc, testnet: testnet}
}

// Parse parses raw contract bytes as an ordered JSON document and wraps it.
func Parse(data []byte, testnet bool) (*Contract, error) {
	doc, err := orderedjson.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("contract: parse: %w", err)
	}
	return New(doc, testnet), nil
}

// Document returns the underlying ordered JSON document.
func (c *Contract) Document() *orderedjson.Document { return c.doc }

// Serialize renders the contract back to canonical bytes.
func (c *Contract) Serialize() ([]byte, error) {
	return orderedjson.Serialize(c.doc)
}

func decodeBase64Field(doc *orderedjson.Document, key string) ([]byte, bool) {
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

// hasStructuralCompleteness checks the required sections and fields named
// in §4.2 verify(): required sections present, payment.address/chaincode/
// amount present, vendor_offer.listing.contract_id present.
func (c *Contract) hasStructuralCompleteness() bool {
	vendorOffer := c.doc.GetDocument("vendor_offer")
	if vendorOffer == nil {
		return false
	}
	listing := vendorOffer.GetDocument("listing")
	if listing == nil || listing.GetString("contract_id") == "" {
		return false
	}

	buyerOrder := c.doc.GetDocument("buyer_order")
	if buyerOrder == nil {
		return false
	}
	order := buyerOrder.GetDocument("order")
	if order == nil {
		return false
	}
	payment := order.GetDocument("payment")
	if payment == nil {
		return false
	}
	if payment.GetString("address") == "" || payment.GetString("chaincode") == "" {
		return false
	}
	if _, ok := payment.Get("amount"); !ok {
		return false
	}
	return true
}

// Verify extracts the buyer's signature over the buyer_order.order section,
// recomputes the canonical serialization, and verifies it under
// expectedBuyerPubkey - along with the structural-completeness checks
// named in §4.2.
func (c *Contract) Verify(expectedBuyerPubkey ed25519.PublicKey) bool {
	if !c.hasStructuralCompleteness() {
		return false
	}

	buyerOrder := c.doc.GetDocument("buyer_order")
	order := buyerOrder.GetDocument("order")

	sig, ok := decodeBase64Field(buyerOrder, "signature")
	if !ok {
		return false
	}

	payload, err := orderedjson.Serialize(order)
	if err != nil {
		return false
	}

	return ed25519.Verify(expectedBuyerPubkey, payload, sig)
}

// PaymentAddress returns buyer_order.order.payment.address.
func (c *Contract) PaymentAddress() string {
	return c.paymentField().GetString("address")
}

// Amount returns buyer_order.order.payment.amount in satoshis.
func (c *Contract) Amount() int64 {
	payment := c.paymentField()
	if payment == nil {
		return 0
	}
	v, ok := payment.Get("amount")
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return i
	case float64:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}

func (c *Contract) paymentField() *orderedjson.Document {
	buyerOrder := c.doc.GetDocument("buyer_order")
	if buyerOrder == nil {
		return nil
	}
	order := buyerOrder.GetDocument("order")
	if order == nil {
		return nil
	}
	return order.GetDocument("payment")
}

// OrderID returns the contract_id the vendor assigned this listing, used
// as the sale/order identifier across the datastore (§3 "Contract").
func (c *Contract) OrderID() string {
	vendorOffer := c.doc.GetDocument("vendor_offer")
	if vendorOffer == nil {
		return ""
	}
	listing := vendorOffer.GetDocument("listing")
	if listing == nil {
		return ""
	}
	return listing.GetString("contract_id")
}

func (c *Contract) listingTitleAndImage() (title, imageHash string) {
	vendorOffer := c.doc.GetDocument("vendor_offer")
	if vendorOffer == nil {
		return "", ""
	}
	listing := vendorOffer.GetDocument("listing")
	if listing == nil {
		return "", ""
	}
	title = listing.GetString("title")
	if images, ok := listing.Get("image_hashes"); ok {
		if list, ok := images.([]orderedjson.Value); ok && len(list) > 0 {
			if s, ok := list[0].(string); ok {
				imageHash = s
			}
		}
	}
	return title, imageHash
}

func (c *Contract) counterpartyGuidAndHandle(isBuyer bool) (guid [20]byte, handle string) {
	buyerOrder := c.doc.GetDocument("buyer_order")
	vendorOffer := c.doc.GetDocument("vendor_offer")

	var idBlock *orderedjson.Document
	if isBuyer {
		// local node is the buyer; counterparty is the vendor
		if vendorOffer != nil {
			listing := vendorOffer.GetDocument("listing")
			if listing != nil {
				idBlock = listing.GetDocument("vendor_id")
			}
		}
	} else {
		if buyerOrder != nil {
			order := buyerOrder.GetDocument("order")
			if order != nil {
				idBlock = order.GetDocument("buyer_id")
			}
		}
	}
	if idBlock == nil {
		return guid, ""
	}
	if guidHex, ok := idBlock.Get("guid"); ok {
		if s, ok := guidHex.(string); ok {
			if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
				copy(guid[:], decoded)
			}
		}
	}
	handle = idBlock.GetString("handle")
	return guid, handle
}

// AwaitFunding registers an asynchronous watch on the contract's payment
// address; once the blockchain collaborator reports confirmed value >=
// Amount(), notificationSink fires exactly once with (counterparty_guid,
// handle, "new order", order_id, title, image_hash), even if the
// blockchain collaborator invokes the funding callback more than once
// (§4.2 idempotence). sellerSignature is attached to the contract's
// payment section once funding is observed, recording the vendor's
// acknowledgement of the now-funded escrow.
func (c *Contract) AwaitFunding(notificationSink listener.NotificationSink, gw blockchain.Gateway, sellerSignature []byte, isBuyer bool) error {
	address := c.PaymentAddress()
	if address == "" {
		return fmt.Errorf("contract: no payment address to watch")
	}
	amount := c.Amount()

	return gw.WatchAddress(address, func(ev blockchain.FundingEvent) {
		if ev.ConfirmedValue < amount {
			return
		}

		c.mu.Lock()
		if c.fundingNotified {
			c.mu.Unlock()
			return
		}
		c.fundingNotified = true
		if payment := c.paymentField(); payment != nil && len(sellerSignature) > 0 {
			payment.Set("seller_signature", base64.StdEncoding.EncodeToString(sellerSignature))
		}
		c.mu.Unlock()

		if notificationSink == nil {
			return
		}
		guid, handle := c.counterpartyGuidAndHandle(isBuyer)
		title, imageHash := c.listingTitleAndImage()
		notificationSink(guid, handle, "new order", c.OrderID(), title, imageHash)
	})
}

// AcceptOrderConfirmation validates the vendor's confirmation block's
// signature and, on success, notifies "order confirmed" and returns the
// order_id; on failure it returns ("", false) without notifying (§4.2).
func (c *Contract) AcceptOrderConfirmation(notificationSink listener.NotificationSink, vendorPubkey ed25519.PublicKey) (string, bool) {
	confirmation := c.doc.GetDocument("vendor_order_confirmation")
	if confirmation == nil {
		return "", false
	}
	sig, ok := decodeBase64Field(confirmation, "signature")
	if !ok {
		return "", false
	}
	body := confirmation.GetDocument("confirmation")
	if body == nil {
		return "", false
	}
	payload, err := orderedjson.Serialize(body)
	if err != nil {
		return "", false
	}
	if !ed25519.Verify(vendorPubkey, payload, sig) {
		return "", false
	}

	orderID := c.OrderID()
	if notificationSink != nil {
		guid, handle := c.counterpartyGuidAndHandle(true)
		title, imageHash := c.listingTitleAndImage()
		notificationSink(guid, handle, "order confirmed", orderID, title, imageHash)
	}
	return orderID, true
}

// AcceptReceipt validates the buyer's receipt block and, on success,
// notifies "order completed" and returns the order_id. Releasing the
// seller-side escrow spend (build, co-sign, broadcast) is the caller's
// responsibility once AcceptReceipt confirms the receipt is genuine -
// kept out of this method since it requires the vendor's private escrow
// key material, which this package does not hold.
func (c *Contract) AcceptReceipt(notificationSink listener.NotificationSink, buyerPubkey ed25519.PublicKey) (string, bool) {
	receipt := c.doc.GetDocument("buyer_receipt")
	if receipt == nil {
		return "", false
	}
	sig, ok := decodeBase64Field(receipt, "signature")
	if !ok {
		return "", false
	}
	body := receipt.GetDocument("receipt")
	if body == nil {
		return "", false
	}
	payload, err := orderedjson.Serialize(body)
	if err != nil {
		return "", false
	}
	if !ed25519.Verify(buyerPubkey, payload, sig) {
		return "", false
	}

	orderID := c.OrderID()
	if notificationSink != nil {
		guid, handle := c.counterpartyGuidAndHandle(false)
		title, imageHash := c.listingTitleAndImage()
		notificationSink(guid, handle, "order completed", orderID, title, imageHash)
	}
	return orderID, true
}
