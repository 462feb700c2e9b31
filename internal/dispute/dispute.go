// Package dispute implements C5: opening and closing disputes via the
// moderation subsystem, the two commerce state transitions spec.md §4.3
// delegates to "Contract / moderation module" without further detail
// beyond their signature and persistence contracts.
package dispute

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/meshbazaar/node/internal/datastore"
	"github.com/meshbazaar/node/internal/listener"
	"github.com/meshbazaar/node/internal/orderedjson"
)

// OpenRequest is the decrypted payload of a DISPUTE_OPEN RPC: the order
// being disputed, the opener's claim text, and the opener's signature over
// that claim.
type OpenRequest struct {
	OrderID   string
	Claim     string
	Signature []byte
}

// CloseRequest is the decrypted payload of a DISPUTE_CLOSE RPC: the
// disputed order, the moderator's ruling text, and the moderator's
// signature over that ruling.
type CloseRequest struct {
	OrderID    string
	Resolution string
	Signature  []byte
}

// Open validates the opener's signature over req.Claim under openerPubkey,
// attaches a dispute.opened block to the in-progress order, marks the sale
// disputed, and notifies "dispute opened". It returns the order_id on
// success.
func Open(store datastore.SalesStore, notify listener.NotificationSink, openerPubkey ed25519.PublicKey, req OpenRequest) (string, error) {
	if !ed25519.Verify(openerPubkey, []byte(req.Claim), req.Signature) {
		return "", fmt.Errorf("dispute: invalid signature opening dispute on %q", req.OrderID)
	}

	orderJSON, err := store.LoadInProgressOrder(req.OrderID)
	if err != nil {
		return "", fmt.Errorf("dispute: load in-progress order %q: %w", req.OrderID, err)
	}
	doc, err := orderedjson.Parse(orderJSON)
	if err != nil {
		return "", fmt.Errorf("dispute: parse order: %w", err)
	}

	disputeDoc := doc.GetDocument("dispute")
	if disputeDoc == nil {
		disputeDoc = orderedjson.NewDocument()
		doc.Set("dispute", disputeDoc)
	}
	opened := orderedjson.NewDocument()
	opened.Set("claim", req.Claim)
	opened.Set("signature", base64.StdEncoding.EncodeToString(req.Signature))
	disputeDoc.Set("opened", opened)

	if err := store.UpdateStatus(req.OrderID, datastore.SaleStatusDisputed); err != nil {
		return "", fmt.Errorf("dispute: update status: %w", err)
	}

	updated, err := orderedjson.Serialize(doc)
	if err != nil {
		return "", fmt.Errorf("dispute: serialize updated order: %w", err)
	}
	if err := store.PersistInProgress(req.OrderID, updated); err != nil {
		return "", fmt.Errorf("dispute: persist dispute block: %w", err)
	}

	if notify != nil {
		guid, handle, title, imageHash := orderNotificationFields(doc)
		notify(guid, handle, "dispute opened", req.OrderID, title, imageHash)
	}
	return req.OrderID, nil
}

// Close validates the moderator's signature over req.Resolution under
// moderatorPubkey, attaches a dispute.closed block, transitions the sale
// to its terminal disputed-closed status, moves the order record to trade
// receipts, and notifies "dispute closed".
func Close(store datastore.SalesStore, notify listener.NotificationSink, moderatorPubkey ed25519.PublicKey, req CloseRequest) (string, error) {
	if !ed25519.Verify(moderatorPubkey, []byte(req.Resolution), req.Signature) {
		return "", fmt.Errorf("dispute: invalid signature closing dispute on %q", req.OrderID)
	}

	orderJSON, err := store.LoadInProgressOrder(req.OrderID)
	if err != nil {
		return "", fmt.Errorf("dispute: load in-progress order %q: %w", req.OrderID, err)
	}
	doc, err := orderedjson.Parse(orderJSON)
	if err != nil {
		return "", fmt.Errorf("dispute: parse order: %w", err)
	}

	disputeDoc := doc.GetDocument("dispute")
	if disputeDoc == nil {
		disputeDoc = orderedjson.NewDocument()
		doc.Set("dispute", disputeDoc)
	}
	closed := orderedjson.NewDocument()
	closed.Set("resolution", req.Resolution)
	closed.Set("signature", base64.StdEncoding.EncodeToString(req.Signature))
	disputeDoc.Set("closed", closed)

	if err := store.UpdateStatus(req.OrderID, datastore.SaleStatusDisputeClosed); err != nil {
		return "", fmt.Errorf("dispute: update status: %w", err)
	}

	updated, err := orderedjson.Serialize(doc)
	if err != nil {
		return "", fmt.Errorf("dispute: serialize updated order: %w", err)
	}
	if err := store.MoveToTradeReceipts(req.OrderID, updated); err != nil {
		return "", fmt.Errorf("dispute: move to trade receipts: %w", err)
	}

	if notify != nil {
		guid, handle, title, imageHash := orderNotificationFields(doc)
		notify(guid, handle, "dispute closed", req.OrderID, title, imageHash)
	}
	return req.OrderID, nil
}

func orderNotificationFields(doc *orderedjson.Document) (guid [20]byte, handle, title, imageHash string) {
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
