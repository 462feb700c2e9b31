package rpc

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/meshbazaar/node/internal/datastore"
	"github.com/meshbazaar/node/internal/rpcerr"
	"github.com/meshbazaar/node/internal/transport"
)

// handleGetContract serves the stored listing record for contract_hash
// (§4.3 "GET_CONTRACT | contract_hash (20 B) | [contract_json_bytes] |
// null"). Lookup/listing handlers add the sender to the routing table
// unconditionally on entry.
func (h *Handlers) handleGetContract(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	h.addToRoutingTable(sender)
	if len(args) != 1 || len(args[0]) != 20 {
		return rpcerr.NotFound
	}
	contractHash := fmt.Sprintf("%x", args[0])

	entry, found, err := h.store.Listings().FindByContractHash(contractHash)
	if err != nil {
		h.log.Errorw("get_contract lookup failed", "peer_guid", sender.ID, "contract_hash", contractHash, "error", err)
		return rpcerr.NotFound
	}
	if !found {
		return rpcerr.NotFound
	}
	return rpcerr.Ok(entry.Raw)
}

// handleGetImage serves the local blob for image_hash, which must be a
// 20-byte content hash (§4.3).
func (h *Handlers) handleGetImage(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	h.addToRoutingTable(sender)
	if len(args) != 1 || len(args[0]) != 20 {
		return rpcerr.NotFound
	}
	hexHash := fmt.Sprintf("%x", args[0])

	path, err := h.store.Files().GetFile(hexHash)
	if err != nil {
		return rpcerr.NotFound
	}
	data, err := os.ReadFile(path)
	if err != nil {
		h.log.Errorw("get_image read failed", "peer_guid", sender.ID, "path", path, "error", err)
		return rpcerr.NotFound
	}
	return rpcerr.Ok(data)
}

// handleGetProfile returns the node's published profile blob together with
// a detached signature over it.
func (h *Handlers) handleGetProfile(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	h.addToRoutingTable(sender)
	raw := h.profile.RawProfile()
	if raw == nil {
		return rpcerr.NotFound
	}
	return rpcerr.Ok(raw, signResponse(h.node.Private, raw))
}

// handleGetUserMetadata returns the node's follower-visible metadata
// snapshot, signed.
func (h *Handlers) handleGetUserMetadata(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	h.addToRoutingTable(sender)
	handle, avatarHash, shortDescription, nsfw := h.profile.Metadata()
	encoded, err := json.Marshal(struct {
		Handle           string `json:"handle"`
		AvatarHash       string `json:"avatar_hash"`
		ShortDescription string `json:"short_description"`
		Nsfw             bool   `json:"nsfw"`
	}{handle, avatarHash, shortDescription, nsfw})
	if err != nil {
		h.log.Errorw("get_user_metadata marshal failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.NotFound
	}
	return rpcerr.Ok(encoded, signResponse(h.node.Private, encoded))
}

// handleGetListings returns the node's listings index, signed. The index's
// structured schema is out of scope (§1 Non-goals) - this handler relays
// whatever the datastore's listings bucket produces.
func (h *Handlers) handleGetListings(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	h.addToRoutingTable(sender)
	raw, err := h.store.Listings().GetProto()
	if err != nil {
		h.log.Errorw("get_listings failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.NotFound
	}
	return rpcerr.Ok(raw, signResponse(h.node.Private, raw))
}

// contractMetadataWire is the overlaid listing-entry shape GET_CONTRACT_
// METADATA serves: the stored entry plus the node's *current* handle and
// avatar_hash, which are never persisted into the listings index itself
// (§3 "Listings index").
type contractMetadataWire struct {
	ContractHash string   `json:"contract_hash"`
	Title        string   `json:"title"`
	ImageHashes  []string `json:"image_hashes"`
	Handle       string   `json:"handle"`
	AvatarHash   string   `json:"avatar_hash"`
}

// handleGetContractMetadata scans the listings index for contractHash,
// overlays the current handle/avatar_hash, and signs the result (§4.3
// "GET_CONTRACT_METADATA").
func (h *Handlers) handleGetContractMetadata(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	h.addToRoutingTable(sender)
	if len(args) != 1 {
		return rpcerr.NotFound
	}
	contractHash := string(args[0])

	entry, found, err := h.store.Listings().FindByContractHash(contractHash)
	if err != nil {
		h.log.Errorw("get_contract_metadata lookup failed", "peer_guid", sender.ID, "contract_hash", contractHash, "error", err)
		return rpcerr.NotFound
	}
	if !found {
		return rpcerr.NotFound
	}

	handle, avatarHash, _, _ := h.profile.Metadata()
	encoded, err := json.Marshal(contractMetadataWire{
		ContractHash: entry.ContractHash,
		Title:        entry.Title,
		ImageHashes:  entry.ImageHashes,
		Handle:       handle,
		AvatarHash:   avatarHash,
	})
	if err != nil {
		h.log.Errorw("get_contract_metadata marshal failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.NotFound
	}
	return rpcerr.Ok(encoded, signResponse(h.node.Private, encoded))
}

// ratingsWire is one re-emitted ratings row (§4.3 "GET_RATINGS").
type ratingsWire struct {
	ListingHash string `json:"listing_hash"`
	Buyer       string `json:"buyer"`
	Score       int    `json:"score"`
	Review      string `json:"review"`
}

// handleGetRatings serves ratings for listingHash, or every rating when no
// listing_hash argument is supplied, zlib-compressed and signed.
func (h *Handlers) handleGetRatings(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	h.addToRoutingTable(sender)

	var rows []datastore.Rating
	var err error
	if len(args) == 1 && len(args[0]) > 0 {
		rows, err = h.store.Ratings().GetListingRatings(string(args[0]))
	} else {
		rows, err = h.store.Ratings().GetAllRatings()
	}
	if err != nil {
		h.log.Errorw("get_ratings failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.NotFound
	}

	wire := make([]ratingsWire, 0, len(rows))
	for _, r := range rows {
		wire = append(wire, ratingsWire{ListingHash: r.ListingHash, Buyer: r.Buyer, Score: r.Score, Review: r.Review})
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		h.log.Errorw("get_ratings marshal failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.NotFound
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(encoded); err != nil {
		zw.Close()
		h.log.Errorw("get_ratings compress failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.NotFound
	}
	if err := zw.Close(); err != nil {
		h.log.Errorw("get_ratings compress flush failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.NotFound
	}

	return rpcerr.Ok(compressed.Bytes(), signResponse(h.node.Private, compressed.Bytes()))
}
