// Package rpc implements C6: the 19 server-side handlers that make up the
// marketplace protocol contract. Handlers are grouped the way
// certenIO-certen-validator groups its HTTP handlers by concern - one file
// per related group of opcodes, each a method on a shared service struct
// (§6) - but dispatch here is by opcode string over the transport's
// request/response primitive rather than HTTP routes.
package rpc

import (
	"context"
	"crypto/ed25519"
	"time"

	"go.uber.org/zap"

	"github.com/meshbazaar/node/internal/blockchain"
	"github.com/meshbazaar/node/internal/datastore"
	"github.com/meshbazaar/node/internal/escrow"
	"github.com/meshbazaar/node/internal/identity"
	"github.com/meshbazaar/node/internal/listener"
	"github.com/meshbazaar/node/internal/ratelimit"
	"github.com/meshbazaar/node/internal/rpcerr"
	"github.com/meshbazaar/node/internal/transport"
)

// Opcodes this handler set advertises (§4.7, §4.3's RPC table).
const (
	OpGetContract         = "GET_CONTRACT"
	OpGetImage            = "GET_IMAGE"
	OpGetProfile          = "GET_PROFILE"
	OpGetUserMetadata     = "GET_USER_METADATA"
	OpGetListings         = "GET_LISTINGS"
	OpGetContractMetadata = "GET_CONTRACT_METADATA"
	OpFollow              = "FOLLOW"
	OpUnfollow            = "UNFOLLOW"
	OpGetFollowers        = "GET_FOLLOWERS"
	OpGetFollowing        = "GET_FOLLOWING"
	OpBroadcast           = "BROADCAST"
	OpMessage             = "MESSAGE"
	OpOrder               = "ORDER"
	OpOrderConfirmation   = "ORDER_CONFIRMATION"
	OpCompleteOrder       = "COMPLETE_ORDER"
	OpDisputeOpen         = "DISPUTE_OPEN"
	OpDisputeClose        = "DISPUTE_CLOSE"
	OpGetRatings          = "GET_RATINGS"
	OpRefund              = "REFUND"
)

// HandledCommands lists every opcode this handler set implements, in the
// table order of §4.3 - C9's processor integration advertises exactly this
// set so the transport routes by opcode (§4.7).
var HandledCommands = []string{
	OpGetContract, OpGetImage, OpGetProfile, OpGetUserMetadata, OpGetListings,
	OpGetContractMetadata, OpFollow, OpUnfollow, OpGetFollowers, OpGetFollowing,
	OpBroadcast, OpMessage, OpOrder, OpOrderConfirmation, OpCompleteOrder,
	OpDisputeOpen, OpDisputeClose, OpGetRatings, OpRefund,
}

// maxBroadcastBytes is the 140-byte bound BROADCAST enforces (§4.3).
const maxBroadcastBytes = 140

// Profile supplies the locally-published profile, metadata, and listings
// blobs GET_PROFILE/GET_USER_METADATA/GET_LISTINGS serve, plus the current
// handle/avatar overlay GET_CONTRACT_METADATA and GET_LISTINGS apply.
type Profile interface {
	RawProfile() []byte
	RawListings() []byte
	Metadata() (handle, avatarHash, shortDescription string, nsfw bool)
}

// Handlers bundles the collaborators every RPC handler needs: the node's
// own signing identity, the datastore, the blockchain gateway, the
// listener registry, the DHT routing table, escrow key derivation, a
// per-sender anti-spam limiter, and the local profile. One Handlers value
// is constructed once per running node (§2.1) and its methods are called
// from the transport's dispatch loop, one request at a time (§5).
type Handlers struct {
	node                   *identity.Node
	store                  datastore.Store
	blockchain             blockchain.Gateway
	listeners              *listener.Registry
	routing                transport.RoutingTable
	deriver                *escrow.KeyDeriver
	limiter                *ratelimit.Limiter
	profile                Profile
	testnet                bool
	escrowMasterPrivateKey []byte
	log                    *zap.SugaredLogger
}

// NewHandlers constructs the shared handler-set service. escrowMasterPrivateKey
// is this node's own wallet master private key (32 bytes), used only by
// REFUND (§4.4.c) when this node is a co-signing party to a disputed
// escrow; it may be nil for nodes that never buy or sell.
func NewHandlers(
	node *identity.Node,
	store datastore.Store,
	bc blockchain.Gateway,
	listeners *listener.Registry,
	routing transport.RoutingTable,
	profile Profile,
	testnet bool,
	escrowMasterPrivateKey []byte,
	log *zap.SugaredLogger,
) *Handlers {
	return &Handlers{
		node:                   node,
		store:                  store,
		blockchain:             bc,
		listeners:              listeners,
		routing:                routing,
		deriver:                escrow.NewKeyDeriver(testnet),
		limiter:                ratelimit.NewLimiter(30, time.Minute),
		profile:                profile,
		testnet:                testnet,
		escrowMasterPrivateKey: escrowMasterPrivateKey,
		log:                    log.With("component", "rpc"),
	}
}

// Handle dispatches opcode to the matching handler and returns the wire
// response tuple - a finite []byte slice (success), nil (not found), or
// rpcerr.Rejected.Parts() (["False"], authenticated rejection). Every
// handler is non-throwing at this boundary: an internal error is logged
// and mapped to rpcerr.NotFound (§4.3 "non-throwing at the transport
// boundary").
func (h *Handlers) Handle(ctx context.Context, opcode string, sender transport.Sender, args [][]byte) transport.Response {
	outcome := h.dispatch(ctx, opcode, sender, args)
	return transport.Response(outcome.Parts())
}

func (h *Handlers) dispatch(ctx context.Context, opcode string, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	switch opcode {
	case OpGetContract:
		return h.handleGetContract(ctx, sender, args)
	case OpGetImage:
		return h.handleGetImage(ctx, sender, args)
	case OpGetProfile:
		return h.handleGetProfile(ctx, sender, args)
	case OpGetUserMetadata:
		return h.handleGetUserMetadata(ctx, sender, args)
	case OpGetListings:
		return h.handleGetListings(ctx, sender, args)
	case OpGetContractMetadata:
		return h.handleGetContractMetadata(ctx, sender, args)
	case OpFollow:
		return h.handleFollow(ctx, sender, args)
	case OpUnfollow:
		return h.handleUnfollow(ctx, sender, args)
	case OpGetFollowers:
		return h.handleGetFollowers(ctx, sender, args)
	case OpGetFollowing:
		return h.handleGetFollowing(ctx, sender, args)
	case OpBroadcast:
		return h.handleBroadcast(ctx, sender, args)
	case OpMessage:
		return h.handleMessage(ctx, sender, args)
	case OpOrder:
		return h.handleOrder(ctx, sender, args)
	case OpOrderConfirmation:
		return h.handleOrderConfirmation(ctx, sender, args)
	case OpCompleteOrder:
		return h.handleCompleteOrder(ctx, sender, args)
	case OpDisputeOpen:
		return h.handleDisputeOpen(ctx, sender, args)
	case OpDisputeClose:
		return h.handleDisputeClose(ctx, sender, args)
	case OpGetRatings:
		return h.handleGetRatings(ctx, sender, args)
	case OpRefund:
		return h.handleRefund(ctx, sender, args)
	default:
		h.log.Warnw("unhandled opcode", "opcode", opcode, "peer_guid", sender.ID)
		return rpcerr.NotFound
	}
}

// addToRoutingTable records sender as reachable - lookup/listing handlers
// call this unconditionally on entry, authentication-gated handlers only
// after their signature check passes (§4.3).
func (h *Handlers) addToRoutingTable(sender transport.Sender) {
	if h.routing != nil {
		h.routing.AddContact(sender)
	}
}

func signResponse(priv ed25519.PrivateKey, payload []byte) []byte {
	return ed25519.Sign(priv, payload)
}
