// Package client implements C7: the outgoing RPC stubs every opcode in
// rpc.HandledCommands gets a call<Name>(peer, args…) counterpart for (§4.5).
// Each stub invokes the transport's correlated request primitive
// (transport.Caller) and chains the completion behavior §4.5 prescribes:
// a truthy first response element marks the peer reachable and adds it to
// the routing table, an empty/timeout response evicts it.
package client

import (
	"context"

	"go.uber.org/zap"

	"github.com/meshbazaar/node/internal/rpc"
	"github.com/meshbazaar/node/internal/transport"
)

// Client issues outgoing RPC calls on behalf of this node, feeding every
// completion back into the DHT routing table (§4.5, §5 "Shared resources").
type Client struct {
	caller  transport.Caller
	routing transport.RoutingTable
	log     *zap.SugaredLogger
}

// New constructs a Client over caller, recording liveness/unreachability in
// routing. routing may be nil for callers that only need the response tuple
// and don't maintain a DHT (e.g. a one-shot bootstrap probe).
func New(caller transport.Caller, routing transport.RoutingTable, log *zap.SugaredLogger) *Client {
	return &Client{caller: caller, routing: routing, log: log.With("component", "client")}
}

// call is the shared completion behavior behind every generated stub: issue
// the request, and on return (success or transport-level error) update the
// routing table from the response's truthiness (§4.5, §7(e)).
func (c *Client) call(ctx context.Context, peer transport.Sender, opcode string, args ...[]byte) (transport.Response, error) {
	resp, err := c.caller.Call(ctx, peer, opcode, args...)
	if err != nil {
		c.log.Warnw("rpc call failed", "opcode", opcode, "peer_guid", peer.ID, "error", err)
		if c.routing != nil {
			c.routing.RemoveContact(peer)
		}
		return nil, err
	}

	if c.routing != nil {
		if resp.Truthy() {
			c.routing.AddContact(peer)
		} else {
			c.routing.RemoveContact(peer)
		}
	}
	return resp, nil
}

// CallGetContract invokes GET_CONTRACT against peer for contractHash.
func (c *Client) CallGetContract(ctx context.Context, peer transport.Sender, contractHash []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpGetContract, contractHash)
}

// CallGetImage invokes GET_IMAGE against peer for imageHash.
func (c *Client) CallGetImage(ctx context.Context, peer transport.Sender, imageHash []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpGetImage, imageHash)
}

// CallGetProfile invokes GET_PROFILE against peer.
func (c *Client) CallGetProfile(ctx context.Context, peer transport.Sender) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpGetProfile)
}

// CallGetUserMetadata invokes GET_USER_METADATA against peer.
func (c *Client) CallGetUserMetadata(ctx context.Context, peer transport.Sender) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpGetUserMetadata)
}

// CallGetListings invokes GET_LISTINGS against peer.
func (c *Client) CallGetListings(ctx context.Context, peer transport.Sender) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpGetListings)
}

// CallGetContractMetadata invokes GET_CONTRACT_METADATA against peer for
// contractHash.
func (c *Client) CallGetContractMetadata(ctx context.Context, peer transport.Sender, contractHash []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpGetContractMetadata, contractHash)
}

// CallFollow invokes FOLLOW against peer with the signed follower record.
func (c *Client) CallFollow(ctx context.Context, peer transport.Sender, followerRecord []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpFollow, followerRecord)
}

// CallUnfollow invokes UNFOLLOW against peer, identifying the follower by
// guid.
func (c *Client) CallUnfollow(ctx context.Context, peer transport.Sender, guid []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpUnfollow, guid)
}

// CallGetFollowers invokes GET_FOLLOWERS against peer.
func (c *Client) CallGetFollowers(ctx context.Context, peer transport.Sender) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpGetFollowers)
}

// CallGetFollowing invokes GET_FOLLOWING against peer.
func (c *Client) CallGetFollowing(ctx context.Context, peer transport.Sender) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpGetFollowing)
}

// CallBroadcast invokes BROADCAST against peer with a signed message under
// the 140-byte bound (§4.3); the bound is enforced server-side, not here.
func (c *Client) CallBroadcast(ctx context.Context, peer transport.Sender, signedMessage []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpBroadcast, signedMessage)
}

// CallMessage invokes MESSAGE against peer with the sealed-box arguments.
func (c *Client) CallMessage(ctx context.Context, peer transport.Sender, ephemeralPub, ciphertext []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpMessage, ephemeralPub, ciphertext)
}

// CallOrder invokes ORDER against peer with the sealed-box arguments.
func (c *Client) CallOrder(ctx context.Context, peer transport.Sender, ephemeralPub, ciphertext []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpOrder, ephemeralPub, ciphertext)
}

// CallOrderConfirmation invokes ORDER_CONFIRMATION against peer with the
// sealed-box arguments.
func (c *Client) CallOrderConfirmation(ctx context.Context, peer transport.Sender, ephemeralPub, ciphertext []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpOrderConfirmation, ephemeralPub, ciphertext)
}

// CallCompleteOrder invokes COMPLETE_ORDER against peer with the sealed-box
// arguments.
func (c *Client) CallCompleteOrder(ctx context.Context, peer transport.Sender, ephemeralPub, ciphertext []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpCompleteOrder, ephemeralPub, ciphertext)
}

// CallDisputeOpen invokes DISPUTE_OPEN against peer with the sealed-box
// arguments.
func (c *Client) CallDisputeOpen(ctx context.Context, peer transport.Sender, ephemeralPub, ciphertext []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpDisputeOpen, ephemeralPub, ciphertext)
}

// CallDisputeClose invokes DISPUTE_CLOSE against peer with the sealed-box
// arguments.
func (c *Client) CallDisputeClose(ctx context.Context, peer transport.Sender, ephemeralPub, ciphertext []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpDisputeClose, ephemeralPub, ciphertext)
}

// CallGetRatings invokes GET_RATINGS against peer for listingHash.
func (c *Client) CallGetRatings(ctx context.Context, peer transport.Sender, listingHash []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpGetRatings, listingHash)
}

// CallRefund invokes REFUND against peer with the sealed-box arguments.
func (c *Client) CallRefund(ctx context.Context, peer transport.Sender, ephemeralPub, ciphertext []byte) (transport.Response, error) {
	return c.call(ctx, peer, rpc.OpRefund, ephemeralPub, ciphertext)
}
