package rpc

import (
	"context"
	"crypto/ed25519"

	mbcrypto "github.com/meshbazaar/node/internal/crypto"
	"github.com/meshbazaar/node/internal/datastore"
	"github.com/meshbazaar/node/internal/identity"
	"github.com/meshbazaar/node/internal/protocolmsg"
	"github.com/meshbazaar/node/internal/rpcerr"
	"github.com/meshbazaar/node/internal/transport"
)

// handleFollow verifies sig under sender.pubkey, parses the follower
// record, requires follower.guid == sender.guid and follower.following ==
// local.guid, stores it, and notifies registered listeners with
// (sender.guid, handle, "follow", "", "", avatar_hash) (§4.3 "FOLLOW").
func (h *Handlers) handleFollow(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	if len(args) != 2 {
		return rpcerr.Rejected
	}
	serializedFollower, sig := args[0], args[1]

	if !ed25519.Verify(sender.PublicKey, serializedFollower, sig) {
		h.log.Warnw("follow rejected: bad signature", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}

	follower, err := protocolmsg.UnmarshalFollower(serializedFollower)
	if err != nil {
		h.log.Warnw("follow rejected: malformed record", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}
	if follower.Guid != sender.ID {
		h.log.Warnw("follow rejected: guid mismatch", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}
	if follower.Following != h.node.Guid {
		h.log.Warnw("follow rejected: following mismatch", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}

	record := datastore.FollowerRecord{
		Guid:      follower.Guid,
		Following: follower.Following,
		Metadata: datastore.FollowerMetadata{
			Handle:           follower.Metadata.Handle,
			AvatarHash:       follower.Metadata.AvatarHash,
			ShortDescription: follower.Metadata.ShortDescription,
			Nsfw:             follower.Metadata.Nsfw,
		},
		Signature: sig,
	}
	if err := h.store.Follows().SetFollower(record); err != nil {
		h.log.Errorw("follow: store failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}

	h.addToRoutingTable(sender)

	metadataEncoded, err := protocolmsg.MarshalMetadata(follower.Metadata)
	if err != nil {
		h.log.Errorw("follow: marshal metadata failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}

	if h.listeners != nil {
		h.listeners.NotifyAll(sender.ID, follower.Metadata.Handle, "follow", "", "", follower.Metadata.AvatarHash)
	}

	return rpcerr.Ok([]byte("True"), metadataEncoded, signResponse(h.node.Private, metadataEncoded))
}

// handleUnfollow verifies sig over "unfollow:"+local_guid under
// sender.pubkey, then deletes the follower record keyed by sender.guid
// (§4.3 "UNFOLLOW").
func (h *Handlers) handleUnfollow(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	if len(args) != 1 {
		return rpcerr.Rejected
	}
	sig := args[0]

	payload := append([]byte("unfollow:"), h.node.Guid[:]...)
	if !ed25519.Verify(sender.PublicKey, payload, sig) {
		h.log.Warnw("unfollow rejected: bad signature", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}

	if err := h.store.Follows().DeleteFollower(sender.ID); err != nil {
		h.log.Errorw("unfollow: delete failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}

	h.addToRoutingTable(sender)
	return rpcerr.Ok([]byte("True"))
}

// handleGetFollowers returns the concatenated guids of this node's
// followers; a lookup handler, so the sender is added unconditionally.
func (h *Handlers) handleGetFollowers(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	h.addToRoutingTable(sender)
	data, err := h.store.Follows().GetFollowers()
	if err != nil {
		h.log.Errorw("get_followers failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.NotFound
	}
	if data == nil {
		return rpcerr.NotFound
	}
	return rpcerr.Ok(data, signResponse(h.node.Private, data))
}

// handleGetFollowing returns the concatenated guids this node follows.
func (h *Handlers) handleGetFollowing(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	h.addToRoutingTable(sender)
	data, err := h.store.Follows().GetFollowing()
	if err != nil {
		h.log.Errorw("get_following failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.NotFound
	}
	if data == nil {
		return rpcerr.NotFound
	}
	return rpcerr.Ok(data, signResponse(h.node.Private, data))
}

// handleBroadcast accepts message only if it is at most 140 bytes and
// sender is in the local following set, then verifies sig and fans the
// message out to registered BroadcastListeners (§4.3 "BROADCAST").
func (h *Handlers) handleBroadcast(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	if len(args) != 2 {
		return rpcerr.Rejected
	}
	message, sig := args[0], args[1]

	if len(message) > maxBroadcastBytes {
		h.log.Warnw("broadcast rejected: over size bound", "peer_guid", sender.ID, "size", len(message))
		return rpcerr.Rejected
	}
	if !h.limiter.AllowGuid(sender.ID) {
		h.log.Warnw("broadcast rejected: rate limited", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}

	following, err := h.store.Follows().IsFollowing(sender.ID)
	if err != nil {
		h.log.Errorw("broadcast: following lookup failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}
	if !following {
		h.log.Warnw("broadcast rejected: sender not followed", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}

	if !ed25519.Verify(sender.PublicKey, message, sig) {
		h.log.Warnw("broadcast rejected: bad signature", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}

	h.addToRoutingTable(sender)
	if h.listeners != nil {
		h.listeners.BroadcastAll(sender.ID, message)
	}
	return rpcerr.Ok([]byte("True"))
}

// handleMessage opens the sealed box with the node's own Curve25519
// private key, parses the plaintext, clears and re-verifies its embedded
// signature, enforces the sender's proof-of-work and guid binding, and
// fans the decrypted message out to MessageListeners (§4.3 "MESSAGE").
func (h *Handlers) handleMessage(ctx context.Context, sender transport.Sender, args [][]byte) rpcerr.Outcome {
	if len(args) != 2 || len(args[0]) != 32 {
		return rpcerr.Rejected
	}
	var ephemeralPub [32]byte
	copy(ephemeralPub[:], args[0])
	ciphertext := args[1]

	if !h.limiter.AllowGuid(sender.ID) {
		h.log.Warnw("message rejected: rate limited", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}

	localPriv, err := h.node.X25519Private()
	if err != nil {
		h.log.Errorw("message: derive local x25519 key failed", "error", err)
		return rpcerr.Rejected
	}
	plaintext, err := mbcrypto.Open(&ephemeralPub, ciphertext, localPriv)
	if err != nil {
		h.log.Warnw("message rejected: open failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}

	msg, err := protocolmsg.UnmarshalPlaintextMessage(plaintext)
	if err != nil {
		h.log.Warnw("message rejected: malformed plaintext", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}

	payload, err := msg.SignedPayload()
	if err != nil {
		h.log.Errorw("message: recompute payload failed", "peer_guid", sender.ID, "error", err)
		return rpcerr.Rejected
	}
	senderPub := ed25519.PublicKey(msg.SenderPublicKey)
	if !ed25519.Verify(senderPub, payload, msg.Signature) {
		h.log.Warnw("message rejected: bad embedded signature", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}

	if !identity.SatisfiesProofOfWork(senderPub) {
		h.log.Warnw("message rejected: proof of work", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}
	senderGuid := identity.DeriveGuid(senderPub)
	if senderGuid != sender.ID {
		h.log.Warnw("message rejected: guid does not match derived value", "peer_guid", sender.ID)
		return rpcerr.Rejected
	}

	if h.listeners != nil {
		h.listeners.MessageAll(msg.Body, msg.Signature)
	}
	return rpcerr.Ok([]byte("True"))
}
