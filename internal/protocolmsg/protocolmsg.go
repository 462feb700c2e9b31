// Package protocolmsg implements C2, the structured message codec: stable
// field access over the Profile, Metadata, Listings, Follower, and
// PlaintextMessage message types. Per §1's scope, the actual structured
// binary encoding of Profile/Metadata/Listings is an external, opaque-byte-
// string concern - this package wraps those as opaque blobs (RawProfile,
// RawListings) while giving Follower and PlaintextMessage, whose fields the
// protocol layer inspects directly (§3, §4.3), a concrete JSON-backed
// encoding with stable, order-preserving round-trip.
package protocolmsg

import (
	"encoding/json"
	"fmt"
)

// RawProfile, RawListings are opaque byte strings with a known external
// schema (§1 Non-goals); the protocol layer never inspects their fields
// directly, only signs and relays them.
type RawProfile []byte
type RawListings []byte

// Metadata is the follower-visible profile snapshot carried by a Follower
// record and overlaid onto listings entries (§3 "Listings index").
type Metadata struct {
	Handle           string `json:"handle"`
	AvatarHash       string `json:"avatar_hash"`
	ShortDescription string `json:"short_description"`
	Nsfw             bool   `json:"nsfw"`
}

// Follower is a signed statement that Guid follows Following, with a
// metadata snapshot (§3 "Follower record").
type Follower struct {
	Guid      [20]byte `json:"guid"`
	Following [20]byte `json:"following"`
	Metadata  Metadata `json:"metadata"`
	Signature []byte   `json:"-"`
}

// followerWire is the JSON shape signed and transmitted for a Follower,
// excluding the signature field itself - §3 requires the signature to
// cover "the serialized record excluding the signature field".
type followerWire struct {
	Guid      [20]byte `json:"guid"`
	Following [20]byte `json:"following"`
	Metadata  Metadata `json:"metadata"`
}

// SignedPayload returns the exact byte string a Follower's signature is
// computed and verified over.
func (f Follower) SignedPayload() ([]byte, error) {
	encoded, err := json.Marshal(followerWire{Guid: f.Guid, Following: f.Following, Metadata: f.Metadata})
	if err != nil {
		return nil, fmt.Errorf("protocolmsg: marshal follower payload: %w", err)
	}
	return encoded, nil
}

// MarshalFollower serializes f, including its signature, for wire
// transmission.
func MarshalFollower(f Follower) ([]byte, error) {
	type wire struct {
		followerWire
		Signature []byte `json:"signature"`
	}
	encoded, err := json.Marshal(wire{followerWire: followerWire{Guid: f.Guid, Following: f.Following, Metadata: f.Metadata}, Signature: f.Signature})
	if err != nil {
		return nil, fmt.Errorf("protocolmsg: marshal follower: %w", err)
	}
	return encoded, nil
}

// UnmarshalFollower parses a wire-format Follower record produced by
// MarshalFollower (§8 round-trip law: "serialize-then-parse ... is the
// identity").
func UnmarshalFollower(data []byte) (Follower, error) {
	var wire struct {
		Guid      [20]byte `json:"guid"`
		Following [20]byte `json:"following"`
		Metadata  Metadata `json:"metadata"`
		Signature []byte   `json:"signature"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Follower{}, fmt.Errorf("protocolmsg: unmarshal follower: %w", err)
	}
	return Follower{Guid: wire.Guid, Following: wire.Following, Metadata: wire.Metadata, Signature: wire.Signature}, nil
}

// PlaintextMessage is the decrypted payload of a MESSAGE RPC (§4.3): the
// sender's claimed public key, the message body, and an embedded signature
// over the body computed under that public key. The handler clears the
// signature field before recomputing the signed serialization, matching
// §4.3's "extract embedded signature, clear it, verify serialization".
type PlaintextMessage struct {
	SenderPublicKey []byte `json:"sender_pubkey"`
	Body            []byte `json:"body"`
	Signature       []byte `json:"-"`
}

type plaintextWire struct {
	SenderPublicKey []byte `json:"sender_pubkey"`
	Body            []byte `json:"body"`
}

// SignedPayload returns the byte string PlaintextMessage.Signature is
// computed and verified over (the message with its signature field
// cleared).
func (m PlaintextMessage) SignedPayload() ([]byte, error) {
	encoded, err := json.Marshal(plaintextWire{SenderPublicKey: m.SenderPublicKey, Body: m.Body})
	if err != nil {
		return nil, fmt.Errorf("protocolmsg: marshal plaintext message payload: %w", err)
	}
	return encoded, nil
}

// MarshalPlaintextMessage serializes m including its embedded signature.
func MarshalPlaintextMessage(m PlaintextMessage) ([]byte, error) {
	type wire struct {
		plaintextWire
		Signature []byte `json:"signature"`
	}
	encoded, err := json.Marshal(wire{plaintextWire: plaintextWire{SenderPublicKey: m.SenderPublicKey, Body: m.Body}, Signature: m.Signature})
	if err != nil {
		return nil, fmt.Errorf("protocolmsg: marshal plaintext message: %w", err)
	}
	return encoded, nil
}

// UnmarshalPlaintextMessage parses a wire-format PlaintextMessage.
func UnmarshalPlaintextMessage(data []byte) (PlaintextMessage, error) {
	var wire struct {
		SenderPublicKey []byte `json:"sender_pubkey"`
		Body            []byte `json:"body"`
		Signature       []byte `json:"signature"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return PlaintextMessage{}, fmt.Errorf("protocolmsg: unmarshal plaintext message: %w", err)
	}
	return PlaintextMessage{SenderPublicKey: wire.SenderPublicKey, Body: wire.Body, Signature: wire.Signature}, nil
}

// MarshalMetadata serializes a standalone Metadata for GET_USER_METADATA.
func MarshalMetadata(m Metadata) ([]byte, error) {
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocolmsg: marshal metadata: %w", err)
	}
	return encoded, nil
}

// UnmarshalMetadata parses a standalone Metadata blob.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("protocolmsg: unmarshal metadata: %w", err)
	}
	return m, nil
}
