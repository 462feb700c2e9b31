// Package transport defines the contracts the RPC layer consumes from the
// underlying UDP transport and DHT routing table (§6 "Transport contract").
// The wire framing, retransmission, and request/response correlation are
// explicitly out of scope (§1 Non-goals) - only the boundary the protocol
// layer depends on is modeled here.
package transport

import "context"

// Sender is the transport-authenticated descriptor of an inbound RPC's
// caller: a guid, an Ed25519 verify key, and a network address. The
// transport is trusted to have already bound guid to pubkey before
// delivering a request - C6 handlers build on that trust but still apply
// their own protocol-level authentication (signatures, PoW).
type Sender struct {
	ID             [20]byte
	PublicKey      []byte
	NetworkAddress string
}

// RoutingTable is the DHT contact list the transport maintains. Handlers
// and client-stub completions add or remove peers from it based on
// observed liveness (§4.5, §4.3).
type RoutingTable interface {
	AddContact(sender Sender)
	RemoveContact(sender Sender)
}

// Response is the wire tuple returned by a remote RPC call: an ordered
// sequence of byte strings, or nil on timeout/failure.
type Response [][]byte

// Truthy reports whether the response counts as a "reachable" result for
// routing-table feedback purposes (§4.5): a non-nil, non-empty-first-
// element response.
func (r Response) Truthy() bool {
	return len(r) > 0 && len(r[0]) > 0
}

// Caller issues outgoing correlated RPC calls and resolves a Response (or
// nil on timeout) once the transport receives a reply or its deadline
// fires - the "Future<response_tuple>" primitive named in §6.
type Caller interface {
	Call(ctx context.Context, peer Sender, opcode string, args ...[]byte) (Response, error)
}

// Dispatcher is what `register_processor` registers against: inbound
// (opcode, sender, args) tuples routed to the matching handler.
type Dispatcher interface {
	RegisterProcessor(handledOpcodes []string, dispatch func(ctx context.Context, opcode string, sender Sender, args [][]byte) Response)
}
