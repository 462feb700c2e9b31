// Package blockchain defines the contract the Contract object and refund
// flow consume from the Bitcoin node / blockchain gateway collaborator
// (§6 "Blockchain contract"). The gateway itself - UTXO indexing, mempool
// monitoring, peer connectivity - is out of scope (§1); only the boundary
// is modeled here, same as internal/transport and internal/datastore.
package blockchain

// FundingEvent is delivered to a watch's callback once a watched address
// accumulates sufficient confirmed value.
type FundingEvent struct {
	Address         string
	ConfirmedValue  int64
	TransactionHash string
}

// Gateway is the external blockchain collaborator.
type Gateway interface {
	// WatchAddress registers an asynchronous watch on address; onFunding
	// is invoked (possibly more than once, as confirmations accrue) with
	// the latest observed confirmed value. Callers are responsible for
	// idempotence across repeated invocations (§4.2 await_funding).
	WatchAddress(address string, onFunding func(FundingEvent)) error

	// Broadcast relays a fully-signed raw transaction to the network.
	Broadcast(signedTx []byte) (txHash string, err error)

	// Testnet reports whether this gateway is configured for testnet3
	// rather than mainnet - threaded into every Contract construction
	// (§7 "node advertises a testnet flag").
	Testnet() bool
}
