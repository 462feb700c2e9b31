// Package datastore defines the storage contract the RPC handlers and
// refund flow depend on (§6 "Datastore contract"): named buckets for the
// file map, follow records, listings, ratings, and sales state. The
// concrete persistence mechanism is out of scope (§1) - this package only
// specifies the interface, plus an in-memory reference implementation used
// by tests; no durable backend is included.
package datastore

import "errors"

// ErrNotFound is returned by bucket lookups when no record matches.
var ErrNotFound = errors.New("datastore: not found")

// Rating is one parsed ratings row, re-emitted as a JSON array element by
// GET_RATINGS (§4.3).
type Rating struct {
	ListingHash string
	Buyer       string
	Score       int
	Review      string
}

// FollowerRecord is the persisted form of a Follower (§3).
type FollowerRecord struct {
	Guid      [20]byte
	Following [20]byte
	Metadata  FollowerMetadata
	Signature []byte
}

// FollowerMetadata is the snapshot of follower-visible profile fields
// carried in a FollowerRecord.
type FollowerMetadata struct {
	Handle            string
	AvatarHash        string
	ShortDescription  string
	Nsfw              bool
}

// FileMap resolves content hashes to local blob paths (GET_IMAGE).
type FileMap interface {
	GetFile(hexHash string) (localPath string, err error)
}

// FollowStore is the follow/following bucket (FOLLOW, UNFOLLOW,
// GET_FOLLOWERS, GET_FOLLOWING).
type FollowStore interface {
	SetFollower(record FollowerRecord) error
	DeleteFollower(guid [20]byte) error
	IsFollowing(guid [20]byte) (bool, error)
	GetFollowers() ([]byte, error)
	GetFollowing() ([]byte, error)
}

// ListingEntry is one row of the listings index (§3 "Listings index").
type ListingEntry struct {
	ContractHash string
	Title        string
	ImageHashes  []string
	Raw          []byte
}

// ListingsStore is the listings index bucket (GET_LISTINGS,
// GET_CONTRACT_METADATA).
type ListingsStore interface {
	GetProto() ([]byte, error)
	FindByContractHash(contractHash string) (ListingEntry, bool, error)
}

// RatingsStore is the ratings bucket (GET_RATINGS).
type RatingsStore interface {
	GetListingRatings(listingHash string) ([]Rating, error)
	GetAllRatings() ([]Rating, error)
}

// SaleRecord is the persisted state of one sale/order used by the refund
// flow (§4.4).
type SaleRecord struct {
	OrderID      string
	Status       int
	OutpointBlob []byte
	OrderJSON    []byte
}

// Sale status codes (§3 "Sale status"). SaleStatusRefunded and
// SaleStatusDisputeClosed are the two terminal codes the protocol
// transitions a sale to; the rest of the enumeration (pending, funded,
// shipped, ...) lives outside this package's contract.
const (
	SaleStatusDisputed      = 6
	SaleStatusRefunded      = 7
	SaleStatusDisputeClosed = 8
)

// SalesStore is the sales bucket (REFUND, ORDER_CONFIRMATION,
// COMPLETE_ORDER, DISPUTE_*).
type SalesStore interface {
	// CreateInProgress starts tracking a new sale, created by ORDER (§3
	// "Lifecycles"). Its initial status is 0 (pending); outpointBlob may be
	// nil if the escrow address has not yet been funded.
	CreateInProgress(orderID string, orderJSON, outpointBlob []byte) error
	GetOutpoint(orderID string) ([]byte, error)
	UpdateStatus(orderID string, code int) error
	LoadInProgressOrder(orderID string) ([]byte, error)
	// PersistInProgress overwrites the in-progress order record without
	// moving it between buckets - used by non-terminal transitions such as
	// DISPUTE_OPEN that extend the contract but don't yet close the sale.
	PersistInProgress(orderID string, updatedOrderJSON []byte) error
	MoveToTradeReceipts(orderID string, updatedOrderJSON []byte) error
	// ListInProgress returns every sale still awaiting funding (status 0),
	// used on node startup to re-register funding watches for orders that
	// were created before the last restart.
	ListInProgress() ([]SaleRecord, error)
}

// Store bundles all buckets a node needs, matching §6's contract.
type Store interface {
	Files() FileMap
	Follows() FollowStore
	Listings() ListingsStore
	Ratings() RatingsStore
	Sales() SalesStore
}
