package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreFollowLifecycle(t *testing.T) {
	store := NewMemoryStore("")
	var guid [20]byte
	guid[0] = 0x01
	var local [20]byte
	local[0] = 0x02

	record := FollowerRecord{Guid: guid, Following: local, Metadata: FollowerMetadata{Handle: "alice"}}
	require.NoError(t, store.Follows().SetFollower(record))

	following, err := store.Follows().IsFollowing(local)
	require.NoError(t, err)
	assert.False(t, following, "guid follows local, not the other way around")

	followersBlob, err := store.Follows().GetFollowers()
	require.NoError(t, err)
	assert.Contains(t, string(followersBlob), string(guid[:]))

	require.NoError(t, store.Follows().DeleteFollower(guid))
	isFollowingAfterDelete, err := store.Follows().IsFollowing(guid)
	require.NoError(t, err)
	assert.False(t, isFollowingAfterDelete)
}

func TestMemoryStoreListingsLookup(t *testing.T) {
	store := NewMemoryStore("")
	store.PutListing(ListingEntry{ContractHash: "abc123", Title: "Widget"})

	entry, found, err := store.Listings().FindByContractHash("abc123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Widget", entry.Title)

	_, found, err = store.Listings().FindByContractHash("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreRatings(t *testing.T) {
	store := NewMemoryStore("")
	store.PutRating(Rating{ListingHash: "L1", Score: 5})
	store.PutRating(Rating{ListingHash: "L1", Score: 4})
	store.PutRating(Rating{ListingHash: "L2", Score: 3})

	rows, err := store.Ratings().GetListingRatings("L1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	all, err := store.Ratings().GetAllRatings()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStoreSaleMoveToTradeReceipts(t *testing.T) {
	dataRoot := t.TempDir()
	store := NewMemoryStore(dataRoot)

	require.NoError(t, store.PutSale(SaleRecord{OrderID: "order-1", Status: 3, OrderJSON: []byte(`{"status":"in progress"}`)}))

	inProgressPath := filepath.Join(dataRoot, "purchases", "in progress", "order-1.json")
	assert.FileExists(t, inProgressPath)

	require.NoError(t, store.Sales().UpdateStatus("order-1", SaleStatusRefunded))
	require.NoError(t, store.Sales().MoveToTradeReceipts("order-1", []byte(`{"status":"refunded"}`)))

	receiptPath := filepath.Join(dataRoot, "purchases", "trade receipts", "order-1.json")
	assert.FileExists(t, receiptPath)
	assert.NoFileExists(t, inProgressPath)

	loaded, err := store.Sales().GetOutpoint("order-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryStoreSalesNotFound(t *testing.T) {
	store := NewMemoryStore("")
	_, err := store.Sales().GetOutpoint("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}
