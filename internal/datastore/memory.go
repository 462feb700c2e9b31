package datastore

import (
	"fmt"
	"sync"

	"github.com/meshbazaar/node/internal/storage"
)

// MemoryStore is an in-memory Store used by tests (no durable backend is
// included in this module). Sale records are additionally
// mirrored to the given data-folder root under `purchases/in progress`
// and `purchases/trade receipts`, matching §6's file layout, so
// MoveToTradeReceipts exercises the same crash-safe move the real
// datastore would.
type MemoryStore struct {
	mu sync.Mutex

	files     map[string]string
	followers map[[20]byte]FollowerRecord
	listings  []ListingEntry
	ratings   map[string][]Rating
	sales     map[string]*SaleRecord

	dataRoot string
}

// NewMemoryStore returns an empty in-memory store rooted at dataRoot for
// its sale-file mirror (pass "" to skip file mirroring entirely, useful in
// unit tests that don't touch the filesystem).
func NewMemoryStore(dataRoot string) *MemoryStore {
	return &MemoryStore{
		files:     make(map[string]string),
		followers: make(map[[20]byte]FollowerRecord),
		ratings:   make(map[string][]Rating),
		sales:     make(map[string]*SaleRecord),
		dataRoot:  dataRoot,
	}
}

func (m *MemoryStore) Files() FileMap         { return (*memoryFileMap)(m) }
func (m *MemoryStore) Follows() FollowStore   { return (*memoryFollowStore)(m) }
func (m *MemoryStore) Listings() ListingsStore { return (*memoryListingsStore)(m) }
func (m *MemoryStore) Ratings() RatingsStore  { return (*memoryRatingsStore)(m) }
func (m *MemoryStore) Sales() SalesStore      { return (*memorySalesStore)(m) }

// PutFile registers a content hash -> local path mapping for tests.
func (m *MemoryStore) PutFile(hexHash, localPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[hexHash] = localPath
}

// PutListing seeds a listings index entry for tests.
func (m *MemoryStore) PutListing(entry ListingEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings = append(m.listings, entry)
}

// PutRating seeds a ratings row for tests.
func (m *MemoryStore) PutRating(r Rating) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[r.ListingHash] = append(m.ratings[r.ListingHash], r)
}

// PutSale seeds a sale record (and, if dataRoot is set, its in-progress
// order file) for tests.
func (m *MemoryStore) PutSale(record SaleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copyRecord := record
	m.sales[record.OrderID] = &copyRecord

	if m.dataRoot == "" {
		return nil
	}
	path := fmt.Sprintf("%s/purchases/in progress/%s.json", m.dataRoot, record.OrderID)
	return storage.AtomicWriteFile(path, record.OrderJSON, 0o600)
}

type memoryFileMap MemoryStore

func (m *memoryFileMap) GetFile(hexHash string) (string, error) {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	path, ok := base.files[hexHash]
	if !ok {
		return "", ErrNotFound
	}
	return path, nil
}

type memoryFollowStore MemoryStore

func (m *memoryFollowStore) SetFollower(record FollowerRecord) error {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	base.followers[record.Guid] = record
	return nil
}

func (m *memoryFollowStore) DeleteFollower(guid [20]byte) error {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	delete(base.followers, guid)
	return nil
}

func (m *memoryFollowStore) IsFollowing(guid [20]byte) (bool, error) {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	record, ok := base.followers[guid]
	return ok && record.Following == guid, nil
}

func (m *memoryFollowStore) GetFollowers() ([]byte, error) {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	var out []byte
	for guid := range base.followers {
		out = append(out, guid[:]...)
	}
	return out, nil
}

func (m *memoryFollowStore) GetFollowing() ([]byte, error) {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	var out []byte
	for _, record := range base.followers {
		out = append(out, record.Following[:]...)
	}
	return out, nil
}

type memoryListingsStore MemoryStore

func (m *memoryListingsStore) GetProto() ([]byte, error) {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	var out []byte
	for _, l := range base.listings {
		out = append(out, l.Raw...)
	}
	return out, nil
}

func (m *memoryListingsStore) FindByContractHash(contractHash string) (ListingEntry, bool, error) {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	for _, l := range base.listings {
		if l.ContractHash == contractHash {
			return l, true, nil
		}
	}
	return ListingEntry{}, false, nil
}

type memoryRatingsStore MemoryStore

func (m *memoryRatingsStore) GetListingRatings(listingHash string) ([]Rating, error) {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	return append([]Rating(nil), base.ratings[listingHash]...), nil
}

func (m *memoryRatingsStore) GetAllRatings() ([]Rating, error) {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	var out []Rating
	for _, rows := range base.ratings {
		out = append(out, rows...)
	}
	return out, nil
}

type memorySalesStore MemoryStore

func (m *memorySalesStore) CreateInProgress(orderID string, orderJSON, outpointBlob []byte) error {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	if _, exists := base.sales[orderID]; exists {
		return fmt.Errorf("datastore: sale %s already exists", orderID)
	}
	base.sales[orderID] = &SaleRecord{
		OrderID:      orderID,
		Status:       0,
		OutpointBlob: outpointBlob,
		OrderJSON:    orderJSON,
	}

	if base.dataRoot == "" {
		return nil
	}
	path := fmt.Sprintf("%s/purchases/in progress/%s.json", base.dataRoot, orderID)
	if err := storage.AtomicWriteFile(path, orderJSON, 0o600); err != nil {
		return fmt.Errorf("datastore: create in-progress record: %w", err)
	}
	return nil
}

func (m *memorySalesStore) GetOutpoint(orderID string) ([]byte, error) {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	record, ok := base.sales[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return record.OutpointBlob, nil
}

func (m *memorySalesStore) UpdateStatus(orderID string, code int) error {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	record, ok := base.sales[orderID]
	if !ok {
		return ErrNotFound
	}
	record.Status = code
	return nil
}

func (m *memorySalesStore) LoadInProgressOrder(orderID string) ([]byte, error) {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	record, ok := base.sales[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return record.OrderJSON, nil
}

func (m *memorySalesStore) PersistInProgress(orderID string, updatedOrderJSON []byte) error {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	record, ok := base.sales[orderID]
	if !ok {
		return ErrNotFound
	}
	record.OrderJSON = updatedOrderJSON

	if base.dataRoot == "" {
		return nil
	}
	path := fmt.Sprintf("%s/purchases/in progress/%s.json", base.dataRoot, orderID)
	if err := storage.AtomicWriteFile(path, updatedOrderJSON, 0o600); err != nil {
		return fmt.Errorf("datastore: persist in-progress record: %w", err)
	}
	return nil
}

func (m *memorySalesStore) ListInProgress() ([]SaleRecord, error) {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	var out []SaleRecord
	for _, record := range base.sales {
		if record.Status == 0 {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (m *memorySalesStore) MoveToTradeReceipts(orderID string, updatedOrderJSON []byte) error {
	base := (*MemoryStore)(m)
	base.mu.Lock()
	defer base.mu.Unlock()
	record, ok := base.sales[orderID]
	if !ok {
		return ErrNotFound
	}
	record.OrderJSON = updatedOrderJSON

	if base.dataRoot == "" {
		return nil
	}
	oldPath := fmt.Sprintf("%s/purchases/in progress/%s.json", base.dataRoot, orderID)
	newPath := fmt.Sprintf("%s/purchases/trade receipts/%s.json", base.dataRoot, orderID)

	// Write the updated record to its current (in-progress) location first,
	// then relocate it with storage.MoveFile's write-then-delete pattern so
	// a crash mid-move never loses the record.
	if err := storage.AtomicWriteFile(oldPath, updatedOrderJSON, 0o600); err != nil {
		return fmt.Errorf("datastore: write updated in-progress record: %w", err)
	}
	if err := storage.MoveFile(oldPath, newPath, 0o600); err != nil {
		return fmt.Errorf("datastore: move to trade receipts: %w", err)
	}
	return nil
}
