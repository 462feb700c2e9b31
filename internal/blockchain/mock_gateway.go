package blockchain

import "sync"

// MockGateway is an in-memory Gateway used by this module's test suites
// (contract, refund, rpc) to simulate funding notifications and broadcasts
// without a real Bitcoin node.
type MockGateway struct {
	mu sync.Mutex

	testnet    bool
	watches    map[string]func(FundingEvent)
	Broadcasts [][]byte
	NextTxHash string
}

// NewMockGateway returns a MockGateway configured for mainnet or testnet3.
func NewMockGateway(testnet bool) *MockGateway {
	return &MockGateway{
		testnet:    testnet,
		watches:    make(map[string]func(FundingEvent)),
		NextTxHash: "deadbeef",
	}
}

func (m *MockGateway) WatchAddress(address string, onFunding func(FundingEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watches[address] = onFunding
	return nil
}

func (m *MockGateway) Broadcast(signedTx []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Broadcasts = append(m.Broadcasts, signedTx)
	return m.NextTxHash, nil
}

func (m *MockGateway) Testnet() bool { return m.testnet }

// Fire simulates the blockchain observing confirmed value at address,
// invoking whatever callback WatchAddress registered for it.
func (m *MockGateway) Fire(address string, value int64) {
	m.mu.Lock()
	cb := m.watches[address]
	m.mu.Unlock()
	if cb != nil {
		cb(FundingEvent{Address: address, ConfirmedValue: value})
	}
}
