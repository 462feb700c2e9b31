package rpc

import (
	"testing"

	"go.uber.org/zap"

	"github.com/meshbazaar/node/internal/blockchain"
	"github.com/meshbazaar/node/internal/datastore"
	"github.com/meshbazaar/node/internal/identity"
	"github.com/meshbazaar/node/internal/listener"
)

// fakeProfile is a minimal Profile double for tests.
type fakeProfile struct {
	profile          []byte
	listings         []byte
	handle           string
	avatarHash       string
	shortDescription string
	nsfw             bool
}

func (f *fakeProfile) RawProfile() []byte  { return f.profile }
func (f *fakeProfile) RawListings() []byte { return f.listings }
func (f *fakeProfile) Metadata() (string, string, string, bool) {
	return f.handle, f.avatarHash, f.shortDescription, f.nsfw
}

// newTestHandlers builds a Handlers wired to a freshly-mined node identity
// and the given collaborators, with no routing table (addToRoutingTable is
// nil-safe) - tests that need one construct their own.
func newTestHandlers(t *testing.T, store datastore.Store, bc blockchain.Gateway, listeners *listener.Registry) (*Handlers, *identity.Node) {
	t.Helper()
	node, err := generateTestNode()
	if err != nil {
		t.Fatalf("generate node: %v", err)
	}
	h := NewHandlers(node, store, bc, listeners, nil, &fakeProfile{}, true, nil, nopLogger())
	return h, node
}

// generateTestNode mines a fresh identity once per call; shared across
// this package's test files.
func generateTestNode() (*identity.Node, error) {
	return identity.GenerateNode()
}

func nopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
