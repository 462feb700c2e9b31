// Package node wires the protocol's collaborators into one running node:
// the RPC handler set (C6), its outgoing client stubs (C7), the inbound
// processor that advertises them to the transport (C9), and an audit
// trail over every order/dispute/refund lifecycle transition, plus the
// concurrent funding-watch resumption a restarted node needs (§5).
package node

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meshbazaar/node/internal/audit"
	"github.com/meshbazaar/node/internal/blockchain"
	"github.com/meshbazaar/node/internal/client"
	"github.com/meshbazaar/node/internal/contract"
	"github.com/meshbazaar/node/internal/datastore"
	"github.com/meshbazaar/node/internal/identity"
	"github.com/meshbazaar/node/internal/listener"
	"github.com/meshbazaar/node/internal/processor"
	"github.com/meshbazaar/node/internal/rpc"
	"github.com/meshbazaar/node/internal/transport"
)

// Node binds one running node's identity, storage, blockchain gateway,
// listener registry, RPC handler set, client stubs, and processor into a
// single value constructed once at startup (§2.1).
type Node struct {
	Identity  *identity.Node
	Store     datastore.Store
	Gateway   blockchain.Gateway
	Listeners *listener.Registry
	Handlers  *rpc.Handlers
	Client    *client.Client
	Processor *processor.Processor
	Audit     *audit.Logger

	testnet bool
	log     *zap.SugaredLogger
}

// Config bundles the collaborators New needs to assemble a Node.
type Config struct {
	Identity               *identity.Node
	Store                  datastore.Store
	Gateway                blockchain.Gateway
	Routing                transport.RoutingTable
	Caller                 transport.Caller
	Profile                rpc.Profile
	Testnet                bool
	EscrowMasterPrivateKey []byte
	AuditLogPath           string
	Log                    *zap.SugaredLogger
}

// New assembles a Node from cfg: it opens the audit log, builds the
// listener registry with an audit-logging notification sink installed
// first, then constructs the handler set, client, and processor over it.
// Handlers that notify through the registry's first notification sink
// (ORDER, ORDER_CONFIRMATION, COMPLETE_ORDER, DISPUTE_OPEN, DISPUTE_CLOSE,
// REFUND) therefore reach only the audit sink; FOLLOW and the resumed
// funding watches notify every registered notification listener.
func New(cfg Config) (*Node, error) {
	auditLog, err := audit.NewLogger(cfg.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("node: open audit log: %w", err)
	}

	n := &Node{
		Identity:  cfg.Identity,
		Store:     cfg.Store,
		Gateway:   cfg.Gateway,
		Listeners: listener.NewRegistry(),
		Audit:     auditLog,
		testnet:   cfg.Testnet,
		log:       cfg.Log.With("component", "node"),
	}
	n.Listeners.Add(listener.AsNotification(n.auditingNotifier()))

	n.Handlers = rpc.NewHandlers(cfg.Identity, cfg.Store, cfg.Gateway, n.Listeners, cfg.Routing, cfg.Profile, cfg.Testnet, cfg.EscrowMasterPrivateKey, cfg.Log)
	n.Client = client.New(cfg.Caller, cfg.Routing, cfg.Log)
	n.Processor = processor.New(n.Handlers, cfg.Log)

	return n, nil
}

// Register advertises this node's handled opcodes to d (§4.7).
func (n *Node) Register(d transport.Dispatcher) {
	n.Processor.Register(d)
}

// AddListener registers an additional listener (e.g. a UI-facing
// notification sink) alongside the audit-logging one installed by New.
func (n *Node) AddListener(l listener.Listener) {
	n.Listeners.Add(l)
}

// auditingNotifier wraps every notification kind the commerce handlers
// emit (§4.2-§4.4) with a durable audit-log entry before any other
// registered listener sees it, so the order/dispute/refund lifecycle
// leaves a record independent of the datastore's in-place mutation.
func (n *Node) auditingNotifier() listener.NotificationSink {
	return func(guid [20]byte, handle, kind, subID, title, imageHash string) {
		op, ok := auditOperation(kind)
		if !ok {
			return
		}
		entry := audit.OrderLogEntry{
			ID:         fmt.Sprintf("%x-%d", guid, time.Now().UnixNano()),
			OrderID:    subID,
			Timestamp:  time.Now(),
			Operation:  op,
			Status:     "SUCCESS",
			PeerGuid:   fmt.Sprintf("%x", guid),
			PeerHandle: handle,
		}
		if err := n.Audit.LogOperation(entry); err != nil {
			n.log.Errorw("audit log write failed", "order_id", subID, "operation", op, "error", err)
		}
	}
}

// auditOperation maps a listener.NotificationSink kind (§4.6) to the
// audit operation it represents: the order, dispute and refund kinds and
// "follow" are recorded; any other kind returns ok=false and is skipped.
func auditOperation(kind string) (op string, ok bool) {
	switch kind {
	case "new order":
		return audit.OpFunded, true
	case "order confirmed":
		return audit.OpOrderConfirmed, true
	case "order completed":
		return audit.OpOrderCompleted, true
	case "dispute opened":
		return audit.OpDisputeOpened, true
	case "dispute closed":
		return audit.OpDisputeClosed, true
	case "refund":
		return audit.OpRefundIssued, true
	case "follow":
		return audit.OpFollowed, true
	default:
		return "", false
	}
}

// FundingWatch is one persisted in-progress sale to resume a funding watch
// for on startup.
type FundingWatch struct {
	OrderJSON       []byte
	SellerSignature []byte
	IsBuyer         bool
}

// ResumeFundingWatches re-registers a blockchain funding watch for every
// entry in watches, fanning the registrations out concurrently via
// errgroup so a slow WatchAddress call for one order never delays the
// rest (§5 "Long-running operations ... delegated asynchronously"). A
// single order's parse or registration failure is logged and skipped
// rather than aborting the remaining fan-out.
func (n *Node) ResumeFundingWatches(ctx context.Context, watches []FundingWatch) error {
	group, _ := errgroup.WithContext(ctx)
	notify := listener.NotificationSink(n.Listeners.NotifyAll)

	for _, w := range watches {
		group.Go(func() error {
			c, err := contract.Parse(w.OrderJSON, n.testnet)
			if err != nil {
				n.log.Errorw("resume funding watch: parse order failed", "error", err)
				return nil
			}
			if err := c.AwaitFunding(notify, n.Gateway, w.SellerSignature, w.IsBuyer); err != nil {
				n.log.Errorw("resume funding watch: register watch failed", "order_id", c.OrderID(), "error", err)
			}
			return nil
		})
	}
	return group.Wait()
}

// ResumeStoredFundingWatches loads every sale still awaiting funding from
// the datastore and resumes a watch for each, concurrently (§6 "Datastore
// contract", §5).
func (n *Node) ResumeStoredFundingWatches(ctx context.Context) error {
	records, err := n.Store.Sales().ListInProgress()
	if err != nil {
		return fmt.Errorf("node: list in-progress sales: %w", err)
	}
	watches := make([]FundingWatch, len(records))
	for i, r := range records {
		watches[i] = FundingWatch{OrderJSON: r.OrderJSON}
	}
	return n.ResumeFundingWatches(ctx, watches)
}
