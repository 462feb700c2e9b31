// Package processor implements C9: the adapter that advertises
// rpc.HandledCommands to the transport and routes every inbound
// (opcode, sender, args) tuple to the handler set (§4.7).
package processor

import (
	"context"

	"go.uber.org/zap"

	"github.com/meshbazaar/node/internal/rpc"
	"github.com/meshbazaar/node/internal/transport"
)

// Processor wraps one rpc.Handlers as a transport.Dispatcher target.
type Processor struct {
	handlers *rpc.Handlers
	log      *zap.SugaredLogger
}

// New constructs a Processor over handlers.
func New(handlers *rpc.Handlers, log *zap.SugaredLogger) *Processor {
	return &Processor{handlers: handlers, log: log.With("component", "processor")}
}

// HandledCommands returns the opcodes this processor advertises, in the
// §4.3 table order - iterating it yields the same sequence the processor
// registers with the transport (§4.7).
func (p *Processor) HandledCommands() []string {
	return rpc.HandledCommands
}

// Register advertises HandledCommands to d, routing every inbound request
// the transport delivers for one of them to the wrapped handler set's
// Handle method (§4.7, §6 "register_processor").
func (p *Processor) Register(d transport.Dispatcher) {
	d.RegisterProcessor(p.HandledCommands(), p.dispatch)
}

func (p *Processor) dispatch(ctx context.Context, opcode string, sender transport.Sender, args [][]byte) transport.Response {
	p.log.Debugw("dispatching inbound rpc", "opcode", opcode, "peer_guid", sender.ID)
	return p.handlers.Handle(ctx, opcode, sender, args)
}
