package correlator

import (
	"context"

	"github.com/kandev/agentbridge/internal/bridge/agentproto"
	"github.com/kandev/agentbridge/internal/bridge/transport"
	"github.com/kandev/agentbridge/internal/common/tracing"
)

// Correlator owns both of the spec's two directional tables: bridge→agent
// (initialize, interrupt, mode/model changes, MCP operations, ...) and
// agent→bridge (permission queries, hook callbacks). The tables never share
// a namespace — each allocates its own request identifiers.
type Correlator struct {
	toAgent   *Table[*agentproto.IncomingControlResponse]
	fromAgent *Table[struct{}] // tracks in-flight handling of an agent-issued request, for Cancel
	t         *transport.Transport
}

// New constructs a Correlator bound to a transport for writing outgoing
// control requests and responses.
func New(t *transport.Transport) *Correlator {
	return &Correlator{
		toAgent:   NewTable[*agentproto.IncomingControlResponse](),
		fromAgent: NewTable[struct{}](),
		t:         t,
	}
}

// SendToAgent writes a bridge-issued control request and blocks until the
// matching control response arrives (or ctx is cancelled), returning it. Each
// call is wrapped in a span named bridge.to_agent.<subtype> (spec §2 AMBIENT
// STACK tracing).
func (c *Correlator) SendToAgent(ctx context.Context, body agentproto.OutgoingControlRequestBody) (*agentproto.IncomingControlResponse, error) {
	ctx, span := tracing.Tracer("agentbridge/correlator").Start(ctx, "bridge.to_agent."+body.Subtype)
	defer span.End()

	id, await := c.toAgent.Begin()

	req := agentproto.OutgoingControlRequest{
		Type:      agentproto.TypeControlRequest,
		RequestID: id,
		Request:   body,
	}
	if err := c.t.Write(req); err != nil {
		c.toAgent.Reject(id, err)
		return await(ctx)
	}
	return await(ctx)
}

// ResolveFromAgentResponse completes the matching entry in the
// bridge→agent table, used when the child's reply to an outgoing request
// arrives on the router's turn plane as a control_response message.
func (c *Correlator) ResolveFromAgentResponse(resp *agentproto.IncomingControlResponse) bool {
	return c.toAgent.Resolve(resp.RequestID, resp)
}

// BeginFromAgent registers that the bridge has started handling an
// agent-issued control request (permission query / hook callback), so a
// concurrent Cancel can interrupt it. The returned id is the key for
// FinishFromAgent or CancelFromAgent; RespondToAgent is keyed by the child's
// own request identifier instead.
func (c *Correlator) BeginFromAgent() (id string, await func(ctx context.Context) error) {
	rid, a := c.fromAgent.Begin()
	await = func(ctx context.Context) error {
		_, err := a(ctx)
		return err
	}
	return rid, await
}

// FinishFromAgent marks an agent-issued request as handled, releasing
// anything waiting on its cancellation handle.
func (c *Correlator) FinishFromAgent(id string) {
	c.fromAgent.Resolve(id, struct{}{})
}

// CancelFromAgent interrupts the handling of an in-flight agent-issued
// request — used when the turn is cancelled mid-permission-query.
func (c *Correlator) CancelFromAgent(id string) {
	c.fromAgent.Reject(id, context.Canceled)
}

// RespondToAgent writes the bridge's answer to an agent-issued control
// request back to the child's stdin.
func (c *Correlator) RespondToAgent(requestID string, body agentproto.ControlResponseBody) error {
	return c.t.Write(agentproto.ControlResponseMessage{
		Type:      agentproto.TypeControlResponse,
		RequestID: requestID,
		Response:  &body,
	})
}

// Close releases every outstanding entry in both tables with ErrClosed,
// called when the owning transport dies.
func (c *Correlator) Close() {
	c.toAgent.CloseAll()
	c.fromAgent.CloseAll()
}
