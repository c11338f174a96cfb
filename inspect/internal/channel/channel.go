// Package channel carries the session protocol between host and agent over
// an origin-checked transport. The origin equality check is the entire
// trust boundary: a message from any other origin is dropped before its
// bytes are inspected. Malformed or unknown messages degrade to no-ops so
// a version-skewed or hostile peer can never crash the receive loop.
package channel

import (
	"log/slog"

	"github.com/visualctx/vci/inspect/protocol"
)

// Message is one raw frame plus the origin the transport observed it from.
type Message struct {
	Origin string
	Data   []byte
}

// A Transport moves frames between the two contexts. Send is fire-and-
// forget; implementations must deliver frames to the receiver serially.
type Transport interface {
	Send(data []byte) error
	SetReceiver(func(Message))
	Close() error
}

// Endpoint is one side of the channel. It decodes inbound frames into
// commands or events after the origin check and hands them to the
// registered handlers, serially.
type Endpoint struct {
	transport      Transport
	expectedOrigin string
	log            *slog.Logger

	onCommand func(protocol.Command)
	onEvent   func(protocol.Event)
}

type Option func(*Endpoint)

func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) { e.log = l }
}

// OnCommand registers the handler for inbound commands (the agent side).
func OnCommand(h func(protocol.Command)) Option {
	return func(e *Endpoint) { e.onCommand = h }
}

// OnEvent registers the handler for inbound events (the host side).
func OnEvent(h func(protocol.Event)) Option {
	return func(e *Endpoint) { e.onEvent = h }
}

// NewEndpoint wires an endpoint to t. expectedOrigin is compared for exact
// equality against every inbound frame's observed origin; there is no
// wildcard form.
func NewEndpoint(t Transport, expectedOrigin string, opts ...Option) *Endpoint {
	e := &Endpoint{
		transport:      t,
		expectedOrigin: expectedOrigin,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	t.SetReceiver(e.receive)
	return e
}

// SendCommand encodes and sends one command. Delivery is not acknowledged.
func (e *Endpoint) SendCommand(cmd protocol.Command) error {
	data, err := protocol.MarshalCommand(cmd)
	if err != nil {
		return err
	}
	return e.transport.Send(data)
}

// SendEvent encodes and sends one event.
func (e *Endpoint) SendEvent(ev protocol.Event) error {
	data, err := protocol.MarshalEvent(ev)
	if err != nil {
		return err
	}
	return e.transport.Send(data)
}

func (e *Endpoint) Close() error {
	return e.transport.Close()
}

func (e *Endpoint) receive(m Message) {
	if m.Origin != e.expectedOrigin {
		// Silent drop. Logging at debug only: mismatches are expected
		// noise on shared pages, not incidents.
		e.log.Debug("channel: dropped frame from unexpected origin", "origin", m.Origin)
		return
	}

	if e.onCommand != nil {
		cmd, err := protocol.DecodeCommand(m.Data)
		if err == nil {
			e.onCommand(cmd)
			return
		}
	}
	if e.onEvent != nil {
		ev, err := protocol.DecodeEvent(m.Data)
		if err == nil {
			e.onEvent(ev)
			return
		}
	}
	e.log.Debug("channel: dropped undecodable frame", "bytes", len(m.Data))
}
