package inspect

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/visualctx/vci/inspect/internal/channel"
	"github.com/visualctx/vci/inspect/internal/store"
	"github.com/visualctx/vci/inspect/protocol"
)

// Transport carries channel frames between the two session halves.
type Transport = channel.Transport

// ChannelMessage is one raw frame with its sender's origin.
type ChannelMessage = channel.Message

// UpgradeChannel accepts a websocket handshake from an in-page agent. The
// handshake is refused unless the browser's Origin header equals
// expectedOrigin.
func UpgradeChannel(w http.ResponseWriter, r *http.Request, expectedOrigin string) (Transport, error) {
	return channel.Upgrade(w, r, expectedOrigin)
}

// DialChannel connects to a remote session endpoint, announcing origin in
// the handshake.
func DialChannel(ctx context.Context, url, origin string) (Transport, error) {
	return channel.Dial(ctx, url, origin)
}

// RemoteHost is the host half of a session whose agent lives in a real
// browser page, reached over a websocket transport instead of the
// in-process pair.
type RemoteHost struct {
	store *store.Store
	ep    *channel.Endpoint
}

// NewRemoteHost wires a store over t. Inbound frames are only accepted
// from agentOrigin; everything else is dropped before decoding.
func NewRemoteHost(t Transport, agentOrigin string, log *slog.Logger) *RemoteHost {
	if log == nil {
		log = slog.Default()
	}
	h := &RemoteHost{}
	h.store = store.New(func(cmd protocol.Command) {
		if err := h.ep.SendCommand(cmd); err != nil {
			log.Warn("inspect: command dropped", "action", cmd.Action(), "err", err)
		}
	}, store.WithLogger(log))
	h.ep = channel.NewEndpoint(t, agentOrigin,
		channel.WithLogger(log),
		channel.OnEvent(h.store.HandleEvent),
	)
	return h
}

// Store returns the host-side session store.
func (h *RemoteHost) Store() *Store { return h.store }

// Close tears down the channel endpoint.
func (h *RemoteHost) Close() error { return h.ep.Close() }
