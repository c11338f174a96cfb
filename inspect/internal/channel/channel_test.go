package channel

import (
	"testing"

	"github.com/visualctx/vci/inspect/protocol"
)

const (
	hostOrigin  = "http://localhost:3001"
	agentOrigin = "http://localhost:3000"
)

func newLinkedEndpoints(t *testing.T) (host *Endpoint, agent *Endpoint, gotCommands *[]protocol.Command, gotEvents *[]protocol.Event) {
	t.Helper()
	var cmds []protocol.Command
	var evs []protocol.Event

	ht, at := Pair(hostOrigin, agentOrigin)
	host = NewEndpoint(ht, agentOrigin, OnEvent(func(ev protocol.Event) { evs = append(evs, ev) }))
	agent = NewEndpoint(at, hostOrigin, OnCommand(func(c protocol.Command) { cmds = append(cmds, c) }))
	return host, agent, &cmds, &evs
}

func TestCommandAndEventRoundTrip(t *testing.T) {
	host, agent, cmds, evs := newLinkedEndpoints(t)

	if err := host.SendCommand(protocol.SetMode{Mode: protocol.ModeInspection}); err != nil {
		t.Fatal(err)
	}
	if len(*cmds) != 1 {
		t.Fatalf("commands delivered: %d", len(*cmds))
	}
	sm, ok := (*cmds)[0].(protocol.SetMode)
	if !ok || sm.Mode != protocol.ModeInspection {
		t.Fatalf("got %#v", (*cmds)[0])
	}

	if err := agent.SendEvent(protocol.Ready{Version: protocol.Version}); err != nil {
		t.Fatal(err)
	}
	if len(*evs) != 1 {
		t.Fatalf("events delivered: %d", len(*evs))
	}
	if r, ok := (*evs)[0].(protocol.Ready); !ok || r.Version != protocol.Version {
		t.Fatalf("got %#v", (*evs)[0])
	}
}

func TestMismatchedOriginDropped(t *testing.T) {
	var cmds []protocol.Command
	_, at := Pair(hostOrigin, agentOrigin)
	NewEndpoint(at, hostOrigin, OnCommand(func(c protocol.Command) { cmds = append(cmds, c) }))

	data, err := protocol.MarshalCommand(protocol.ClearSelection{})
	if err != nil {
		t.Fatal(err)
	}
	// Deliver the frame as if it came from a stranger.
	at.(*pairTransport).deliver(Message{Origin: "https://evil.example", Data: data})

	if len(cmds) != 0 {
		t.Fatalf("frame from wrong origin was processed: %#v", cmds)
	}
}

func TestMalformedFramesAreNoOps(t *testing.T) {
	var cmds []protocol.Command
	_, at := Pair(hostOrigin, agentOrigin)
	NewEndpoint(at, hostOrigin, OnCommand(func(c protocol.Command) { cmds = append(cmds, c) }))

	for _, raw := range []string{
		``,
		`not json`,
		`{"type":"COMMAND"}`,
		`{"type":"COMMAND","action":"SELF_DESTRUCT"}`,
		`{"type":"EVENT","action":"READY","payload":{}}`, // wrong direction for this side
	} {
		at.(*pairTransport).deliver(Message{Origin: hostOrigin, Data: []byte(raw)})
	}

	if len(cmds) != 0 {
		t.Fatalf("malformed frames were processed: %#v", cmds)
	}
}

func TestClosedTransportRefusesSend(t *testing.T) {
	ht, _ := Pair(hostOrigin, agentOrigin)
	host := NewEndpoint(ht, agentOrigin)
	if err := host.Close(); err != nil {
		t.Fatal(err)
	}
	if err := host.SendCommand(protocol.GetRoute{}); err == nil {
		t.Fatal("send on closed transport succeeded")
	}
}
