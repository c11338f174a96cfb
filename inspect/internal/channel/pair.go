package channel

import (
	"errors"
	"sync"
)

// pairTransport is an in-process transport half. Frames sent on one half
// arrive at the other tagged with the sender's origin, preserving order.
// It backs same-process sessions and tests; the websocket transport covers
// the out-of-process case.
type pairTransport struct {
	origin string
	peer   *pairTransport

	mu       sync.Mutex
	receiver func(Message)
	closed   bool
}

// Pair returns two linked transports. hostOrigin and agentOrigin are the
// origins frames from each half appear to come from.
func Pair(hostOrigin, agentOrigin string) (host, agent Transport) {
	h := &pairTransport{origin: hostOrigin}
	a := &pairTransport{origin: agentOrigin}
	h.peer = a
	a.peer = h
	return h, a
}

func (t *pairTransport) Send(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("channel: transport closed")
	}
	t.mu.Unlock()

	frame := make([]byte, len(data))
	copy(frame, data)
	t.peer.deliver(Message{Origin: t.origin, Data: frame})
	return nil
}

func (t *pairTransport) deliver(m Message) {
	t.mu.Lock()
	recv := t.receiver
	closed := t.closed
	t.mu.Unlock()
	if closed || recv == nil {
		return
	}
	recv(m)
}

func (t *pairTransport) SetReceiver(fn func(Message)) {
	t.mu.Lock()
	t.receiver = fn
	t.mu.Unlock()
}

func (t *pairTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
