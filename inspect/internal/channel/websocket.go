package channel

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsTransport carries frames over one websocket connection. The origin is
// fixed at handshake time: every delivered message carries the handshake
// origin, so the endpoint's equality check covers the whole connection.
type wsTransport struct {
	conn   *websocket.Conn
	origin string

	writeMu sync.Mutex

	mu       sync.Mutex
	receiver func(Message)

	closeOnce sync.Once
	done      chan struct{}
}

// Upgrade turns an HTTP request into a websocket transport. The upgrade
// itself enforces the origin: a handshake from any origin other than
// expectedOrigin is refused with 403 before the connection exists.
func Upgrade(w http.ResponseWriter, r *http.Request, expectedOrigin string) (Transport, error) {
	up := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return r.Header.Get("Origin") == expectedOrigin
		},
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	t := newWSTransport(conn, r.Header.Get("Origin"))
	go t.readLoop()
	return t, nil
}

// Dial connects to a session endpoint, announcing origin in the handshake.
func Dial(ctx context.Context, url, origin string) (Transport, error) {
	h := http.Header{"Origin": []string{origin}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, h)
	if err != nil {
		return nil, err
	}
	// A dialer trusts the endpoint it chose to dial; the server's origin
	// is the URL itself. Deliver inbound frames under that identity.
	t := newWSTransport(conn, url)
	go t.readLoop()
	return t, nil
}

func newWSTransport(conn *websocket.Conn, origin string) *wsTransport {
	return &wsTransport{conn: conn, origin: origin, done: make(chan struct{})}
}

func (t *wsTransport) readLoop() {
	defer t.Close()
	for {
		typ, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		t.mu.Lock()
		recv := t.receiver
		t.mu.Unlock()
		if recv != nil {
			recv(Message{Origin: t.origin, Data: data})
		}
	}
}

func (t *wsTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) SetReceiver(fn func(Message)) {
	t.mu.Lock()
	t.receiver = fn
	t.mu.Unlock()
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
