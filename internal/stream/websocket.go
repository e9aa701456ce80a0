package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	readLimitBytes = 1 << 10 // inbound is ping/control only
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control API is the authorization surface; the stream is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTransport adapts a gorilla connection to the Transport interface.
// gorilla allows one concurrent writer, which the per-conn writer loop
// already guarantees; the mutex only guards Close racing a write.
type wsTransport struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (t *wsTransport) WriteEvent(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.ws.WriteJSON(ev)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ws.Close()
}

// ServeWS upgrades the request and attaches the socket to the session's
// stream. It blocks until the client goes away, then detaches.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, sessionID string) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	t := &wsTransport{ws: ws}
	conn := hub.Attach(sessionID, t)

	// Drain inbound frames so pings and close frames are processed. Any
	// read error means the client is gone.
	ws.SetReadLimit(readLimitBytes)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	hub.Detach(sessionID, conn)
	return nil
}
