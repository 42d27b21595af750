package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/bridgelab/relaybridge/internal/accounting"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The admin API binds loopback; same-origin checks would only
	// reject the desktop UI's file:// origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is what each 1Hz tick pushes to every connected client.
type wsFrame struct {
	Time    int64               `json:"time"`
	Traffic accounting.Snapshot `json:"traffic"`
	Clients int                 `json:"clients"`
}

// wsHub fans accounting ticks out to websocket subscribers. A slow
// client's buffer fills and the frame is dropped for it; the stream is a
// live gauge, not a log.
type wsHub struct {
	mu    sync.Mutex
	conns map[*wsClient]struct{}
}

type wsClient struct {
	c    *websocket.Conn
	send chan []byte
	once sync.Once
}

func newWSHub() *wsHub {
	return &wsHub{conns: make(map[*wsClient]struct{})}
}

func (h *wsHub) publish(snap accounting.Snapshot, inbound int) {
	h.mu.Lock()
	if len(h.conns) == 0 {
		h.mu.Unlock()
		return
	}
	clients := make([]*wsClient, 0, len(h.conns))
	for cl := range h.conns {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	frame := wsFrame{Time: time.Now().UnixMilli(), Traffic: snap, Clients: inbound}
	b, err := json.Marshal(frame)
	if err != nil {
		return
	}
	for _, cl := range clients {
		select {
		case cl.send <- b:
		default:
		}
	}
}

func (h *wsHub) add(cl *wsClient) {
	h.mu.Lock()
	h.conns[cl] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(cl *wsClient) {
	h.mu.Lock()
	delete(h.conns, cl)
	h.mu.Unlock()
	cl.close()
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.conns))
	for cl := range h.conns {
		clients = append(clients, cl)
	}
	h.conns = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for _, cl := range clients {
		cl.close()
	}
}

func (cl *wsClient) close() {
	cl.once.Do(func() {
		close(cl.send)
		_ = cl.c.Close()
	})
}

// GET /ws/traffic?token=<jwt>
func (s *Server) trafficWS(c *gin.Context) {
	if _, err := s.parseToken(c.Query("token")); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debugf("ws upgrade: %v", err)
		return
	}
	cl := &wsClient{c: conn, send: make(chan []byte, 8)}
	s.hub.add(cl)

	// Reader: discard everything; its error is the disconnect signal.
	go func() {
		defer s.hub.remove(cl)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		for b := range cl.send {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.hub.remove(cl)
				return
			}
		}
	}()
}
