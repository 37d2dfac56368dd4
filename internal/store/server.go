package store

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is the JSON message exchanged over the store websocket. A
// client frame carries an op and a request id; the server answers with
// a frame reusing that id, and pushes unsolicited "value" events for
// active subscriptions.
type frame struct {
	Op   string `json:"op,omitempty"`
	ID   int64  `json:"id,omitempty"`
	Path string `json:"path,omitempty"`
	// Value carries no omitempty: false and 0 are meaningful writes,
	// and only an explicit null deletes a path.
	Value  any            `json:"value"`
	Values map[string]any `json:"values,omitempty"`
	SubID  int64          `json:"subId,omitempty"`

	Event string `json:"event,omitempty"`
	Error string `json:"error,omitempty"`
}

const (
	opRead        = "read"
	opWrite       = "write"
	opUpdate      = "update"
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"

	eventAck   = "ack"
	eventValue = "value"
	eventError = "error"
)

// Server exposes a MemoryStore over websocket. Each connection carries
// the caller's uid; the access policy decides which paths that uid may
// write.
type Server struct {
	store  *MemoryStore
	policy AccessPolicy
	logger *zap.Logger
}

// NewServer creates a store server over the given backing store.
func NewServer(backing *MemoryStore, policy AccessPolicy, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = AllowAllPolicy{}
	}
	return &Server{store: backing, policy: policy, logger: logger}
}

// Router returns the HTTP routes for the store server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		http.Error(w, "uid required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &serverConn{
		server: s,
		uid:    uid,
		conn:   conn,
		send:   make(chan frame, 256),
		subs:   make(map[int64]Subscription),
	}
	s.logger.Info("store client connected", zap.String("uid", uid))

	go c.writeLoop()
	c.readLoop()
}

// serverConn is one connected store client.
type serverConn struct {
	server *Server
	uid    string
	conn   *websocket.Conn
	send   chan frame

	mu     sync.Mutex
	subs   map[int64]Subscription
	closed bool
}

func (c *serverConn) readLoop() {
	defer c.teardown()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req frame
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("store client read error", zap.String("uid", c.uid), zap.Error(err))
			}
			return
		}
		c.handle(req)
	}
}

func (c *serverConn) handle(req frame) {
	ctx := context.Background()
	switch req.Op {
	case opRead:
		v, err := c.server.store.Read(ctx, req.Path)
		c.reply(req.ID, v, err)

	case opWrite:
		if !c.server.policy.CanWrite(c.uid, req.Path, req.Value, c.server.store) {
			c.reply(req.ID, nil, ErrPermissionDenied)
			return
		}
		c.reply(req.ID, nil, c.server.store.Write(ctx, req.Path, req.Value))

	case opUpdate:
		for path, v := range req.Values {
			if !c.server.policy.CanWrite(c.uid, path, v, c.server.store) {
				c.reply(req.ID, nil, ErrPermissionDenied)
				return
			}
		}
		c.reply(req.ID, nil, c.server.store.Update(ctx, req.Values))

	case opSubscribe:
		subID := req.SubID
		sub, err := c.server.store.Subscribe(req.Path, func(value any) {
			c.push(frame{Event: eventValue, SubID: subID, Value: value})
		})
		if err != nil {
			c.reply(req.ID, nil, err)
			return
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			sub.Unsubscribe()
			return
		}
		c.subs[subID] = sub
		c.mu.Unlock()
		c.reply(req.ID, nil, nil)

	case opUnsubscribe:
		c.mu.Lock()
		sub, ok := c.subs[req.SubID]
		delete(c.subs, req.SubID)
		c.mu.Unlock()
		if ok {
			sub.Unsubscribe()
		}
		c.reply(req.ID, nil, nil)

	default:
		c.push(frame{ID: req.ID, Event: eventError, Error: "unknown op"})
	}
}

func (c *serverConn) reply(id int64, value any, err error) {
	if err != nil {
		c.push(frame{ID: id, Event: eventError, Error: err.Error()})
		return
	}
	c.push(frame{ID: id, Event: eventAck, Value: value})
}

func (c *serverConn) push(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- f:
	default:
		// Slow consumer: drop the connection rather than block the store.
		c.server.logger.Warn("store client send buffer full, closing", zap.String("uid", c.uid))
		c.conn.Close()
	}
}

func (c *serverConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(f)
			if err != nil {
				c.server.logger.Error("frame marshal failed", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *serverConn) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	close(c.send)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	c.server.logger.Info("store client disconnected", zap.String("uid", c.uid))
}
