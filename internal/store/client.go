package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client implements Store over the websocket protocol spoken by Server.
// One Client carries one caller identity (uid); the server applies its
// access policy to that identity.
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan frame
	subs    map[int64]*clientSub
	closed  bool
	send    chan frame
	done    chan struct{}
}

// Dial connects to a store server. url is the websocket endpoint
// ("ws://host:port/ws"); uid identifies the caller for access checks.
// A connection failure is reported as ErrUnavailable so callers fail
// closed.
func Dial(ctx context.Context, url, uid string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url+sep+"uid="+uid, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan frame),
		subs:    make(map[int64]*clientSub),
		send:    make(chan frame, 256),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

func (c *Client) Read(ctx context.Context, path string) (any, error) {
	resp, err := c.call(ctx, frame{Op: opRead, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (c *Client) Write(ctx context.Context, path string, value any) error {
	_, err := c.call(ctx, frame{Op: opWrite, Path: path, Value: value})
	return err
}

func (c *Client) Update(ctx context.Context, values map[string]any) error {
	_, err := c.call(ctx, frame{Op: opUpdate, Values: values})
	return err
}

// Subscribe registers fn for the subtree at path. Values are delivered
// in order on a dedicated goroutine so fn may block without stalling
// the connection's read loop.
func (c *Client) Subscribe(path string, fn func(value any)) (Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	subID := c.nextID
	sub := &clientSub{client: c, id: subID, fn: fn}
	sub.cond = sync.NewCond(&sub.mu)
	c.subs[subID] = sub
	c.mu.Unlock()
	go sub.run()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := c.call(ctx, frame{Op: opSubscribe, Path: path, SubID: subID}); err != nil {
		sub.stop()
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// Close tears down the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	pending := c.pending
	c.pending = nil
	close(c.done)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	for _, ch := range pending {
		close(ch)
	}
	return c.conn.Close()
}

// call sends a request frame and waits for its response.
func (c *Client) call(ctx context.Context, req frame) (frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, ErrClosed
	}
	c.nextID++
	req.ID = c.nextID
	ch := make(chan frame, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	select {
	case c.send <- req:
	case <-c.done:
		c.dropPending(req.ID)
		return frame{}, ErrClosed
	case <-ctx.Done():
		c.dropPending(req.ID)
		return frame{}, ctx.Err()
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return frame{}, ErrClosed
		}
		if resp.Event == eventError {
			return frame{}, decodeError(resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.dropPending(req.ID)
		return frame{}, ctx.Err()
	}
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event == eventValue && f.SubID != 0 {
			c.mu.Lock()
			sub := c.subs[f.SubID]
			c.mu.Unlock()
			if sub != nil {
				sub.enqueue(f.Value)
			}
			continue
		}
		c.mu.Lock()
		ch := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- f
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case f := <-c.send:
			if err := c.conn.WriteJSON(f); err != nil {
				c.logger.Warn("store write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// decodeError maps wire error strings back onto the sentinel errors so
// callers can test with errors.Is across the transport.
func decodeError(msg string) error {
	switch msg {
	case ErrPermissionDenied.Error():
		return ErrPermissionDenied
	case ErrUnavailable.Error():
		return ErrUnavailable
	case ErrClosed.Error():
		return ErrClosed
	default:
		return fmt.Errorf("store: %s", msg)
	}
}

// clientSub mirrors the server subscription on the client side,
// delivering snapshots in order off the read loop.
type clientSub struct {
	client *Client
	id     int64

	fn    func(any)
	mu    sync.Mutex
	cond  *sync.Cond
	queue []any
	done  bool
}

func (s *clientSub) enqueue(v any) {
	s.mu.Lock()
	if !s.done {
		s.queue = append(s.queue, v)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *clientSub) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.done {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		v := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.fn(v)
	}
}

func (s *clientSub) stop() {
	s.mu.Lock()
	s.done = true
	s.queue = nil
	s.cond.Signal()
	s.mu.Unlock()
}

// Unsubscribe cancels server-side delivery and stops the local worker.
func (s *clientSub) Unsubscribe() {
	c := s.client
	c.mu.Lock()
	if c.subs != nil {
		delete(c.subs, s.id)
	}
	closed := c.closed
	c.mu.Unlock()
	s.stop()
	if !closed {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.call(ctx, frame{Op: opUnsubscribe, SubID: s.id})
	}
}
