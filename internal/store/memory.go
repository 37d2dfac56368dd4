package store

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore is the in-process implementation of Store. It backs the
// websocket server and is used directly in tests; the tree holds
// normalized JSON values and every path write is last-write-wins.
type MemoryStore struct {
	mu        sync.RWMutex
	root      map[string]any
	subs      map[int]*memSub
	nextSubID int
	closed    bool
	logger    *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		root:   make(map[string]any),
		subs:   make(map[int]*memSub),
		logger: logger,
	}
}

// Read returns a deep copy of the value at path, nil if absent.
func (m *MemoryStore) Read(_ context.Context, path string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return deepCopy(valueAt(m.root, splitPath(path))), nil
}

// Write replaces the value at path; nil deletes the path.
func (m *MemoryStore) Write(ctx context.Context, path string, value any) error {
	return m.Update(ctx, map[string]any{path: value})
}

// Update applies all path/value pairs under one lock, then notifies each
// affected subscriber exactly once with its full subtree.
func (m *MemoryStore) Update(_ context.Context, values map[string]any) error {
	normalized := make(map[string]any, len(values))
	for path, v := range values {
		nv, err := normalize(v)
		if err != nil {
			return err
		}
		normalized[path] = nv
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	changed := make([][]string, 0, len(normalized))
	for path, v := range normalized {
		segs := splitPath(path)
		if len(segs) == 0 {
			if root, ok := v.(map[string]any); ok {
				m.root = root
			} else {
				m.root = make(map[string]any)
			}
		} else {
			setAt(m.root, segs, v)
		}
		changed = append(changed, segs)
	}

	// Snapshot each affected subscriber's subtree before releasing the
	// lock so deliveries reflect this update and nothing later.
	type delivery struct {
		sub   *memSub
		value any
	}
	var deliveries []delivery
	notified := make(map[int]bool)
	for id, sub := range m.subs {
		if notified[id] {
			continue
		}
		for _, segs := range changed {
			if pathsRelated(sub.path, segs) {
				notified[id] = true
				deliveries = append(deliveries, delivery{sub, deepCopy(valueAt(m.root, sub.path))})
				break
			}
		}
	}
	m.mu.Unlock()

	for _, d := range deliveries {
		d.sub.enqueue(d.value)
	}
	return nil
}

// Subscribe registers fn for the subtree at path. The current value is
// delivered immediately, then again on every related change.
func (m *MemoryStore) Subscribe(path string, fn func(value any)) (Subscription, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &memSub{
		store: m,
		id:    m.nextSubID,
		path:  splitPath(path),
		fn:    fn,
	}
	sub.cond = sync.NewCond(&sub.mu)
	m.nextSubID++
	m.subs[sub.id] = sub
	initial := deepCopy(valueAt(m.root, sub.path))
	m.mu.Unlock()

	go sub.run()
	sub.enqueue(initial)
	return sub, nil
}

// Close cancels all subscriptions and rejects further operations.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*memSub, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[int]*memSub)
	m.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

func (m *MemoryStore) removeSub(id int) {
	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
}

// valueAt descends the tree along segs; nil when the path is absent or
// crosses a non-map node.
func valueAt(node map[string]any, segs []string) any {
	var cur any = node
	for _, seg := range segs {
		child, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = child[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// setAt replaces the value at segs within node. Writing through a
// non-map intermediate replaces it with a map; deletions prune empty
// parents so absent subtrees read back as nil.
func setAt(node map[string]any, segs []string, v any) {
	key := segs[0]
	if len(segs) == 1 {
		if v == nil {
			delete(node, key)
		} else {
			node[key] = v
		}
		return
	}
	child, ok := node[key].(map[string]any)
	if !ok {
		if v == nil {
			return
		}
		child = make(map[string]any)
		node[key] = child
	}
	setAt(child, segs[1:], v)
	if len(child) == 0 {
		delete(node, key)
	}
}

// memSub delivers subtree snapshots to one subscriber in order through
// a single worker goroutine draining a queue.
type memSub struct {
	store *MemoryStore
	id    int
	path  []string
	fn    func(any)

	mu    sync.Mutex
	cond  *sync.Cond
	queue []any
	done  bool
}

func (s *memSub) enqueue(v any) {
	s.mu.Lock()
	if !s.done {
		s.queue = append(s.queue, v)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *memSub) run() {
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

func (s *memSub) stop() {
	s.mu.Lock()
	s.done = true
	s.queue = nil
	s.cond.Signal()
	s.mu.Unlock()
}

// Unsubscribe stops delivery. Already-queued snapshots are dropped.
func (s *memSub) Unsubscribe() {
	s.store.removeSub(s.id)
	s.stop()
}
