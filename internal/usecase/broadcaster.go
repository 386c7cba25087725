package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"PulseBoard/internal/domain/models"
	drepo "PulseBoard/internal/domain/repository"
	applogger "PulseBoard/pkg/logger"
	"PulseBoard/pkg/metrics"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Stream event names.
const (
	EventConnected = "connected"
	EventDashboard = "dashboard"
	EventSystem    = "system"
	EventAlert     = "alert"
)

// Close reasons.
const (
	CloseNormal  = "normal"
	CloseTimeout = "timeout"
	CloseError   = "error"
)

var connectedPayload = []byte(`{"status":"connected"}`)

// Connection is one live client stream. Send must serialize its own writes.
type Connection interface {
	ID() string
	UserID() string
	Send(event string, data []byte) error
	Close() error
}

// SnapshotProvider builds the full snapshot for a user ("" is anonymous).
type SnapshotProvider interface {
	Snapshot(ctx context.Context, userID string) (models.DashboardData, error)
}

// ConnectionHandle tracks a registered connection. It moves from open to
// closed exactly once.
type ConnectionHandle struct {
	conn     Connection
	openedAt time.Time
	closed   atomic.Bool
	done     chan struct{}

	mu     sync.Mutex
	reason string
	settle clockwork.Timer
}

func (h *ConnectionHandle) ID() string     { return h.conn.ID() }
func (h *ConnectionHandle) UserID() string { return h.conn.UserID() }

// Done is closed once the handle is unregistered.
func (h *ConnectionHandle) Done() <-chan struct{} { return h.done }

func (h *ConnectionHandle) Closed() bool { return h.closed.Load() }

// Reason returns the close reason, empty while open.
func (h *ConnectionHandle) Reason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

func (h *ConnectionHandle) send(event string, data []byte) error {
	if h.closed.Load() {
		return models.ErrConnectionLost
	}
	if err := h.conn.Send(event, data); err != nil {
		return fmt.Errorf("%w: %v", models.ErrConnectionLost, err)
	}
	return nil
}

// reject closes a handle that never joined the live set.
func (h *ConnectionHandle) reject(reason string) {
	h.closed.Store(true)
	h.mu.Lock()
	h.reason = reason
	h.mu.Unlock()
	close(h.done)
	_ = h.conn.Close()
}

// Predicate selects the connections a broadcast goes to.
type Predicate func(*ConnectionHandle) bool

// All matches every connection.
func All() Predicate { return func(*ConnectionHandle) bool { return true } }

// ForUser matches connections owned by userID.
func ForUser(userID string) Predicate {
	return func(h *ConnectionHandle) bool { return h.UserID() == userID }
}

// BroadcastResult counts one broadcast's outcome.
type BroadcastResult struct {
	Delivered int
	Dropped   int
}

// BroadcasterConfig holds tunables.
type BroadcasterConfig struct {
	SettleDelay time.Duration // delay before the initial snapshot
	Workers     int           // concurrent sends per broadcast
}

// Broadcaster fans events out to live connections. Sends happen outside the
// set lock on a copy of the set, and connections whose send fails are
// removed once the pass is over.
type Broadcaster struct {
	cfg       BroadcasterConfig
	clock     clockwork.Clock
	log       *applogger.Logger
	metrics   drepo.Metrics
	snapshots SnapshotProvider

	mu     sync.RWMutex
	conns  map[string]*ConnectionHandle
	closed bool
}

type BroadcasterOption func(*Broadcaster)

func WithBroadcasterClock(c clockwork.Clock) BroadcasterOption {
	return func(b *Broadcaster) { b.clock = c }
}

func WithBroadcasterLogger(l *applogger.Logger) BroadcasterOption {
	return func(b *Broadcaster) { b.log = l.Named("broadcaster") }
}

func WithBroadcasterMetrics(m drepo.Metrics) BroadcasterOption {
	return func(b *Broadcaster) { b.metrics = m }
}

func NewBroadcaster(cfg BroadcasterConfig, opts ...BroadcasterOption) *Broadcaster {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 100 * time.Millisecond
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 32
	}
	b := &Broadcaster{
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		log:     applogger.Nop(),
		metrics: metrics.Nop{},
		conns:   make(map[string]*ConnectionHandle),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetSnapshotProvider sets the source of initial snapshots.
func (b *Broadcaster) SetSnapshotProvider(p SnapshotProvider) {
	b.mu.Lock()
	b.snapshots = p
	b.mu.Unlock()
}

// Register acknowledges conn with "connected", adds it to the live set and
// sends the owner's full snapshot after the settle delay. The ack goes out
// before the connection is visible to Broadcast, so it is always first.
func (b *Broadcaster) Register(conn Connection) *ConnectionHandle {
	h := &ConnectionHandle{conn: conn, openedAt: b.clock.Now(), done: make(chan struct{})}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		h.reject(CloseNormal)
		return h
	}

	if err := h.send(EventConnected, connectedPayload); err != nil {
		h.reject(CloseError)
		b.metrics.RecordConnectionClosed(CloseError)
		b.log.Debug("connected ack failed", applogger.String("conn_id", conn.ID()), applogger.Error(err))
		return h
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		h.reject(CloseNormal)
		return h
	}
	b.conns[conn.ID()] = h
	n := len(b.conns)
	provider := b.snapshots
	b.mu.Unlock()

	b.metrics.SetConnections(n)
	b.log.Info("connection opened",
		applogger.String("conn_id", conn.ID()),
		applogger.String("user_id", conn.UserID()),
		applogger.Int("active", n),
	)

	if provider != nil {
		t := b.clock.AfterFunc(b.cfg.SettleDelay, func() { b.sendInitial(h, provider) })
		h.mu.Lock()
		h.settle = t
		h.mu.Unlock()
	}
	return h
}

func (b *Broadcaster) sendInitial(h *ConnectionHandle, provider SnapshotProvider) {
	if h.Closed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := provider.Snapshot(ctx, h.UserID())
	if err != nil {
		b.log.Warn("initial snapshot failed", applogger.String("conn_id", h.ID()), applogger.Error(err))
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		b.log.Error("encode initial snapshot", applogger.Error(err))
		return
	}
	if err := h.send(EventDashboard, data); err != nil {
		b.log.Debug("initial snapshot send failed", applogger.String("conn_id", h.ID()), applogger.Error(err))
		b.Unregister(h, CloseError)
	}
}

// Unregister closes the handle with reason. Later calls are no-ops.
func (b *Broadcaster) Unregister(h *ConnectionHandle, reason string) {
	if h == nil || !h.closed.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	h.reason = reason
	settle := h.settle
	h.mu.Unlock()
	if settle != nil {
		settle.Stop()
	}

	b.mu.Lock()
	if cur, ok := b.conns[h.ID()]; ok && cur == h {
		delete(b.conns, h.ID())
	}
	n := len(b.conns)
	b.mu.Unlock()

	_ = h.conn.Close()
	close(h.done)

	b.metrics.SetConnections(n)
	b.metrics.RecordConnectionClosed(reason)
	b.log.Info("connection closed",
		applogger.String("conn_id", h.ID()),
		applogger.String("user_id", h.UserID()),
		applogger.String("reason", reason),
		applogger.Duration("open_ms", b.clock.Since(h.openedAt)),
		applogger.Int("active", n),
	)
}

// Broadcast serializes payload once and sends it to every matching connection.
func (b *Broadcaster) Broadcast(ctx context.Context, event string, payload any, match Predicate) (BroadcastResult, error) {
	if err := ctx.Err(); err != nil {
		return BroadcastResult{}, err
	}
	data, err := encodePayload(payload)
	if err != nil {
		b.metrics.RecordError("broadcast_encode")
		return BroadcastResult{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return b.deliver(event, data, b.snapshot(match)), nil
}

// BroadcastPerUser builds one payload per distinct owner and delivers it only
// to that owner's connections. A failing build skips that owner.
func (b *Broadcaster) BroadcastPerUser(ctx context.Context, event string, build func(ctx context.Context, userID string) (any, error)) BroadcastResult {
	byUser := make(map[string][]*ConnectionHandle)
	for _, h := range b.snapshot(All()) {
		byUser[h.UserID()] = append(byUser[h.UserID()], h)
	}

	var total BroadcastResult
	for _, user := range sortedKeys(byUser) {
		payload, err := build(ctx, user)
		if err != nil {
			b.log.Warn("build payload failed", applogger.String("event", event), applogger.String("user_id", user), applogger.Error(err))
			continue
		}
		data, err := encodePayload(payload)
		if err != nil {
			b.metrics.RecordError("broadcast_encode")
			continue
		}
		res := b.deliver(event, data, byUser[user])
		total.Delivered += res.Delivered
		total.Dropped += res.Dropped
	}
	return total
}

func (b *Broadcaster) deliver(event string, data []byte, targets []*ConnectionHandle) BroadcastResult {
	if len(targets) == 0 {
		return BroadcastResult{}
	}

	var (
		delivered atomic.Int64
		mu        sync.Mutex
		dead      []*ConnectionHandle
	)
	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)
	for _, h := range targets {
		g.Go(func() error {
			if err := h.send(event, data); err != nil {
				mu.Lock()
				dead = append(dead, h)
				mu.Unlock()
				b.log.Debug("send failed", applogger.String("conn_id", h.ID()), applogger.String("event", event), applogger.Error(err))
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	for _, h := range dead {
		b.Unregister(h, CloseError)
	}

	res := BroadcastResult{Delivered: int(delivered.Load()), Dropped: len(dead)}
	b.metrics.RecordBroadcast(event, res.Delivered, res.Dropped)
	if res.Dropped > 0 {
		b.log.Info("pruned dead connections", applogger.String("event", event), applogger.Int("dropped", res.Dropped), applogger.Int("active", b.Count()))
	}
	return res
}

func (b *Broadcaster) snapshot(match Predicate) []*ConnectionHandle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*ConnectionHandle, 0, len(b.conns))
	for _, h := range b.conns {
		if match == nil || match(h) {
			out = append(out, h)
		}
	}
	return out
}

// Count returns the number of live connections.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// CountFor returns the number of live connections owned by userID.
func (b *Broadcaster) CountFor(userID string) int {
	return len(b.snapshot(ForUser(userID)))
}

// Users returns the distinct owners of live connections.
func (b *Broadcaster) Users() []string {
	seen := make(map[string]struct{})
	for _, h := range b.snapshot(All()) {
		seen[h.UserID()] = struct{}{}
	}
	return sortedKeys(seen)
}

// Info summarises live connections per user.
func (b *Broadcaster) Info() models.ConnectionInfo {
	info := models.ConnectionInfo{Users: make(map[string]int)}
	for _, h := range b.snapshot(All()) {
		info.Users[h.UserID()]++
		info.Total++
	}
	return info
}

// Close closes every connection with reason normal and refuses new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	for _, h := range b.snapshot(All()) {
		b.Unregister(h, CloseNormal)
	}
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(payload)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
