package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PulseBoard/internal/domain/models"

	"github.com/jonboulle/clockwork"
)

type stubSnapshots struct{}

func (stubSnapshots) Snapshot(_ context.Context, userID string) (models.DashboardData, error) {
	return models.DashboardData{Type: models.SnapshotFull, Stocks: &models.StocksData{
		Quotes: []models.StockQuote{{Symbol: "FOR-" + userID}},
	}}, nil
}

func TestRegisterSendsConnectedThenSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBroadcaster(BroadcasterConfig{SettleDelay: 100 * time.Millisecond}, WithBroadcasterClock(clock))
	b.SetSnapshotProvider(stubSnapshots{})
	defer b.Close()

	conn := newFakeConn("c1", "alice")
	h := b.Register(conn)

	first := conn.next(t, EventConnected)
	if string(first.data) != `{"status":"connected"}` {
		t.Fatalf("unexpected connected payload %s", first.data)
	}
	if got := conn.count(EventDashboard); got != 0 {
		t.Fatalf("snapshot sent before settle delay: %d", got)
	}

	clock.Advance(100 * time.Millisecond)
	ev := conn.next(t, EventDashboard)

	var snap models.DashboardData
	if err := json.Unmarshal(ev.data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Stocks == nil || snap.Stocks.Quotes[0].Symbol != "FOR-alice" {
		t.Fatalf("snapshot not built for the owner: %+v", snap.Stocks)
	}
	if h.Closed() {
		t.Fatalf("handle should stay open")
	}
}

func TestUnregisterBeforeSettleCancelsSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBroadcaster(BroadcasterConfig{}, WithBroadcasterClock(clock))
	b.SetSnapshotProvider(stubSnapshots{})

	conn := newFakeConn("c1", "alice")
	h := b.Register(conn)
	b.Unregister(h, CloseTimeout)

	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := conn.count(EventDashboard); got != 0 {
		t.Fatalf("snapshot delivered to a closed connection")
	}
	if h.Reason() != CloseTimeout {
		t.Fatalf("reason = %q", h.Reason())
	}
}

func TestBroadcastDropsFailingConnectionAfterOneAttempt(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{})
	defer b.Close()

	good := newFakeConn("good", "alice")
	bad := newFakeConn("bad", "bob")
	b.Register(good)
	badHandle := b.Register(bad)
	bad.setFail(true)

	res, err := b.Broadcast(context.Background(), EventSystem, map[string]int{"n": 1}, All())
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if res.Delivered != 1 || res.Dropped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if b.Count() != 1 {
		t.Fatalf("expected the failing connection to be removed, live=%d", b.Count())
	}
	select {
	case <-badHandle.Done():
	default:
		t.Fatalf("dead handle not closed")
	}
	if badHandle.Reason() != CloseError {
		t.Fatalf("reason = %q", badHandle.Reason())
	}

	bad.setFail(false)
	res, _ = b.Broadcast(context.Background(), EventSystem, map[string]int{"n": 2}, All())
	if res.Delivered != 1 || res.Dropped != 0 {
		t.Fatalf("second broadcast %+v", res)
	}
	if got := bad.count(EventSystem); got != 0 {
		t.Fatalf("removed connection still received %d events", got)
	}
	if got := good.count(EventSystem); got != 2 {
		t.Fatalf("live connection received %d events", got)
	}
}

func TestBroadcastPerUserKeepsPayloadsApart(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{})
	defer b.Close()

	a1 := newFakeConn("a1", "alice")
	a2 := newFakeConn("a2", "alice")
	c1 := newFakeConn("c1", "carol")
	for _, c := range []*fakeConn{a1, a2, c1} {
		b.Register(c)
	}

	builds := 0
	res := b.BroadcastPerUser(context.Background(), EventDashboard, func(_ context.Context, user string) (any, error) {
		builds++
		return map[string]string{"owner": user}, nil
	})
	if builds != 2 {
		t.Fatalf("expected one build per user, got %d", builds)
	}
	if res.Delivered != 3 {
		t.Fatalf("delivered %d", res.Delivered)
	}

	for _, tc := range []struct {
		conn  *fakeConn
		owner string
	}{{a1, "alice"}, {a2, "alice"}, {c1, "carol"}} {
		ev := tc.conn.next(t, EventDashboard)
		var got map[string]string
		_ = json.Unmarshal(ev.data, &got)
		if got["owner"] != tc.owner {
			t.Fatalf("%s got payload for %q", tc.conn.id, got["owner"])
		}
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{})
	conn := newFakeConn("c1", "alice")
	h := b.Register(conn)

	b.Unregister(h, CloseNormal)
	b.Unregister(h, CloseError)

	if conn.closeCount() != 1 {
		t.Fatalf("transport closed %d times", conn.closeCount())
	}
	if h.Reason() != CloseNormal {
		t.Fatalf("first reason must stick, got %q", h.Reason())
	}
	if b.Count() != 0 {
		t.Fatalf("live=%d", b.Count())
	}
}

func TestClosedBroadcasterRejectsRegistrations(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{})
	b.Close()

	conn := newFakeConn("late", "alice")
	h := b.Register(conn)
	if !h.Closed() || b.Count() != 0 {
		t.Fatalf("registration accepted after close")
	}
	if conn.count(EventConnected) != 0 {
		t.Fatalf("late connection should not be acknowledged")
	}
}

// ackOrderConn records how many connections were live when its ack arrived.
type ackOrderConn struct {
	*fakeConn
	b         *Broadcaster
	liveAtAck int
}

func (c *ackOrderConn) Send(event string, data []byte) error {
	if event == EventConnected {
		c.liveAtAck = c.b.Count()
	}
	return c.fakeConn.Send(event, data)
}

func TestRegisterAcksBeforeJoiningLiveSet(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{})
	defer b.Close()
	b.Register(newFakeConn("other", "bob"))

	conn := &ackOrderConn{fakeConn: newFakeConn("c1", "alice"), b: b, liveAtAck: -1}
	h := b.Register(conn)

	if conn.liveAtAck != 1 {
		t.Fatalf("connection visible to broadcasts before its ack: live=%d at ack", conn.liveAtAck)
	}
	if h.Closed() || b.Count() != 2 {
		t.Fatalf("connection not registered after ack: closed=%v live=%d", h.Closed(), b.Count())
	}
	if _, err := b.Broadcast(context.Background(), EventSystem, "hi", All()); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	conn.mu.Lock()
	first := conn.events[0].name
	conn.mu.Unlock()
	if first != EventConnected {
		t.Fatalf("first event = %q, want %q", first, EventConnected)
	}
}

func TestRegisterDropsConnectionWhenAckFails(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{})
	defer b.Close()

	conn := newFakeConn("c1", "alice")
	conn.setFail(true)
	h := b.Register(conn)

	if !h.Closed() || h.Reason() != CloseError {
		t.Fatalf("closed=%v reason=%q", h.Closed(), h.Reason())
	}
	if b.Count() != 0 || conn.closeCount() != 1 {
		t.Fatalf("live=%d closes=%d", b.Count(), conn.closeCount())
	}
	select {
	case <-h.Done():
	default:
		t.Fatalf("done not closed")
	}
}

func TestBroadcastHonoursCancelledContext(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{})
	defer b.Close()
	b.Register(newFakeConn("c1", "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Broadcast(ctx, EventSystem, "x", All()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestInfoCountsPerUser(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{})
	defer b.Close()
	b.Register(newFakeConn("a1", "alice"))
	b.Register(newFakeConn("a2", "alice"))
	b.Register(newFakeConn("b1", "bob"))

	info := b.Info()
	if info.Total != 3 || info.Users["alice"] != 2 || info.Users["bob"] != 1 {
		t.Fatalf("unexpected info %+v", info)
	}
	if users := b.Users(); len(users) != 2 || users[0] != "alice" {
		t.Fatalf("users = %v", users)
	}
}
