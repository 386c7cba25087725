package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PulseBoard/internal/domain/models"
	"PulseBoard/internal/service/cache"
	"PulseBoard/internal/usecase"
	xhttp "PulseBoard/pkg/http"

	"github.com/gorilla/websocket"
)

func TestDashboardConfigEndpoints(t *testing.T) {
	f := newFixture(t)

	_, env := f.call(t, http.MethodGet, "/api/dashboard/config", "alice", nil)
	if cfg := decode[models.DashboardConfig](t, env.Data); len(cfg.Tickers) != len(models.DefaultDashboardConfig().Tickers) {
		t.Fatalf("expected the default config, got %+v", cfg)
	}

	bad := []map[string]any{
		{"tickers": []any{}},
		{"tickers": []map[string]string{{"name": "no symbol"}}},
		{"youtubeUrl": "not a url", "tickers": []map[string]string{{"symbol": "AAPL"}}},
	}
	for i, body := range bad {
		if code, _ := f.call(t, http.MethodPost, "/api/dashboard/config", "alice", body); code != http.StatusBadRequest {
			t.Fatalf("case %d accepted: %d", i, code)
		}
	}

	code, env := f.call(t, http.MethodPost, "/api/dashboard/config", "alice", models.UpdateConfigRequest{
		Tickers: []models.TickerConfig{{Symbol: "nvda", Name: "NVIDIA"}},
	})
	if code != http.StatusOK {
		t.Fatalf("update: %d %s", code, env.Data)
	}
	if saved := decode[models.DashboardConfig](t, env.Data); saved.Tickers[0].Symbol != "NVDA" {
		t.Fatalf("symbol not normalized: %+v", saved)
	}

	_, env = f.call(t, http.MethodGet, "/api/dashboard/config", "alice", nil)
	if cfg := decode[models.DashboardConfig](t, env.Data); len(cfg.Tickers) != 1 || cfg.Tickers[0].Name != "NVIDIA" {
		t.Fatalf("config not persisted: %+v", cfg)
	}
	_, env = f.call(t, http.MethodGet, "/api/dashboard/config", "bob", nil)
	if cfg := decode[models.DashboardConfig](t, env.Data); len(cfg.Tickers) == 1 {
		t.Fatalf("alice's config leaked to bob")
	}
}

func TestDashboardPullEndpoints(t *testing.T) {
	f := newFixture(t)

	code, env := f.call(t, http.MethodGet, "/api/dashboard/data", "alice", nil)
	if code != http.StatusOK {
		t.Fatalf("data: %d", code)
	}
	if snap := decode[models.DashboardData](t, env.Data); snap.Type != models.SnapshotFull || snap.System == nil {
		t.Fatalf("snapshot %+v", snap)
	}

	_, env = f.call(t, http.MethodGet, "/api/dashboard/traffic", "", nil)
	if !strings.Contains(string(env.Data), `"items":[]`) {
		t.Fatalf("traffic default: %s", env.Data)
	}
	_, env = f.call(t, http.MethodGet, "/api/dashboard/emergency", "", nil)
	if !strings.Contains(string(env.Data), `"items":[]`) {
		t.Fatalf("emergency default: %s", env.Data)
	}

	_, env = f.call(t, http.MethodGet, "/api/dashboard/cache", "", nil)
	statuses := decode[[]cache.Status](t, env.Data)
	if len(statuses) != 5 || statuses[0].Name != "quotes" {
		t.Fatalf("cache statuses %+v", statuses)
	}

	_, env = f.call(t, http.MethodGet, "/api/dashboard/connections", "", nil)
	if info := decode[models.ConnectionInfo](t, env.Data); info.Total != 0 {
		t.Fatalf("connections %+v", info)
	}
}

// sseEvents streams the event names of an SSE body.
func sseEvents(body interface{ Read([]byte) (int, error) }) <-chan string {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				out <- name
			}
		}
	}()
	return out
}

func expectEvent(t *testing.T, events <-chan string, want string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got, ok := <-events:
			if !ok {
				t.Fatalf("stream ended before %q", want)
			}
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestStreamServerSentEvents(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/dashboard/stream?userId=alice", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	if resp.Header.Get(xhttp.HeaderUserID) != "alice" {
		t.Fatalf("user header %q", resp.Header.Get(xhttp.HeaderUserID))
	}

	events := sseEvents(resp.Body)
	expectEvent(t, events, usecase.EventConnected)
	expectEvent(t, events, usecase.EventDashboard)
	if f.broadcaster.CountFor("alice") != 1 {
		t.Fatalf("stream not registered")
	}

	if _, err := f.broadcaster.Broadcast(context.Background(), usecase.EventSystem, map[string]int{"n": 1}, usecase.ForUser("alice")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	expectEvent(t, events, usecase.EventSystem)

	cancel()
	waitFor(t, "stream unregistered", func() bool { return f.broadcaster.Count() == 0 })
}

func TestStreamWebSocket(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/dashboard/ws"
	header := http.Header{}
	header.Set(xhttp.HeaderUserID, "bob")
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	if resp.Header.Get(xhttp.HeaderUserID) != "bob" {
		t.Fatalf("user header %q", resp.Header.Get(xhttp.HeaderUserID))
	}

	read := func() wsFrame {
		t.Helper()
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame wsFrame
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		return frame
	}

	if first := read(); first.Event != usecase.EventConnected || string(first.Data) != `{"status":"connected"}` {
		t.Fatalf("first frame %+v", first)
	}
	if second := read(); second.Event != usecase.EventDashboard {
		t.Fatalf("second frame %q", second.Event)
	}

	_, env := f.call(t, http.MethodGet, "/api/dashboard/connections", "", nil)
	if info := decode[models.ConnectionInfo](t, env.Data); info.Total != 1 || info.Users["bob"] != 1 {
		t.Fatalf("connections %+v", info)
	}

	if _, err := f.broadcaster.Broadcast(context.Background(), usecase.EventAlert, models.AlertEvent{Message: "hi"}, usecase.All()); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	frame := read()
	var ev models.AlertEvent
	if frame.Event != usecase.EventAlert || json.Unmarshal(frame.Data, &ev) != nil || ev.Message != "hi" {
		t.Fatalf("alert frame %+v", frame)
	}

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, "socket unregistered", func() bool { return f.broadcaster.Count() == 0 })
}

func TestWebSocketFullBufferFailsSend(t *testing.T) {
	conn := newWSConn("c1", "alice", nil, 1, nil)
	if err := conn.Send(usecase.EventSystem, []byte(`{}`)); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := conn.Send(usecase.EventSystem, []byte(`{}`)); err != errSlowClient {
		t.Fatalf("expected errSlowClient, got %v", err)
	}
	_ = conn.Close()
	_ = conn.Close()
	if err := conn.Send(usecase.EventSystem, []byte(`{}`)); err != models.ErrConnectionLost {
		t.Fatalf("send after close: %v", err)
	}
}

func TestSSEConnFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	conn := newSSEConn("c1", "alice", rec, rec, 1)

	if err := conn.Send(usecase.EventDashboard, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := conn.Send(usecase.EventDashboard, []byte(`{"a":2}`)); err != errSlowClient {
		t.Fatalf("expected errSlowClient, got %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("send wrote to the socket: %q", rec.Body.String())
	}
	if err := conn.write(<-conn.frames()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	want := "event: dashboard\ndata: {\"a\":1}\n\n: keepalive\n\n"
	if rec.Body.String() != want {
		t.Fatalf("frames %q", rec.Body.String())
	}
	if !rec.Flushed {
		t.Fatalf("frames not flushed")
	}

	_ = conn.Close()
	_ = conn.Close()
	if err := conn.Send(usecase.EventDashboard, nil); err != models.ErrConnectionLost {
		t.Fatalf("send after close: %v", err)
	}
}

type nopFlusher struct{}

func (nopFlusher) Flush() {}

func TestStalledSSEClientDoesNotBlockBroadcast(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	b := usecase.NewBroadcaster(usecase.BroadcasterConfig{})
	defer b.Close()

	// The peer never reads, so the writer parks on its first frame.
	stalled := newSSEConn("stalled", "alice", pw, nopFlusher{}, 2)
	go func() {
		for frame := range stalled.frames() {
			if stalled.write(frame) != nil {
				return
			}
		}
	}()
	healthy := newSSEConn("healthy", "bob", httptest.NewRecorder(), nopFlusher{}, 16)

	stalledHandle := b.Register(stalled)
	healthyHandle := b.Register(healthy)

	finished := make(chan int)
	go func() {
		dropped := 0
		for i := 0; i < 5; i++ {
			res, err := b.Broadcast(context.Background(), usecase.EventSystem, map[string]int{"n": i}, usecase.All())
			if err != nil {
				t.Errorf("broadcast %d: %v", i, err)
			}
			dropped += res.Dropped
		}
		finished <- dropped
	}()

	select {
	case dropped := <-finished:
		if dropped != 1 {
			t.Fatalf("dropped %d connections, want 1", dropped)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on a client that stopped reading")
	}

	if !stalledHandle.Closed() || stalledHandle.Reason() != usecase.CloseError {
		t.Fatalf("stalled client kept: closed=%v reason=%q", stalledHandle.Closed(), stalledHandle.Reason())
	}
	if healthyHandle.Closed() || b.Count() != 1 {
		t.Fatalf("healthy client lost: closed=%v live=%d", healthyHandle.Closed(), b.Count())
	}
	if got := len(healthy.frames()); got != 6 {
		t.Fatalf("healthy client queued %d frames, want connected plus 5", got)
	}
}
