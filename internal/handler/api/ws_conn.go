package api

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"PulseBoard/internal/domain/models"
	applogger "PulseBoard/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 5 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4 * 1024
)

var errSlowClient = errors.New("send buffer full")

// wsFrame is the envelope each event travels in over a WebSocket.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// wsConn queues frames for a single writer goroutine. A full queue fails the
// send so the broadcaster drops the slow client.
type wsConn struct {
	id, user string
	conn     *websocket.Conn
	send     chan wsFrame
	done     chan struct{}
	once     sync.Once
	log      *applogger.Logger
}

func newWSConn(id, user string, conn *websocket.Conn, buffer int, l *applogger.Logger) *wsConn {
	if buffer < 1 {
		buffer = 16
	}
	return &wsConn{
		id:   id,
		user: user,
		conn: conn,
		send: make(chan wsFrame, buffer),
		done: make(chan struct{}),
		log:  l,
	}
}

func (w *wsConn) ID() string     { return w.id }
func (w *wsConn) UserID() string { return w.user }

func (w *wsConn) Send(event string, data []byte) error {
	select {
	case <-w.done:
		return models.ErrConnectionLost
	default:
	}
	select {
	case w.send <- wsFrame{Event: event, Data: data}:
		return nil
	default:
		return errSlowClient
	}
}

func (w *wsConn) Close() error {
	w.once.Do(func() { close(w.done) })
	return nil
}

// writePump owns every write on the socket. It exits when the connection is
// closed or a write fails, and always closes the socket.
func (w *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = w.conn.Close()
	}()

	for {
		select {
		case frame := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := w.conn.WriteJSON(frame); err != nil {
				w.log.Debug("websocket write failed", applogger.String("conn_id", w.id), applogger.Error(err))
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-w.done:
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

// readPump drains client frames so pongs and close frames are processed. It
// returns the error that ended the read loop.
func (w *wsConn) readPump() error {
	w.conn.SetReadLimit(wsMaxMessageSize)
	_ = w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return err
		}
	}
}
