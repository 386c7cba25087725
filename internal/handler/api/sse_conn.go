package api

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"PulseBoard/internal/domain/models"
)

const sseWriteWait = 5 * time.Second

var sseKeepalive = []byte(": keepalive\n\n")

// sseConn queues encoded text/event-stream frames for the stream handler,
// which is the only writer. A full queue fails the send so the broadcaster
// drops the slow client instead of waiting on its socket.
type sseConn struct {
	id, user string
	w        io.Writer
	flush    http.Flusher
	deadline func(time.Time) error // nil when the transport has no deadlines
	queue    chan []byte
	done     chan struct{}
	once     sync.Once
}

func newSSEConn(id, user string, w io.Writer, flush http.Flusher, buffer int) *sseConn {
	if buffer < 1 {
		buffer = 16
	}
	return &sseConn{
		id:    id,
		user:  user,
		w:     w,
		flush: flush,
		queue: make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

func (s *sseConn) ID() string     { return s.id }
func (s *sseConn) UserID() string { return s.user }

func (s *sseConn) Send(event string, data []byte) error {
	select {
	case <-s.done:
		return models.ErrConnectionLost
	default:
	}
	select {
	case s.queue <- fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event, data):
		return nil
	default:
		return errSlowClient
	}
}

func (s *sseConn) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// frames yields queued frames in send order.
func (s *sseConn) frames() <-chan []byte { return s.queue }

// heartbeat writes an SSE comment so proxies keep the stream open and a dead
// peer surfaces as a write error.
func (s *sseConn) heartbeat() error { return s.write(sseKeepalive) }

// write puts one frame on the wire. Each write carries its own deadline, so a
// peer that stops reading fails the write rather than parking the handler.
func (s *sseConn) write(frame []byte) error {
	if s.deadline != nil {
		_ = s.deadline(time.Now().Add(sseWriteWait))
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flush.Flush()
	return nil
}
