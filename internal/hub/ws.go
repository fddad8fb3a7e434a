package hub

import (
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("hub: not connected")

// socket is a websocket client that can be redialled after the peer drops.
type socket struct {
	url    string
	reconn time.Duration
	dialer *ws.Dialer

	mu   sync.Mutex
	conn *ws.Conn
}

func newSocket(url string, reconn time.Duration) *socket {
	return &socket{url: url, reconn: reconn, dialer: ws.DefaultDialer}
}

// connect dials until it succeeds or ctx is done.
func (s *socket) connect(ctx context.Context) (*ws.Conn, error) {
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err == nil {
			s.mu.Lock()
			s.conn = conn
			s.mu.Unlock()
			return conn, nil
		}
		log.Debug("Failed to dial hub", "url", s.url, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.reconn):
		}
	}
}

func (s *socket) drop(conn *ws.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
}

// writeJSON serialises writers; gorilla allows one concurrent writer.
func (s *socket) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteJSON(v)
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
