package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SignalDialer opens the provider's signaling socket. Swappable for
// tests.
type SignalDialer func(ctx context.Context, url string) (SignalConn, error)

// DialSignaling is the production dialer backed by gorilla/websocket.
func DialSignaling(ctx context.Context, url string) (SignalConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling websocket: %w", err)
	}
	return &wsSignalConn{conn: conn}, nil
}

type wsSignalConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *wsSignalConn) ReadMessage() (SignalMessage, error) {
	var msg SignalMessage
	if err := s.conn.ReadJSON(&msg); err != nil {
		if ce, ok := err.(*websocket.CloseError); ok {
			return SignalMessage{}, &SignalCloseError{Code: ce.Code, Reason: ce.Text}
		}
		return SignalMessage{}, err
	}
	return msg, nil
}

func (s *wsSignalConn) WriteJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsSignalConn) Close(code int, reason string) error {
	var retErr error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		retErr = s.conn.Close()
	})
	return retErr
}
