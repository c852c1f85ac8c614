package stream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultPingPeriod       = 15 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 1 << 20
	defaultHandshakeTimeout = 10 * time.Second
)

// DialSpec describes one streaming session.
type DialSpec struct {
	Endpoint     string
	Subscription []byte
	Heartbeat    []byte
}

// Session is an open streaming connection. Read blocks until a message
// arrives or the session fails; Close unblocks it.
type Session interface {
	Read() ([]byte, error)
	Close() error
}

// Dialer opens streaming sessions.
type Dialer interface {
	Dial(ctx context.Context, spec DialSpec) (Session, error)
}

// WSDialer opens gorilla websocket sessions with keepalive handling.
type WSDialer struct {
	dialer     *websocket.Dialer
	pingPeriod time.Duration
	logger     *zap.Logger
}

// NewWSDialer creates a dialer. pingPeriod <= 0 uses 15s.
func NewWSDialer(pingPeriod time.Duration, logger *zap.Logger) *WSDialer {
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSDialer{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		pingPeriod: pingPeriod,
		logger:     logger,
	}
}

// Dial connects, sends the subscription frame and starts the keepalive loop.
func (d *WSDialer) Dial(ctx context.Context, spec DialSpec) (Session, error) {
	conn, _, err := d.dialer.DialContext(ctx, spec.Endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", spec.Endpoint)
	}

	readWindow := 2 * d.pingPeriod
	conn.SetReadLimit(defaultReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	if spec.Subscription != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, spec.Subscription); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "send subscription")
		}
	}

	s := &wsSession{
		conn:       conn,
		readWindow: readWindow,
		done:       make(chan struct{}),
		logger:     d.logger.With(zap.String("endpoint", spec.Endpoint)),
	}
	s.wg.Add(1)
	go s.keepalive(d.pingPeriod, spec.Heartbeat)

	return s, nil
}

type wsSession struct {
	conn       *websocket.Conn
	readWindow time.Duration
	done       chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
	logger     *zap.Logger
}

func (s *wsSession) Read() ([]byte, error) {
	_, payload, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(s.readWindow))
	return payload, nil
}

func (s *wsSession) keepalive(period time.Duration, heartbeat []byte) {
	defer s.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(defaultWriteTimeout)
			var err error
			if heartbeat != nil {
				_ = s.conn.SetWriteDeadline(deadline)
				err = s.conn.WriteMessage(websocket.TextMessage, heartbeat)
			} else {
				err = s.conn.WriteControl(websocket.PingMessage, nil, deadline)
			}
			if err != nil {
				s.logger.Debug("Keepalive write failed", zap.Error(err))
				return
			}
		}
	}
}

// Close sends a normal closure frame and releases the connection. Safe to
// call more than once.
func (s *wsSession) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
