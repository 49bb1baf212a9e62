package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/wacrm/internal/status"
)

const writeWait = 10 * time.Second

var errServerDisconnect = errors.New("server closed the session")

// SocketConfig configures a Socket.
type SocketConfig struct {
	// URL of the Socket.IO server (http, https, ws or wss).
	URL string
	// Auth is sent as the CONNECT payload.
	Auth any
	// MinBackoff and MaxBackoff bound the reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Socket is a Channel backed by a Socket.IO server over WebSocket. It
// reconnects with exponential backoff until stopped and reports its
// connection state through a status.Machine.
type Socket struct {
	registry

	url     string
	auth    any
	dialer  *websocket.Dialer
	machine *status.Machine
	log     *zap.Logger
	backoff func() backoff.BackOff

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSocket validates cfg and returns a stopped socket.
func NewSocket(cfg SocketConfig, machine *status.Machine, log *zap.Logger) (*Socket, error) {
	u, err := endpoint(cfg.URL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine(nil)
	}
	minB, maxB := cfg.MinBackoff, cfg.MaxBackoff
	if minB <= 0 {
		minB = 500 * time.Millisecond
	}
	if maxB < minB {
		maxB = 30 * time.Second
	}
	return &Socket{
		url:     u,
		auth:    cfg.Auth,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		machine: machine,
		log:     log.Named("push"),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = minB
			b.MaxInterval = maxB
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
	}, nil
}

// State returns the current connection state.
func (s *Socket) State() status.State {
	return s.machine.Current()
}

// Start launches the connection loop. It returns immediately; connection
// failures are retried in the background.
func (s *Socket) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("push socket already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	return nil
}

// Stop closes the connection and waits for the loop to exit.
func (s *Socket) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *Socket) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.transition(status.Closed)

	bo := s.backoff()
	for {
		s.transition(status.Connecting)
		err := s.session(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		s.transition(status.Reconnecting)

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			s.log.Warn("giving up on push channel", zap.Error(err))
			return
		}
		s.log.Warn("push channel lost", zap.Error(err), zap.Duration("retry_in", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session runs one connection until it fails or ctx is cancelled.
func (s *Socket) session(ctx context.Context, bo backoff.BackOff) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop on shutdown.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = conn.Close()
	})
	defer stop()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read open packet: %w", err)
	}
	f, err := decodeFrame(data)
	if err != nil || f.eio != eioOpen {
		return fmt.Errorf("expected open packet, got %q", data)
	}
	var hs handshake
	if err := json.Unmarshal(f.data, &hs); err != nil {
		return fmt.Errorf("decode open packet: %w", err)
	}

	connect, err := encodeConnect(s.auth)
	if err != nil {
		return err
	}
	if err := s.write(conn, connect); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(hs.deadline())); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			s.log.Debug("dropping frame", zap.Error(err))
			continue
		}

		switch f.eio {
		case eioPing:
			if err := s.write(conn, []byte{eioPong}); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
		case eioClose:
			return errServerDisconnect
		case eioMessage:
			switch f.sio {
			case sioConnect:
				s.transition(status.Connected)
				bo.Reset()
				s.log.Info("push channel connected", zap.String("sid", hs.SID))
			case sioConnectError:
				return fmt.Errorf("connect rejected: %s", f.data)
			case sioDisconnect:
				return errServerDisconnect
			case sioEvent:
				if n := s.dispatch(f.event, f.data); n == 0 {
					s.log.Debug("no handler for event", zap.String("event", f.event))
				}
			}
		}
	}
}

func (s *Socket) write(conn *websocket.Conn, b []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Socket) transition(to status.State) {
	if s.machine.Current() == to {
		return
	}
	if err := s.machine.Transition(to); err != nil {
		s.log.Debug("state transition skipped", zap.Error(err))
	}
}
