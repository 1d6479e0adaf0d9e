package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"VaultPulse/internal/domain/models"
	drepo "VaultPulse/internal/domain/repository"
	"VaultPulse/pkg/logger"
)

// Stream implements a MarketStream backed by the Hyperliquid websocket.
type Stream struct {
	websocketURL   string
	coins          []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger
	dialer         *websocket.Dialer

	normMu sync.Mutex
	norm   *Normalizer

	mu        sync.Mutex // guards conn and serializes writes
	conn      *websocket.Conn
	connected atomic.Bool
}

type StreamOption func(*Stream)

func WithStreamLogger(l *logger.Logger) StreamOption {
	return func(s *Stream) { s.log = l }
}

func WithDialer(d *websocket.Dialer) StreamOption {
	return func(s *Stream) { s.dialer = d }
}

// NewStream creates a MarketStream subscribed to trades and l2Book of coins.
func NewStream(websocketURL string, coins []string, reconnectDelay, pingInterval time.Duration, opts ...StreamOption) *Stream {
	s := &Stream{
		websocketURL:   websocketURL,
		coins:          coins,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            logger.Nop(),
		dialer:         websocket.DefaultDialer,
		norm:           NewNormalizer(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect establishes the websocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("hyperliquid connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)
	s.log.Info("hyperliquid connected", logger.String("url", s.websocketURL))
	return nil
}

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

type subscribeMsg struct {
	Method       string        `json:"method"`
	Subscription *subscription `json:"subscription,omitempty"`
}

// Subscribe subscribes every coin to the trades and l2Book channels.
func (s *Stream) Subscribe(ctx context.Context) error {
	if !s.connected.Load() {
		return fmt.Errorf("hyperliquid not connected")
	}
	for _, coin := range s.coins {
		for _, ch := range []string{"trades", "l2Book"} {
			msg := subscribeMsg{Method: "subscribe", Subscription: &subscription{Type: ch, Coin: coin}}
			if err := s.writeJSON(msg); err != nil {
				return fmt.Errorf("subscribe %s %s: %w", ch, coin, err)
			}
		}
		s.log.Info("hyperliquid subscribed", logger.String("coin", coin))
	}
	return nil
}

func (s *Stream) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("hyperliquid conn nil")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

// Read streams normalized events and terminal read errors. Both channels are
// closed when the connection ends; after Reconnect call Read again.
func (s *Stream) Read(ctx context.Context) (<-chan models.Event, <-chan error) {
	events := make(chan models.Event, 1024)
	errs := make(chan error, 1)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	readCtx, stopPing := context.WithCancel(ctx)

	// venue heartbeat: {"method":"ping"}
	go func() {
		if s.pingInterval <= 0 {
			return
		}
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			case <-ticker.C:
				if err := s.writeJSON(subscribeMsg{Method: "ping"}); err != nil {
					s.log.Debug("hyperliquid ping failed", logger.Error(err))
				}
			}
		}
	}()

	go func() {
		defer close(events)
		defer close(errs)
		defer stopPing()
		if conn == nil {
			errs <- fmt.Errorf("hyperliquid conn nil")
			return
		}
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("hyperliquid read: %w", err)
				}
				return
			}
			s.normMu.Lock()
			evs, err := s.norm.Decode(b)
			s.normMu.Unlock()
			if err != nil {
				s.log.Warn("hyperliquid frame dropped", logger.Error(err))
				continue
			}
			for _, ev := range evs {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		<-readCtx.Done()
		if ctx.Err() != nil {
			_ = s.Close()
		}
	}()

	return events, errs
}

// Forget drops the cached book of a pruned coin.
func (s *Stream) Forget(coin string) {
	s.normMu.Lock()
	s.norm.Forget(coin)
	s.normMu.Unlock()
}

// Reconnect closes and reconnects, retrying with the reconnect delay until
// ctx is done. Rolling state downstream is untouched.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
		err := s.Connect(ctx)
		if err == nil {
			err = s.Subscribe(ctx)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		s.log.Warn("hyperliquid reconnect failed", logger.Int("attempt", attempt), logger.Error(err))
	}
}

// Close closes the websocket connection.
func (s *Stream) Close() error {
	s.connected.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool { return s.connected.Load() }

var _ drepo.MarketStream = (*Stream)(nil)
