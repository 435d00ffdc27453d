package events

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// BackoffConfig controls reconnection delays.
type BackoffConfig struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterPercent     float64 // 0.2 = 20%
}

// DefaultBackoff is used when a subscriber is built without one.
var DefaultBackoff = BackoffConfig{ //nolint:gochecknoglobals // read-only default
	InitialDelay:      500 * time.Millisecond,
	MaxDelay:          30 * time.Second,
	BackoffMultiplier: 2.0,
	JitterPercent:     0.2,
}

// Backoff computes exponential reconnection delays with jitter.
type Backoff struct {
	config  BackoffConfig
	current time.Duration
	mu      sync.Mutex
}

// NewBackoff creates a backoff starting at cfg.InitialDelay.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{config: cfg, current: cfg.InitialDelay}
}

// Next returns the delay to wait before the next attempt and grows the base delay.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	jitter := rand.Float64() * b.config.JitterPercent //nolint:gosec // jitter only
	d := time.Duration(float64(b.current) * (1.0 + jitter))

	grown := time.Duration(float64(b.current) * b.config.BackoffMultiplier)
	if grown > b.config.MaxDelay {
		grown = b.config.MaxDelay
	}
	b.current = grown
	return d
}

// Reset returns the delay to its initial value.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.config.InitialDelay
}

// SubscriberConfig holds subscriber configuration.
type SubscriberConfig struct {
	URL         string // ws://host:port/ws
	MarketID    string // optional filter
	DialTimeout time.Duration
	Backoff     BackoffConfig
	Logger      *zap.Logger
}

// Subscriber consumes a hub's event stream and reconnects when the stream drops.
type Subscriber struct {
	cfg     SubscriberConfig
	backoff *Backoff
	logger  *zap.Logger
}

// NewSubscriber creates a subscriber.
func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Subscriber{cfg: cfg, backoff: NewBackoff(cfg.Backoff), logger: cfg.Logger}
}

func (s *Subscriber) url() string {
	if s.cfg.MarketID == "" {
		return s.cfg.URL
	}
	return s.cfg.URL + "?market=" + s.cfg.MarketID
}

// Run delivers events to handle until ctx is cancelled. A dropped connection is
// re-dialled with exponential backoff.
func (s *Subscriber) Run(ctx context.Context, handle func(types.Event)) error {
	for {
		err := s.stream(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.backoff.Next()
		ReconnectAttemptsTotal.Inc()
		s.logger.Warn("event-stream-lost",
			zap.Error(err),
			zap.Duration("backoff", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (s *Subscriber) stream(ctx context.Context, handle func(types.Event)) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.backoff.Reset()
	s.logger.Info("event-stream-connected", zap.String("url", s.url()))

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		var ev types.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.logger.Debug("event-unparseable", zap.Error(err), zap.Int("bytes", len(msg)))
			continue
		}
		handle(ev)
	}
}

