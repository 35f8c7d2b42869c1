package polygon

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"darkflow/internal/ports"
)

const (
	defaultSubscription = "T.*" // All trade events
	handshakeTimeout    = 10 * time.Second
)

// Stream implements ports.TradeStream against the provider's streaming
// socket. One Stream maintains one connection at a time and reconnects
// forever with a fixed delay; the feed is expected to be available
// eventually and silent data loss is worse than a noisy retry loop.
type Stream struct {
	url            string
	apiKey         string
	subscription   string
	reconnectDelay time.Duration
	logger         ports.Logger
}

// StreamConfig holds configuration for the trade stream.
type StreamConfig struct {
	URL            string
	APIKey         string
	Subscription   string // Defaults to all trade events
	ReconnectDelay time.Duration
	Logger         ports.Logger
}

// NewStream creates a trade stream client.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: stream URL and API key are required", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	subscription := cfg.Subscription
	if subscription == "" {
		subscription = defaultSubscription
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 10 * time.Second
	}
	return &Stream{
		url:            cfg.URL,
		apiKey:         cfg.APIKey,
		subscription:   subscription,
		reconnectDelay: reconnectDelay,
		logger:         cfg.Logger,
	}, nil
}

// Run connects, authenticates, subscribes and delivers raw messages to the
// handler until the context is cancelled. Each connection attempt walks
// Connecting -> Authenticated -> Subscribed -> Streaming; any failure drops
// back to a fixed-delay wait and a fresh attempt.
func (s *Stream) Run(ctx context.Context, handler func(message []byte)) error {
	for {
		err := s.connectAndRead(ctx, handler)
		if ctx.Err() != nil {
			s.logger.Info(ctx, "Trade stream stopped")
			return ctx.Err()
		}
		s.logger.Warn(ctx, "Feed disconnected, reconnecting", map[string]interface{}{
			"error": fmt.Sprint(err),
			"delay": s.reconnectDelay.String(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

// connectAndRead runs one connection lifecycle. It returns the transport
// error that ended the connection; disconnects are detected by the
// transport, not a timer, so no read deadline is set.
func (s *Stream) connectAndRead(ctx context.Context, handler func(message []byte)) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrConnectionFailed, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"action": "auth", "params": s.apiKey}); err != nil {
		return fmt.Errorf("%w: auth message: %v", ports.ErrAuthFailed, err)
	}
	if err := conn.WriteJSON(map[string]string{"action": "subscribe", "params": s.subscription}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subscription, err)
	}
	s.logger.Info(ctx, "Feed connected and subscribed", map[string]interface{}{"subscription": s.subscription})

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed read failed: %w", err)
		}
		handler(message)
	}
}
