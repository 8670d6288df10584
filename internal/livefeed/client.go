// Package livefeed keeps the device's recent readings cache current from the relay's
// websocket stream.
package livefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/domain"
	"github.com/septivank/aqueduct-sync/internal/gateway"
)

const (
	maxReconnectDelay = time.Minute
	pongWait          = 90 * time.Second
	messageType       = "consumo_update"
)

// Cache is the recent readings cache the feed writes to
type Cache interface {
	UpsertRecentReading(ctx context.Context, r domain.RecentReading) error
	DeleteRecentReading(ctx context.Context, code int) error
}

// message is one relay frame
type message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Operation string          `json:"operation"`
	Record    json.RawMessage `json:"record"`
}

// Client subscribes to the relay and applies every change to the cache
type Client struct {
	url            string
	cache          Cache
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	logger         *zap.Logger
	applied        atomic.Uint64
}

// NewClient creates a feed client for the relay websocket url
func NewClient(url string, cache Cache, reconnectDelay time.Duration, logger *zap.Logger) *Client {
	return &Client{
		url:            url,
		cache:          cache,
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconnectDelay: reconnectDelay,
		logger:         logger.Named("livefeed"),
	}
}

// Applied returns how many changes were written to the cache
func (c *Client) Applied() uint64 {
	return c.applied.Load()
}

// Run consumes the feed until ctx is cancelled, reconnecting with a doubling delay
func (c *Client) Run(ctx context.Context) {
	delay := c.reconnectDelay
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("live feed stopped")
			return
		}
		if connected {
			delay = c.reconnectDelay
		}

		c.logger.Warn("live feed disconnected", zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	c.logger.Info("live feed connected", zap.String("url", c.url))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("undecodable feed message", zap.Error(err))
			continue
		}
		if err := c.apply(ctx, msg); err != nil {
			c.logger.Warn("feed message not applied", zap.String("event_id", msg.ID), zap.Error(err))
		}
	}
}

// apply writes one relay message to the cache
func (c *Client) apply(ctx context.Context, msg message) error {
	if msg.Type != messageType {
		return nil
	}

	var row gateway.ServerReading
	if err := json.Unmarshal(msg.Record, &row); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if row.Code == 0 {
		return errors.New("record without codigo")
	}

	if strings.EqualFold(msg.Operation, "DELETE") {
		if err := c.cache.DeleteRecentReading(ctx, row.Code); err != nil {
			return err
		}
	} else {
		if err := c.cache.UpsertRecentReading(ctx, row.Recent()); err != nil {
			return err
		}
	}

	c.applied.Add(1)
	c.logger.Debug("recent reading updated from feed",
		zap.String("operation", msg.Operation),
		zap.Int("codigo", row.Code),
	)
	return nil
}
