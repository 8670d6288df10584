// Package notify turns PostgreSQL NOTIFY messages about consumption rows into hub
// events and broker messages.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/db"
	"github.com/septivank/aqueduct-sync/internal/hub"
	"github.com/septivank/aqueduct-sync/internal/mq"
)

// channelTopics is the allow-list of channels that may be listened to and the hub
// topic each one feeds. Channel names are never taken from anywhere else.
var channelTopics = map[string]string{
	"consumo_channel": hub.TopicConsumption,
}

// RecordLoader hydrates a changed row from the reporting view
type RecordLoader interface {
	FindConsumption(ctx context.Context, code int64) (*db.ConsumptionRecord, error)
}

// EventPublisher forwards change events to the broker
type EventPublisher interface {
	PublishConsumptionChanged(ctx context.Context, event mq.ConsumptionChangedEvent) error
}

// Listener holds one pooled connection in LISTEN mode and relays notifications
type Listener struct {
	pool         *pgxpool.Pool
	channels     []string
	hub          *hub.Hub
	loader       RecordLoader
	publisher    EventPublisher
	reconnectGap time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewListener validates channels against the allow-list. loader and publisher may be nil.
func NewListener(
	pool *pgxpool.Pool,
	channels []string,
	h *hub.Hub,
	loader RecordLoader,
	publisher EventPublisher,
	reconnectGap time.Duration,
	logger *zap.Logger,
) (*Listener, error) {
	if len(channels) == 0 {
		return nil, errors.New("no notification channels configured")
	}
	for _, ch := range channels {
		if _, ok := channelTopics[ch]; !ok {
			return nil, fmt.Errorf("notification channel %q is not allowed", ch)
		}
	}

	return &Listener{
		pool:         pool,
		channels:     channels,
		hub:          h,
		loader:       loader,
		publisher:    publisher,
		reconnectGap: reconnectGap,
		logger:       logger.Named("notify"),
		now:          time.Now,
	}, nil
}

// Run listens until ctx is cancelled, re-acquiring a connection after failures
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			l.logger.Info("notification listener stopped")
			return nil
		}

		l.logger.Error("notification listener interrupted, reconnecting",
			zap.Error(err),
			zap.Duration("gap", l.reconnectGap),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.reconnectGap):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("[DATABASE] acquire listen connection: %w", err)
	}
	defer conn.Release()

	for _, ch := range l.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("[DATABASE] listen on %s: %w", ch, err)
		}
		l.logger.Info("listening for notifications", zap.String("channel", ch))
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("[DATABASE] wait for notification: %w", err)
		}
		if err := l.Handle(ctx, n.Channel, n.Payload); err != nil {
			l.logger.Warn("notification dropped",
				zap.String("channel", n.Channel),
				zap.Error(err),
			)
		}
	}
}

// Handle turns one notification payload into an event, fans it out on the hub and
// forwards it to the broker.
func (l *Listener) Handle(ctx context.Context, channel, payload string) error {
	topic, ok := channelTopics[channel]
	if !ok {
		return fmt.Errorf("unexpected channel %q", channel)
	}
	if payload == "" {
		return errors.New("empty payload")
	}

	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	operation := strings.ToUpper(strings.TrimSpace(n.Operation))
	record := normalizeRecord(n.Record)

	if l.loader != nil && operation != "DELETE" && record.Code > 0 {
		row, err := l.loader.FindConsumption(ctx, record.Code)
		if err != nil {
			l.logger.Debug("consumption not hydrated", zap.Int64("codigo", record.Code), zap.Error(err))
		} else {
			record.hydrate(row)
		}
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	event := hub.Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Type:      hub.MessageTypeConsumptionUpdate,
		Operation: operation,
		Record:    body,
		At:        l.now().UTC(),
	}

	delivered := l.hub.Publish(event)
	l.logger.Debug("consumption change relayed",
		zap.String("event_id", event.ID),
		zap.String("operation", operation),
		zap.Int64("codigo", record.Code),
		zap.Int("subscribers", delivered),
	)

	if l.publisher == nil {
		return nil
	}
	return l.publisher.PublishConsumptionChanged(ctx, mq.ConsumptionChangedEvent{
		EventID:    event.ID,
		Operation:  operation,
		Record:     body,
		OccurredAt: event.At,
	})
}
