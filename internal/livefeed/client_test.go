package livefeed

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/domain"
	"github.com/septivank/aqueduct-sync/internal/hub"
	"github.com/septivank/aqueduct-sync/internal/relay"
)

type memoryCache struct {
	mu   sync.Mutex
	rows map[int]domain.RecentReading
}

func newMemoryCache() *memoryCache {
	return &memoryCache{rows: make(map[int]domain.RecentReading)}
}

func (m *memoryCache) UpsertRecentReading(ctx context.Context, r domain.RecentReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[r.Code] = r
	return nil
}

func (m *memoryCache) DeleteRecentReading(ctx context.Context, code int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, code)
	return nil
}

func (m *memoryCache) get(code int) (domain.RecentReading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[code]
	return r, ok
}

func TestApply(t *testing.T) {
	cache := newMemoryCache()
	c := NewClient("ws://unused", cache, time.Second, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.apply(ctx, message{
		Type:      "consumo_update",
		Operation: "INSERT",
		Record:    []byte(`{"codigo":981,"instalacion":12,"nombre":"Maria Lopez","lectura":450,"consumo":50,"mes":6,"year":2024,"facturado":false}`),
	}))

	r, ok := cache.get(981)
	require.True(t, ok)
	assert.Equal(t, 12, r.Installation)
	assert.Equal(t, 6, r.Month)
	assert.Equal(t, "Maria Lopez", r.Name)

	require.NoError(t, c.apply(ctx, message{Type: "connection"}))
	assert.Equal(t, uint64(1), c.Applied())

	require.NoError(t, c.apply(ctx, message{Type: "consumo_update", Operation: "delete", Record: []byte(`{"codigo":981}`)}))
	_, ok = cache.get(981)
	assert.False(t, ok)

	assert.Error(t, c.apply(ctx, message{Type: "consumo_update", Operation: "INSERT", Record: []byte(`{"instalacion":12}`)}))
}

func TestRun_AppliesRelayEvents(t *testing.T) {
	h := hub.New(zap.NewNop())
	srv := httptest.NewServer(relay.NewServer(":0", h, nil, zap.NewNop()).Routes())
	defer srv.Close()
	defer h.Close()

	cache := newMemoryCache()
	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", cache, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.SubscriberCount(hub.TopicConsumption) == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Publish(hub.Event{
		ID:        "evt-1",
		Topic:     hub.TopicConsumption,
		Type:      hub.MessageTypeConsumptionUpdate,
		Operation: "UPDATE",
		Record:    []byte(`{"codigo":77,"instalacion":3,"lectura":"120.5","consumo":"20.5","mes":6,"year":2024}`),
	})

	require.Eventually(t, func() bool {
		_, ok := cache.get(77)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("live feed did not stop after cancellation")
	}
}
