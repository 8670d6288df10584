package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMonitor_FiresOnlyOnReconnect(t *testing.T) {
	m := NewMonitor(true, zap.NewNop())

	var calls int
	m.Subscribe(func() { calls++ })

	m.Set(true)
	assert.Equal(t, 0, calls, "staying connected is a no-op")

	m.Set(false)
	assert.False(t, m.IsOnline())
	assert.Equal(t, 0, calls, "losing connectivity is silent")

	m.Set(false)
	m.Set(true)
	assert.True(t, m.IsOnline())
	assert.Equal(t, 1, calls)

	m.Set(true)
	assert.Equal(t, 1, calls)
}

func TestMonitor_ListenersInRegistrationOrder(t *testing.T) {
	m := NewMonitor(false, zap.NewNop())

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		m.Subscribe(func() { order = append(order, i) })
	}

	m.Set(true)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(false, zap.NewNop())

	var a, b int
	unsubscribeA := m.Subscribe(func() { a++ })
	m.Subscribe(func() { b++ })

	unsubscribeA()
	unsubscribeA()

	m.Set(true)
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

func TestMonitor_ListenerMaySubscribe(t *testing.T) {
	m := NewMonitor(false, zap.NewNop())

	var inner int
	m.Subscribe(func() {
		m.Subscribe(func() { inner++ })
	})

	m.Set(true)
	assert.Equal(t, 0, inner)
}

func TestMonitor_ConcurrentSetFiresOncePerTransition(t *testing.T) {
	m := NewMonitor(false, zap.NewNop())

	var fired atomic.Int32
	m.Subscribe(func() { fired.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Set(true)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
}

type fakePinger struct {
	mu  sync.Mutex
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakePinger) set(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func TestProber_StartSeedsWithoutFiring(t *testing.T) {
	m := NewMonitor(false, zap.NewNop())
	var fired atomic.Int32
	m.Subscribe(func() { fired.Add(1) })

	pinger := &fakePinger{}
	p := NewProber(m, pinger, 10*time.Millisecond, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	<-p.Seeded()
	assert.True(t, m.IsOnline())
	assert.Equal(t, int32(0), fired.Load())

	pinger.set(errors.New("dial tcp: connection refused"))
	require.Eventually(t, func() bool { return !m.IsOnline() }, time.Second, 5*time.Millisecond)

	pinger.set(nil)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestHTTPPinger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	pinger := HTTPPinger{URL: srv.URL + "/"}
	assert.NoError(t, pinger.Ping(context.Background()), "any HTTP answer means reachable")

	srv.Close()
	assert.Error(t, pinger.Ping(context.Background()))
}
