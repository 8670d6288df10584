package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefresh(t *testing.T) {
	s := New("ana", 1, "")
	assert.False(t, s.Authenticated())

	s.Refresh("luis", 3, "t0k")
	assert.Equal(t, "luis", s.Operator())
	assert.Equal(t, 3, s.Company())
	assert.Equal(t, "t0k", s.Token())
	assert.True(t, s.Authenticated())
}

func TestConcurrentAccess(t *testing.T) {
	s := New("ana", 1, "a")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Refresh("luis", 2, "b")
		}()
		go func() {
			defer wg.Done()
			_ = s.Token()
			_ = s.Operator()
		}()
	}
	wg.Wait()

	assert.Equal(t, "b", s.Token())
}
