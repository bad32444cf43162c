package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/guard/pkg/clock"
)

func TestMock(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewMock(start)

	assert.Equal(t, start, clk.Now())
	assert.Equal(t, start.Add(time.Minute), clk.Advance(time.Minute))

	later := start.Add(24 * time.Hour)
	clk.Set(later)
	assert.Equal(t, later, clk.Now())
}

func TestMock_ConcurrentAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewMock(start)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clk.Advance(time.Second)
			_ = clk.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(100*time.Second), clk.Now())
}

func TestSystem_ReturnsUTC(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.UTC, clock.System.Now().Location())
}
