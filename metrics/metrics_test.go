package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersAddAndValue(t *testing.T) {
	c := NewCounters()
	c.Inc(CounterPushed)
	c.Add(CounterPushed, 4)
	assert.Equal(t, int64(5), c.Value(CounterPushed))
	assert.Equal(t, int64(0), c.Value("unknown"))
}

func TestCountersConcurrentIncrement(t *testing.T) {
	c := NewCounters()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc(CounterLoss)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), c.Value(CounterLoss))
}

func TestCountersSnapshotSorted(t *testing.T) {
	c := NewCounters()
	c.Inc("zz")
	c.Inc("aa")
	snap := c.Snapshot()
	assert.Equal(t, "aa", snap[0].Name)
	assert.Equal(t, "zz", snap[1].Name)
}

func TestGaugesSetAndSnapshot(t *testing.T) {
	g := NewGauges()
	g.Set("queue_depth", 7)
	assert.Equal(t, int64(7), g.Value("queue_depth"))
	snap := g.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, "queue_depth", snap[0].Name)
}
