package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencerResumesFromHighWater(t *testing.T) {
	s := New(41)
	assert.Equal(t, uint64(42), s.Next())
	assert.Equal(t, uint64(42), s.Current())
}

func TestObserveNeverMovesBackwards(t *testing.T) {
	s := New(10)
	s.Observe(5)
	assert.Equal(t, uint64(10), s.Current())
	s.Observe(20)
	assert.Equal(t, uint64(21), s.Next())
}

func TestNextIsUniqueUnderContention(t *testing.T) {
	s := New(0)
	const workers, per = 8, 1000

	var mu sync.Mutex
	seen := make(map[uint64]struct{}, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, s.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*per)
	assert.Equal(t, uint64(workers*per), s.Current())
}
