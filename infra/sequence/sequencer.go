package sequence

import "sync/atomic"

// Sequencer hands out order ids. Ids are strictly increasing for the
// lifetime of the process and resume from the persisted high-water mark.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose first id is highWater+1.
// On fresh start → highWater = 0
// On recovery → highWater = the largest id ever issued
func New(highWater uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(highWater)
	return s
}

// Next returns the next id.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued id.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Observe raises the high-water mark to v if v is larger. Replay uses it
// so ids recovered from the log are never handed out again.
func (s *Sequencer) Observe(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
