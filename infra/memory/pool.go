package memory

import "sync"

// Pool is a typed object pool.
type Pool[T any] struct {
	p *sync.Pool
}

func NewPool[T any](ctor func() *T) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	p.p.Put(v)
}

// Buffers pools byte slices. Slices that grew past max are dropped on Put
// so one oversized record does not pin memory.
type Buffers struct {
	pool *Pool[[]byte]
	max  int
}

func NewBuffers(size, max int) *Buffers {
	return &Buffers{
		pool: NewPool(func() *[]byte {
			b := make([]byte, 0, size)
			return &b
		}),
		max: max,
	}
}

// Get returns a buffer of length n. The caller must Put it back and must
// not keep references to its contents afterwards.
func (b *Buffers) Get(n int) *[]byte {
	bp := b.pool.Get()
	if cap(*bp) < n {
		*bp = make([]byte, n)
	}
	*bp = (*bp)[:n]
	return bp
}

func (b *Buffers) Put(bp *[]byte) {
	if cap(*bp) > b.max {
		return
	}
	*bp = (*bp)[:0]
	b.pool.Put(bp)
}
