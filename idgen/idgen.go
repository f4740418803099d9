// Package idgen provides the generators for address space and process IDs.
package idgen

import (
	"sync"
	"sync/atomic"
)

// ID is a unique identifier represented as a uint64.
type ID uint64

// Generator produces unique identifiers.
type Generator interface {
	Generate() ID
}

// New returns a sequential generator whose first emitted ID is "1".
func New() Generator {
	return &sequentialGenerator{}
}

type sequentialGenerator struct {
	next uint64
}

func (g *sequentialGenerator) Generate() ID {
	return ID(atomic.AddUint64(&g.next, 1))
}

// A Pool hands out at most a fixed number of live IDs. Released IDs are
// reused, lowest first.
type Pool struct {
	lock     sync.Mutex
	capacity int
	inUse    map[ID]bool
	released []ID
	gen      Generator
}

// NewPool creates a pool with room for capacity live IDs.
func NewPool(capacity int) *Pool {
	return &Pool{
		capacity: capacity,
		inUse:    make(map[ID]bool),
		gen:      New(),
	}
}

// Acquire returns a free ID. It reports false when every ID is in use.
func (p *Pool) Acquire() (ID, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if len(p.inUse) >= p.capacity {
		return 0, false
	}

	var id ID
	if n := len(p.released); n > 0 {
		lowest := 0
		for i, r := range p.released {
			if r < p.released[lowest] {
				lowest = i
			}
		}

		id = p.released[lowest]
		p.released[lowest] = p.released[n-1]
		p.released = p.released[:n-1]
	} else {
		id = p.gen.Generate()
	}

	p.inUse[id] = true

	return id, true
}

// Release gives the ID back to the pool.
func (p *Pool) Release(id ID) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if !p.inUse[id] {
		panic("releasing an ID that is not in use")
	}

	delete(p.inUse, id)
	p.released = append(p.released, id)
}

// InUse returns the number of live IDs.
func (p *Pool) InUse() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return len(p.inUse)
}
