package frames

import (
	"sync"

	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sirupsen/logrus"
)

// A Builder can build frame allocators.
type Builder struct {
	ram       RAM
	swap      SwapStore
	finder    VictimFinder
	maxFrames int
	log       logrus.FieldLogger
}

// MakeBuilder creates a new builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		log: logrus.StandardLogger(),
	}
}

// WithRAM sets the physical memory the frames live in.
func (b Builder) WithRAM(ram RAM) Builder {
	b.ram = ram
	return b
}

// WithSwapStore sets the swap store used for eviction.
func (b Builder) WithSwapStore(s SwapStore) Builder {
	b.swap = s
	return b
}

// WithVictimFinder sets the eviction policy. The clock policy is used by
// default.
func (b Builder) WithVictimFinder(f VictimFinder) Builder {
	b.finder = f
	return b
}

// WithMaxFrames limits the number of frames taken from the RAM. Zero means
// all of the remaining RAM.
func (b Builder) WithMaxFrames(n int) Builder {
	b.maxFrames = n
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l logrus.FieldLogger) Builder {
	b.log = l
	return b
}

// Build takes over the RAM left by the bootstrap allocator and returns the
// frame allocator.
func (b Builder) Build(name string) *Allocator {
	if b.ram == nil {
		panic("frame allocator requires a RAM")
	}

	if b.swap == nil {
		panic("frame allocator requires a swap store")
	}

	a := &Allocator{
		name:     name,
		ram:      b.ram,
		swap:     b.swap,
		finder:   b.finder,
		evictees: make(map[vm.ASID]Evictee),
		log:      b.log,
	}
	a.cond = sync.NewCond(&a.lock)

	if a.finder == nil {
		a.finder = NewClockVictimFinder()
	}

	first := vm.AlignUp(b.ram.FirstFree())
	size := b.ram.Size()

	n := 0
	if size > first {
		n = int((size - first) >> vm.Log2PageSize)
	}

	if b.maxFrames > 0 && b.maxFrames < n {
		n = b.maxFrames
	}

	a.frames = make([]frame, n)
	a.free = make([]vm.FrameID, 0, n)

	for i := n - 1; i >= 0; i-- {
		a.frames[i].paddr = first + uint64(i)<<vm.Log2PageSize
		a.free = append(a.free, vm.FrameID(i))
	}

	a.log.WithFields(logrus.Fields{
		"frames":     n,
		"first_free": first,
	}).Info("frame allocator ready")

	return a
}
