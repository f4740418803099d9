package addrspace

import (
	"github.com/sarchlab/vmswap/idgen"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sarchlab/vmswap/mem/vm/frames"
	"github.com/sirupsen/logrus"
)

// A Builder can build address space managers.
type Builder struct {
	frames    *frames.Allocator
	swap      SwapStore
	tlb       vm.TLB
	maxSpaces int
	log       logrus.FieldLogger
}

// MakeBuilder creates a new builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		maxSpaces: 64,
		log:       logrus.StandardLogger(),
	}
}

// WithFrameAllocator sets the allocator that provides physical frames.
func (b Builder) WithFrameAllocator(a *frames.Allocator) Builder {
	b.frames = a
	return b
}

// WithSwapStore sets the swap store. It must be the store the frame
// allocator evicts to.
func (b Builder) WithSwapStore(s SwapStore) Builder {
	b.swap = s
	return b
}

// WithTLB sets the translation cache of the processor.
func (b Builder) WithTLB(t vm.TLB) Builder {
	b.tlb = t
	return b
}

// WithMaxSpaces sets the number of address spaces that can exist at the
// same time.
func (b Builder) WithMaxSpaces(n int) Builder {
	b.maxSpaces = n
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l logrus.FieldLogger) Builder {
	b.log = l
	return b
}

// Build creates the manager.
func (b Builder) Build(name string) *Manager {
	if b.frames == nil {
		panic("address space manager requires a frame allocator")
	}

	if b.swap == nil {
		panic("address space manager requires a swap store")
	}

	if b.tlb == nil {
		panic("address space manager requires a TLB")
	}

	return &Manager{
		name:   name,
		frames: b.frames,
		swap:   b.swap,
		tlb:    b.tlb,
		ids:    idgen.NewPool(b.maxSpaces),
		spaces: make(map[vm.ASID]*AddressSpace),
		log:    b.log,
	}
}
