package tlb

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmswap/mem/vm"
)

var _ vm.TLB = &Comp{}

var _ = Describe("TLB", func() {
	var tlb *Comp

	BeforeEach(func() {
		tlb = MakeBuilder().
			WithNumSets(2).
			WithNumWays(2).
			Build("TLB")
	})

	It("should miss on an empty TLB", func() {
		_, _, found := tlb.Lookup(0x10)

		Expect(found).To(BeFalse())
		Expect(tlb.Stats().Misses).To(Equal(uint64(1)))
	})

	It("should hit after loading", func() {
		tlb.Load(0x10, 3, vm.PermRead|vm.PermWrite)

		frame, perm, found := tlb.Lookup(0x10)

		Expect(found).To(BeTrue())
		Expect(frame).To(Equal(vm.FrameID(3)))
		Expect(perm).To(Equal(vm.PermRead | vm.PermWrite))
		Expect(tlb.Stats().Hits).To(Equal(uint64(1)))
	})

	It("should update an existing entry in place", func() {
		tlb.Load(0x10, 3, vm.PermRead)
		tlb.Load(0x10, 4, vm.PermRead)
		tlb.Load(0x12, 5, vm.PermRead)

		frame, _, found := tlb.Lookup(0x10)

		Expect(found).To(BeTrue())
		Expect(frame).To(Equal(vm.FrameID(4)))
	})

	It("should replace the least recently used entry of the set", func() {
		tlb.Load(0x10, 1, vm.PermRead)
		tlb.Load(0x12, 2, vm.PermRead)
		tlb.Lookup(0x10)
		tlb.Load(0x14, 3, vm.PermRead)

		_, _, found := tlb.Lookup(0x12)
		Expect(found).To(BeFalse())

		_, _, found = tlb.Lookup(0x10)
		Expect(found).To(BeTrue())

		_, _, found = tlb.Lookup(0x14)
		Expect(found).To(BeTrue())
	})

	It("should not mix sets", func() {
		tlb.Load(0x10, 1, vm.PermRead)
		tlb.Load(0x12, 2, vm.PermRead)
		tlb.Load(0x11, 3, vm.PermRead)

		_, _, found := tlb.Lookup(0x10)
		Expect(found).To(BeTrue())
	})

	It("should drop everything on invalidate", func() {
		tlb.Load(0x10, 1, vm.PermRead)
		tlb.Load(0x11, 2, vm.PermRead)

		tlb.InvalidateAll()

		_, _, found := tlb.Lookup(0x10)
		Expect(found).To(BeFalse())
		_, _, found = tlb.Lookup(0x11)
		Expect(found).To(BeFalse())
		Expect(tlb.Stats().Invalidations).To(Equal(uint64(1)))
	})
})
