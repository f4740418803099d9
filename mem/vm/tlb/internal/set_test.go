package internal_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sarchlab/vmswap/mem/vm/tlb/internal"
)

var _ = Describe("TLBSet", func() {
	var (
		set internal.Set
	)

	BeforeEach(func() {
		set = internal.NewSet(4)
	})

	It("should update", func() {
		entry := internal.Entry{
			VPN:   0x100,
			Frame: 2,
			Perm:  vm.PermRead,
			Valid: true,
		}
		set.Update(1, entry)

		wayID, found, ok := set.Lookup(0x100)
		Expect(ok).To(BeTrue())
		Expect(wayID).To(Equal(1))
		Expect(found).To(Equal(entry))
	})

	It("should forget the old key when a way is reused", func() {
		set.Update(1, internal.Entry{VPN: 0x100, Valid: true})
		set.Update(1, internal.Entry{VPN: 0x200, Valid: true})

		_, _, ok := set.Lookup(0x100)
		Expect(ok).To(BeFalse())
	})

	It("should evict the least recently visited way", func() {
		set.Visit(0)
		set.Visit(2)

		wayID, ok := set.Evict()
		Expect(ok).To(BeTrue())
		Expect(wayID).To(Equal(1))
	})

	It("should invalidate every way on reset", func() {
		set.Update(1, internal.Entry{VPN: 0x100, Valid: true})

		set.Reset()

		_, _, ok := set.Lookup(0x100)
		Expect(ok).To(BeFalse())
	})
})
