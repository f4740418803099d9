package vm

import (
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RegionTable", func() {
	var t *RegionTable

	BeforeEach(func() {
		t = NewRegionTable()
	})

	It("should keep regions page aligned and ordered", func() {
		_, err := t.Define(0x410010, 0x20, PermRead, RegionLoaded)
		Expect(err).NotTo(HaveOccurred())
		_, err = t.Define(0x400fff, 2, PermRead|PermExec, RegionLoaded)
		Expect(err).NotTo(HaveOccurred())

		regions := t.All()
		Expect(regions).To(HaveLen(2))
		Expect(regions[0]).To(Equal(Region{
			Start: 0x400000,
			End:   0x402000,
			Perm:  PermRead | PermExec,
			Kind:  RegionLoaded,
		}))
		Expect(regions[1].Start).To(Equal(uint64(0x410000)))
		Expect(regions[1].End).To(Equal(uint64(0x411000)))
	})

	It("should reject overlaps", func() {
		_, err := t.Define(0x400000, 0x2000, PermRead, RegionLoaded)
		Expect(err).NotTo(HaveOccurred())

		_, err = t.Define(0x401fff, 1, PermRead, RegionLoaded)
		Expect(errors.Cause(err)).To(Equal(ErrOverlap))

		_, err = t.Define(0x402000, 1, PermRead, RegionLoaded)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should reject empty regions and regions past the stack top", func() {
		_, err := t.Define(0x400000, 0, PermRead, RegionLoaded)
		Expect(errors.Cause(err)).To(Equal(ErrInvalidRegion))

		_, err = t.Define(UserStackTop-1, 2, PermRead, RegionLoaded)
		Expect(errors.Cause(err)).To(Equal(ErrInvalidRegion))
	})

	It("should look up addresses", func() {
		_, _ = t.Define(0x400000, 0x1000, PermRead, RegionLoaded)
		_, _ = t.Define(0x600000, 0x1000, PermRead|PermWrite, RegionLoaded)

		r, found := t.Lookup(0x600fff)
		Expect(found).To(BeTrue())
		Expect(r.Start).To(Equal(uint64(0x600000)))

		_, found = t.Lookup(0x601000)
		Expect(found).To(BeFalse())

		_, found = t.Lookup(0x500000)
		Expect(found).To(BeFalse())
	})

	It("should force loaded regions writable and restore them", func() {
		_, _ = t.Define(0x400000, 0x1000, PermRead|PermExec, RegionLoaded)
		_, _ = t.Define(0x500000, 0x1000, PermRead|PermWrite, RegionLoaded)
		_, _ = t.Define(UserStackTop-0x1000, 0x1000, PermRead, RegionStack)

		t.ForceWritable()

		r, _ := t.Lookup(0x400000)
		Expect(r.Perm).To(Equal(PermRead | PermWrite | PermExec))
		r, _ = t.Lookup(UserStackTop - 1)
		Expect(r.Perm).To(Equal(PermRead))

		t.RestoreSaved()

		r, _ = t.Lookup(0x400000)
		Expect(r.Perm).To(Equal(PermRead | PermExec))
		r, _ = t.Lookup(0x500000)
		Expect(r.Perm).To(Equal(PermRead | PermWrite))
	})

	It("should resize and remove regions", func() {
		_, _ = t.Define(0x400000, 0x1000, PermRead, RegionHeap)
		_, _ = t.Define(0x404000, 0x1000, PermRead, RegionLoaded)

		r, err := t.Resize(0x400000, 0x402001)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.End).To(Equal(uint64(0x403000)))

		_, err = t.Resize(0x400000, 0x405000)
		Expect(errors.Cause(err)).To(Equal(ErrOverlap))

		t.Remove(0x400000)
		Expect(t.Len()).To(Equal(1))
		Expect(func() { t.Remove(0x400000) }).To(Panic())
	})

	It("should report the end of the highest loaded region", func() {
		_, _ = t.Define(0x400000, 0x1000, PermRead, RegionLoaded)
		_, _ = t.Define(0x600000, 0x1800, PermRead, RegionLoaded)
		_, _ = t.Define(UserStackTop-0x1000, 0x1000, PermRead, RegionStack)

		Expect(t.HighestEnd()).To(Equal(uint64(0x602000)))
	})

	It("should clone independently", func() {
		_, _ = t.Define(0x400000, 0x1000, PermRead, RegionLoaded)

		c := t.Clone()
		_, _ = c.Define(0x500000, 0x1000, PermRead, RegionLoaded)

		Expect(t.Len()).To(Equal(1))
		Expect(c.Len()).To(Equal(2))
	})
})
