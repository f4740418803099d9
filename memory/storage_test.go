package memory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmswap/memory"
)

var _ = Describe("RAM", func() {
	It("should read and write in single unit", func() {
		ram := memory.NewRAM(4096)
		Expect(ram.Write(0, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := ram.Read(0, 2)
		Expect(res).To(Equal([]byte{1, 2}))

		res, _ = ram.Read(1, 2)
		Expect(res).To(Equal([]byte{2, 3}))
	})

	It("should read and write across units", func() {
		ram := memory.NewRAM(8192)
		Expect(ram.Write(4094, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := ram.Read(4094, 4)
		Expect(res).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should return error if accessing over the capacity", func() {
		ram := memory.NewRAM(4096)
		err := ram.Write(4097, []byte{1})
		Expect(err).To(MatchError(memory.ErrBeyondCapacity))

		_, err = ram.Read(4097, 1)
		Expect(err).To(MatchError(memory.ErrBeyondCapacity))
	})

	It("should alias page contents", func() {
		ram := memory.NewRAM(8192)
		page, err := ram.Page(4096 + 10)
		Expect(err).NotTo(HaveOccurred())
		page[10] = 7

		res, _ := ram.Read(4096+10, 1)
		Expect(res).To(Equal([]byte{7}))
	})

	It("should hand out pages before the frame allocator takes over", func() {
		ram := memory.NewRAM(4 * 4096)

		addr, err := ram.StealPages(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(addr).To(Equal(uint64(0)))

		addr, err = ram.StealPages(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(addr).To(Equal(uint64(4096)))

		_, err = ram.StealPages(2)
		Expect(err).To(MatchError(memory.ErrBeyondCapacity))

		Expect(ram.FirstFree()).To(Equal(uint64(3 * 4096)))
		Expect(ram.Size()).To(Equal(uint64(4 * 4096)))

		_, err = ram.StealPages(1)
		Expect(err).To(MatchError(memory.ErrBootstrapClosed))
	})
})
