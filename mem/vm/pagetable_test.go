package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PageTable", func() {
	var pt PageTable

	BeforeEach(func() {
		pt = NewPageTable()
	})

	It("should insert and find pages", func() {
		pt.Insert(PTE{VPN: 3, Perm: PermRead, Loc: Resident{Frame: 7}})

		pte, found := pt.Find(3)
		Expect(found).To(BeTrue())

		frame, ok := pte.Frame()
		Expect(ok).To(BeTrue())
		Expect(frame).To(Equal(FrameID(7)))

		_, ok = pte.Slot()
		Expect(ok).To(BeFalse())

		_, found = pt.Find(4)
		Expect(found).To(BeFalse())
	})

	It("should panic when inserting a page twice", func() {
		pt.Insert(PTE{VPN: 3, Loc: Resident{Frame: 1}})

		Expect(func() {
			pt.Insert(PTE{VPN: 3, Loc: Resident{Frame: 2}})
		}).To(Panic())
	})

	It("should panic on entries without location", func() {
		Expect(func() { pt.Insert(PTE{VPN: 3}) }).To(Panic())
	})

	It("should move pages without touching permissions", func() {
		pt.Insert(PTE{VPN: 3, Perm: PermRead | PermWrite, Loc: Resident{Frame: 1}})

		pt.SetLocation(3, Swapped{Slot: 5})

		pte, _ := pt.Find(3)
		slot, ok := pte.Slot()
		Expect(ok).To(BeTrue())
		Expect(slot).To(Equal(SlotID(5)))
		Expect(pte.Perm).To(Equal(PermRead | PermWrite))
	})

	It("should change permissions without moving pages", func() {
		pt.Insert(PTE{VPN: 3, Perm: PermRead | PermWrite, Loc: Swapped{Slot: 2}})

		pt.SetPerm(3, PermRead)

		pte, _ := pt.Find(3)
		Expect(pte.Perm).To(Equal(PermRead))
		Expect(pte.Loc).To(Equal(Swapped{Slot: 2}))
	})

	It("should remove pages", func() {
		pt.Insert(PTE{VPN: 3, Loc: Resident{Frame: 1}})

		pt.Remove(3)

		Expect(pt.Len()).To(Equal(0))
		Expect(func() { pt.Remove(3) }).To(Panic())
	})

	It("should list entries in page order", func() {
		pt.Insert(PTE{VPN: 9, Loc: Resident{Frame: 1}})
		pt.Insert(PTE{VPN: 2, Loc: Swapped{Slot: 1}})
		pt.Insert(PTE{VPN: 5, Loc: Resident{Frame: 0}})

		entries := pt.Entries()

		Expect(entries).To(HaveLen(3))
		Expect(entries[0].VPN).To(Equal(VPN(2)))
		Expect(entries[1].VPN).To(Equal(VPN(5)))
		Expect(entries[2].VPN).To(Equal(VPN(9)))
	})
})
