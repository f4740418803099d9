package addrspace

import (
	"github.com/sarchlab/vmswap/idgen"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sirupsen/logrus"
)

// Copy creates a new address space with the same regions and the same page
// contents as src. Every page of the copy gets its own frame or slot; the
// source is not modified.
func (m *Manager) Copy(src *AddressSpace) (*AddressSpace, error) {
	dst, err := m.Create()
	if err != nil {
		return nil, err
	}

	src.guard.Lock()
	src.waitNoFaults()

	dst.regions = src.regions.Clone()
	dst.loading = src.loading
	dst.heapReady = src.heapReady
	dst.heapStart = src.heapStart
	dst.heapEnd = src.heapEnd
	dst.stackTop = src.stackTop

	err = m.copyPages(src, dst)
	src.guard.Unlock()

	if err != nil {
		m.Destroy(dst)
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"asid":  dst.id,
		"from":  src.id,
		"pages": dst.pageTable.Len(),
	}).Debug("address space copied")

	return dst, nil
}

func (m *Manager) copyPages(src, dst *AddressSpace) error {
	bounce := make([]byte, vm.PageSize)

	for _, pte := range src.pageTable.Entries() {
		err := m.copyPage(src, dst, pte.VPN, bounce)
		if err != nil {
			return err
		}
	}

	return nil
}

// copyPage copies one page of src into dst. A resident page goes through
// the bounce buffer so that no two frames are pinned at the same time. A
// swapped page is copied into a fresh slot.
func (m *Manager) copyPage(
	src, dst *AddressSpace,
	vpn vm.VPN,
	bounce []byte,
) error {
	for {
		pte, found := src.pageTable.Find(vpn)
		if !found {
			return nil
		}

		if frame, ok := pte.Frame(); ok {
			if !m.frames.Pin(frame, src.owner(vpn)) {
				continue
			}

			copy(bounce, m.frames.Data(frame))
			m.frames.Unpin(frame)

			return m.installCopy(dst, pte, bounce)
		}

		slot, _ := pte.Slot()

		err := m.swap.Read(slot, bounce)
		if err != nil {
			return err
		}

		newSlot, err := m.swap.Write(dst.owner(vpn), bounce)
		if err != nil {
			return err
		}

		dst.pageTable.Insert(vm.PTE{
			VPN:  vpn,
			Perm: pte.Perm,
			Loc:  vm.Swapped{Slot: newSlot},
		})

		m.fire(vm.HookPosCopy, vm.Event{
			ASID: dst.id, VPN: vpn, Frame: vm.InvalidFrame, Slot: newSlot,
		})

		return nil
	}
}

func (m *Manager) installCopy(dst *AddressSpace, pte vm.PTE, data []byte) error {
	frame, err := m.frames.Allocate(dst.owner(pte.VPN))
	if err != nil {
		return err
	}

	copy(m.frames.Data(frame), data)
	dst.pageTable.Insert(vm.PTE{
		VPN:  pte.VPN,
		Perm: pte.Perm,
		Loc:  vm.Resident{Frame: frame},
	})
	m.frames.Unpin(frame)

	m.fire(vm.HookPosCopy, vm.Event{
		ASID: dst.id, VPN: pte.VPN, Frame: frame, Slot: vm.InvalidSlot,
	})

	return nil
}

// Destroy releases every frame and slot of the address space. The address
// space must not be used afterwards.
func (m *Manager) Destroy(as *AddressSpace) {
	as.guard.Lock()

	if as.destroyed {
		as.guard.Unlock()
		return
	}

	as.waitNoFaults()
	as.destroyed = true

	numPages := as.pageTable.Len()
	for _, pte := range as.pageTable.Entries() {
		as.releasePage(pte.VPN)
	}

	as.regions.Reset()
	as.guard.Unlock()

	m.remove(as)
	m.frames.Unregister(as.id)
	m.ids.Release(idgen.ID(as.id))

	m.fire(vm.HookPosDestroy, vm.Event{
		ASID: as.id, Frame: vm.InvalidFrame, Slot: vm.InvalidSlot,
	})

	m.log.WithFields(logrus.Fields{
		"asid":  as.id,
		"pages": numPages,
	}).Debug("address space destroyed")
}
