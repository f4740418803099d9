package addrspace

import (
	"github.com/pkg/errors"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sirupsen/logrus"
)

// Fault resolves an access to va. On success the page is resident. Faults
// on a resident page do nothing.
func (as *AddressSpace) Fault(va uint64, kind vm.AccessKind) error {
	frame, err := as.pinSlow(va, kind)
	if err != nil {
		return err
	}

	as.mgr.frames.Unpin(frame)

	return nil
}

// pin returns the frame that holds the page of va, pinned. It tries the
// TLB first when the address space is active.
func (as *AddressSpace) pin(va uint64, kind vm.AccessKind) (vm.FrameID, error) {
	vpn := vm.PageOf(va)

	if as.mgr.isActive(as) {
		frame, perm, found := as.mgr.tlb.Lookup(vpn)
		if found && perm.Has(kind.Required()) &&
			as.mgr.frames.Pin(frame, as.owner(vpn)) {
			return frame, nil
		}
	}

	frame, err := as.pinSlow(va, kind)
	if err != nil {
		return vm.InvalidFrame, err
	}

	as.mgr.loadIfActive(as, vpn, frame)

	return frame, nil
}

func (as *AddressSpace) pinSlow(
	va uint64,
	kind vm.AccessKind,
) (vm.FrameID, error) {
	as.guard.Lock()
	defer as.guard.Unlock()

	vpn := vm.PageOf(va)
	owner := as.owner(vpn)

	for {
		if as.inFlight[vpn] {
			as.cond.Wait()
			continue
		}

		region, ok := as.regions.Lookup(va)
		if !ok {
			return vm.InvalidFrame, errors.Wrapf(
				vm.ErrSegmentationFault, "asid %d %s at 0x%x", as.id, kind, va)
		}

		if !region.Perm.Has(kind.Required()) {
			return vm.InvalidFrame, errors.Wrapf(
				vm.ErrProtectionFault, "asid %d %s at 0x%x in %s",
				as.id, kind, va, region)
		}

		pte, found := as.pageTable.Find(vpn)
		if !found {
			return as.zeroFill(vpn, region.Perm, kind)
		}

		if frame, ok := pte.Frame(); ok {
			if as.mgr.frames.Pin(frame, owner) {
				return frame, nil
			}

			continue
		}

		slot, _ := pte.Slot()

		frame, done, err := as.swapIn(vpn, slot, kind)
		if err != nil {
			return vm.InvalidFrame, err
		}

		if done {
			return frame, nil
		}
	}
}

// allocate gets a frame for the page with the guard released, so that a
// fault waiting for memory does not hold up the rest of the address space.
// The page is marked in flight until the guard is taken back.
func (as *AddressSpace) allocate(
	vpn vm.VPN,
	fill func(frame vm.FrameID) error,
) (vm.FrameID, error) {
	as.inFlight[vpn] = true
	as.guard.Unlock()

	frame, err := as.mgr.frames.Allocate(as.owner(vpn))
	if err == nil {
		err = fill(frame)
		if err != nil {
			as.mgr.frames.Discard(frame)
		}
	}

	as.guard.Lock()
	delete(as.inFlight, vpn)
	as.cond.Broadcast()

	if err != nil {
		return vm.InvalidFrame, err
	}

	return frame, nil
}

// zeroFill gives a never touched page a zeroed frame.
func (as *AddressSpace) zeroFill(
	vpn vm.VPN,
	perm vm.Perm,
	kind vm.AccessKind,
) (vm.FrameID, error) {
	as.mgr.fire(vm.HookPosPageFault, vm.Event{
		ASID: as.id, VPN: vpn, Frame: vm.InvalidFrame, Slot: vm.InvalidSlot,
		Access: kind,
	})

	frame, err := as.allocate(vpn, func(frame vm.FrameID) error {
		clear(as.mgr.frames.Data(frame))
		return nil
	})
	if err != nil {
		return vm.InvalidFrame, err
	}

	pte := vm.PTE{VPN: vpn, Perm: perm, Loc: vm.Resident{Frame: frame}}
	as.pageTable.Insert(pte)

	as.mgr.fire(vm.HookPosZeroFill, vm.Event{
		ASID: as.id, VPN: vpn, Frame: frame, Slot: vm.InvalidSlot,
		Access: kind,
	})

	return frame, nil
}

// swapIn reads a swapped page back into a fresh frame and frees its slot.
// It reports false if the page changed while the guard was released; the
// caller then looks at the page again.
func (as *AddressSpace) swapIn(
	vpn vm.VPN,
	slot vm.SlotID,
	kind vm.AccessKind,
) (vm.FrameID, bool, error) {
	as.mgr.fire(vm.HookPosPageFault, vm.Event{
		ASID: as.id, VPN: vpn, Frame: vm.InvalidFrame, Slot: slot,
		Access: kind,
	})

	frame, err := as.allocate(vpn, func(frame vm.FrameID) error {
		return as.mgr.swap.Read(slot, as.mgr.frames.Data(frame))
	})
	if err != nil {
		if vm.IsFatal(err) {
			as.logger().WithFields(logrus.Fields{
				"vpn":  vpn,
				"slot": slot,
			}).WithError(err).Error("swap-in failed")
		}

		return vm.InvalidFrame, false, err
	}

	pte, found := as.pageTable.Find(vpn)
	if s, ok := pte.Slot(); !found || !ok || s != slot {
		as.mgr.frames.Discard(frame)
		return vm.InvalidFrame, false, nil
	}

	as.pageTable.SetLocation(vpn, vm.Resident{Frame: frame})
	as.mgr.swap.Free(slot)

	as.mgr.fire(vm.HookPosSwapIn, vm.Event{
		ASID: as.id, VPN: vpn, Frame: frame, Slot: slot, Access: kind,
	})

	return frame, true, nil
}

// Read copies n bytes of user memory starting at va.
func (as *AddressSpace) Read(va uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Wrapf(vm.ErrInvalidRegion, "read of %d bytes", n)
	}

	buf := make([]byte, n)

	err := as.access(va, len(buf), vm.AccessRead,
		func(page []byte, done int) int {
			return copy(buf[done:], page)
		})
	if err != nil {
		return nil, err
	}

	return buf, nil
}

// Write copies data into user memory starting at va.
func (as *AddressSpace) Write(va uint64, data []byte) error {
	return as.access(va, len(data), vm.AccessWrite,
		func(page []byte, done int) int {
			return copy(page, data[done:])
		})
}

// Exec checks that the instruction at va can be fetched.
func (as *AddressSpace) Exec(va uint64) error {
	return as.access(va, 1, vm.AccessExec,
		func(page []byte, done int) int {
			return 1
		})
}

func (as *AddressSpace) access(
	va uint64,
	n int,
	kind vm.AccessKind,
	move func(page []byte, done int) int,
) error {
	done := 0
	for done < n {
		addr := va + uint64(done)

		frame, err := as.pin(addr, kind)
		if err != nil {
			return err
		}

		page := as.mgr.frames.Data(frame)
		off := vm.PageOffset(addr)
		end := off + uint64(n-done)
		if end > vm.PageSize {
			end = vm.PageSize
		}

		done += move(page[off:end], done)
		as.mgr.frames.Unpin(frame)
	}

	return nil
}
