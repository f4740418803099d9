package addrspace

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sirupsen/logrus"
)

// An AddressSpace is the virtual memory of one process.
//
// The guard serializes the operations of the address space. It is only
// released while a page is read back from swap; a fault in progress marks
// its page in flight so that other faults on the page wait for it. The
// frame allocator relocates pages through SwapOut without the guard, using
// the page table's own lock.
type AddressSpace struct {
	id  vm.ASID
	mgr *Manager

	guard    sync.Mutex
	cond     *sync.Cond
	inFlight map[vm.VPN]bool

	regions   *vm.RegionTable
	pageTable vm.PageTable

	loading   bool
	heapReady bool
	heapStart uint64
	heapEnd   uint64
	stackTop  uint64
	destroyed bool
}

// ID returns the address space ID.
func (as *AddressSpace) ID() vm.ASID {
	return as.id
}

func (as *AddressSpace) owner(vpn vm.VPN) vm.Owner {
	return vm.Owner{ASID: as.id, VPN: vpn}
}

func (as *AddressSpace) logger() logrus.FieldLogger {
	return as.mgr.log.WithField("asid", as.id)
}

// DefineRegion sets up a region of memory of size bytes starting at va.
// The region is extended to whole pages. Pages are not allocated until
// they are touched.
func (as *AddressSpace) DefineRegion(
	va, size uint64,
	readable, writable, executable bool,
) error {
	as.guard.Lock()
	defer as.guard.Unlock()

	r, err := as.regions.Define(va, size,
		vm.MakePerm(readable, writable, executable), vm.RegionLoaded)
	if err != nil {
		return err
	}

	if as.loading {
		as.regions.ForceWritable()
	}

	as.logger().WithField("region", r.String()).Debug("region defined")

	return nil
}

// PrepareLoad makes every loaded region writable so that the loader can
// copy the program in.
func (as *AddressSpace) PrepareLoad() error {
	as.guard.Lock()
	defer as.guard.Unlock()

	as.loading = true
	as.regions.ForceWritable()
	as.syncPerms()

	return nil
}

// CompleteLoad restores the permissions the regions were defined with and
// places the heap right above the highest loaded region.
func (as *AddressSpace) CompleteLoad() error {
	as.guard.Lock()
	defer as.guard.Unlock()

	as.loading = false
	as.regions.RestoreSaved()
	as.syncPerms()

	if !as.heapReady {
		as.heapStart = vm.AlignUp(as.regions.HighestEnd())
		as.heapEnd = as.heapStart
		as.heapReady = true
	}

	return nil
}

// syncPerms gives every page the permissions of its region and drops the
// translations cached with the old permissions.
func (as *AddressSpace) syncPerms() {
	for _, pte := range as.pageTable.Entries() {
		r, ok := as.regions.Lookup(pte.VPN.Addr())
		if !ok || r.Perm == pte.Perm {
			continue
		}

		as.pageTable.SetPerm(pte.VPN, r.Perm)
	}

	as.mgr.flushIfActive(as)
}

// DefineStack sets up the user stack right below vm.UserStackTop and
// returns the initial stack pointer.
func (as *AddressSpace) DefineStack() (uint64, error) {
	as.guard.Lock()
	defer as.guard.Unlock()

	size := uint64(vm.StackPages) * vm.PageSize

	_, err := as.regions.Define(vm.UserStackTop-size, size,
		vm.PermRead|vm.PermWrite, vm.RegionStack)
	if err != nil {
		return 0, err
	}

	as.stackTop = vm.UserStackTop

	return as.stackTop, nil
}

// Sbrk moves the program break by delta bytes and returns the old break.
// Shrinking the heap releases the pages above the new break.
func (as *AddressSpace) Sbrk(delta int64) (uint64, error) {
	as.guard.Lock()
	defer as.guard.Unlock()

	if !as.heapReady {
		return 0, errors.Wrap(vm.ErrInvalidRegion, "heap not set up")
	}

	old := as.heapEnd
	newEnd := old + uint64(delta)

	if delta < 0 && uint64(-delta) > old-as.heapStart {
		return 0, errors.Wrapf(vm.ErrInvalidRegion,
			"break below heap start 0x%x", as.heapStart)
	}

	if delta > 0 && newEnd < old {
		return 0, errors.Wrap(vm.ErrOutOfMemory, "break overflow")
	}

	oldLimit := vm.AlignUp(old)
	newLimit := vm.AlignUp(newEnd)

	switch {
	case newLimit > oldLimit:
		err := as.growHeap(oldLimit, newLimit)
		if err != nil {
			return 0, err
		}
	case newLimit < oldLimit:
		as.shrinkHeap(oldLimit, newLimit)
	}

	as.heapEnd = newEnd

	return old, nil
}

func (as *AddressSpace) growHeap(oldLimit, newLimit uint64) error {
	var err error

	if oldLimit == as.heapStart {
		_, err = as.regions.Define(as.heapStart, newLimit-as.heapStart,
			vm.PermRead|vm.PermWrite, vm.RegionHeap)
	} else {
		_, err = as.regions.Resize(as.heapStart, newLimit)
	}

	if errors.Is(err, vm.ErrOverlap) || errors.Is(err, vm.ErrInvalidRegion) {
		return errors.Wrapf(vm.ErrOutOfMemory, "heap to 0x%x: %v", newLimit, err)
	}

	return err
}

func (as *AddressSpace) shrinkHeap(oldLimit, newLimit uint64) {
	as.waitNoFaults()

	for _, pte := range as.pageTable.Entries() {
		addr := pte.VPN.Addr()
		if addr >= newLimit && addr < oldLimit {
			as.releasePage(pte.VPN)
		}
	}

	if newLimit == as.heapStart {
		as.regions.Remove(as.heapStart)
	} else if _, err := as.regions.Resize(as.heapStart, newLimit); err != nil {
		panic(err)
	}

	as.mgr.flushIfActive(as)
}

// waitNoFaults waits until no fault of the address space has released the
// guard. It must be called with the guard held.
func (as *AddressSpace) waitNoFaults() {
	for len(as.inFlight) > 0 {
		as.cond.Wait()
	}
}

// releasePage gives the frame or the slot of a page back and removes the
// page. The guard must be held and no fault may be in flight.
func (as *AddressSpace) releasePage(vpn vm.VPN) {
	owner := as.owner(vpn)

	for {
		pte, found := as.pageTable.Find(vpn)
		if !found {
			return
		}

		if frame, ok := pte.Frame(); ok {
			if !as.mgr.frames.Release(frame, owner) {
				// Evicted while we waited. Look again.
				continue
			}
		} else if slot, ok := pte.Slot(); ok {
			as.mgr.swap.Free(slot)
		}

		as.pageTable.Remove(vpn)

		return
	}
}

// SwapOut is called by the frame allocator when it evicts a page of this
// address space to a swap slot.
func (as *AddressSpace) SwapOut(vpn vm.VPN, frame vm.FrameID, slot vm.SlotID) {
	pte, found := as.pageTable.Find(vpn)
	if !found {
		panic("evicting a page that does not exist")
	}

	if f, ok := pte.Frame(); !ok || f != frame {
		panic("evicting a page from a frame it does not live in")
	}

	as.pageTable.SetLocation(vpn, vm.Swapped{Slot: slot})
	as.mgr.flushIfActive(as)

	as.mgr.fire(vm.HookPosSwapOut, vm.Event{
		ASID:  as.id,
		VPN:   vpn,
		Frame: frame,
		Slot:  slot,
	})
}

// Regions returns the regions of the address space.
func (as *AddressSpace) Regions() []vm.Region {
	as.guard.Lock()
	defer as.guard.Unlock()

	return as.regions.All()
}

// Lookup returns the page table entry of the page that contains va.
func (as *AddressSpace) Lookup(va uint64) (vm.PTE, bool) {
	return as.pageTable.Find(vm.PageOf(va))
}

// Heap returns the start of the heap and the current break.
func (as *AddressSpace) Heap() (start, brk uint64) {
	as.guard.Lock()
	defer as.guard.Unlock()

	return as.heapStart, as.heapEnd
}

// Info summarizes the state of an address space.
type Info struct {
	ASID      vm.ASID     `json:"asid"`
	Regions   []vm.Region `json:"regions"`
	Pages     []vm.PTE    `json:"-"`
	Resident  int         `json:"resident"`
	Swapped   int         `json:"swapped"`
	HeapStart uint64      `json:"heap_start"`
	HeapEnd   uint64      `json:"heap_end"`
	StackTop  uint64      `json:"stack_top"`
}

// Info returns a snapshot of the address space.
func (as *AddressSpace) Info() Info {
	as.guard.Lock()
	defer as.guard.Unlock()

	info := Info{
		ASID:      as.id,
		Regions:   as.regions.All(),
		Pages:     as.pageTable.Entries(),
		HeapStart: as.heapStart,
		HeapEnd:   as.heapEnd,
		StackTop:  as.stackTop,
	}

	for _, pte := range info.Pages {
		if _, ok := pte.Frame(); ok {
			info.Resident++
		} else {
			info.Swapped++
		}
	}

	return info
}
