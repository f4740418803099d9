package vm

import (
	"sort"
	"sync"
)

// A PTE is an entry in the page table, maintaining the information about
// where a virtual page lives and how it may be accessed.
type PTE struct {
	VPN  VPN
	Perm Perm
	Loc  Location
}

// Frame returns the frame holding the page if the page is resident.
func (p PTE) Frame() (FrameID, bool) {
	r, ok := p.Loc.(Resident)
	if !ok {
		return InvalidFrame, false
	}

	return r.Frame, true
}

// Slot returns the swap slot holding the page if the page is swapped out.
func (p PTE) Slot() (SlotID, bool) {
	s, ok := p.Loc.(Swapped)
	if !ok {
		return InvalidSlot, false
	}

	return s.Slot, true
}

// A PageTable maps the virtual pages of one address space to their
// locations.
//
// The table carries its own lock so that an evictor working for another
// address space can relocate a page without taking the owner's guard.
type PageTable interface {
	Insert(pte PTE)
	Remove(vpn VPN)
	Find(vpn VPN) (PTE, bool)
	SetPerm(vpn VPN, perm Perm)
	SetLocation(vpn VPN, loc Location)
	Entries() []PTE
	Len() int
}

// NewPageTable creates a new, empty PageTable.
func NewPageTable() PageTable {
	return &pageTableImpl{
		entries: make(map[VPN]*PTE),
	}
}

type pageTableImpl struct {
	sync.Mutex
	entries map[VPN]*PTE
}

// Insert puts a new page into the PageTable.
func (pt *pageTableImpl) Insert(pte PTE) {
	if pte.Loc == nil {
		panic("page table entry without location")
	}

	pt.Lock()
	defer pt.Unlock()

	pt.pageMustNotExist(pte.VPN)

	e := pte
	pt.entries[pte.VPN] = &e
}

// Remove removes the entry of the virtual page.
func (pt *pageTableImpl) Remove(vpn VPN) {
	pt.Lock()
	defer pt.Unlock()

	pt.pageMustExist(vpn)

	delete(pt.entries, vpn)
}

// Find returns the entry of the virtual page. The bool return value
// indicates if the page is mapped or not.
func (pt *pageTableImpl) Find(vpn VPN) (PTE, bool) {
	pt.Lock()
	defer pt.Unlock()

	e, found := pt.entries[vpn]
	if !found {
		return PTE{}, false
	}

	return *e, true
}

// SetPerm changes the permissions of an existing page and leaves its
// location untouched.
func (pt *pageTableImpl) SetPerm(vpn VPN, perm Perm) {
	pt.Lock()
	defer pt.Unlock()

	pt.pageMustExist(vpn)
	pt.entries[vpn].Perm = perm
}

// SetLocation moves an existing page and leaves its permissions untouched.
func (pt *pageTableImpl) SetLocation(vpn VPN, loc Location) {
	if loc == nil {
		panic("page table entry without location")
	}

	pt.Lock()
	defer pt.Unlock()

	pt.pageMustExist(vpn)
	pt.entries[vpn].Loc = loc
}

// Entries returns a snapshot of all the entries, ordered by VPN.
func (pt *pageTableImpl) Entries() []PTE {
	pt.Lock()
	defer pt.Unlock()

	list := make([]PTE, 0, len(pt.entries))
	for _, e := range pt.entries {
		list = append(list, *e)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].VPN < list[j].VPN
	})

	return list
}

// Len returns the number of mapped pages.
func (pt *pageTableImpl) Len() int {
	pt.Lock()
	defer pt.Unlock()

	return len(pt.entries)
}

func (pt *pageTableImpl) pageMustExist(vpn VPN) {
	_, found := pt.entries[vpn]
	if !found {
		panic("page does not exist")
	}
}

func (pt *pageTableImpl) pageMustNotExist(vpn VPN) {
	_, found := pt.entries[vpn]
	if found {
		panic("page exist")
	}
}
