// Package addrspace implements address spaces: their regions, their page
// tables, demand paging and the lifecycle operations used by the process
// subsystem and the program loader.
package addrspace

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sarchlab/vmswap/hooking"
	"github.com/sarchlab/vmswap/idgen"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sarchlab/vmswap/mem/vm/frames"
	"github.com/sirupsen/logrus"
)

// SwapStore is the part of the swap store used by address spaces.
type SwapStore interface {
	Write(owner vm.Owner, page []byte) (vm.SlotID, error)
	Read(slot vm.SlotID, dst []byte) error
	Free(slot vm.SlotID)
}

// Manager creates, copies, destroys and activates address spaces.
type Manager struct {
	hooking.HookableBase

	name   string
	frames *frames.Allocator
	swap   SwapStore
	tlb    vm.TLB
	ids    *idgen.Pool
	log    logrus.FieldLogger

	lock   sync.Mutex
	spaces map[vm.ASID]*AddressSpace
	active *AddressSpace
}

// Name returns the name of the manager.
func (m *Manager) Name() string {
	return m.name
}

// Create returns a new, empty address space.
func (m *Manager) Create() (*AddressSpace, error) {
	id, ok := m.ids.Acquire()
	if !ok {
		return nil, errors.Wrap(vm.ErrOutOfMemory, "no address space ID left")
	}

	as := &AddressSpace{
		id:        vm.ASID(id),
		mgr:       m,
		regions:   vm.NewRegionTable(),
		pageTable: vm.NewPageTable(),
		inFlight:  make(map[vm.VPN]bool),
	}
	as.cond = sync.NewCond(&as.guard)

	m.frames.Register(as.id, as)

	m.lock.Lock()
	m.spaces[as.id] = as
	m.lock.Unlock()

	m.log.WithField("asid", as.id).Debug("address space created")

	return as, nil
}

// Get returns a live address space by ID.
func (m *Manager) Get(id vm.ASID) (*AddressSpace, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	as, ok := m.spaces[id]

	return as, ok
}

// Spaces returns the live address spaces ordered by ID.
func (m *Manager) Spaces() []*AddressSpace {
	m.lock.Lock()
	defer m.lock.Unlock()

	list := make([]*AddressSpace, 0, len(m.spaces))
	for _, as := range m.spaces {
		list = append(list, as)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].id < list[j].id
	})

	return list
}

// Activate makes the address space the one the processor translates
// through. The TLB is flushed and loaded with the resident pages of the
// address space. A nil address space only flushes the TLB.
func (m *Manager) Activate(as *AddressSpace) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.active = as
	m.tlb.InvalidateAll()

	if as == nil {
		return
	}

	for _, pte := range as.pageTable.Entries() {
		if frame, ok := pte.Frame(); ok {
			m.tlb.Load(pte.VPN, frame, pte.Perm)
		}
	}
}

// Active returns the active address space, or nil.
func (m *Manager) Active() *AddressSpace {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.active
}

func (m *Manager) isActive(as *AddressSpace) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.active == as
}

// flushIfActive drops cached translations of the address space.
func (m *Manager) flushIfActive(as *AddressSpace) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.active == as {
		m.tlb.InvalidateAll()
	}
}

// loadIfActive caches the translation of vpn. The entry is read again under
// the manager lock so that a permission change flushed after the fault
// cannot be undone by a stale copy.
func (m *Manager) loadIfActive(as *AddressSpace, vpn vm.VPN, frame vm.FrameID) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.active != as {
		return
	}

	pte, found := as.pageTable.Find(vpn)
	if !found {
		return
	}

	if f, ok := pte.Frame(); ok && f == frame {
		m.tlb.Load(vpn, frame, pte.Perm)
	}
}

func (m *Manager) remove(as *AddressSpace) {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.spaces, as.id)

	if m.active == as {
		m.active = nil
		m.tlb.InvalidateAll()
	}
}

func (m *Manager) fire(pos *hooking.HookPos, e vm.Event) {
	if m.NumHooks() == 0 {
		return
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    pos,
		Item:   e,
	})
}
