// Package frames manages the pool of physical frames. It hands frames out
// to address spaces and evicts resident pages to the swap store when the
// pool runs dry.
package frames

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sarchlab/vmswap/hooking"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sirupsen/logrus"
)

// State is the state of a frame.
type State int

// Frame states.
const (
	StateFree State = iota
	StateOwned
	StatePinned
)

func (s State) String() string {
	switch s {
	case StateOwned:
		return "owned"
	case StatePinned:
		return "pinned"
	default:
		return "free"
	}
}

// Bootstrap is the boot-time physical memory allocator. The frame allocator
// takes every page from FirstFree up to Size.
type Bootstrap interface {
	FirstFree() uint64
	Size() uint64
}

// RAM is the physical memory whose pages back the frames.
type RAM interface {
	Bootstrap
	Page(addr uint64) ([]byte, error)
}

// SwapStore is the part of the swap store used by eviction.
type SwapStore interface {
	Reserve(owner vm.Owner) (vm.SlotID, error)
	Fill(slot vm.SlotID, page []byte) error
}

// An Evictee owns pages that the allocator may evict. SwapOut is called
// while the frame is pinned, before the contents are written to the slot.
// The evictee must record that the page now lives in the slot and drop any
// cached translation of it.
type Evictee interface {
	SwapOut(vpn vm.VPN, frame vm.FrameID, slot vm.SlotID)
}

type frame struct {
	state State
	owner vm.Owner
	paddr uint64
}

// Stats is a snapshot of the allocator counters.
type Stats struct {
	NumFrames int    `json:"num_frames"`
	NumFree   int    `json:"num_free"`
	NumOwned  int    `json:"num_owned"`
	NumPinned int    `json:"num_pinned"`
	Evictions uint64 `json:"evictions"`
}

// Allocator hands out physical frames.
//
// A single lock guards frame states, the free list and victim selection.
// The lock is never held while page contents move to the swap device.
type Allocator struct {
	hooking.HookableBase

	name     string
	lock     sync.Mutex
	cond     *sync.Cond
	ram      RAM
	swap     SwapStore
	finder   VictimFinder
	frames   []frame
	free     []vm.FrameID
	evictees map[vm.ASID]Evictee
	evicted  uint64
	log      logrus.FieldLogger
}

// Name returns the name of the allocator.
func (a *Allocator) Name() string {
	return a.name
}

// Register makes the pages of an address space evictable.
func (a *Allocator) Register(asid vm.ASID, e Evictee) {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.evictees[asid] = e
}

// Unregister removes an address space. It must not own frames anymore.
func (a *Allocator) Unregister(asid vm.ASID) {
	a.lock.Lock()
	defer a.lock.Unlock()

	for i := range a.frames {
		if a.frames[i].state != StateFree && a.frames[i].owner.ASID == asid {
			panic(fmt.Sprintf("address space %d still owns frame %d", asid, i))
		}
	}

	delete(a.evictees, asid)
}

// Allocate returns a frame pinned for the owner. The content of the frame
// is undefined. The caller installs the page and calls Unpin, or gives the
// frame back with Discard.
//
// When no frame is free, a resident page is evicted. Allocate fails with
// vm.ErrOutOfMemory only when the swap store is exhausted as well.
func (a *Allocator) Allocate(owner vm.Owner) (vm.FrameID, error) {
	a.lock.Lock()

	if len(a.frames) == 0 {
		a.lock.Unlock()
		return vm.InvalidFrame, errors.Wrap(vm.ErrOutOfMemory, "no frames")
	}

	for {
		if n := len(a.free); n > 0 {
			id := a.free[n-1]
			a.free = a.free[:n-1]
			a.assign(id, owner)
			a.lock.Unlock()

			return id, nil
		}

		victim, found := a.finder.FindVictim(len(a.frames), a.evictable)
		if found {
			return a.evict(victim, owner)
		}

		a.cond.Wait()
	}
}

func (a *Allocator) evictable(id vm.FrameID) bool {
	return a.frames[id].state == StateOwned
}

func (a *Allocator) assign(id vm.FrameID, owner vm.Owner) {
	f := &a.frames[id]
	f.state = StatePinned
	f.owner = owner
	a.finder.Installed(id)
}

// evict is called with the lock held and releases it.
func (a *Allocator) evict(
	id vm.FrameID,
	owner vm.Owner,
) (vm.FrameID, error) {
	f := &a.frames[id]
	prev := f.owner
	f.state = StatePinned

	evictee, ok := a.evictees[prev.ASID]
	if !ok {
		panic(fmt.Sprintf("frame %d owned by unknown address space %d",
			id, prev.ASID))
	}

	a.lock.Unlock()

	slot, err := a.swap.Reserve(prev)
	if err != nil {
		a.lock.Lock()
		f.state = StateOwned
		a.cond.Broadcast()
		a.lock.Unlock()

		return vm.InvalidFrame, errors.Wrapf(err, "evicting %s", prev)
	}

	evictee.SwapOut(prev.VPN, id, slot)

	data := a.mustGetPage(f.paddr)
	err = a.swap.Fill(slot, data)

	a.lock.Lock()
	if err != nil {
		f.state = StateFree
		f.owner = vm.Owner{}
		a.free = append(a.free, id)
		a.cond.Broadcast()
		a.lock.Unlock()

		return vm.InvalidFrame, err
	}

	a.evicted++
	a.assign(id, owner)
	a.cond.Broadcast()
	a.lock.Unlock()

	a.log.WithFields(logrus.Fields{
		"frame":  id,
		"slot":   slot,
		"victim": prev.String(),
		"for":    owner.String(),
	}).Debug("frame evicted")

	a.InvokeHook(hooking.HookCtx{
		Domain: a,
		Pos:    vm.HookPosEvict,
		Item: vm.Event{
			ASID:  prev.ASID,
			VPN:   prev.VPN,
			Frame: id,
			Slot:  slot,
		},
	})

	return id, nil
}

// Pin prevents the frame from being evicted while the owner touches it. It
// waits while the frame is pinned for the same owner and reports whether
// the frame still belongs to the owner afterwards.
func (a *Allocator) Pin(id vm.FrameID, owner vm.Owner) bool {
	a.lock.Lock()
	defer a.lock.Unlock()

	f := &a.frames[id]
	for f.state == StatePinned && f.owner == owner {
		a.cond.Wait()
	}

	if f.state != StateOwned || f.owner != owner {
		return false
	}

	f.state = StatePinned
	a.finder.Accessed(id)

	return true
}

// Unpin makes a pinned frame evictable again.
func (a *Allocator) Unpin(id vm.FrameID) {
	a.lock.Lock()
	defer a.lock.Unlock()

	f := &a.frames[id]
	if f.state != StatePinned {
		panic(fmt.Sprintf("unpinning frame %d in state %s", id, f.state))
	}

	f.state = StateOwned
	a.cond.Broadcast()
}

// Discard frees a frame the caller has pinned but not installed.
func (a *Allocator) Discard(id vm.FrameID) {
	a.lock.Lock()
	defer a.lock.Unlock()

	f := &a.frames[id]
	if f.state != StatePinned {
		panic(fmt.Sprintf("discarding frame %d in state %s", id, f.state))
	}

	a.release(id)
}

// Free marks an owned frame free and clears its ownership. Freeing a
// pinned frame is a bug.
func (a *Allocator) Free(id vm.FrameID) {
	a.lock.Lock()
	defer a.lock.Unlock()

	f := &a.frames[id]
	switch f.state {
	case StatePinned:
		panic(fmt.Sprintf("freeing pinned frame %d", id))
	case StateFree:
		panic(fmt.Sprintf("double free of frame %d", id))
	}

	a.release(id)
}

// Release frees the frame if it still belongs to the owner, waiting for a
// pin to go away first. It reports whether the frame was freed. A false
// result means the page was evicted in the meantime.
func (a *Allocator) Release(id vm.FrameID, owner vm.Owner) bool {
	a.lock.Lock()
	defer a.lock.Unlock()

	f := &a.frames[id]
	for f.state == StatePinned && f.owner == owner {
		a.cond.Wait()
	}

	if f.state != StateOwned || f.owner != owner {
		return false
	}

	a.release(id)

	return true
}

func (a *Allocator) release(id vm.FrameID) {
	f := &a.frames[id]
	f.state = StateFree
	f.owner = vm.Owner{}
	a.free = append(a.free, id)
	a.cond.Broadcast()
}

// Data returns the bytes of a frame. The caller must hold a pin on it.
func (a *Allocator) Data(id vm.FrameID) []byte {
	return a.mustGetPage(a.frames[id].paddr)
}

// PhysAddr returns the physical address of the frame.
func (a *Allocator) PhysAddr(id vm.FrameID) uint64 {
	return a.frames[id].paddr
}

func (a *Allocator) mustGetPage(paddr uint64) []byte {
	page, err := a.ram.Page(paddr)
	if err != nil {
		panic(err)
	}

	return page
}

// State returns the state and owner of a frame.
func (a *Allocator) State(id vm.FrameID) (State, vm.Owner) {
	a.lock.Lock()
	defer a.lock.Unlock()

	f := a.frames[id]

	return f.state, f.owner
}

// NumFrames returns the size of the pool.
func (a *Allocator) NumFrames() int {
	return len(a.frames)
}

// NumFree returns the number of free frames.
func (a *Allocator) NumFree() int {
	a.lock.Lock()
	defer a.lock.Unlock()

	return len(a.free)
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	a.lock.Lock()
	defer a.lock.Unlock()

	s := Stats{
		NumFrames: len(a.frames),
		NumFree:   len(a.free),
		Evictions: a.evicted,
	}

	for _, f := range a.frames {
		switch f.state {
		case StateOwned:
			s.NumOwned++
		case StatePinned:
			s.NumPinned++
		}
	}

	return s
}
