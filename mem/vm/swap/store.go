// Package swap implements the swap store: a fixed number of page-sized
// slots on a block device that hold the contents of evicted pages.
package swap

import (
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sirupsen/logrus"
)

type slot struct {
	// transfer is held while data moves between the slot and the device.
	transfer sync.Mutex

	occupied bool
	owner    vm.Owner
	checksum uint64
}

// Store tracks slot occupancy and moves pages to and from the device.
//
// A single lock protects the occupancy bookkeeping. The device transfer of
// each slot is serialized by the slot's own lock, so transfers of different
// slots proceed in parallel.
type Store struct {
	lock    sync.Mutex
	device  Device
	slots   []*slot
	numFree int
	log     logrus.FieldLogger
}

// Reserve allocates the first free slot for the owner. The slot stays locked
// until Fill is called, so that a Read of the slot waits for its data.
func (s *Store) Reserve(owner vm.Owner) (vm.SlotID, error) {
	s.lock.Lock()

	id, ok := s.firstFree()
	if !ok {
		s.lock.Unlock()
		return vm.InvalidSlot, errors.Wrapf(vm.ErrSwapExhausted, "owner %s", owner)
	}

	sl := s.slots[id]
	sl.occupied = true
	sl.owner = owner
	s.numFree--

	s.lock.Unlock()

	sl.transfer.Lock()

	return id, nil
}

func (s *Store) firstFree() (vm.SlotID, bool) {
	for i, sl := range s.slots {
		if !sl.occupied {
			return vm.SlotID(i), true
		}
	}

	return vm.InvalidSlot, false
}

// Fill writes the page into a slot obtained from Reserve and unlocks it.
func (s *Store) Fill(id vm.SlotID, page []byte) error {
	mustBePage(page)

	sl := s.slots[id]
	defer sl.transfer.Unlock()

	sl.checksum = xxhash.Checksum64(page)

	err := s.device.WriteBlock(int(id), page)
	if err != nil {
		return errors.Wrapf(vm.ErrBackingStore, "write slot %d: %v", id, err)
	}

	s.log.WithFields(logrus.Fields{
		"slot":  id,
		"owner": sl.owner.String(),
	}).Debug("swap slot written")

	return nil
}

// Write copies the page into a newly allocated slot.
func (s *Store) Write(owner vm.Owner, page []byte) (vm.SlotID, error) {
	id, err := s.Reserve(owner)
	if err != nil {
		return vm.InvalidSlot, err
	}

	err = s.Fill(id, page)
	if err != nil {
		return vm.InvalidSlot, err
	}

	return id, nil
}

// Read copies the contents of an occupied slot into dst. The slot stays
// occupied; the caller frees it once the contents are installed.
func (s *Store) Read(id vm.SlotID, dst []byte) error {
	mustBePage(dst)

	s.lock.Lock()
	sl := s.slots[id]
	if !sl.occupied {
		s.lock.Unlock()
		panic("reading a free swap slot")
	}
	s.lock.Unlock()

	sl.transfer.Lock()
	defer sl.transfer.Unlock()

	err := s.device.ReadBlock(int(id), dst)
	if err != nil {
		return errors.Wrapf(vm.ErrBackingStore, "read slot %d: %v", id, err)
	}

	if xxhash.Checksum64(dst) != sl.checksum {
		return errors.Wrapf(vm.ErrBackingStore, "slot %d checksum mismatch", id)
	}

	return nil
}

// Free returns the slot to the free pool. It waits for a pending transfer
// of the slot to finish.
func (s *Store) Free(id vm.SlotID) {
	sl := s.slots[id]
	sl.transfer.Lock()
	defer sl.transfer.Unlock()

	s.lock.Lock()
	defer s.lock.Unlock()

	if !sl.occupied {
		panic("double free of swap slot")
	}

	sl.occupied = false
	sl.owner = vm.Owner{}
	s.numFree++
}

// Occupant returns the owner of the slot, if the slot is occupied.
func (s *Store) Occupant(id vm.SlotID) (vm.Owner, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	sl := s.slots[id]

	return sl.owner, sl.occupied
}

// NumSlots returns the capacity of the store.
func (s *Store) NumSlots() int {
	return len(s.slots)
}

// NumFree returns the number of unoccupied slots.
func (s *Store) NumFree() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.numFree
}

func mustBePage(page []byte) {
	if uint64(len(page)) != vm.PageSize {
		panic("buffer is not page sized")
	}
}
