// Package internal provides the definition required for defining TLB.
package internal

import (
	"sort"

	"github.com/sarchlab/vmswap/mem/vm"
)

// An Entry is a cached translation.
type Entry struct {
	VPN   vm.VPN
	Frame vm.FrameID
	Perm  vm.Perm
	Valid bool
}

// A Set holds a certain number of entries.
type Set interface {
	Lookup(vpn vm.VPN) (wayID int, entry Entry, found bool)
	Update(wayID int, entry Entry)
	Evict() (wayID int, ok bool)
	Visit(wayID int)
	Reset()
}

// NewSet creates a new TLB set.
func NewSet(numWays int) Set {
	s := &setImpl{}
	s.blocks = make([]*block, numWays)
	s.visitList = make([]*block, 0, numWays)
	s.vpnWayIDMap = make(map[vm.VPN]int)

	for i := range s.blocks {
		b := &block{}
		s.blocks[i] = b
		b.wayID = i
		s.Visit(i)
	}

	return s
}

type block struct {
	entry     Entry
	wayID     int
	lastVisit uint64
}

type setImpl struct {
	blocks      []*block
	vpnWayIDMap map[vm.VPN]int
	visitList   []*block
	visitCount  uint64
}

func (s *setImpl) Lookup(vpn vm.VPN) (
	wayID int,
	entry Entry,
	found bool,
) {
	wayID, ok := s.vpnWayIDMap[vpn]
	if !ok {
		return 0, Entry{}, false
	}

	block := s.blocks[wayID]

	return block.wayID, block.entry, true
}

func (s *setImpl) Update(wayID int, entry Entry) {
	block := s.blocks[wayID]
	if block.entry.Valid {
		delete(s.vpnWayIDMap, block.entry.VPN)
	}

	block.entry = entry
	if entry.Valid {
		s.vpnWayIDMap[entry.VPN] = wayID
	}
}

// Evict returns the least recently visited way. Invalid ways are always
// visited before valid ones, so they are reused first.
func (s *setImpl) Evict() (wayID int, ok bool) {
	if s.hasNothingToEvict() {
		return 0, false
	}

	return s.visitList[0].wayID, true
}

func (s *setImpl) Visit(wayID int) {
	block := s.blocks[wayID]

	for i, b := range s.visitList {
		if b.wayID == wayID {
			s.visitList = append(s.visitList[:i], s.visitList[i+1:]...)
			break
		}
	}

	s.visitCount++
	block.lastVisit = s.visitCount

	index := sort.Search(len(s.visitList), func(i int) bool {
		return s.visitList[i].lastVisit > block.lastVisit
	})
	s.visitList = append(s.visitList, nil)
	copy(s.visitList[index+1:], s.visitList[index:])
	s.visitList[index] = block
}

// Reset invalidates every way.
func (s *setImpl) Reset() {
	for _, b := range s.blocks {
		b.entry = Entry{}
	}

	s.vpnWayIDMap = make(map[vm.VPN]int)
	s.visitList = s.visitList[:0]
	s.visitCount = 0

	for i := range s.blocks {
		s.Visit(i)
	}
}

func (s *setImpl) hasNothingToEvict() bool {
	return len(s.visitList) == 0
}
