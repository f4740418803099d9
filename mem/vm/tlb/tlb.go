// Package tlb provides a software translation cache for the active address
// space.
package tlb

import (
	"sync"

	"github.com/sarchlab/vmswap/mem/vm"
	"github.com/sarchlab/vmswap/mem/vm/tlb/internal"
)

// Stats counts TLB activity.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
}

// Comp is a set-associative TLB with LRU replacement within each set.
type Comp struct {
	name    string
	lock    sync.Mutex
	numSets int
	numWays int
	sets    []internal.Set
	stats   Stats
}

// Name returns the name of the TLB.
func (c *Comp) Name() string {
	return c.name
}

func (c *Comp) reset() {
	c.sets = make([]internal.Set, c.numSets)
	for i := 0; i < c.numSets; i++ {
		c.sets[i] = internal.NewSet(c.numWays)
	}
}

func (c *Comp) setOf(vpn vm.VPN) internal.Set {
	return c.sets[int(uint64(vpn)%uint64(c.numSets))]
}

// InvalidateAll drops every cached translation.
func (c *Comp) InvalidateAll() {
	c.lock.Lock()
	defer c.lock.Unlock()

	for _, s := range c.sets {
		s.Reset()
	}

	c.stats.Invalidations++
}

// Load caches the translation, replacing the least recently used entry of
// the set when the set is full.
func (c *Comp) Load(vpn vm.VPN, frame vm.FrameID, perm vm.Perm) {
	c.lock.Lock()
	defer c.lock.Unlock()

	set := c.setOf(vpn)
	entry := internal.Entry{
		VPN:   vpn,
		Frame: frame,
		Perm:  perm,
		Valid: true,
	}

	wayID, _, found := set.Lookup(vpn)
	if !found {
		var ok bool

		wayID, ok = set.Evict()
		if !ok {
			panic("failed to evict")
		}
	}

	set.Update(wayID, entry)
	set.Visit(wayID)
}

// Lookup returns the cached translation of the page.
func (c *Comp) Lookup(vpn vm.VPN) (vm.FrameID, vm.Perm, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	set := c.setOf(vpn)

	wayID, entry, found := set.Lookup(vpn)
	if !found {
		c.stats.Misses++
		return vm.InvalidFrame, 0, false
	}

	c.stats.Hits++
	set.Visit(wayID)

	return entry.Frame, entry.Perm, true
}

// Stats returns a snapshot of the counters.
func (c *Comp) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.stats
}
