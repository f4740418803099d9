package vm

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// ErrInvalidRegion is returned for empty regions and for regions that do
// not fit in the user part of the address space.
var ErrInvalidRegion = errors.New("invalid region")

// RegionKind tells how a region came into existence.
type RegionKind int

// Region kinds.
const (
	RegionLoaded RegionKind = iota
	RegionHeap
	RegionStack
)

func (k RegionKind) String() string {
	switch k {
	case RegionHeap:
		return "heap"
	case RegionStack:
		return "stack"
	default:
		return "loaded"
	}
}

// A Region is a page-aligned range [Start, End) of virtual addresses with
// the permissions new pages in the range receive.
type Region struct {
	Start uint64
	End   uint64
	Perm  Perm
	Kind  RegionKind

	// SavedWrite keeps the writable bit the region was defined with while
	// program loading forces the region writable.
	SavedWrite bool
}

// Contains reports whether the address falls into the region.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// NumPages returns the number of pages in the region.
func (r Region) NumPages() int {
	return int((r.End - r.Start) >> Log2PageSize)
}

func (r Region) String() string {
	return fmt.Sprintf("[0x%x, 0x%x) %s %s", r.Start, r.End, r.Perm, r.Kind)
}

// A RegionTable is the ordered, non-overlapping list of regions of one
// address space. It is not safe for concurrent use; the owning address
// space serializes access.
type RegionTable struct {
	regions []Region
}

// NewRegionTable creates an empty RegionTable.
func NewRegionTable() *RegionTable {
	return &RegionTable{}
}

// Define page-aligns [va, va+size) and inserts it.
func (t *RegionTable) Define(
	va, size uint64,
	perm Perm,
	kind RegionKind,
) (Region, error) {
	if size == 0 || va+size < va {
		return Region{}, errors.Wrapf(ErrInvalidRegion,
			"va 0x%x size 0x%x", va, size)
	}

	start := AlignDown(va)
	end := AlignUp(va + size)

	if end > UserStackTop || end < start {
		return Region{}, errors.Wrapf(ErrInvalidRegion,
			"[0x%x, 0x%x) leaves user space", start, end)
	}

	if t.Overlaps(start, end) {
		return Region{}, errors.Wrapf(ErrOverlap, "[0x%x, 0x%x)", start, end)
	}

	r := Region{
		Start:      start,
		End:        end,
		Perm:       perm,
		Kind:       kind,
		SavedWrite: perm.Has(PermWrite),
	}

	i := sort.Search(len(t.regions), func(i int) bool {
		return t.regions[i].Start >= start
	})
	t.regions = append(t.regions, Region{})
	copy(t.regions[i+1:], t.regions[i:])
	t.regions[i] = r

	return r, nil
}

// Overlaps reports whether any region intersects [start, end).
func (t *RegionTable) Overlaps(start, end uint64) bool {
	return t.overlapsExcept(start, end, -1)
}

func (t *RegionTable) overlapsExcept(start, end uint64, skip int) bool {
	for i, r := range t.regions {
		if i == skip {
			continue
		}

		if start < r.End && r.Start < end {
			return true
		}
	}

	return false
}

func (t *RegionTable) indexOf(start uint64) int {
	i := sort.Search(len(t.regions), func(i int) bool {
		return t.regions[i].Start >= start
	})

	if i < len(t.regions) && t.regions[i].Start == start {
		return i
	}

	return -1
}

// Resize moves the end of the region that starts at start. The new end is
// rounded up to a page boundary and must stay clear of other regions.
func (t *RegionTable) Resize(start, end uint64) (Region, error) {
	i := t.indexOf(start)
	if i < 0 {
		return Region{}, errors.Wrapf(ErrInvalidRegion,
			"no region starts at 0x%x", start)
	}

	end = AlignUp(end)
	if end <= start || end > UserStackTop {
		return Region{}, errors.Wrapf(ErrInvalidRegion,
			"[0x%x, 0x%x)", start, end)
	}

	if t.overlapsExcept(start, end, i) {
		return Region{}, errors.Wrapf(ErrOverlap, "[0x%x, 0x%x)", start, end)
	}

	t.regions[i].End = end

	return t.regions[i], nil
}

// Remove deletes the region that starts at start.
func (t *RegionTable) Remove(start uint64) {
	i := t.indexOf(start)
	if i < 0 {
		panic("region does not exist")
	}

	t.regions = append(t.regions[:i], t.regions[i+1:]...)
}

// Lookup returns the region that contains the address.
func (t *RegionTable) Lookup(addr uint64) (Region, bool) {
	i := sort.Search(len(t.regions), func(i int) bool {
		return t.regions[i].End > addr
	})

	if i < len(t.regions) && t.regions[i].Contains(addr) {
		return t.regions[i], true
	}

	return Region{}, false
}

// ForceWritable makes every loaded region writable. The permissions the
// regions were defined with stay recorded in SavedWrite.
func (t *RegionTable) ForceWritable() {
	for i := range t.regions {
		if t.regions[i].Kind != RegionLoaded {
			continue
		}

		t.regions[i].Perm |= PermWrite
	}
}

// Reset removes every region.
func (t *RegionTable) Reset() {
	t.regions = nil
}

// RestoreSaved puts back the writable bit each loaded region was defined
// with.
func (t *RegionTable) RestoreSaved() {
	for i := range t.regions {
		r := &t.regions[i]
		if r.Kind != RegionLoaded {
			continue
		}

		if r.SavedWrite {
			r.Perm |= PermWrite
		} else {
			r.Perm &^= PermWrite
		}
	}
}

// HighestEnd returns the end of the highest loaded region.
func (t *RegionTable) HighestEnd() uint64 {
	end := uint64(0)
	for _, r := range t.regions {
		if r.Kind == RegionLoaded && r.End > end {
			end = r.End
		}
	}

	return end
}

// All returns a copy of the regions, ordered by start address.
func (t *RegionTable) All() []Region {
	list := make([]Region, len(t.regions))
	copy(list, t.regions)

	return list
}

// Len returns the number of regions.
func (t *RegionTable) Len() int {
	return len(t.regions)
}

// Clone returns an independent copy of the table.
func (t *RegionTable) Clone() *RegionTable {
	return &RegionTable{regions: t.All()}
}
