// Package vm provides the models for address translations: page table
// entries, regions, permissions and the identifiers shared by the frame
// allocator, the swap store and the address spaces.
package vm

import "fmt"

const (
	// Log2PageSize is the log2 of the page size used everywhere in the
	// system.
	Log2PageSize = 12

	// PageSize is the size of a virtual page, a physical frame and a swap
	// slot.
	PageSize = uint64(1) << Log2PageSize

	// UserStackTop is the address right above the highest byte of the user
	// stack.
	UserStackTop = uint64(0x80000000)

	// StackPages is the number of pages reserved for the user stack.
	StackPages = 12
)

// ASID identifies an address space.
type ASID uint64

// VPN is a virtual page number.
type VPN uint64

// Addr returns the virtual address of the first byte of the page.
func (v VPN) Addr() uint64 {
	return uint64(v) << Log2PageSize
}

// FrameID is the index of a physical frame in the frame arena.
type FrameID int

// InvalidFrame is never handed out by the frame allocator.
const InvalidFrame = FrameID(-1)

// SlotID is the index of a slot in the swap store.
type SlotID int

// InvalidSlot is never handed out by the swap store.
const InvalidSlot = SlotID(-1)

// Owner names the virtual page a frame or a swap slot belongs to.
type Owner struct {
	ASID ASID
	VPN  VPN
}

func (o Owner) String() string {
	return fmt.Sprintf("%d:0x%x", o.ASID, o.VPN.Addr())
}

// PageOf returns the virtual page number that contains the address.
func PageOf(addr uint64) VPN {
	return VPN(addr >> Log2PageSize)
}

// PageOffset returns the offset of the address within its page.
func PageOffset(addr uint64) uint64 {
	return addr & (PageSize - 1)
}

// AlignDown rounds the address down to a page boundary.
func AlignDown(addr uint64) uint64 {
	return (addr >> Log2PageSize) << Log2PageSize
}

// AlignUp rounds the address up to a page boundary.
func AlignUp(addr uint64) uint64 {
	return AlignDown(addr + PageSize - 1)
}

// Perm is a set of page permissions.
type Perm uint8

// Permission bits.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

// MakePerm builds a permission set from the three flags used by region
// definitions.
func MakePerm(readable, writable, executable bool) Perm {
	p := Perm(0)
	if readable {
		p |= PermRead
	}

	if writable {
		p |= PermWrite
	}

	if executable {
		p |= PermExec
	}

	return p
}

// Has reports whether all the bits in q are set.
func (p Perm) Has(q Perm) bool {
	return p&q == q
}

func (p Perm) String() string {
	b := []byte("---")
	if p.Has(PermRead) {
		b[0] = 'r'
	}

	if p.Has(PermWrite) {
		b[1] = 'w'
	}

	if p.Has(PermExec) {
		b[2] = 'x'
	}

	return string(b)
}

// AccessKind is the kind of memory access that triggered a fault.
type AccessKind int

// Access kinds.
const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessExec
)

// Required returns the permission needed to perform the access.
func (k AccessKind) Required() Perm {
	switch k {
	case AccessWrite:
		return PermWrite
	case AccessExec:
		return PermExec
	default:
		return PermRead
	}
}

func (k AccessKind) String() string {
	switch k {
	case AccessWrite:
		return "write"
	case AccessExec:
		return "exec"
	default:
		return "read"
	}
}
