// Package memory models the physical memory of the machine.
//
// RAM keeps the data in page-sized units. Units that are never touched do
// not allocate host memory. Before the frame allocator takes over, the kernel
// reserves memory for itself with StealPages, the same way a boot-time
// allocator hands out memory before the virtual memory system is running.
package memory

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sarchlab/vmswap/mem/vm"
)

var (
	// ErrBeyondCapacity is returned for accesses past the end of RAM.
	ErrBeyondCapacity = errors.New(
		"accessing physical address beyond the storage capacity")

	// ErrBootstrapClosed is returned by StealPages once the frame
	// allocator has taken over the remaining memory.
	ErrBootstrapClosed = errors.New("bootstrap allocator is closed")
)

// A RAM keeps the data of the physical memory.
type RAM struct {
	lock      sync.Mutex
	unitSize  uint64
	capacity  uint64
	firstFree uint64
	closed    bool
	data      map[uint64][]byte
}

// NewRAM creates a RAM with the specified capacity in bytes. The capacity
// is rounded down to whole pages.
func NewRAM(capacity uint64) *RAM {
	return &RAM{
		unitSize: vm.PageSize,
		capacity: vm.AlignDown(capacity),
		data:     make(map[uint64][]byte),
	}
}

// StealPages reserves n pages for the kernel and returns the physical
// address of the first one.
func (r *RAM) StealPages(n int) (uint64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return 0, ErrBootstrapClosed
	}

	size := uint64(n) * r.unitSize
	if r.firstFree+size > r.capacity {
		return 0, errors.Wrapf(ErrBeyondCapacity, "stealing %d pages", n)
	}

	addr := r.firstFree
	r.firstFree += size

	return addr, nil
}

// FirstFree returns the first address not stolen by the kernel. After this
// call the bootstrap allocator is closed.
func (r *RAM) FirstFree() uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.closed = true

	return r.firstFree
}

// Size returns the capacity of the RAM in bytes.
func (r *RAM) Size() uint64 {
	return r.capacity
}

// Page returns the backing bytes of the page that contains the address.
// The slice aliases the RAM; callers must own the frame to touch it.
func (r *RAM) Page(addr uint64) ([]byte, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.createOrGetStorageUnit(addr)
}

// createOrGetStorageUnit retrieves a storage unit if the unit has been
// created before. Otherwise it initializes a storage unit.
func (r *RAM) createOrGetStorageUnit(addr uint64) ([]byte, error) {
	if addr >= r.capacity {
		return nil, ErrBeyondCapacity
	}

	baseAddr, _ := r.parseAddress(addr)
	unit, ok := r.data[baseAddr]
	if !ok {
		unit = make([]byte, r.unitSize)
		r.data[baseAddr] = unit
	}

	return unit, nil
}

func (r *RAM) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % r.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// Read copies length bytes starting at the address.
func (r *RAM) Read(addr uint64, length uint64) ([]byte, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	res := make([]byte, length)
	currAddr := addr
	dataOffset := uint64(0)

	for dataOffset < length {
		unit, err := r.createOrGetStorageUnit(currAddr)
		if err != nil {
			return nil, err
		}

		_, inUnitAddr := r.parseAddress(currAddr)
		n := copy(res[dataOffset:], unit[inUnitAddr:])
		dataOffset += uint64(n)
		currAddr += uint64(n)
	}

	return res, nil
}

// Write copies the data to the address.
func (r *RAM) Write(addr uint64, data []byte) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	currAddr := addr
	dataOffset := uint64(0)

	for dataOffset < uint64(len(data)) {
		unit, err := r.createOrGetStorageUnit(currAddr)
		if err != nil {
			return err
		}

		_, inUnitAddr := r.parseAddress(currAddr)
		n := copy(unit[inUnitAddr:], data[dataOffset:])
		dataOffset += uint64(n)
		currAddr += uint64(n)
	}

	return nil
}
