package swap

import (
	"sync"

	"github.com/sarchlab/vmswap/mem/vm"
)

// A Device is the block I/O primitive under the swap store. Blocks are
// page sized and addressed by slot index. Calls may block and may be issued
// concurrently for different slots.
type Device interface {
	ReadBlock(index int, page []byte) error
	WriteBlock(index int, page []byte) error
	NumBlocks() int
}

// MemDevice keeps the blocks in host memory.
type MemDevice struct {
	lock   sync.RWMutex
	blocks [][]byte
}

// NewMemDevice creates a MemDevice with numBlocks blocks.
func NewMemDevice(numBlocks int) *MemDevice {
	return &MemDevice{
		blocks: make([][]byte, numBlocks),
	}
}

// NumBlocks returns the number of blocks of the device.
func (d *MemDevice) NumBlocks() int {
	return len(d.blocks)
}

// ReadBlock copies a block into the page. Blocks never written read as
// zeros.
func (d *MemDevice) ReadBlock(index int, page []byte) error {
	d.lock.RLock()
	defer d.lock.RUnlock()

	block := d.blocks[index]
	if block == nil {
		clear(page)
		return nil
	}

	copy(page, block)

	return nil
}

// WriteBlock copies the page into a block.
func (d *MemDevice) WriteBlock(index int, page []byte) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	block := d.blocks[index]
	if block == nil {
		block = make([]byte, vm.PageSize)
		d.blocks[index] = block
	}

	copy(block, page)

	return nil
}
