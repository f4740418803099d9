package swap

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sarchlab/vmswap/mem/vm"
)

// FileDevice stores block i of the swap area at offset i*PageSize of a
// swap file.
type FileDevice struct {
	file      *os.File
	numBlocks int
}

// OpenFileDevice creates or opens the swap file and reserves space for
// numBlocks blocks.
func OpenFileDevice(path string, numBlocks int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open swap file %s", path)
	}

	size := int64(numBlocks) * int64(vm.PageSize)
	if err := preallocate(f, size); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "preallocate swap file %s", path)
	}

	return &FileDevice{file: f, numBlocks: numBlocks}, nil
}

// NumBlocks returns the number of blocks of the device.
func (d *FileDevice) NumBlocks() int {
	return d.numBlocks
}

// ReadBlock reads block index into the page.
func (d *FileDevice) ReadBlock(index int, page []byte) error {
	_, err := d.file.ReadAt(page[:vm.PageSize], d.offset(index))
	if err != nil {
		return errors.Wrapf(err, "read swap block %d", index)
	}

	return nil
}

// WriteBlock writes the page to block index.
func (d *FileDevice) WriteBlock(index int, page []byte) error {
	_, err := d.file.WriteAt(page[:vm.PageSize], d.offset(index))
	if err != nil {
		return errors.Wrapf(err, "write swap block %d", index)
	}

	return nil
}

// Close closes the swap file.
func (d *FileDevice) Close() error {
	return d.file.Close()
}

func (d *FileDevice) offset(index int) int64 {
	if index < 0 || index >= d.numBlocks {
		panic("swap block out of range")
	}

	return int64(index) * int64(vm.PageSize)
}
