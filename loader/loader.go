// Package loader loads ELF executables into address spaces.
package loader

import (
	"debug/elf"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrBadExecutable is returned for files that cannot be run.
var ErrBadExecutable = errors.New("bad executable")

// A Target is the address space a program is loaded into.
type Target interface {
	DefineRegion(va, size uint64, readable, writable, executable bool) error
	PrepareLoad() error
	CompleteLoad() error
	DefineStack() (uint64, error)
	Write(va uint64, data []byte) error
}

// A Segment is a loadable part of the image.
type Segment struct {
	Vaddr uint64
	Memsz uint64
	Data  []byte

	Readable   bool
	Writable   bool
	Executable bool
}

// An Image is a parsed executable.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Parse reads the loadable segments of an ELF file.
func Parse(r io.ReaderAt) (*Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(ErrBadExecutable, err.Error())
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC {
		return nil, errors.Wrapf(ErrBadExecutable, "type %s", f.Type)
	}

	img := &Image{Entry: f.Entry}

	for _, prog := range f.Progs {
		hdr := prog.ProgHeader
		if hdr.Type != elf.PT_LOAD || hdr.Memsz == 0 {
			continue
		}

		if hdr.Filesz > hdr.Memsz {
			return nil, errors.Wrapf(ErrBadExecutable,
				"segment at 0x%x has filesz > memsz", hdr.Vaddr)
		}

		data := make([]byte, hdr.Filesz)

		_, err := io.ReadFull(prog.Open(), data)
		if err != nil {
			return nil, errors.Wrapf(ErrBadExecutable,
				"segment at 0x%x: %v", hdr.Vaddr, err)
		}

		img.Segments = append(img.Segments, Segment{
			Vaddr:      hdr.Vaddr,
			Memsz:      hdr.Memsz,
			Data:       data,
			Readable:   hdr.Flags&elf.PF_R != 0,
			Writable:   hdr.Flags&elf.PF_W != 0,
			Executable: hdr.Flags&elf.PF_X != 0,
		})
	}

	if len(img.Segments) == 0 {
		return nil, errors.Wrap(ErrBadExecutable, "no loadable segment")
	}

	return img, nil
}

// Load defines the regions of the image, copies the segments in and sets
// up the stack. It returns the entry point and the initial stack pointer.
func Load(t Target, img *Image, log logrus.FieldLogger) (entry, sp uint64, err error) {
	for _, s := range img.Segments {
		err = t.DefineRegion(s.Vaddr, s.Memsz, s.Readable, s.Writable, s.Executable)
		if err != nil {
			return 0, 0, err
		}
	}

	err = t.PrepareLoad()
	if err != nil {
		return 0, 0, err
	}

	for _, s := range img.Segments {
		if len(s.Data) == 0 {
			continue
		}

		err = t.Write(s.Vaddr, s.Data)
		if err != nil {
			return 0, 0, err
		}

		log.WithFields(logrus.Fields{
			"vaddr": s.Vaddr,
			"size":  len(s.Data),
		}).Debug("segment loaded")
	}

	err = t.CompleteLoad()
	if err != nil {
		return 0, 0, err
	}

	sp, err = t.DefineStack()
	if err != nil {
		return 0, 0, err
	}

	return img.Entry, sp, nil
}
