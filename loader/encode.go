package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

// Encode writes the image as a little-endian ELF64 executable with one
// PT_LOAD program header per segment.
func Encode(img *Image) []byte {
	buf := new(bytes.Buffer)

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(img.Segments)),
		Shentsize: 64,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	mustWrite(buf, hdr)

	off := uint64(ehdrSize + phdrSize*len(img.Segments))
	for _, s := range img.Segments {
		flags := elf.ProgFlag(0)
		if s.Readable {
			flags |= elf.PF_R
		}

		if s.Writable {
			flags |= elf.PF_W
		}

		if s.Executable {
			flags |= elf.PF_X
		}

		mustWrite(buf, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(flags),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint64(len(s.Data)),
			Memsz:  s.Memsz,
			Align:  0x1000,
		})

		off += uint64(len(s.Data))
	}

	for _, s := range img.Segments {
		buf.Write(s.Data)
	}

	return buf.Bytes()
}

func mustWrite(buf *bytes.Buffer, v any) {
	err := binary.Write(buf, binary.LittleEndian, v)
	if err != nil {
		panic(err)
	}
}
