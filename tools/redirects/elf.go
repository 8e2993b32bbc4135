package main

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const redirectTableSection = ".goredirectstbl"

// elfRedirectTable returns the file offset and size of the redirect table
// section together with the ELF class of the image.
func elfRedirectTable(imgFile string) (offset, size uint64, class elf.Class, err error) {
	f, err := elf.Open(imgFile)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	section := f.Section(redirectTableSection)
	if section == nil {
		return 0, 0, 0, fmt.Errorf("%s: missing %s section", imgFile, redirectTableSection)
	}

	return section.Offset, section.Size, f.Class, nil
}

// entrySize returns the size in bytes of a single (src, dst) table entry.
func entrySize(class elf.Class) uint64 {
	if class == elf.ELFCLASS32 {
		return 8
	}
	return 16
}

// writeRedirectTable encodes the resolved redirects. ELF32 images store
// 32-bit addresses and ELF64 images store 64-bit addresses.
func writeRedirectTable(w io.Writer, class elf.Class, redirects []*redirect) error {
	for _, r := range redirects {
		var err error
		switch class {
		case elf.ELFCLASS32:
			if r.srcVMA > math.MaxUint32 || r.dstVMA > math.MaxUint32 {
				return fmt.Errorf("redirect %s -> %s: address does not fit in 32 bits", r.src, r.dst)
			}
			err = binary.Write(w, binary.LittleEndian, [2]uint32{uint32(r.srcVMA), uint32(r.dstVMA)})
		case elf.ELFCLASS64:
			err = binary.Write(w, binary.LittleEndian, [2]uint64{r.srcVMA, r.dstVMA})
		default:
			return fmt.Errorf("unsupported ELF class %v", class)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func elfWriteRedirectTable(redirects []*redirect, imgFile string) error {
	offset, size, class, err := elfRedirectTable(imgFile)
	if err != nil {
		return err
	}

	if need := uint64(len(redirects)) * entrySize(class); need > size {
		return fmt.Errorf("%s: %s section holds %d bytes; %d redirects need %d", imgFile, redirectTableSection, size, len(redirects), need)
	}

	// Open kernel image file and seek to table offset
	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.Seek(int64(offset), io.SeekStart); err != nil {
		return err
	}

	return writeRedirectTable(f, class, redirects)
}

func elfResolveRedirectSymbols(redirects []*redirect, imgFile string) error {
	f, err := elf.Open(imgFile)
	if err != nil {
		return err
	}
	defer f.Close()

	symbols, err := f.Symbols()
	if err != nil {
		return err
	}

	for _, redirect := range redirects {
		for _, symbol := range symbols {
			if symbol.Name == redirect.src {
				redirect.srcVMA = symbol.Value
			}
			if symbol.Name == redirect.dst {
				redirect.dstVMA = symbol.Value
			}
		}

		switch {
		case redirect.srcVMA == 0:
			return fmt.Errorf("%s: could not locate address of %q", imgFile, redirect.src)
		case redirect.dstVMA == 0:
			return fmt.Errorf("%s: could not locate address of %q", imgFile, redirect.dst)
		}
	}

	return nil
}
