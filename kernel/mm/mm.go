// Package mm defines the page and frame arithmetic shared by the physical
// and virtual memory managers of a 32-bit x86 kernel.
package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// MaxAddress is the highest address representable on a 32-bit
	// processor without PAE. It applies to both physical and virtual
	// addresses.
	MaxAddress = uintptr(0xffffffff)

	// MaxFrames is the number of PageSize frames in the 4GiB physical
	// address space.
	MaxFrames = uint32(1 << (32 - PageShift))
)

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// Pages returns the number of pages that are required for storing this size.
func (s Size) Pages() uint32 {
	pageSizeMinus1 := Size(PageSize - 1)
	return uint32(((s + pageSizeMinus1) &^ pageSizeMinus1) >> PageShift)
}

// IsPageAligned returns true if addr falls on a page boundary.
func IsPageAligned(addr uintptr) bool {
	return addr&(PageSize-1) == 0
}
