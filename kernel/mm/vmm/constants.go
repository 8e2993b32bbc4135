package vmm

const (
	// pageLevels indicates the number of page levels supported by 32-bit
	// x86 paging without PAE.
	pageLevels = 2

	// entriesPerTable is the number of entries stored in a page directory
	// or page table.
	entriesPerTable = 1024

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. Bits 12-31 contain the
	// physical frame number.
	ptePhysPageMask = PageTableEntry(0xfffff000)

	// pageDirShift and pageTableShift are the shifts required to extract
	// the directory and table indices from a virtual address.
	pageDirShift   = 22
	pageTableShift = 12

	// scratchAddr is a reserved virtual page that gets pointed at page
	// tables that must be modified once paging is enabled. It uses
	// directory index 1022 and table index 1023.
	scratchAddr = uintptr(0xffbff000)
)

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when a directory entry maps a 4Mb page instead
	// of pointing to a page table.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal
)

// MappableFlags are the flags that Map accepts from its callers. The
// remaining flags are either maintained by the processor or unused.
const MappableFlags = FlagRW | FlagUserAccessible | FlagWriteThroughCaching | FlagDoNotCache

// pdtIndex returns the page directory slot for a virtual address.
func pdtIndex(virtAddr uintptr) uintptr {
	return (virtAddr >> pageDirShift) & (entriesPerTable - 1)
}

// ptIndex returns the page table slot for a virtual address.
func ptIndex(virtAddr uintptr) uintptr {
	return (virtAddr >> pageTableShift) & (entriesPerTable - 1)
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & ((1 << pageTableShift) - 1)
}
