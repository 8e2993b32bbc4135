package vmm

import (
	"gopher32/kernel"
	"gopher32/kernel/mm"
)

// checkAddress validates an address passed to Map or Unmap.
func checkAddress(addr uintptr) *kernel.Error {
	if addr > mm.MaxAddress {
		return ErrAddressRange
	}

	if !mm.IsPageAligned(addr) {
		return ErrMisaligned
	}

	return nil
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Both addresses must be page-aligned. If the page table covering
// virtAddr does not exist, Map allocates it and records the RW and
// FlagUserAccessible bits of flags in its page directory entry. Only the
// flags in MappableFlags are copied to the page table entry.
//
// Map never overwrites an existing mapping; the page must be unmapped first.
// Requesting a user-accessible page in a region whose directory entry is
// supervisor-only fails with ErrPermissionDenied. The pages that hold the
// page directory and the scratch page table, as well as the scratch page
// itself, are reserved and fail with ErrReservedPage.
func (as *AddressSpace) Map(virtAddr, physAddr uintptr, flags PageTableEntryFlag) *kernel.Error {
	if as.isReserved(virtAddr) {
		return ErrReservedPage
	}

	return as.mapPage(virtAddr, physAddr, flags)
}

// mapPage implements Map without the reserved page check.
func (as *AddressSpace) mapPage(virtAddr, physAddr uintptr, flags PageTableEntryFlag) *kernel.Error {
	if err := checkAddress(virtAddr); err != nil {
		return err
	}
	if err := checkAddress(physAddr); err != nil {
		return err
	}

	flags &= MappableFlags

	tableFrame, err := as.ensureTable(virtAddr, flags)
	if err != nil {
		return err
	}

	pte := &as.table(tableFrame)[ptIndex(virtAddr)]
	if pte.HasFlags(FlagPresent) {
		return ErrAlreadyMapped
	}

	pde := as.table(as.pdtFrame)[pdtIndex(virtAddr)]
	if flags&FlagUserAccessible != 0 && !pde.HasFlags(FlagUserAccessible) {
		return ErrPermissionDenied
	}

	*pte = 0
	pte.SetFrame(mm.FrameFromAddress(physAddr))
	pte.SetFlags(FlagPresent | flags)
	as.mmu.FlushTLBEntry(virtAddr)

	return nil
}

// isReserved returns true if virtAddr is one of the pages that must stay
// mapped for page tables to remain reachable.
func (as *AddressSpace) isReserved(virtAddr uintptr) bool {
	if !as.scratchTableFrame.Valid() {
		return false
	}

	return virtAddr == scratchAddr ||
		virtAddr == as.scratchTableFrame.Address() ||
		virtAddr == as.pdtFrame.Address()
}

// MapRegion maps the physical region starting at physAddr to the virtual
// region starting at virtAddr. The size argument is rounded up to the nearest
// page boundary. MapRegion stops at the first page that fails to map and
// returns the error; pages mapped before the failure are left in place.
func (as *AddressSpace) MapRegion(virtAddr, physAddr uintptr, size mm.Size, flags PageTableEntryFlag) *kernel.Error {
	for pageCount := size.Pages(); pageCount > 0; pageCount-- {
		if err := as.Map(virtAddr, physAddr, flags); err != nil {
			return err
		}

		virtAddr += mm.PageSize
		physAddr += mm.PageSize
	}

	return nil
}

// IdentityMapRegion establishes an identity mapping for the physical region
// which starts at physAddr. The size argument is rounded up to the nearest
// page boundary.
func (as *AddressSpace) IdentityMapRegion(physAddr uintptr, size mm.Size, flags PageTableEntryFlag) *kernel.Error {
	return as.MapRegion(physAddr, physAddr, size, flags)
}

// Unmap removes a mapping previously installed via a call to Map. The
// physical frame and the page table that held the mapping are not released.
func (as *AddressSpace) Unmap(virtAddr uintptr) *kernel.Error {
	if err := checkAddress(virtAddr); err != nil {
		return err
	}

	if as.isReserved(virtAddr) {
		return ErrReservedPage
	}

	pde := as.table(as.pdtFrame)[pdtIndex(virtAddr)]
	if !pde.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	pte := &as.table(pde.Frame())[ptIndex(virtAddr)]
	if !pte.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	*pte = 0
	as.mmu.FlushTLBEntry(virtAddr)

	return nil
}
