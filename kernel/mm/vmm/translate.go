package vmm

import (
	"gopher32/kernel"
	"gopher32/kernel/mm"
)

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	physAddr, _, err := as.Lookup(virtAddr)
	return physAddr, err
}

// Lookup behaves like Translate but also returns the flags of the page table
// entry that maps virtAddr.
func (as *AddressSpace) Lookup(virtAddr uintptr) (uintptr, PageTableEntryFlag, *kernel.Error) {
	if virtAddr > mm.MaxAddress {
		return 0, 0, ErrAddressRange
	}

	pde := as.table(as.pdtFrame)[pdtIndex(virtAddr)]
	if !pde.HasFlags(FlagPresent) {
		return 0, 0, ErrInvalidMapping
	}

	pte := as.table(pde.Frame())[ptIndex(virtAddr)]
	if !pte.HasFlags(FlagPresent) {
		return 0, 0, ErrInvalidMapping
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Frame().Address() + PageOffset(virtAddr), pte.Flags(), nil
}
