// Package vmm builds and maintains the two-level page table hierarchy used by
// the processor to translate virtual addresses.
package vmm

import (
	"gopher32/kernel"
	"gopher32/kernel/kfmt"
	"gopher32/kernel/mm"
	"gopher32/kernel/mm/mmap"
)

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	// ErrMisaligned is returned when a virtual or physical address is not
	// aligned to a page boundary.
	ErrMisaligned = &kernel.Error{Module: "vmm", Message: "address is not page-aligned"}

	// ErrAlreadyMapped is returned by Map when the target page is already
	// mapped.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual address is already mapped"}

	// ErrInvalidMapping is returned when trying to lookup or remove a
	// virtual address that is not mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrPermissionDenied is returned by Map when a user-accessible page
	// is requested inside a region whose page directory entry is
	// supervisor-only.
	ErrPermissionDenied = &kernel.Error{Module: "vmm", Message: "user-accessible mapping requested under a supervisor-only page directory entry"}

	// ErrReservedPage is returned when trying to map or unmap the scratch
	// page or the pages holding the page directory and the scratch page
	// table.
	ErrReservedPage = &kernel.Error{Module: "vmm", Message: "virtual address is reserved for page table access"}

	// ErrAddressRange is returned for addresses that cannot be expressed
	// with 32 bits.
	ErrAddressRange = &kernel.Error{Module: "vmm", Message: "address exceeds the 32-bit address space"}

	errNilMap         = &kernel.Error{Module: "vmm", Message: "cannot set up paging without a memory map"}
	errNilAllocator   = &kernel.Error{Module: "vmm", Message: "cannot set up paging without a frame allocator"}
	errNilMMU         = &kernel.Error{Module: "vmm", Message: "cannot set up paging without an MMU"}
	errNoKernelRegion = &kernel.Error{Module: "vmm", Message: "memory map does not contain a kernel section"}
)

// AddressSpace manages the page directory used by the kernel. The directory
// and the page tables it references are allocated from a frame allocator
// and are never released.
type AddressSpace struct {
	mmu     MMU
	allocFn mm.FrameAllocatorFn

	pdtFrame mm.Frame

	// scratchTableFrame is the page table that holds the entry for
	// scratchAddr; scratchTarget is the frame it currently points to.
	scratchTableFrame mm.Frame
	scratchTarget     mm.Frame

	pagingEnabled bool
	tableCount    uint32
}

// Init sets up the page directory, identity-maps every page from address 0
// up to the end of the kernel section of memMap and then enables paging.
// Page tables are allocated via allocFn. Failures halt the system as the
// kernel cannot run without the identity mapping.
func (as *AddressSpace) Init(memMap *mmap.Map, allocFn mm.FrameAllocatorFn, mmu MMU) {
	switch {
	case memMap == nil:
		panicFn(errNilMap)
		return
	case allocFn == nil:
		panicFn(errNilAllocator)
		return
	case mmu == nil:
		panicFn(errNilMMU)
		return
	}

	kernelSection, ok := memMap.KernelSection()
	if !ok {
		panicFn(errNoKernelRegion)
		return
	}

	*as = AddressSpace{
		mmu:               mmu,
		allocFn:           allocFn,
		pdtFrame:          mm.InvalidFrame,
		scratchTableFrame: mm.InvalidFrame,
		scratchTarget:     mm.InvalidFrame,
	}

	if err := as.setupPDT(mm.Size(kernelSection.End) + 1); err != nil {
		panicFn(err)
		return
	}

	mmu.SwitchPDT(as.pdtFrame.Address())
	mmu.EnablePaging()
	as.pagingEnabled = true
}

// setupPDT allocates and clears the page directory, creates the page table
// backing the scratch page and identity-maps [0, kernelEnd) together with the
// frames that must stay directly addressable once paging is enabled.
func (as *AddressSpace) setupPDT(kernelEnd mm.Size) *kernel.Error {
	var err *kernel.Error

	if as.pdtFrame, err = as.allocFn(); err != nil {
		return err
	}
	as.table(as.pdtFrame).clear()

	if as.scratchTableFrame, err = as.ensureTable(scratchAddr, FlagRW); err != nil {
		return err
	}

	addr := uintptr(0)
	for pageCount := kernelEnd.Pages(); pageCount > 0; pageCount-- {
		if err = as.mapPage(addr, addr, FlagRW); err != nil {
			return err
		}
		addr += mm.PageSize
	}

	for _, frame := range []mm.Frame{as.pdtFrame, as.scratchTableFrame} {
		if err = as.mapPage(frame.Address(), frame.Address(), FlagRW); err != nil && err != ErrAlreadyMapped {
			return err
		}
	}

	return nil
}

// ensureTable returns the page table frame that covers virtAddr, allocating
// and installing a cleared table if the directory entry is not present. The
// flags are recorded in the new directory entry.
func (as *AddressSpace) ensureTable(virtAddr uintptr, flags PageTableEntryFlag) (mm.Frame, *kernel.Error) {
	pde := &as.table(as.pdtFrame)[pdtIndex(virtAddr)]
	if pde.HasFlags(FlagPresent) {
		return pde.Frame(), nil
	}

	frame, err := as.allocFn()
	if err != nil {
		return mm.InvalidFrame, err
	}

	as.table(frame).clear()

	*pde = 0
	pde.SetFrame(frame)
	pde.SetFlags(FlagPresent | (flags & (FlagRW | FlagUserAccessible)))
	as.tableCount++

	return frame, nil
}

// table returns an accessor for the page table stored in frame. Before
// paging is enabled tables are addressed physically. Afterwards, tables other
// than the directory and the scratch table are reached by pointing the
// scratch page at them, so the returned pointer stays valid only until the
// next call to table.
func (as *AddressSpace) table(frame mm.Frame) *PageTable {
	if !as.pagingEnabled || frame == as.pdtFrame || frame == as.scratchTableFrame {
		return as.mmu.TableAt(frame.Address())
	}

	if as.scratchTarget != frame {
		pte := &as.mmu.TableAt(as.scratchTableFrame.Address())[ptIndex(scratchAddr)]
		*pte = 0
		pte.SetFrame(frame)
		pte.SetFlags(FlagPresent | FlagRW)
		as.mmu.FlushTLBEntry(scratchAddr)
		as.scratchTarget = frame
	}

	return as.mmu.TableAt(scratchAddr)
}

// PDTFrame returns the physical frame that holds the page directory.
func (as *AddressSpace) PDTFrame() mm.Frame { return as.pdtFrame }

// TableCount returns the number of page tables allocated so far.
func (as *AddressSpace) TableCount() uint32 { return as.tableCount }

// PagingEnabled returns true once Init has switched on the MMU.
func (as *AddressSpace) PagingEnabled() bool { return as.pagingEnabled }

// PrintStats writes the paging state to the kernel console.
func (as *AddressSpace) PrintStats() {
	kfmt.Printf(
		"[vmm] page directory at 0x%x, page tables: %d, paging enabled: %t\n",
		as.pdtFrame.Address(), as.tableCount, as.pagingEnabled,
	)
}
