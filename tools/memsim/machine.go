package main

import (
	"fmt"

	"gopher32/kernel/mm"
	"gopher32/kernel/mm/vmm"
)

// FaultKind identifies the exception raised by a simulated memory access.
type FaultKind int

const (
	// PageFault is raised when a page walk reaches a non-present entry.
	PageFault FaultKind = iota

	// BusError is raised when a physical access targets a frame that is
	// not backed by installed memory.
	BusError
)

// Fault describes an exception raised by the simulated MMU.
type Fault struct {
	Kind FaultKind
	Addr uintptr
}

// Error implements error.
func (f *Fault) Error() string {
	if f.Kind == BusError {
		return fmt.Sprintf("bus error accessing physical address 0x%x", f.Addr)
	}
	return fmt.Sprintf("page fault accessing virtual address 0x%x", f.Addr)
}

// MachineStats tracks the MMU events observed by a Machine.
type MachineStats struct {
	FramesTouched int
	TLBHits       int
	TLBMisses     int
	TLBFlushes    int
	PDTSwitches   int
}

// Machine implements vmm.MMU on top of simulated physical memory. Frames are
// created on first access and filled with junk. Translations are cached in a
// TLB until they are explicitly flushed, so a missing invalidation surfaces as
// a stale translation.
//
// Accesses that the processor would turn into an exception cause Machine to
// panic with a *Fault.
type Machine struct {
	memTop uintptr
	junk   vmm.PageTableEntry

	frames map[mm.Frame]*vmm.PageTable
	tlb    map[mm.Page]mm.Frame

	pdtAddr       uintptr
	pagingEnabled bool

	Stats MachineStats
}

// NewMachine returns a machine whose installed memory ends at memTop.
func NewMachine(memTop uintptr, junk uint32) *Machine {
	return &Machine{
		memTop: memTop,
		junk:   vmm.PageTableEntry(junk),
		frames: make(map[mm.Frame]*vmm.PageTable),
		tlb:    make(map[mm.Page]mm.Frame),
	}
}

// frame returns the memory backing the frame that contains physAddr.
func (m *Machine) frame(physAddr uintptr) *vmm.PageTable {
	if physAddr > m.memTop {
		panic(&Fault{Kind: BusError, Addr: physAddr})
	}

	f := mm.FrameFromAddress(physAddr)
	pt, ok := m.frames[f]
	if !ok {
		pt = new(vmm.PageTable)
		for i := range pt {
			pt[i] = m.junk
		}
		m.frames[f] = pt
		m.Stats.FramesTouched++
	}
	return pt
}

// resolve translates virtAddr, consulting the TLB before walking the page
// tables. It returns a page fault if the walk reaches a non-present entry.
func (m *Machine) resolve(virtAddr uintptr) (uintptr, *Fault) {
	page := mm.PageFromAddress(virtAddr)
	if f, ok := m.tlb[page]; ok {
		m.Stats.TLBHits++
		return f.Address() + vmm.PageOffset(virtAddr), nil
	}
	m.Stats.TLBMisses++

	pde := m.frame(m.pdtAddr)[(virtAddr>>22)&1023]
	if !pde.HasFlags(vmm.FlagPresent) {
		return 0, &Fault{Kind: PageFault, Addr: virtAddr}
	}

	pte := m.frame(pde.Frame().Address())[(virtAddr>>12)&1023]
	if !pte.HasFlags(vmm.FlagPresent) {
		return 0, &Fault{Kind: PageFault, Addr: virtAddr}
	}

	m.tlb[page] = pte.Frame()
	return pte.Frame().Address() + vmm.PageOffset(virtAddr), nil
}

// Translate returns the physical address the processor would access for
// virtAddr. Before paging is enabled addresses are not translated.
func (m *Machine) Translate(virtAddr uintptr) (uintptr, error) {
	if !m.pagingEnabled {
		return virtAddr, nil
	}

	physAddr, fault := m.resolve(virtAddr)
	if fault != nil {
		return 0, fault
	}
	return physAddr, nil
}

// PagingEnabled returns true after EnablePaging has been called.
func (m *Machine) PagingEnabled() bool { return m.pagingEnabled }

// TableAt implements vmm.MMU.
func (m *Machine) TableAt(addr uintptr) *vmm.PageTable {
	if !m.pagingEnabled {
		return m.frame(addr)
	}

	physAddr, fault := m.resolve(addr)
	if fault != nil {
		panic(fault)
	}
	return m.frame(physAddr)
}

// FlushTLBEntry implements vmm.MMU.
func (m *Machine) FlushTLBEntry(virtAddr uintptr) {
	m.Stats.TLBFlushes++
	delete(m.tlb, mm.PageFromAddress(virtAddr))
}

// SwitchPDT implements vmm.MMU. Loading a new directory flushes the TLB.
func (m *Machine) SwitchPDT(pdtPhysAddr uintptr) {
	m.Stats.PDTSwitches++
	m.pdtAddr = pdtPhysAddr
	m.tlb = make(map[mm.Page]mm.Frame)
}

// EnablePaging implements vmm.MMU.
func (m *Machine) EnablePaging() {
	m.pagingEnabled = true
}
