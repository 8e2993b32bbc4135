package vmm

import (
	"fmt"

	"gopher32/kernel"
	"gopher32/kernel/mm"
)

// junkEntry is written to every entry of a frame the first time the frame
// is touched so that tables that are not cleared before use stand out.
const junkEntry = PageTableEntry(0xdeadbeef)

// fakeMMU emulates the x86 paging unit on top of Go memory. Physical frames
// are created lazily and translations are cached in a TLB until they are
// invalidated via FlushTLBEntry.
type fakeMMU struct {
	frames map[uintptr]*PageTable
	tlb    map[uintptr]uintptr

	pdtAddr       uintptr
	pagingEnabled bool

	flushCount  int
	switchCount int
	calls       []string
}

func newFakeMMU() *fakeMMU {
	return &fakeMMU{
		frames: make(map[uintptr]*PageTable),
		tlb:    make(map[uintptr]uintptr),
	}
}

func (m *fakeMMU) frame(physAddr uintptr) *PageTable {
	physAddr &^= mm.PageSize - 1
	pt, ok := m.frames[physAddr]
	if !ok {
		pt = new(PageTable)
		for i := range pt {
			pt[i] = junkEntry
		}
		m.frames[physAddr] = pt
	}
	return pt
}

// resolve translates virtAddr the way the processor would, consulting the
// TLB before walking the tables.
func (m *fakeMMU) resolve(virtAddr uintptr) (uintptr, bool) {
	page := virtAddr &^ (mm.PageSize - 1)
	if physPage, ok := m.tlb[page]; ok {
		return physPage + PageOffset(virtAddr), true
	}

	pde := m.frame(m.pdtAddr)[pdtIndex(virtAddr)]
	if !pde.HasFlags(FlagPresent) {
		return 0, false
	}

	pte := m.frame(pde.Frame().Address())[ptIndex(virtAddr)]
	if !pte.HasFlags(FlagPresent) {
		return 0, false
	}

	m.tlb[page] = pte.Frame().Address()
	return pte.Frame().Address() + PageOffset(virtAddr), true
}

func (m *fakeMMU) TableAt(addr uintptr) *PageTable {
	if !m.pagingEnabled {
		return m.frame(addr)
	}

	physAddr, ok := m.resolve(addr)
	if !ok {
		panic(fmt.Sprintf("page fault while accessing 0x%x", addr))
	}
	return m.frame(physAddr)
}

func (m *fakeMMU) FlushTLBEntry(virtAddr uintptr) {
	m.flushCount++
	delete(m.tlb, virtAddr&^(mm.PageSize-1))
}

func (m *fakeMMU) SwitchPDT(pdtPhysAddr uintptr) {
	m.switchCount++
	m.pdtAddr = pdtPhysAddr
	m.tlb = make(map[uintptr]uintptr)
	m.calls = append(m.calls, "switchPDT")
}

func (m *fakeMMU) EnablePaging() {
	m.pagingEnabled = true
	m.calls = append(m.calls, "enablePaging")
}

// bumpAllocator hands out consecutive frames starting at next. If limit is
// non-zero, it fails with errOutOfFrames once limit frames have been handed out.
type bumpAllocator struct {
	next  mm.Frame
	limit int
	count int
}

var errOutOfFrames = &kernel.Error{Module: "test", Message: "out of frames"}

func (b *bumpAllocator) alloc() (mm.Frame, *kernel.Error) {
	if b.limit > 0 && b.count == b.limit {
		return mm.InvalidFrame, errOutOfFrames
	}
	b.count++
	frame := b.next
	b.next++
	return frame, nil
}

func failingAllocator() (mm.Frame, *kernel.Error) {
	return mm.InvalidFrame, errOutOfFrames
}
