// Package mmap describes the physical memory layout of the machine as a short,
// ordered list of address ranges tagged by purpose. The map is built once at
// boot and is read-only afterwards.
package mmap

import (
	"gopher32/kernel"
	"gopher32/kernel/kfmt"
	"gopher32/kernel/mm"
)

// MaxSections is the capacity of a Map.
const MaxSections = 16

// Reference physical layout. Both bounds of each range are inclusive.
const (
	IOStart     = uintptr(0x00000000)
	IOEnd       = uintptr(0x000fffff)
	KernelStart = uintptr(0x00100000)
	KernelEnd   = uintptr(0x004fffff)
	FreeStart   = uintptr(0x00500000)
	FreeEnd     = mm.MaxAddress
)

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	errNilMap       = &kernel.Error{Module: "mmap", Message: "failed to initialize nil memory map"}
	errMapFull      = &kernel.Error{Module: "mmap", Message: "failed to register more sections"}
	errSectionRange = &kernel.Error{Module: "mmap", Message: "section address out of range"}
	errSectionType  = &kernel.Error{Module: "mmap", Message: "section type invalid"}
	errNoFreeMemory = &kernel.Error{Module: "mmap", Message: "detected memory does not extend past the kernel image"}
)

// SectionType describes the purpose of a memory Section.
type SectionType uint8

const (
	// SectionIO covers low memory reserved for firmware and memory-mapped I/O.
	SectionIO SectionType = iota

	// SectionKernel covers the physical memory occupied by the kernel image.
	SectionKernel

	// SectionFree covers memory available for allocation.
	SectionFree

	sectionTypeCount
)

// String implements fmt.Stringer for SectionType.
func (t SectionType) String() string {
	switch t {
	case SectionIO:
		return "io"
	case SectionKernel:
		return "kernel"
	case SectionFree:
		return "free"
	default:
		return "unknown"
	}
}

// Section is an inclusive [Start, End] physical address range.
type Section struct {
	Start uintptr
	End   uintptr
	Type  SectionType
}

// Size returns the number of bytes covered by the section.
func (s Section) Size() mm.Size {
	return mm.Size(s.End-s.Start) + 1
}

// SectionVisitor is invoked by Visit for each section. Returning false stops
// the iteration.
type SectionVisitor func(*Section) bool

// Map is a fixed-capacity, ordered catalogue of memory sections.
type Map struct {
	sections [MaxSections]Section
	count    int
}

// Init resets the map and registers the reference layout: reserved low
// memory, the kernel image and everything above it as free memory up to the
// top of the 4GiB address space.
func (m *Map) Init() {
	m.InitDetected(FreeEnd)
}

// InitDetected behaves like Init but caps the free section at physTop, the
// last usable byte of installed memory. It halts if physTop does not extend
// past the kernel image.
func (m *Map) InitDetected(physTop uintptr) {
	if m == nil {
		panicFn(errNilMap)
		return
	}

	m.count = 0

	if physTop < FreeStart || physTop > mm.MaxAddress {
		panicFn(errNoFreeMemory)
		return
	}

	m.Register(IOStart, IOEnd, SectionIO)
	m.Register(KernelStart, KernelEnd, SectionKernel)
	m.Register(FreeStart, physTop, SectionFree)
}

// Register appends a section to the map. Sections must be registered in
// increasing address order and may not overlap. Any violation halts the
// system.
func (m *Map) Register(start, end uintptr, typ SectionType) {
	if m == nil {
		panicFn(errNilMap)
		return
	}

	if m.count >= MaxSections {
		panicFn(errMapFull)
		return
	}

	if start > end || start > mm.MaxAddress || end > mm.MaxAddress {
		panicFn(errSectionRange)
		return
	}

	if m.count > 0 && start <= m.sections[m.count-1].End {
		panicFn(errSectionRange)
		return
	}

	if typ >= sectionTypeCount {
		panicFn(errSectionType)
		return
	}

	m.sections[m.count] = Section{Start: start, End: end, Type: typ}
	m.count++
}

// Count returns the number of registered sections.
func (m *Map) Count() int {
	return m.count
}

// Section returns the section at the given index.
func (m *Map) Section(index int) Section {
	return m.sections[index]
}

// Visit invokes visitor for each section in address order.
func (m *Map) Visit(visitor SectionVisitor) {
	for i := 0; i < m.count; i++ {
		if !visitor(&m.sections[i]) {
			return
		}
	}
}

// KernelSection returns the first section of type SectionKernel.
func (m *Map) KernelSection() (Section, bool) {
	for i := 0; i < m.count; i++ {
		if m.sections[i].Type == SectionKernel {
			return m.sections[i], true
		}
	}

	return Section{}, false
}

// Top returns the highest address covered by the map or 0 if the map is empty.
func (m *Map) Top() uintptr {
	if m.count == 0 {
		return 0
	}

	return m.sections[m.count-1].End
}

// Print writes the memory map to the kernel console.
func (m *Map) Print() {
	var totalFree mm.Size

	kfmt.Printf("[mmap] system memory map:\n")
	m.Visit(func(s *Section) bool {
		kfmt.Printf("\t[0x%8x - 0x%8x], size: %10d, type: %s\n", s.Start, s.End, uint64(s.Size()), s.Type.String())
		if s.Type == SectionFree {
			totalFree += s.Size()
		}
		return true
	})
	kfmt.Printf("[mmap] available memory: %dKb\n", uint64(totalFree/mm.Kb))
}
