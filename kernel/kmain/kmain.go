// Package kmain contains the kernel boot sequence.
package kmain

import (
	"gopher32/kernel"
	"gopher32/kernel/cpu"
	"gopher32/kernel/kfmt"
	"gopher32/kernel/mm"
	"gopher32/kernel/mm/mmap"
	"gopher32/kernel/mm/pmm"
	"gopher32/kernel/mm/vmm"
	"gopher32/kernel/multiboot"
)

var (
	// The memory management state lives in package-level variables as
	// Kmain runs before the Go allocator is available.
	memMap         mmap.Map
	frameAllocator pmm.BitmapAllocator
	addressSpace   vmm.AddressSpace

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	disableInterruptsFn = cpu.DisableInterrupts
	mmuFn               = vmm.HardwareMMU
	panicFn             = kfmt.Panic

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader. If it is zero, the reference memory layout is used.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr uintptr) {
	// Interrupts stay masked until memory management is up.
	disableInterruptsFn()

	multiboot.SetInfoPtr(multibootInfoPtr)
	if memTop := multiboot.DetectMemoryTop(); memTop != 0 {
		memMap.InitDetected(memTop)
	} else {
		memMap.Init()
	}
	memMap.Print()

	frameAllocator.Init(&memMap)
	addressSpace.Init(&memMap, allocFrame, mmuFn())

	frameAllocator.PrintStats()
	addressSpace.PrintStats()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// allocFrame exposes frameAllocator as an mm.FrameAllocatorFn without
// creating a method value.
func allocFrame() (mm.Frame, *kernel.Error) {
	return frameAllocator.AllocFrame()
}
