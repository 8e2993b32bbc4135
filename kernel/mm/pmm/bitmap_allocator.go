// Package pmm manages physical memory frame allocations.
package pmm

import (
	"math/bits"

	"gopher32/kernel"
	"gopher32/kernel/kfmt"
	"gopher32/kernel/mm"
	"gopher32/kernel/mm/mmap"
)

// maxBitmapBlocks is the number of 64-bit blocks needed to track every frame
// of the 4GiB physical address space.
const maxBitmapBlocks = mm.MaxFrames / 64

var (
	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	// ErrOutOfMemory is returned by AllocFrame when every frame is reserved.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// ErrInvalidFrame is returned by FreeFrame for frames outside the
	// range tracked by the allocator.
	ErrInvalidFrame = &kernel.Error{Module: "pmm", Message: "frame is not managed by the allocator"}

	// ErrDoubleFree is returned by FreeFrame for frames that are not
	// currently allocated.
	ErrDoubleFree = &kernel.Error{Module: "pmm", Message: "frame is already free"}

	errNilMap = &kernel.Error{Module: "pmm", Message: "failed to initialize allocator from nil memory map"}
)

type markAs bool

const (
	markReserved markAs = false
	markFree            = true
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations with one bit per frame. A set bit means that the frame is
// owned by exactly one consumer: the kernel image, reserved low memory or a
// caller of AllocFrame.
//
// The bitmap storage is sized for the full 32-bit physical address space so
// the allocator needs no memory of its own. Only the prefix that covers the
// memory described by the map passed to Init is ever scanned.
type BitmapAllocator struct {
	// totalFrames is the number of frames covered by the memory map.
	totalFrames uint32

	// reservedFrames tracks the number of set bits.
	reservedFrames uint32

	// bitmap tracks used/free frames. Frame f maps to bit (63 - f%64) of
	// block f/64.
	bitmap [maxBitmapBlocks]uint64

	// blocks is the slice of bitmap that covers totalFrames.
	blocks []uint64
}

// Init clears the bitmap and reserves every frame fully or partially covered
// by a non-free section of the memory map. It halts if memMap is nil.
func (alloc *BitmapAllocator) Init(memMap *mmap.Map) {
	if memMap == nil {
		panicFn(errNilMap)
		return
	}

	// Frames past the end of the map are never handed out. Sizing in frame
	// numbers keeps the arithmetic clear of 32-bit overflow.
	alloc.totalFrames = uint32(mm.FrameFromAddress(memMap.Top())) + 1
	if memMap.Count() == 0 {
		alloc.totalFrames = 0
	}

	alloc.blocks = alloc.bitmap[:(alloc.totalFrames+63)/64]
	for i := range alloc.blocks {
		alloc.blocks[i] = 0
	}
	alloc.reservedFrames = 0

	memMap.Visit(func(s *mmap.Section) bool {
		if s.Type != mmap.SectionFree {
			alloc.reserveRange(s.Start, s.End)
		}
		return true
	})
}

// reserveRange marks every frame overlapping the inclusive [start, end]
// range as reserved. The start address is rounded down to its frame and the
// end address is rounded up so a partially covered frame is never handed out.
func (alloc *BitmapAllocator) reserveRange(start, end uintptr) {
	startFrame := mm.FrameFromAddress(start)
	endFrame := mm.FrameFromAddress(end)

	for frame := startFrame; frame <= endFrame; frame++ {
		if !alloc.IsReserved(frame) {
			alloc.markFrame(frame, markReserved)
		}
	}
}

// markFrame updates the reservation bit for a frame. Calls with frames
// outside the managed range are ignored.
func (alloc *BitmapAllocator) markFrame(frame mm.Frame, flag markAs) {
	if uint64(frame) >= uint64(alloc.totalFrames) {
		return
	}

	block := frame >> 6
	mask := uint64(1) << (63 - (frame & 63))

	switch flag {
	case markFree:
		alloc.blocks[block] &^= mask
		alloc.reservedFrames--
	case markReserved:
		alloc.blocks[block] |= mask
		alloc.reservedFrames++
	}
}

// IsReserved returns true if the frame is allocated or reserved. Frames
// outside the managed range are always reported as reserved.
func (alloc *BitmapAllocator) IsReserved(frame mm.Frame) bool {
	if uint64(frame) >= uint64(alloc.totalFrames) {
		return true
	}

	return alloc.blocks[frame>>6]&(uint64(1)<<(63-(frame&63))) != 0
}

// AllocFrame reserves and returns the lowest-addressed free frame.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for blockIndex, block := range alloc.blocks {
		// Skip fully reserved blocks with a single comparison.
		if block == ^uint64(0) {
			continue
		}

		frame := mm.Frame(blockIndex<<6 + bits.LeadingZeros64(^block))
		if uint64(frame) >= uint64(alloc.totalFrames) {
			break
		}

		alloc.markFrame(frame, markReserved)
		return frame, nil
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// FreeFrame releases a frame previously returned by AllocFrame. Freeing a
// frame that is not allocated or not managed by the allocator is reported as
// an error and leaves the allocator state untouched.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	if uint64(frame) >= uint64(alloc.totalFrames) {
		return ErrInvalidFrame
	}

	if !alloc.IsReserved(frame) {
		return ErrDoubleFree
	}

	alloc.markFrame(frame, markFree)
	return nil
}

// TotalFrames returns the number of frames tracked by the allocator.
func (alloc *BitmapAllocator) TotalFrames() uint32 { return alloc.totalFrames }

// ReservedFrames returns the number of frames currently reserved.
func (alloc *BitmapAllocator) ReservedFrames() uint32 { return alloc.reservedFrames }

// FreeFrames returns the number of frames available for allocation.
func (alloc *BitmapAllocator) FreeFrames() uint32 { return alloc.totalFrames - alloc.reservedFrames }

// PrintStats writes the allocator counters to the kernel console.
func (alloc *BitmapAllocator) PrintStats() {
	kfmt.Printf(
		"[pmm] page stats: free: %d/%d (%d reserved)\n",
		alloc.FreeFrames(), alloc.totalFrames, alloc.reservedFrames,
	)
}
