package vmm

import (
	"unsafe"

	"gopher32/kernel/cpu"
)

// MMU abstracts the processor facilities used to build and activate the
// page table hierarchy.
type MMU interface {
	// TableAt returns the page table stored in the page that is currently
	// addressable at addr. Before paging is enabled addr is a physical
	// address. Afterwards it is a virtual address.
	TableAt(addr uintptr) *PageTable

	// FlushTLBEntry invalidates any cached translation for virtAddr.
	FlushTLBEntry(virtAddr uintptr)

	// SwitchPDT loads the physical address of a page directory into the
	// page table base register.
	SwitchPDT(pdtPhysAddr uintptr)

	// EnablePaging turns on protected mode and paging.
	EnablePaging()
}

type hardwareMMU struct{}

func (hardwareMMU) TableAt(addr uintptr) *PageTable {
	return (*PageTable)(unsafe.Pointer(addr))
}

func (hardwareMMU) FlushTLBEntry(virtAddr uintptr) { cpu.FlushTLBEntry(virtAddr) }
func (hardwareMMU) SwitchPDT(pdtPhysAddr uintptr)  { cpu.SwitchPDT(pdtPhysAddr) }
func (hardwareMMU) EnablePaging()                  { cpu.EnablePaging() }

// HardwareMMU returns the MMU implementation that drives the processor this
// kernel is running on.
func HardwareMMU() MMU {
	return hardwareMMU{}
}
