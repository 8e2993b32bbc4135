//go:build 386 || amd64

// Package cpu exposes the privileged processor instructions used by the
// memory management code. The functions are implemented in assembly and will
// fault if called outside of ring 0.
package cpu

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt masks interrupts and stops instruction execution. It never returns.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// EnablePaging sets the protection-enable and paging bits in CR0. SwitchPDT
// must have been called beforehand.
func EnablePaging()
