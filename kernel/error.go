package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// *Error values and compared by identity.
type Error struct {
	// The module where the error occurred (e.g. "pmm", "vmm").
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
