package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"gopher32/kernel"
	"gopher32/kernel/kfmt"
	"gopher32/kernel/mm"
	"gopher32/kernel/mm/mmap"
	"gopher32/kernel/mm/pmm"
	"gopher32/kernel/mm/vmm"
)

// errKernelHalted is returned when kernel code invokes kfmt.Panic.
var errKernelHalted = errors.New("kernel halted")

// haltSignal is the value the simulator panics with when the kernel halts.
type haltSignal struct{}

// errorNames maps the names accepted by op.Expect to kernel errors.
var errorNames = map[string]*kernel.Error{
	"out-of-memory":     pmm.ErrOutOfMemory,
	"double-free":       pmm.ErrDoubleFree,
	"invalid-frame":     pmm.ErrInvalidFrame,
	"misaligned":        vmm.ErrMisaligned,
	"already-mapped":    vmm.ErrAlreadyMapped,
	"not-mapped":        vmm.ErrInvalidMapping,
	"permission-denied": vmm.ErrPermissionDenied,
	"reserved-page":     vmm.ErrReservedPage,
	"address-range":     vmm.ErrAddressRange,
}

// simulator runs the kernel memory management code against a Machine.
type simulator struct {
	cfg machineConfig
	log *logrus.Entry

	machine *Machine
	memMap  mmap.Map
	alloc   pmm.BitmapAllocator
	as      vmm.AddressSpace
}

func newSimulator(cfg machineConfig, log *logrus.Logger) *simulator {
	memTop := cfg.memoryTop()
	if memTop == 0 {
		memTop = mm.MaxAddress
	}

	return &simulator{
		cfg:     cfg,
		log:     log.WithField("component", "memsim"),
		machine: NewMachine(memTop, cfg.junk()),
	}
}

// protect runs fn with kernel output and halts redirected to the simulator.
// Kernel halts and machine faults are returned as errors.
func (s *simulator) protect(fn func()) (err error) {
	out := newKernelLogWriter(s.log.WithField("component", "kernel"))
	kfmt.SetOutputSink(out)
	kfmt.SetHaltFn(func() { panic(haltSignal{}) })

	defer func() {
		out.Flush()
		kfmt.SetOutputSink(nil)
		kfmt.SetHaltFn(nil)

		if r := recover(); r != nil {
			switch v := r.(type) {
			case haltSignal:
				err = errKernelHalted
			case *Fault:
				err = v
			default:
				panic(r)
			}
		}
	}()

	fn()
	return nil
}

// buildMap initializes the memory map for the configured machine.
func (s *simulator) buildMap() error {
	return s.protect(func() {
		if memTop := s.cfg.memoryTop(); memTop != 0 {
			s.memMap.InitDetected(memTop)
		} else {
			s.memMap.Init()
		}
	})
}

// boot runs the kernel boot sequence: memory map, frame allocator, paging.
func (s *simulator) boot() error {
	if err := s.buildMap(); err != nil {
		return err
	}

	return s.protect(func() {
		s.memMap.Print()
		s.alloc.Init(&s.memMap)
		s.as.Init(&s.memMap, s.alloc.AllocFrame, s.machine)
		s.alloc.PrintStats()
		s.as.PrintStats()
	})
}

// bootReport summarizes the state of the simulator after boot.
type bootReport struct {
	TotalFrames    uint32
	ReservedFrames uint32
	FreeFrames     uint32
	PageTables     uint32
	PDTAddr        uintptr
	PagingEnabled  bool
	TLBFlushes     int
	FramesTouched  int
}

func (s *simulator) report() bootReport {
	return bootReport{
		TotalFrames:    s.alloc.TotalFrames(),
		ReservedFrames: s.alloc.ReservedFrames(),
		FreeFrames:     s.alloc.FreeFrames(),
		PageTables:     s.as.TableCount(),
		PDTAddr:        s.as.PDTFrame().Address(),
		PagingEnabled:  s.machine.PagingEnabled(),
		TLBFlushes:     s.machine.Stats.TLBFlushes,
		FramesTouched:  s.machine.Stats.FramesTouched,
	}
}

// toError converts a kernel error to an error without producing a non-nil
// interface for a nil pointer.
func toError(err *kernel.Error) error {
	if err == nil {
		return nil
	}
	return err
}

// exec runs a single operation and returns a description of its result.
func (s *simulator) exec(o op) (result string, err error) {
	flags, err := parseFlags(o.Flags)
	if err != nil {
		return "", err
	}

	protectErr := s.protect(func() {
		switch o.Kind {
		case "alloc":
			count := o.Count
			if count <= 0 {
				count = 1
			}
			for i := 0; i < count && err == nil; i++ {
				var frame mm.Frame
				var kerr *kernel.Error
				frame, kerr = s.alloc.AllocFrame()
				if err = toError(kerr); err == nil {
					result = fmt.Sprintf("frame 0x%x", frame.Address())
				}
			}
		case "free":
			err = toError(s.alloc.FreeFrame(mm.FrameFromAddress(uintptr(o.Phys))))
		case "map":
			if o.Size > 0 {
				err = toError(s.as.MapRegion(uintptr(o.Virt), uintptr(o.Phys), mm.Size(o.Size), flags))
			} else {
				err = toError(s.as.Map(uintptr(o.Virt), uintptr(o.Phys), flags))
			}
		case "unmap":
			err = toError(s.as.Unmap(uintptr(o.Virt)))
		case "translate":
			result, err = s.translate(uintptr(o.Virt))
		default:
			err = fmt.Errorf("unknown op kind %q", o.Kind)
		}
	})

	if protectErr != nil {
		return "", protectErr
	}
	return result, err
}

// translate resolves virtAddr through the kernel page tables and checks
// that the simulated processor agrees.
func (s *simulator) translate(virtAddr uintptr) (string, error) {
	physAddr, kerr := s.as.Translate(virtAddr)

	machineAddr, fault := s.machine.Translate(virtAddr)
	switch {
	case kerr != nil && fault == nil:
		return "", fmt.Errorf("stale translation: kernel reports %v but processor resolves 0x%x to 0x%x", kerr, virtAddr, machineAddr)
	case kerr == nil && fault != nil:
		return "", fmt.Errorf("stale translation: kernel maps 0x%x to 0x%x but processor reports %v", virtAddr, physAddr, fault)
	case kerr == nil && physAddr != machineAddr:
		return "", fmt.Errorf("stale translation: kernel maps 0x%x to 0x%x but processor uses 0x%x", virtAddr, physAddr, machineAddr)
	}

	if kerr != nil {
		return "", kerr
	}
	return fmt.Sprintf("0x%x", physAddr), nil
}

// check compares the outcome of an op against its expectations.
func check(o op, result string, err error) error {
	if o.Expect == "" {
		if err != nil {
			return fmt.Errorf("%s: unexpected error: %w", o.Kind, err)
		}
	} else {
		expErr := errorNames[o.Expect]
		if err == nil {
			return fmt.Errorf("%s: expected error %q; got success", o.Kind, o.Expect)
		}
		if kerr, ok := err.(*kernel.Error); !ok || kerr != expErr {
			return fmt.Errorf("%s: expected error %q; got %w", o.Kind, o.Expect, err)
		}
	}

	if o.ExpectPhys != nil && err == nil {
		if exp := fmt.Sprintf("0x%x", *o.ExpectPhys); result != exp {
			return fmt.Errorf("%s: expected 0x%x to translate to %s; got %s", o.Kind, o.Virt, exp, result)
		}
	}
	return nil
}

// run executes the script ops in order and returns the number of ops that
// did not behave as expected. Execution stops if the kernel halts.
func (s *simulator) run(sc *script) (int, error) {
	failures := 0
	for i, o := range sc.Ops {
		s.log.WithField("op", i).Debugf("executing %s", o.Kind)

		result, err := s.exec(o)
		if err == errKernelHalted {
			return failures, fmt.Errorf("op %d: %w", i, err)
		}

		entry := s.log.WithFields(logrus.Fields{"op": i, "kind": o.Kind})
		if err != nil {
			entry = entry.WithError(err)
		}

		if checkErr := check(o, result, err); checkErr != nil {
			failures++
			entry.WithField("result", result).Error(checkErr.Error())
			continue
		}
		entry.WithField("result", result).Info("ok")
	}
	return failures, nil
}
