package mmap

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gopher32/kernel/kfmt"
	"gopher32/kernel/mm"
)

func sections(m *Map) []Section {
	var out []Section
	m.Visit(func(s *Section) bool {
		out = append(out, *s)
		return true
	})
	return out
}

func TestInit(t *testing.T) {
	var m Map

	// Pre-populate the map to ensure Init resets it.
	m.Register(0x0, 0x1000, SectionFree)
	m.Init()

	exp := []Section{
		{Start: 0x00000000, End: 0x000fffff, Type: SectionIO},
		{Start: 0x00100000, End: 0x004fffff, Type: SectionKernel},
		{Start: 0x00500000, End: 0xffffffff, Type: SectionFree},
	}

	if got := m.Count(); got != 3 {
		t.Fatalf("expected map to contain 3 sections; got %d", got)
	}

	if diff := cmp.Diff(exp, sections(&m)); diff != "" {
		t.Fatalf("unexpected sections (-want +got):\n%s", diff)
	}

	if got := m.Top(); got != mm.MaxAddress {
		t.Errorf("expected Top() to return %x; got %x", mm.MaxAddress, got)
	}

	kernelSec, ok := m.KernelSection()
	if !ok {
		t.Fatal("expected KernelSection to find the kernel section")
	}
	if diff := cmp.Diff(exp[1], kernelSec); diff != "" {
		t.Fatalf("unexpected kernel section (-want +got):\n%s", diff)
	}

	// The three sections cover the 4GiB space without gaps.
	var total mm.Size
	for i := 0; i < m.Count(); i++ {
		total += m.Section(i).Size()
		if i > 0 && m.Section(i).Start != m.Section(i-1).End+1 {
			t.Errorf("[section %d] expected section to start right after the previous one", i)
		}
	}
	if total != 4*mm.Gb {
		t.Errorf("expected sections to cover 4Gb; got %d bytes", uint64(total))
	}
}

func TestInitDetected(t *testing.T) {
	defer func() {
		panicFn = kfmt.Panic
	}()

	var m Map
	m.InitDetected(128*uintptr(mm.Mb) - 1)

	if exp, got := uintptr(0x07ffffff), m.Top(); got != exp {
		t.Fatalf("expected Top() to return %x; got %x", exp, got)
	}

	if exp, got := (Section{Start: FreeStart, End: 0x07ffffff, Type: SectionFree}), m.Section(2); got != exp {
		t.Fatalf("expected free section %v; got %v", exp, got)
	}

	var panicked bool
	panicFn = func(e interface{}) {
		if e != errNoFreeMemory {
			t.Errorf("expected errNoFreeMemory; got %v", e)
		}
		panicked = true
	}

	m.InitDetected(KernelEnd)
	if !panicked {
		t.Fatal("expected InitDetected to halt when memory ends inside the kernel image")
	}
}

func TestRegisterErrors(t *testing.T) {
	defer func() {
		panicFn = kfmt.Panic
	}()

	var panicErr interface{}
	panicFn = func(e interface{}) {
		panicErr = e
	}

	specs := []struct {
		descr      string
		setup      func(*Map)
		start, end uintptr
		typ        SectionType
		expErr     interface{}
	}{
		{
			"map full",
			func(m *Map) {
				for i := uintptr(0); i < MaxSections; i++ {
					m.Register(i*0x1000, i*0x1000+0xfff, SectionFree)
				}
			},
			0x100000, 0x100fff, SectionFree,
			errMapFull,
		},
		{
			"start after end",
			nil,
			0x2000, 0x1000, SectionFree,
			errSectionRange,
		},
		{
			"out of order",
			func(m *Map) { m.Register(0x100000, 0x1fffff, SectionKernel) },
			0x0, 0xfffff, SectionIO,
			errSectionRange,
		},
		{
			"overlapping",
			func(m *Map) { m.Register(0x100000, 0x1fffff, SectionKernel) },
			0x1ff000, 0x2fffff, SectionFree,
			errSectionRange,
		},
		{
			"unknown type",
			nil,
			0x0, 0xfff, SectionType(42),
			errSectionType,
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			var m Map
			if spec.setup != nil {
				spec.setup(&m)
			}
			count := m.Count()

			panicErr = nil
			m.Register(spec.start, spec.end, spec.typ)

			if panicErr != spec.expErr {
				t.Fatalf("expected Register to halt with %v; got %v", spec.expErr, panicErr)
			}

			if m.Count() != count {
				t.Fatalf("expected section count to remain %d; got %d", count, m.Count())
			}
		})
	}

	t.Run("nil map", func(t *testing.T) {
		panicErr = nil
		var m *Map
		m.Init()
		if panicErr != errNilMap {
			t.Fatalf("expected Init to halt with errNilMap; got %v", panicErr)
		}
	})
}

func TestVisitStops(t *testing.T) {
	var m Map
	m.Init()

	var visited int
	m.Visit(func(_ *Section) bool {
		visited++
		return false
	})

	if visited != 1 {
		t.Fatalf("expected visitor to be called once; got %d", visited)
	}
}

func TestEmptyMap(t *testing.T) {
	var m Map

	if got := m.Top(); got != 0 {
		t.Errorf("expected Top() of an empty map to return 0; got %x", got)
	}

	if _, ok := m.KernelSection(); ok {
		t.Error("expected KernelSection to fail for an empty map")
	}
}

func TestSectionTypeString(t *testing.T) {
	specs := []struct {
		typ SectionType
		exp string
	}{
		{SectionIO, "io"},
		{SectionKernel, "kernel"},
		{SectionFree, "free"},
		{SectionType(99), "unknown"},
	}

	for _, spec := range specs {
		if got := spec.typ.String(); got != spec.exp {
			t.Errorf("expected %d.String() to return %q; got %q", spec.typ, spec.exp, got)
		}
	}
}

func TestPrint(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	var m Map
	m.Init()
	m.Print()

	for _, exp := range []string{
		"[0x00000000 - 0x000fffff], size:    1048576, type: io",
		"[0x00100000 - 0x004fffff], size:    4194304, type: kernel",
		"[0x00500000 - 0xffffffff], size: 4289724416, type: free",
		"[mmap] available memory: 4189184Kb",
	} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, buf.String())
		}
	}
}
