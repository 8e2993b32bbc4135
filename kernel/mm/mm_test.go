package mm

import "testing"

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	if InvalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}

	// The last frame of the 4GiB space must not overflow.
	lastFrame := Frame(MaxFrames - 1)
	if exp, got := uintptr(0xfffff000), lastFrame.Address(); got != exp {
		t.Errorf("expected last frame address to be %x; got %x", exp, got)
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    uintptr
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
		{0x4fffff, Frame(0x4ff)},
		{MaxAddress, Frame(MaxFrames - 1)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != spec.expFrame {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.expFrame, got)
		}
	}
}

func TestPageMethods(t *testing.T) {
	specs := []struct {
		input   uintptr
		expPage Page
	}{
		{0, Page(0)},
		{4095, Page(0)},
		{4096, Page(1)},
		{0xfffff123, Page(0xfffff)},
	}

	for specIndex, spec := range specs {
		page := PageFromAddress(spec.input)
		if page != spec.expPage {
			t.Errorf("[spec %d] expected returned page to be %v; got %v", specIndex, spec.expPage, page)
		}

		if exp, got := spec.input&^(PageSize-1), page.Address(); got != exp {
			t.Errorf("[spec %d] expected page address to be %x; got %x", specIndex, exp, got)
		}
	}
}

func TestSizePages(t *testing.T) {
	specs := []struct {
		size     Size
		expPages uint32
	}{
		{0, 0},
		{1, 1},
		{Size(PageSize), 1},
		{Size(PageSize) + 1, 2},
		{5 * Mb, 1280},
		{4 * Gb, MaxFrames},
	}

	for specIndex, spec := range specs {
		if got := spec.size.Pages(); got != spec.expPages {
			t.Errorf("[spec %d] expected Pages() to return %d; got %d", specIndex, spec.expPages, got)
		}
	}
}

func TestIsPageAligned(t *testing.T) {
	specs := []struct {
		addr uintptr
		exp  bool
	}{
		{0, true},
		{0x1000, true},
		{0xfffff000, true},
		{0x1, false},
		{0xfff, false},
		{MaxAddress, false},
	}

	for specIndex, spec := range specs {
		if got := IsPageAligned(spec.addr); got != spec.exp {
			t.Errorf("[spec %d] expected IsPageAligned(%x) to return %t; got %t", specIndex, spec.addr, spec.exp, got)
		}
	}
}
