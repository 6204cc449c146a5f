package vulkan

import (
	"math"
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/pixelcollider/lumen/engine/config"
)

func TestChooseSurfaceFormat(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatA2b10g10r10UnormPack32, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatR16g16b16a16Sfloat, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}

	got := ChooseSurfaceFormat(formats, false)
	if got.Format != vk.FormatB8g8r8a8Unorm {
		t.Errorf("SDR format = %v, want B8G8R8A8", got.Format)
	}

	// HDR prefers the 16-bit float format even when a 10-bit one is
	// advertised earlier.
	got = ChooseSurfaceFormat(formats, true)
	if got.Format != vk.FormatR16g16b16a16Sfloat {
		t.Errorf("HDR format = %v, want R16G16B16A16Sfloat", got.Format)
	}

	// Without a float format, 10-bit is the HDR pick.
	got = ChooseSurfaceFormat(formats[:3], true)
	if got.Format != vk.FormatA2b10g10r10UnormPack32 {
		t.Errorf("HDR format = %v, want 10-bit", got.Format)
	}

	// HDR requested but not advertised falls back to the SDR pick.
	got = ChooseSurfaceFormat(formats[:2], true)
	if got.Format != vk.FormatB8g8r8a8Unorm {
		t.Errorf("HDR fallback format = %v, want B8G8R8A8", got.Format)
	}

	// Nothing preferred: first advertised wins.
	got = ChooseSurfaceFormat(formats[:1], false)
	if got.Format != vk.FormatR8g8b8a8Unorm {
		t.Errorf("fallback format = %v, want first entry", got.Format)
	}
}

func TestChoosePresentMode(t *testing.T) {
	available := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}

	if got := ChoosePresentMode(available, config.PresentModeMailbox); got != vk.PresentModeMailbox {
		t.Errorf("mailbox = %v", got)
	}
	if got := ChoosePresentMode(available, config.PresentModeImmediate); got != vk.PresentModeFifo {
		t.Errorf("unsupported immediate should fall back to fifo, got %v", got)
	}
	if got := ChoosePresentMode(available, config.PresentModeFifo); got != vk.PresentModeFifo {
		t.Errorf("fifo = %v", got)
	}
}

func TestChooseExtent(t *testing.T) {
	fixed := vk.SurfaceCapabilities{
		CurrentExtent: vk.Extent2D{Width: 800, Height: 600},
	}
	if got := ChooseExtent(&fixed, 1920, 1080); got.Width != 800 || got.Height != 600 {
		t.Errorf("fixed extent = %+v, want surface's 800x600", got)
	}

	free := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
		MinImageExtent: vk.Extent2D{Width: 64, Height: 64},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},
	}
	if got := ChooseExtent(&free, 1920, 1080); got.Width != 1920 || got.Height != 1080 {
		t.Errorf("free extent = %+v, want 1920x1080", got)
	}
	if got := ChooseExtent(&free, 8192, 16); got.Width != 4096 || got.Height != 64 {
		t.Errorf("clamped extent = %+v, want 4096x64", got)
	}
}

func TestChooseImageCount(t *testing.T) {
	caps := vk.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 4}

	if got := ChooseImageCount(&caps, 0); got != 3 {
		t.Errorf("default count = %d, want min+1", got)
	}
	if got := ChooseImageCount(&caps, 4); got != 4 {
		t.Errorf("requested count = %d, want 4", got)
	}
	if got := ChooseImageCount(&caps, 10); got != 4 {
		t.Errorf("clamped count = %d, want surface max 4", got)
	}

	unbounded := vk.SurfaceCapabilities{MinImageCount: 2}
	if got := ChooseImageCount(&unbounded, 10); got != 10 {
		t.Errorf("unbounded count = %d, want 10", got)
	}
}
