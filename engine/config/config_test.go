package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gobuffalo/envy"

	"github.com/pixelcollider/lumen/engine/core"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AppName != "lumen" {
		t.Errorf("app name = %q", cfg.AppName)
	}
	if cfg.MaxFramesInFlight != 2 {
		t.Errorf("frames in flight = %d, want 2", cfg.MaxFramesInFlight)
	}
	if !cfg.EnableRayTracing {
		t.Error("ray tracing disabled by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.toml")
	content := `
app_name = "demo"
width = 640
height = 480
present_mode = "fifo"
max_frames_in_flight = 3
enable_ray_tracing = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AppName != "demo" || cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("parsed config = %+v", cfg)
	}
	if cfg.PresentMode != PresentModeFifo {
		t.Errorf("present mode = %q", cfg.PresentMode)
	}
	if cfg.MaxFramesInFlight != 3 {
		t.Errorf("frames in flight = %d", cfg.MaxFramesInFlight)
	}
}

func TestLoadBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.toml")
	if err := os.WriteFile(path, []byte("width = {not valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); core.KindOf(err) != core.ErrKindInvalidInput {
		t.Fatalf("error = %v, want invalid input", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	envy.Temp(func() {
		envy.Set("LUMEN_PRESENT_MODE", "immediate")
		envy.Set("LUMEN_MAX_ACCUM_FRAMES", "64")

		cfg := Default()
		cfg.applyEnv()
		if cfg.PresentMode != PresentModeImmediate {
			t.Errorf("present mode = %q, want immediate", cfg.PresentMode)
		}
		if cfg.MaxAccumFrames != 64 {
			t.Errorf("accum frames = %d, want 64", cfg.MaxAccumFrames)
		}
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.EnableRayTracing = false
	if err := cfg.Validate(); core.KindOf(err) != core.ErrKindUnsupported {
		t.Errorf("disabled ray tracing error = %v, want unsupported", err)
	}

	cfg = Default()
	cfg.MaxFramesInFlight = 1
	if err := cfg.Validate(); core.KindOf(err) != core.ErrKindInvalidInput {
		t.Errorf("frames in flight error = %v", err)
	}

	cfg = Default()
	cfg.PresentMode = "vsync"
	if err := cfg.Validate(); core.KindOf(err) != core.ErrKindInvalidInput {
		t.Errorf("present mode error = %v", err)
	}

	cfg = Default()
	cfg.Width = 0
	if err := cfg.Validate(); core.KindOf(err) != core.ErrKindInvalidInput {
		t.Errorf("zero size error = %v", err)
	}

	cfg = Default()
	cfg.MaxAccumFrames = 0
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.MaxAccumFrames != 1 {
		t.Errorf("zero accum frames clamped to %d, want 1", cfg.MaxAccumFrames)
	}
}

func TestEffectivePresentMode(t *testing.T) {
	cfg := Default()
	cfg.PresentMode = PresentModeMailbox
	cfg.ForceVSync = true
	if got := cfg.EffectivePresentMode(); got != PresentModeFifo {
		t.Errorf("vsync override = %q, want fifo", got)
	}
	cfg.ForceVSync = false
	if got := cfg.EffectivePresentMode(); got != PresentModeMailbox {
		t.Errorf("mode = %q, want mailbox", got)
	}
}
