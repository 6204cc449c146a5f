package config

import (
	"os"
	"strconv"

	"github.com/gobuffalo/envy"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/pixelcollider/lumen/engine/core"
)

// PresentMode names the desired swapchain present mode. The swapchain
// falls back along mailbox -> immediate -> fifo depending on what the
// surface actually supports.
type PresentMode string

const (
	PresentModeMailbox   PresentMode = "mailbox"
	PresentModeImmediate PresentMode = "immediate"
	PresentModeFifo      PresentMode = "fifo"
)

// Config carries every runtime toggle the renderer accepts at
// construction. Loaded from lumen.toml, overridable through LUMEN_* env
// vars.
type Config struct {
	AppName  string `toml:"app_name"`
	Width    uint32 `toml:"width"`
	Height   uint32 `toml:"height"`
	LogLevel string `toml:"log_level"`

	PresentMode       PresentMode `toml:"present_mode"`
	ForceVSync        bool        `toml:"force_vsync"`
	ForceTripleBuffer bool        `toml:"force_triple_buffer"`
	EnableHDR         bool        `toml:"enable_hdr"`
	EnableRayTracing  bool        `toml:"enable_ray_tracing"`
	MaxFramesInFlight uint32      `toml:"max_frames_in_flight"`
	MaxAccumFrames    uint32      `toml:"max_accum_frames"`

	ShaderDir         string `toml:"shader_dir"`
	PipelineCachePath string `toml:"pipeline_cache_path"`
	EnableValidation  bool   `toml:"enable_validation"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		AppName:           "lumen",
		Width:             1280,
		Height:            720,
		LogLevel:          "info",
		PresentMode:       PresentModeMailbox,
		EnableRayTracing:  true,
		MaxFramesInFlight: 2,
		MaxAccumFrames:    4096,
		ShaderDir:         "assets/shaders",
		PipelineCachePath: "lumen.plcache",
	}
}

// Load reads the TOML file at path when it exists, applies environment
// overrides and validates. A missing file is not an error; the defaults
// are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, core.WrapError(core.ErrKindInvalidInput, "config.Load", err)
		}
		core.LogInfo("Loaded configuration from %s", path)
	case os.IsNotExist(err):
		core.LogDebug("No config file at %s, using defaults", path)
	default:
		return nil, core.WrapError(core.ErrKindInvalidInput, "config.Load", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers LUMEN_* environment variables over the file values.
func (c *Config) applyEnv() {
	if v := envy.Get("LUMEN_PRESENT_MODE", ""); v != "" {
		c.PresentMode = PresentMode(v)
	}
	if v := envy.Get("LUMEN_FORCE_VSYNC", ""); v != "" {
		c.ForceVSync = parseBool(v, c.ForceVSync)
	}
	if v := envy.Get("LUMEN_FORCE_TRIPLE_BUFFER", ""); v != "" {
		c.ForceTripleBuffer = parseBool(v, c.ForceTripleBuffer)
	}
	if v := envy.Get("LUMEN_ENABLE_HDR", ""); v != "" {
		c.EnableHDR = parseBool(v, c.EnableHDR)
	}
	if v := envy.Get("LUMEN_ENABLE_RAY_TRACING", ""); v != "" {
		c.EnableRayTracing = parseBool(v, c.EnableRayTracing)
	}
	if v := envy.Get("LUMEN_MAX_FRAMES_IN_FLIGHT", ""); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.MaxFramesInFlight = uint32(n)
		}
	}
	if v := envy.Get("LUMEN_MAX_ACCUM_FRAMES", ""); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.MaxAccumFrames = uint32(n)
		}
	}
	if v := envy.Get("LUMEN_SHADER_DIR", ""); v != "" {
		c.ShaderDir = v
	}
	if v := envy.Get("LUMEN_LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
}

// Validate enforces the construction contract. A configuration that
// disables ray tracing is rejected outright; the core has no raster
// fallback.
func (c *Config) Validate() error {
	if !c.EnableRayTracing {
		return core.NewError(core.ErrKindUnsupported, "config: ray tracing disabled, core has no raster fallback")
	}
	if c.Width == 0 || c.Height == 0 {
		return core.Errorf(core.ErrKindInvalidInput, "config.Validate", "window size %dx%d", c.Width, c.Height)
	}
	if c.MaxFramesInFlight != 2 && c.MaxFramesInFlight != 3 {
		return core.Errorf(core.ErrKindInvalidInput, "config.Validate", "max_frames_in_flight must be 2 or 3, got %d", c.MaxFramesInFlight)
	}
	switch c.PresentMode {
	case PresentModeMailbox, PresentModeImmediate, PresentModeFifo:
	default:
		return core.Errorf(core.ErrKindInvalidInput, "config.Validate", "unknown present_mode %q", c.PresentMode)
	}
	if c.MaxAccumFrames == 0 {
		c.MaxAccumFrames = 1
	}
	return nil
}

// EffectivePresentMode folds the vsync override into the requested mode.
func (c *Config) EffectivePresentMode() PresentMode {
	if c.ForceVSync {
		return PresentModeFifo
	}
	return c.PresentMode
}

// RequestedImageCount is the swapchain image count asked for before
// surface clamping.
func (c *Config) RequestedImageCount() uint32 {
	if c.ForceTripleBuffer {
		return 3
	}
	// Triple buffering by default; the surface minimum wins when larger.
	return 3
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
