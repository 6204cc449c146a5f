package engine

import (
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/pixelcollider/lumen/engine/assets"
	"github.com/pixelcollider/lumen/engine/config"
	"github.com/pixelcollider/lumen/engine/core"
	"github.com/pixelcollider/lumen/engine/platform"
	"github.com/pixelcollider/lumen/engine/renderer/vulkan"
	"github.com/pixelcollider/lumen/engine/scene"
)

// orbitSpeed and zoomSpeed scale the demo camera controls, radians and
// world units per second.
const (
	orbitSpeed float32 = 1.2
	zoomSpeed  float32 = 2.5
)

// Application wires the window, the event bus, the shader watcher and the
// renderer into one run loop.
type Application struct {
	cfg      *config.Config
	bus      *core.EventBus
	platform *platform.Platform
	shaders  *assets.ShaderManager
	renderer *vulkan.Renderer
	camera   *scene.Camera

	clock    *core.Clock
	lastTime float64

	isRunning   bool
	isSuspended bool
}

// New loads configuration, opens the window and boots the renderer.
func New(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	core.SetLogLevel(cfg.LogLevel)

	bus := core.NewEventBus()
	p, err := platform.New(bus)
	if err != nil {
		return nil, err
	}
	if err := p.Startup(cfg.AppName, cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	shaders, err := assets.NewShaderManager(cfg.ShaderDir, bus)
	if err != nil {
		p.Shutdown()
		return nil, err
	}

	renderer, err := vulkan.NewRenderer(p, cfg, bus, shaders)
	if err != nil {
		shaders.Close()
		p.Shutdown()
		return nil, err
	}

	app := &Application{
		cfg:       cfg,
		bus:       bus,
		platform:  p,
		shaders:   shaders,
		renderer:  renderer,
		clock:     core.NewClock(),
		isRunning: true,
	}

	width, height := p.FramebufferSize()
	app.camera = scene.NewCamera(
		mgl32.Vec3{0, 0.5, 2.5},
		mgl32.Vec3{0, 0, 0},
		float32(width)/float32(height),
	)
	renderer.SetCamera(app.camera)

	bus.Register(core.EVENT_CODE_APPLICATION_QUIT, app, app.onQuit)
	bus.Register(core.EVENT_CODE_RESIZED, app, app.onResized)

	return app, nil
}

// LoadScene forwards scene data to the renderer.
func (app *Application) LoadScene(meshes []scene.MeshData, instances []scene.Instance, materials []vulkan.Material) error {
	return app.renderer.LoadScene(meshes, instances, materials)
}

func (app *Application) onQuit(code core.EventCode, sender interface{}, data core.EventContext) bool {
	core.LogInfo("quit requested")
	app.isRunning = false
	return true
}

func (app *Application) onResized(code core.EventCode, sender interface{}, data core.EventContext) bool {
	width := data.Data.U32[0]
	height := data.Data.U32[1]
	if width == 0 || height == 0 {
		core.LogDebug("window minimized, suspending")
		app.isSuspended = true
		return false
	}
	if app.isSuspended {
		core.LogDebug("window restored, resuming")
		app.isSuspended = false
	}
	app.renderer.OnResize(width, height)
	return false
}

// Run drives the frame loop until the window closes or a fatal render
// error surfaces.
func (app *Application) Run() error {
	app.clock.Start()
	app.clock.Update()
	app.lastTime = app.clock.Elapsed()

	var statsAccum float64
	for app.isRunning {
		app.platform.PumpMessages()
		if app.isSuspended {
			continue
		}

		app.clock.Update()
		currentTime := app.clock.Elapsed()
		delta := currentTime - app.lastTime
		app.lastTime = currentTime

		app.shaders.DrainReloads()
		app.pollInput(float32(delta))

		if err := app.renderer.RenderFrame(currentTime); err != nil {
			switch core.KindOf(err) {
			case core.ErrKindDeviceLost:
				core.LogError("device lost, shutting down: %v", err)
				app.isRunning = false
				return err
			default:
				core.LogError("frame failed: %v", err)
			}
		}

		statsAccum += delta
		if statsAccum >= 5 {
			statsAccum = 0
			core.LogDebug("%.1f fps, %.2f ms/frame, %.2f ms gpu, %d accumulated",
				app.renderer.Metrics().FPS(),
				app.renderer.Metrics().FrameTime(),
				app.renderer.LastGPUTimeMS,
				app.renderer.AccumulatedFrames())
		}
	}
	return nil
}

// pollInput applies the demo orbit controls: arrows orbit, W/S zoom.
func (app *Application) pollInput(delta float32) {
	window := app.platform.Window
	orbit := orbitSpeed * delta
	var yaw, pitch, zoom float32
	if window.GetKey(glfw.KeyLeft) == glfw.Press {
		yaw -= orbit
	}
	if window.GetKey(glfw.KeyRight) == glfw.Press {
		yaw += orbit
	}
	if window.GetKey(glfw.KeyUp) == glfw.Press {
		pitch += orbit
	}
	if window.GetKey(glfw.KeyDown) == glfw.Press {
		pitch -= orbit
	}
	if window.GetKey(glfw.KeyW) == glfw.Press {
		zoom += zoomSpeed * delta
	}
	if window.GetKey(glfw.KeyS) == glfw.Press {
		zoom -= zoomSpeed * delta
	}
	if yaw != 0 || pitch != 0 {
		app.camera.Orbit(yaw, pitch)
	}
	if zoom != 0 {
		app.camera.Zoom(zoom)
	}
	if window.GetKey(glfw.KeyEscape) == glfw.Press {
		app.isRunning = false
	}
}

// Quit asks the run loop to exit after the current frame.
func (app *Application) Quit() {
	app.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, app, core.EventContext{})
}

// Shutdown releases everything in reverse construction order.
func (app *Application) Shutdown() {
	app.renderer.Destroy()
	if err := app.shaders.Close(); err != nil {
		core.LogWarn("shader watcher close: %v", err)
	}
	if err := app.platform.Shutdown(); err != nil {
		core.LogWarn("platform shutdown: %v", err)
	}
	core.LogInfo("shutdown complete")
}
