package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/pixelcollider/lumen/engine/config"
	"github.com/pixelcollider/lumen/engine/core"
	"github.com/pixelcollider/lumen/engine/platform"
)

// Context owns everything with instance or device lifetime: the Vulkan
// instance, surface, selected device, extension proc table, staging and
// geometry buffers and the swapchain. All lifetime state lives here, not
// in package globals, so two contexts can coexist in one process.
type Context struct {
	Instance vk.Instance
	Surface  vk.Surface

	Device *Device
	Procs  *ProcTable
	Ledger *ResourceLedger

	Swapchain *Swapchain
	BufferMgr *BufferManager

	// The framebuffer's current size, updated by resize events.
	FramebufferWidth  uint32
	FramebufferHeight uint32
	// Generation of the framebuffer size versus the generation the
	// swapchain was last created against. A mismatch schedules a
	// recreate.
	FramebufferSizeGeneration     uint64
	FramebufferSizeLastGeneration uint64

	debugMessenger vk.DebugReportCallback
	cfg            *config.Config
}

// NewContext boots the loader, creates the instance and surface, selects
// the device and builds the swapchain and buffer manager.
func NewContext(p *platform.Platform, cfg *config.Config) (*Context, error) {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, core.NewError(core.ErrKindUnsupported, "vulkan.NewContext: no Vulkan loader present")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, core.WrapError(core.ErrKindUnsupported, "vulkan.NewContext", err)
	}

	width, height := p.FramebufferSize()
	ctx := &Context{
		Ledger:            NewResourceLedger(),
		FramebufferWidth:  width,
		FramebufferHeight: height,
		cfg:               cfg,
	}

	if err := ctx.createInstance(p, cfg); err != nil {
		return nil, err
	}

	surfacePtr, err := p.CreateSurface(ctx.Instance)
	if err != nil {
		ctx.Destroy()
		return nil, core.WrapError(core.ErrKindUnsupported, "vulkan.NewContext", err)
	}
	ctx.Surface = vk.SurfaceFromPointer(surfacePtr)

	device, err := NewDevice(ctx.Instance, ctx.Surface, ctx.Ledger)
	if err != nil {
		ctx.Destroy()
		return nil, err
	}
	ctx.Device = device

	procs, err := loadProcTable(device.LogicalDevice)
	if err != nil {
		ctx.Destroy()
		return nil, err
	}
	if err := procs.Validate(); err != nil {
		ctx.Destroy()
		return nil, err
	}
	ctx.Procs = procs

	swapchain, err := NewSwapchain(device, ctx.Surface, cfg, ctx.Ledger, width, height)
	if err != nil {
		ctx.Destroy()
		return nil, err
	}
	ctx.Swapchain = swapchain

	bufferMgr, err := NewBufferManager(device, procs, ctx.Ledger)
	if err != nil {
		ctx.Destroy()
		return nil, err
	}
	ctx.BufferMgr = bufferMgr

	core.LogInfo("Vulkan context ready")
	return ctx, nil
}

func (ctx *Context) createInstance(p *platform.Platform, cfg *config.Config) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   SafeString(cfg.AppName),
		PEngineName:        SafeString("Lumen"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, p.GetRequiredExtensionNames()...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
	}
	if cfg.EnableValidation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = SafeStrings(requiredExtensions)

	var layers []string
	if cfg.EnableValidation {
		if hasValidationLayer() {
			layers = []string{"VK_LAYER_KHRONOS_validation"}
			if runtime.GOOS == "darwin" {
				createInfo.Flags |= 1
			}
		} else {
			core.LogWarn("validation requested but VK_LAYER_KHRONOS_validation is not installed")
		}
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = SafeStrings(layers)

	if result := vk.CreateInstance(&createInfo, nil, &ctx.Instance); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.Context.createInstance")
	}
	if err := vk.InitInstance(ctx.Instance); err != nil {
		return core.WrapError(core.ErrKindUnsupported, "vulkan.Context.createInstance", err)
	}
	core.LogInfo("Vulkan instance created")

	if len(layers) > 0 {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: debugReportCallback,
		}
		var messenger vk.DebugReportCallback
		if result := vk.CreateDebugReportCallback(ctx.Instance, &debugCreateInfo, nil, &messenger); ResultIsSuccess(result) {
			ctx.debugMessenger = messenger
		} else {
			core.LogWarn("debug report callback unavailable: %s", ResultString(result))
		}
	}
	return nil
}

func hasValidationLayer() bool {
	var count uint32
	if result := vk.EnumerateInstanceLayerProperties(&count, nil); !ResultIsSuccess(result) {
		return false
	}
	available := make([]vk.LayerProperties, count)
	if result := vk.EnumerateInstanceLayerProperties(&count, available); !ResultIsSuccess(result) {
		return false
	}
	for i := range available {
		available[i].Deref()
		end := FindFirstZeroInByteArray(available[i].LayerName[:])
		if string(available[i].LayerName[:end]) == "VK_LAYER_KHRONOS_validation" {
			return true
		}
	}
	return false
}

func debugReportCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, layerPrefix string, message string, userData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] %s", layerPrefix, message)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] %s", layerPrefix, message)
	default:
		core.LogDebug("[%s] %s", layerPrefix, message)
	}
	return vk.Bool32(vk.False)
}

// NoteResize records a framebuffer size change. The frame loop compares
// generations and recreates the swapchain on the next frame boundary.
func (ctx *Context) NoteResize(width, height uint32) {
	ctx.FramebufferWidth = width
	ctx.FramebufferHeight = height
	ctx.FramebufferSizeGeneration++
}

// ResizePending reports whether a resize has not been absorbed yet.
func (ctx *Context) ResizePending() bool {
	return ctx.FramebufferSizeGeneration != ctx.FramebufferSizeLastGeneration
}

// Destroy tears the context down in reverse creation order and reports
// any leaked resources.
func (ctx *Context) Destroy() {
	if ctx == nil {
		return
	}
	if ctx.Device != nil {
		if err := ctx.Device.WaitIdle(); err != nil {
			core.LogError("device wait on shutdown: %v", err)
		}
	}
	if ctx.BufferMgr != nil {
		ctx.BufferMgr.Destroy()
		ctx.BufferMgr = nil
	}
	if ctx.Swapchain != nil {
		ctx.Swapchain.Destroy()
		ctx.Swapchain = nil
	}
	if ctx.Device != nil {
		ctx.Device.Destroy(ctx.Ledger)
		ctx.Device = nil
	}
	if leaks := ctx.Ledger.ReportLeaks(); leaks > 0 {
		core.LogWarn("%d GPU resources leaked at shutdown", leaks)
	}
	if ctx.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, nil)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}
	if ctx.Surface != vk.NullSurface {
		vk.DestroySurface(ctx.Instance, ctx.Surface, nil)
		ctx.Surface = vk.NullSurface
	}
	if ctx.Instance != nil {
		vk.DestroyInstance(ctx.Instance, nil)
		ctx.Instance = nil
	}
}
