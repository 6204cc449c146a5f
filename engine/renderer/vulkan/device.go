package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/pixelcollider/lumen/engine/core"
)

// requiredDeviceExtensions is the extension set a physical device must
// expose to qualify. Deferred host operations is a dependency of the ray
// tracing pipeline extension.
var requiredDeviceExtensions = []string{
	"VK_KHR_swapchain",
	"VK_KHR_acceleration_structure",
	"VK_KHR_ray_tracing_pipeline",
	"VK_KHR_deferred_host_operations",
}

// SwapchainSupportInfo caches the surface capabilities queried during
// device selection. Recreation re-queries capabilities for fresh extents.
type SwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// Device bundles the selected physical device, the logical device with
// the ray tracing feature chain enabled and the queues the renderer
// submits on.
type Device struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	SwapchainSupport SwapchainSupportInfo

	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32
	GraphicsQueue      vk.Queue
	PresentQueue       vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties

	// RayTracing carries the SBT alignment and recursion limits queried
	// from the ray tracing pipeline properties.
	RayTracing RayTracingProperties

	poolLedgerID uuid.UUID
}

type deviceCandidate struct {
	physicalDevice vk.PhysicalDevice
	graphicsIndex  uint32
	presentIndex   uint32
	properties     vk.PhysicalDeviceProperties
	support        SwapchainSupportInfo
	score          int
}

// NewDevice walks every physical device, keeps those that satisfy the
// queue, extension, feature and swapchain requirements and picks the
// highest scoring one. Selection failure is a capability error, not a
// transient one.
func NewDevice(instance vk.Instance, surface vk.Surface, ledger *ResourceLedger) (*Device, error) {
	var deviceCount uint32
	if result := vk.EnumeratePhysicalDevices(instance, &deviceCount, nil); !ResultIsSuccess(result) {
		return nil, ResultToError(result, "vulkan.NewDevice")
	}
	if deviceCount == 0 {
		return nil, core.Errorf(core.ErrKindUnsupported, "vulkan.NewDevice", "no Vulkan capable devices present")
	}
	physicalDevices := make([]vk.PhysicalDevice, deviceCount)
	if result := vk.EnumeratePhysicalDevices(instance, &deviceCount, physicalDevices); !ResultIsSuccess(result) {
		return nil, ResultToError(result, "vulkan.NewDevice")
	}

	var best *deviceCandidate
	for _, pd := range physicalDevices {
		candidate, ok := evaluatePhysicalDevice(pd, surface)
		if !ok {
			continue
		}
		if best == nil || candidate.score > best.score {
			best = candidate
		}
	}
	if best == nil {
		return nil, core.Errorf(core.ErrKindUnsupported, "vulkan.NewDevice",
			"no device supports ray tracing, presentation and the required extensions")
	}
	core.LogInfo("selected GPU: %s", deviceName(&best.properties))

	device := &Device{
		PhysicalDevice:     best.physicalDevice,
		SwapchainSupport:   best.support,
		GraphicsQueueIndex: best.graphicsIndex,
		PresentQueueIndex:  best.presentIndex,
		Properties:         best.properties,
	}

	families := []uint32{best.graphicsIndex}
	if best.presentIndex != best.graphicsIndex {
		families = append(families, best.presentIndex)
	}
	logical, err := createLogicalDevice(best.physicalDevice, families, requiredDeviceExtensions)
	if err != nil {
		return nil, err
	}
	device.LogicalDevice = logical

	var graphicsQueue, presentQueue vk.Queue
	vk.GetDeviceQueue(logical, best.graphicsIndex, 0, &graphicsQueue)
	vk.GetDeviceQueue(logical, best.presentIndex, 0, &presentQueue)
	device.GraphicsQueue = graphicsQueue
	device.PresentQueue = presentQueue

	vk.GetPhysicalDeviceMemoryProperties(best.physicalDevice, &device.Memory)
	device.Memory.Deref()

	device.RayTracing = queryRayTracingProperties(best.physicalDevice)
	core.LogInfo("ray tracing limits: handle %dB (align %d), base align %d, recursion %d",
		device.RayTracing.ShaderGroupHandleSize,
		device.RayTracing.ShaderGroupHandleAlignment,
		device.RayTracing.ShaderGroupBaseAlignment,
		device.RayTracing.MaxRayRecursionDepth)

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: best.graphicsIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if result := vk.CreateCommandPool(logical, &poolInfo, nil, &pool); !ResultIsSuccess(result) {
		vk.DestroyDevice(logical, nil)
		return nil, ResultToError(result, "vulkan.NewDevice")
	}
	device.GraphicsCommandPool = pool
	device.poolLedgerID = ledger.Track(ResourceCommandBuffer, "graphics_command_pool")

	return device, nil
}

func evaluatePhysicalDevice(pd vk.PhysicalDevice, surface vk.Surface) (*deviceCandidate, bool) {
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &properties)
	properties.Deref()

	if properties.ApiVersion < uint32(vk.MakeVersion(1, 2, 0)) {
		core.LogDebug("skipping %s: Vulkan 1.2 required", deviceName(&properties))
		return nil, false
	}
	if !supportsExtensions(pd, requiredDeviceExtensions) {
		core.LogDebug("skipping %s: missing required extensions", deviceName(&properties))
		return nil, false
	}
	if !checkRayTracingSupport(pd) {
		core.LogDebug("skipping %s: ray tracing features not present", deviceName(&properties))
		return nil, false
	}

	graphicsIndex, presentIndex, ok := findQueueFamilies(pd, surface)
	if !ok {
		return nil, false
	}

	support, err := QuerySwapchainSupport(pd, surface)
	if err != nil || len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return nil, false
	}

	score := 1
	if properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
		score += 1000
	}
	return &deviceCandidate{
		physicalDevice: pd,
		graphicsIndex:  graphicsIndex,
		presentIndex:   presentIndex,
		properties:     properties,
		support:        support,
		score:          score,
	}, true
}

func findQueueFamilies(pd vk.PhysicalDevice, surface vk.Surface) (graphics, present uint32, ok bool) {
	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, families)

	graphicsFound := false
	presentFound := false
	for i := range families {
		families[i].Deref()
		if !graphicsFound && families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			graphics = uint32(i)
			graphicsFound = true
		}
		var supported vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), surface, &supported)
		if !presentFound && supported == vk.True {
			present = uint32(i)
			presentFound = true
		}
		// Prefer a single family serving both.
		if graphicsFound && families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 && supported == vk.True {
			graphics = uint32(i)
			present = uint32(i)
			break
		}
	}
	return graphics, present, graphicsFound && presentFound
}

func supportsExtensions(pd vk.PhysicalDevice, names []string) bool {
	var count uint32
	if result := vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil); !ResultIsSuccess(result) {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if result := vk.EnumerateDeviceExtensionProperties(pd, "", &count, available); !ResultIsSuccess(result) {
		return false
	}
	found := make(map[string]bool, count)
	for i := range available {
		available[i].Deref()
		end := FindFirstZeroInByteArray(available[i].ExtensionName[:])
		found[string(available[i].ExtensionName[:end])] = true
	}
	for _, name := range names {
		if !found[name] {
			return false
		}
	}
	return true
}

// QuerySwapchainSupport fetches surface capabilities, formats and
// present modes. Called at selection and again on every recreation so
// CurrentExtent stays accurate.
func QuerySwapchainSupport(pd vk.PhysicalDevice, surface vk.Surface) (SwapchainSupportInfo, error) {
	var support SwapchainSupportInfo

	if result := vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &support.Capabilities); !ResultIsSuccess(result) {
		return support, ResultToError(result, "vulkan.QuerySwapchainSupport")
	}
	support.Capabilities.Deref()

	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, nil)
	if formatCount > 0 {
		support.Formats = make([]vk.SurfaceFormat, formatCount)
		vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, support.Formats)
		for i := range support.Formats {
			support.Formats[i].Deref()
		}
	}

	var modeCount uint32
	vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &modeCount, nil)
	if modeCount > 0 {
		support.PresentModes = make([]vk.PresentMode, modeCount)
		vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &modeCount, support.PresentModes)
	}

	return support, nil
}

// FindMemoryIndex locates a memory type matching both the requirement
// bits and the requested property flags.
func (d *Device) FindMemoryIndex(typeBits uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < d.Memory.MemoryTypeCount; i++ {
		d.Memory.MemoryTypes[i].Deref()
		if typeBits&(1<<i) == 0 {
			continue
		}
		if d.Memory.MemoryTypes[i].PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, core.Errorf(core.ErrKindOutOfMemory, "vulkan.Device.FindMemoryIndex",
		"no memory type matches bits 0x%x with properties 0x%x", typeBits, properties)
}

// WaitIdle blocks until the logical device drains.
func (d *Device) WaitIdle() error {
	return ResultToError(vk.DeviceWaitIdle(d.LogicalDevice), "vulkan.Device.WaitIdle")
}

// Destroy tears down the command pool and the logical device.
func (d *Device) Destroy(ledger *ResourceLedger) {
	if d == nil {
		return
	}
	if d.GraphicsCommandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(d.LogicalDevice, d.GraphicsCommandPool, nil)
		d.GraphicsCommandPool = vk.NullCommandPool
		ledger.Release(d.poolLedgerID)
	}
	if d.LogicalDevice != nil {
		vk.DestroyDevice(d.LogicalDevice, nil)
		d.LogicalDevice = nil
	}
}

func deviceName(properties *vk.PhysicalDeviceProperties) string {
	end := FindFirstZeroInByteArray(properties.DeviceName[:])
	return string(properties.DeviceName[:end])
}
