package vulkan

import (
	"math"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/pixelcollider/lumen/engine/config"
	"github.com/pixelcollider/lumen/engine/core"
)

// Swapchain owns the presentable images, their views and the per-frame
// synchronization primitives. The generation counter increments on every
// recreation so stale per-frame state can detect it missed a resize.
type Swapchain struct {
	Handle      vk.Swapchain
	ImageFormat vk.SurfaceFormat
	Extent      vk.Extent2D
	Images      []vk.Image
	Views       []vk.ImageView

	MaxFramesInFlight uint32
	Generation        uint64

	ImageAvailableSemaphores []vk.Semaphore
	RenderCompleteSemaphores []vk.Semaphore
	InFlightFences           []*Fence

	device *Device
	ledger *ResourceLedger
	cfg    *config.Config

	ledgerID uuid.UUID
}

// NewSwapchain builds the swapchain and its sync primitives for the given
// framebuffer size.
func NewSwapchain(device *Device, surface vk.Surface, cfg *config.Config, ledger *ResourceLedger, width, height uint32) (*Swapchain, error) {
	sc := &Swapchain{
		MaxFramesInFlight: Clamp(cfg.MaxFramesInFlight, 1, MAX_FRAMES_IN_FLIGHT),
		device:            device,
		ledger:            ledger,
		cfg:               cfg,
	}
	if err := sc.create(surface, width, height, vk.NullSwapchain); err != nil {
		return nil, err
	}
	if err := sc.createSyncPrimitives(); err != nil {
		sc.destroyResources()
		return nil, err
	}
	return sc, nil
}

// Recreate re-queries the surface and builds a fresh swapchain, handing
// the live handle to the driver as oldSwapchain so presentation carries
// over; the retired handle and its views are destroyed afterwards. Sync
// primitives survive recreation; only the generation moves.
func (sc *Swapchain) Recreate(surface vk.Surface, width, height uint32) error {
	if width == 0 || height == 0 {
		return core.Errorf(core.ErrKindInvalidInput, "vulkan.Swapchain.Recreate", "zero-area extent %dx%d", width, height)
	}
	if err := sc.device.WaitIdle(); err != nil {
		return err
	}

	support, err := QuerySwapchainSupport(sc.device.PhysicalDevice, surface)
	if err != nil {
		return err
	}
	sc.device.SwapchainSupport = support

	oldHandle := sc.Handle
	oldViews := sc.Views
	oldLedgerID := sc.ledgerID
	sc.Handle = vk.NullSwapchain
	sc.Views = nil
	sc.Images = nil
	sc.ledgerID = uuid.Nil

	createErr := sc.create(surface, width, height, oldHandle)

	// The old handle is retired by the create call either way and must
	// be destroyed by us.
	for _, view := range oldViews {
		if view != vk.NullImageView {
			vk.DestroyImageView(sc.device.LogicalDevice, view, nil)
		}
	}
	if oldHandle != vk.NullSwapchain {
		vk.DestroySwapchain(sc.device.LogicalDevice, oldHandle, nil)
		sc.ledger.Release(oldLedgerID)
	}
	if createErr != nil {
		return createErr
	}

	sc.Generation++
	core.LogInfo("swapchain recreated at %dx%d (generation %d)", sc.Extent.Width, sc.Extent.Height, sc.Generation)
	return nil
}

func (sc *Swapchain) create(surface vk.Surface, width, height uint32, oldSwapchain vk.Swapchain) error {
	support := &sc.device.SwapchainSupport

	sc.ImageFormat = ChooseSurfaceFormat(support.Formats, sc.cfg.EnableHDR)
	presentMode := ChoosePresentMode(support.PresentModes, sc.cfg.EffectivePresentMode())
	sc.Extent = ChooseExtent(&support.Capabilities, width, height)
	imageCount := ChooseImageCount(&support.Capabilities, sc.cfg.RequestedImageCount())

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.ImageFormat.Format,
		ImageColorSpace:  sc.ImageFormat.ColorSpace,
		ImageExtent:      sc.Extent,
		ImageArrayLayers: 1,
		// Trace output reaches the swapchain through a blit.
		ImageUsage: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) | vk.ImageUsageFlags(vk.ImageUsageTransferDstBit),
	}

	if sc.device.GraphicsQueueIndex != sc.device.PresentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{sc.device.GraphicsQueueIndex, sc.device.PresentQueueIndex}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	createInfo.PreTransform = support.Capabilities.CurrentTransform
	createInfo.CompositeAlpha = vk.CompositeAlphaOpaqueBit
	createInfo.PresentMode = presentMode
	createInfo.Clipped = vk.True
	createInfo.OldSwapchain = oldSwapchain

	var handle vk.Swapchain
	if result := vk.CreateSwapchain(sc.device.LogicalDevice, &createInfo, nil, &handle); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.Swapchain.create")
	}
	sc.Handle = handle
	sc.ledgerID = sc.ledger.Track(ResourceSwapchain, "swapchain")

	var actualCount uint32
	if result := vk.GetSwapchainImages(sc.device.LogicalDevice, handle, &actualCount, nil); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.Swapchain.create")
	}
	sc.Images = make([]vk.Image, actualCount)
	sc.Views = make([]vk.ImageView, actualCount)
	if result := vk.GetSwapchainImages(sc.device.LogicalDevice, handle, &actualCount, sc.Images); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.Swapchain.create")
	}

	for i := range sc.Images {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    sc.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   sc.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		if result := vk.CreateImageView(sc.device.LogicalDevice, &viewInfo, nil, &sc.Views[i]); !ResultIsSuccess(result) {
			return ResultToError(result, "vulkan.Swapchain.create")
		}
	}

	core.LogInfo("swapchain: %d images at %dx%d", len(sc.Images), sc.Extent.Width, sc.Extent.Height)
	return nil
}

func (sc *Swapchain) createSyncPrimitives() error {
	count := int(sc.MaxFramesInFlight)
	sc.ImageAvailableSemaphores = make([]vk.Semaphore, count)
	sc.RenderCompleteSemaphores = make([]vk.Semaphore, count)
	sc.InFlightFences = make([]*Fence, count)

	semaphoreInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	for i := 0; i < count; i++ {
		if result := vk.CreateSemaphore(sc.device.LogicalDevice, &semaphoreInfo, nil, &sc.ImageAvailableSemaphores[i]); !ResultIsSuccess(result) {
			return ResultToError(result, "vulkan.Swapchain.createSyncPrimitives")
		}
		if result := vk.CreateSemaphore(sc.device.LogicalDevice, &semaphoreInfo, nil, &sc.RenderCompleteSemaphores[i]); !ResultIsSuccess(result) {
			return ResultToError(result, "vulkan.Swapchain.createSyncPrimitives")
		}
		// Frame fences start signaled so the first wait falls through.
		fence, err := NewFence(sc.device.LogicalDevice, true)
		if err != nil {
			return err
		}
		sc.InFlightFences[i] = fence
	}
	return nil
}

// AcquireNextImage asks the surface for the next presentable image.
// Out-of-date surfaces come back as transient errors for the frame loop
// to turn into a recreate.
func (sc *Swapchain) AcquireNextImage(timeoutNS uint64, imageAvailable vk.Semaphore) (uint32, error) {
	var imageIndex uint32
	result := vk.AcquireNextImage(sc.device.LogicalDevice, sc.Handle, timeoutNS, imageAvailable, vk.NullFence, &imageIndex)
	switch result {
	case vk.Success, vk.Suboptimal:
		return imageIndex, nil
	case vk.ErrorOutOfDate:
		return 0, core.NewError(core.ErrKindTransient, "vulkan.Swapchain.AcquireNextImage")
	case vk.Timeout, vk.NotReady:
		return 0, core.Errorf(core.ErrKindTransient, "vulkan.Swapchain.AcquireNextImage", "no image within %d ns", timeoutNS)
	default:
		return 0, ResultToError(result, "vulkan.Swapchain.AcquireNextImage")
	}
}

// Present queues the image for presentation. Suboptimal and out-of-date
// both surface as transient so the next frame recreates.
func (sc *Swapchain) Present(presentQueue vk.Queue, renderComplete vk.Semaphore, imageIndex uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderComplete},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.Handle},
		PImageIndices:      []uint32{imageIndex},
	}
	result := vk.QueuePresent(presentQueue, &presentInfo)
	switch result {
	case vk.Success:
		return nil
	case vk.Suboptimal, vk.ErrorOutOfDate:
		return core.NewError(core.ErrKindTransient, "vulkan.Swapchain.Present")
	default:
		return ResultToError(result, "vulkan.Swapchain.Present")
	}
}

func (sc *Swapchain) destroyResources() {
	for _, view := range sc.Views {
		if view != vk.NullImageView {
			vk.DestroyImageView(sc.device.LogicalDevice, view, nil)
		}
	}
	sc.Views = nil
	sc.Images = nil
	if sc.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(sc.device.LogicalDevice, sc.Handle, nil)
		sc.Handle = vk.NullSwapchain
		sc.ledger.Release(sc.ledgerID)
		sc.ledgerID = uuid.Nil
	}
}

// Destroy releases images, views, the swapchain and the sync primitives.
func (sc *Swapchain) Destroy() {
	if sc == nil {
		return
	}
	sc.destroyResources()
	for _, semaphore := range sc.ImageAvailableSemaphores {
		vk.DestroySemaphore(sc.device.LogicalDevice, semaphore, nil)
	}
	for _, semaphore := range sc.RenderCompleteSemaphores {
		vk.DestroySemaphore(sc.device.LogicalDevice, semaphore, nil)
	}
	for _, fence := range sc.InFlightFences {
		fence.Destroy(sc.device.LogicalDevice)
	}
	sc.ImageAvailableSemaphores = nil
	sc.RenderCompleteSemaphores = nil
	sc.InFlightFences = nil
}

// ChooseSurfaceFormat prefers 8-bit BGRA sRGB; with HDR requested it
// first looks for a 16-bit float format, then a 10-bit one. Falls back
// to the first advertised pair.
func ChooseSurfaceFormat(formats []vk.SurfaceFormat, wantHDR bool) vk.SurfaceFormat {
	if wantHDR {
		for _, format := range formats {
			if format.Format == vk.FormatR16g16b16a16Sfloat {
				return format
			}
		}
		for _, format := range formats {
			if format.Format == vk.FormatA2b10g10r10UnormPack32 {
				return format
			}
		}
	}
	for _, format := range formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	return formats[0]
}

// ChoosePresentMode maps the configured mode onto what the surface
// supports. FIFO is the guaranteed fallback.
func ChoosePresentMode(available []vk.PresentMode, requested config.PresentMode) vk.PresentMode {
	var want vk.PresentMode
	switch requested {
	case config.PresentModeMailbox:
		want = vk.PresentModeMailbox
	case config.PresentModeImmediate:
		want = vk.PresentModeImmediate
	default:
		return vk.PresentModeFifo
	}
	for _, mode := range available {
		if mode == want {
			return mode
		}
	}
	return vk.PresentModeFifo
}

// ChooseExtent honours a fixed CurrentExtent and clamps a free one to the
// surface limits.
func ChooseExtent(capabilities *vk.SurfaceCapabilities, width, height uint32) vk.Extent2D {
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		return capabilities.CurrentExtent
	}
	return vk.Extent2D{
		Width:  Clamp(width, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width),
		Height: Clamp(height, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height),
	}
}

// ChooseImageCount clamps the requested count between the surface minimum
// plus one and the surface maximum (zero maximum means unbounded).
func ChooseImageCount(capabilities *vk.SurfaceCapabilities, requested uint32) uint32 {
	count := capabilities.MinImageCount + 1
	if requested > count {
		count = requested
	}
	if count < capabilities.MinImageCount {
		count = capabilities.MinImageCount
	}
	if capabilities.MaxImageCount > 0 && count > capabilities.MaxImageCount {
		count = capabilities.MaxImageCount
	}
	return count
}
