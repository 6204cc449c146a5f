package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
)

// RTImage is a 2D device-local image with a single mip and its view. The
// renderer uses it for the trace output target, the accumulation buffer
// and the fallback environment texture.
type RTImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Width  uint32
	Height uint32
	Format vk.Format

	// Layout tracks the last transition recorded for this image. Frame
	// recording relies on it to pick barrier source state.
	Layout vk.ImageLayout

	ledgerID uuid.UUID
}

// NewRTImage creates the image, binds memory and creates a color view.
func NewRTImage(device *Device, ledger *ResourceLedger, name string, width, height uint32, format vk.Format, usage vk.ImageUsageFlags) (*RTImage, error) {
	image := &RTImage{
		Width:  width,
		Height: height,
		Format: format,
		Layout: vk.ImageLayoutUndefined,
	}

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var handle vk.Image
	if result := vk.CreateImage(device.LogicalDevice, &createInfo, nil, &handle); !ResultIsSuccess(result) {
		return nil, ResultToError(result, "vulkan.NewRTImage")
	}
	image.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device.LogicalDevice, handle, &requirements)
	requirements.Deref()

	memoryIndex, err := device.FindMemoryIndex(requirements.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(device.LogicalDevice, handle, nil)
		return nil, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryIndex,
	}
	var memory vk.DeviceMemory
	if result := vk.AllocateMemory(device.LogicalDevice, &allocInfo, nil, &memory); !ResultIsSuccess(result) {
		vk.DestroyImage(device.LogicalDevice, handle, nil)
		return nil, ResultToError(result, "vulkan.NewRTImage")
	}
	image.Memory = memory

	if result := vk.BindImageMemory(device.LogicalDevice, handle, memory, 0); !ResultIsSuccess(result) {
		vk.FreeMemory(device.LogicalDevice, memory, nil)
		vk.DestroyImage(device.LogicalDevice, handle, nil)
		return nil, ResultToError(result, "vulkan.NewRTImage")
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if result := vk.CreateImageView(device.LogicalDevice, &viewInfo, nil, &view); !ResultIsSuccess(result) {
		vk.FreeMemory(device.LogicalDevice, memory, nil)
		vk.DestroyImage(device.LogicalDevice, handle, nil)
		return nil, ResultToError(result, "vulkan.NewRTImage")
	}
	image.View = view

	image.ledgerID = ledger.Track(ResourceImage, name)
	return image, nil
}

// Transition records a full-subresource layout transition with explicit
// stage and access masks and updates the tracked layout.
func (img *RTImage) Transition(cb vk.CommandBuffer, newLayout vk.ImageLayout,
	srcStage, dstStage vk.PipelineStageFlags, srcAccess, dstAccess vk.AccessFlags) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           img.Layout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(cb, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	img.Layout = newLayout
}

// CopyFromBuffer records a tightly packed buffer-to-image copy of the
// whole image. The image must already be in transfer destination layout.
func (img *RTImage) CopyFromBuffer(cb vk.CommandBuffer, buffer vk.Buffer) {
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{
			Width:  img.Width,
			Height: img.Height,
			Depth:  1,
		},
	}
	vk.CmdCopyBufferToImage(cb, buffer, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

// Destroy releases view, image and memory. Safe on nil.
func (img *RTImage) Destroy(device vk.Device, ledger *ResourceLedger) {
	if img == nil {
		return
	}
	if img.View != vk.NullImageView {
		vk.DestroyImageView(device, img.View, nil)
		img.View = vk.NullImageView
	}
	if img.Handle != vk.NullImage {
		vk.DestroyImage(device, img.Handle, nil)
		img.Handle = vk.NullImage
	}
	if img.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, img.Memory, nil)
		img.Memory = vk.NullDeviceMemory
	}
	ledger.Release(img.ledgerID)
	img.ledgerID = uuid.Nil
}

// NewDefaultSampler creates the clamped linear sampler used for the
// environment map binding.
func NewDefaultSampler(device *Device, ledger *ResourceLedger) (vk.Sampler, uuid.UUID, error) {
	createInfo := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    vk.FilterLinear,
		MinFilter:    vk.FilterLinear,
		MipmapMode:   vk.SamplerMipmapModeLinear,
		AddressModeU: vk.SamplerAddressModeClampToEdge,
		AddressModeV: vk.SamplerAddressModeClampToEdge,
		AddressModeW: vk.SamplerAddressModeClampToEdge,
		MaxLod:       1,
	}
	var sampler vk.Sampler
	if result := vk.CreateSampler(device.LogicalDevice, &createInfo, nil, &sampler); !ResultIsSuccess(result) {
		return vk.NullSampler, uuid.Nil, ResultToError(result, "vulkan.NewDefaultSampler")
	}
	return sampler, ledger.Track(ResourceSampler, "default_sampler"), nil
}
