package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/pixelcollider/lumen/engine/core"
)

// ManagedBuffer couples a VkBuffer with its backing memory, optional
// persistent mapping and optional device address. Every buffer the
// renderer owns goes through this type so the resource ledger sees it.
type ManagedBuffer struct {
	Handle    vk.Buffer
	Memory    vk.DeviceMemory
	TotalSize vk.DeviceSize
	Usage     vk.BufferUsageFlags
	MemProps  vk.MemoryPropertyFlags

	// Address is nonzero only for buffers created with the shader
	// device address usage bit.
	Address DeviceAddress

	mapped   unsafe.Pointer
	ledgerID uuid.UUID
}

// NewManagedBuffer creates and binds a buffer. When usage carries the
// device-address bit the memory allocation chains the matching allocate
// flag and the address is resolved immediately.
func NewManagedBuffer(device *Device, procs *ProcTable, ledger *ResourceLedger, name string, size vk.DeviceSize, usage vk.BufferUsageFlags, memProps vk.MemoryPropertyFlags) (*ManagedBuffer, error) {
	if size == 0 {
		return nil, core.Errorf(core.ErrKindInvalidInput, "vulkan.NewManagedBuffer", "zero-size buffer %q", name)
	}
	buffer := &ManagedBuffer{
		TotalSize: size,
		Usage:     usage,
		MemProps:  memProps,
	}

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if result := vk.CreateBuffer(device.LogicalDevice, &createInfo, nil, &handle); !ResultIsSuccess(result) {
		return nil, ResultToError(result, "vulkan.NewManagedBuffer")
	}
	buffer.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device.LogicalDevice, handle, &requirements)
	requirements.Deref()

	memoryIndex, err := device.FindMemoryIndex(requirements.MemoryTypeBits, memProps)
	if err != nil {
		vk.DestroyBuffer(device.LogicalDevice, handle, nil)
		return nil, err
	}

	wantsAddress := usage&vk.BufferUsageFlags(BufferUsageShaderDeviceAddressBit) != 0
	memory, err := allocateMemory(device.LogicalDevice, requirements.Size, memoryIndex, wantsAddress)
	if err != nil {
		vk.DestroyBuffer(device.LogicalDevice, handle, nil)
		return nil, err
	}
	buffer.Memory = memory

	if result := vk.BindBufferMemory(device.LogicalDevice, handle, memory, 0); !ResultIsSuccess(result) {
		vk.FreeMemory(device.LogicalDevice, memory, nil)
		vk.DestroyBuffer(device.LogicalDevice, handle, nil)
		return nil, ResultToError(result, "vulkan.NewManagedBuffer")
	}

	if wantsAddress {
		buffer.Address = procs.GetBufferDeviceAddress(device.LogicalDevice, handle)
	}
	buffer.ledgerID = ledger.Track(ResourceBuffer, name)
	return buffer, nil
}

// Map establishes a persistent mapping. Host-visible buffers stay mapped
// for their whole lifetime.
func (b *ManagedBuffer) Map(device vk.Device) error {
	if b.mapped != nil {
		return nil
	}
	if b.MemProps&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) == 0 {
		return core.Errorf(core.ErrKindInvalidInput, "vulkan.ManagedBuffer.Map", "buffer memory is not host visible")
	}
	var ptr unsafe.Pointer
	if result := vk.MapMemory(device, b.Memory, 0, b.TotalSize, 0, &ptr); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.ManagedBuffer.Map")
	}
	b.mapped = ptr
	return nil
}

// Mapped returns the persistent mapping, nil when not mapped.
func (b *ManagedBuffer) Mapped() unsafe.Pointer {
	return b.mapped
}

// WriteAt copies data into the mapped range at offset.
func (b *ManagedBuffer) WriteAt(offset vk.DeviceSize, data []byte) error {
	if b.mapped == nil {
		return core.Errorf(core.ErrKindInvalidInput, "vulkan.ManagedBuffer.WriteAt", "buffer is not mapped")
	}
	if offset+vk.DeviceSize(len(data)) > b.TotalSize {
		return core.Errorf(core.ErrKindInvalidInput, "vulkan.ManagedBuffer.WriteAt", "write of %d bytes at offset %d exceeds buffer size %d", len(data), offset, b.TotalSize)
	}
	dst := unsafe.Slice((*byte)(unsafe.Add(b.mapped, int(offset))), len(data))
	copy(dst, data)
	return nil
}

// Destroy unmaps, frees the memory and releases the ledger entry. Safe on
// nil.
func (b *ManagedBuffer) Destroy(device vk.Device, ledger *ResourceLedger) {
	if b == nil {
		return
	}
	if b.mapped != nil {
		vk.UnmapMemory(device, b.Memory)
		b.mapped = nil
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(device, b.Handle, nil)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, b.Memory, nil)
		b.Memory = vk.NullDeviceMemory
	}
	ledger.Release(b.ledgerID)
	b.ledgerID = uuid.Nil
}
