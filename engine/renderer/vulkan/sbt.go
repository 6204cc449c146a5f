package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/pixelcollider/lumen/engine/core"
)

// ShaderBindingTable is the uploaded handle table plus the four strided
// regions vkCmdTraceRaysKHR consumes. The regions alias the table
// buffer, so the buffer outlives every frame that traces with it.
type ShaderBindingTable struct {
	Layout SBTLayout
	Buffer *ManagedBuffer

	Raygen   StridedDeviceAddressRegion
	Miss     StridedDeviceAddressRegion
	Hit      StridedDeviceAddressRegion
	Callable StridedDeviceAddressRegion
}

// BuildShaderBindingTable queries the pipeline's group handles, lays
// them out per the device's alignment rules and uploads the table into
// a device-local buffer through the staging pool. Groups are ordered
// raygen, then miss, then hit, then callable, matching pipeline group
// order.
func BuildShaderBindingTable(device *Device, procs *ProcTable, ledger *ResourceLedger,
	uploader *BufferManager, pipeline vk.Pipeline,
	raygenCount, missCount, hitCount, callableCount uint32) (*ShaderBindingTable, error) {
	if raygenCount != 1 {
		return nil, core.Errorf(core.ErrKindInvalidInput, "vulkan.BuildShaderBindingTable",
			"exactly one raygen group required, got %d", raygenCount)
	}

	props := device.RayTracing
	groupCount := raygenCount + missCount + hitCount + callableCount
	handleSize := props.ShaderGroupHandleSize

	handles := make([]byte, groupCount*handleSize)
	if result := procs.GetRayTracingShaderGroupHandles(device.LogicalDevice, pipeline, 0, groupCount, handles); !ResultIsSuccess(result) {
		return nil, ResultToError(result, "vulkan.BuildShaderBindingTable")
	}

	layout := ComputeSBTLayout(props, raygenCount, missCount, hitCount, callableCount)
	records := packSBTRecords(layout, handles, handleSize, raygenCount, missCount, hitCount, callableCount)

	buffer, err := NewManagedBuffer(device, procs, ledger, "shader_binding_table",
		layout.TotalSize,
		vk.BufferUsageFlags(BufferUsageShaderBindingTableBit)|
			vk.BufferUsageFlags(BufferUsageShaderDeviceAddressBit)|
			vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, err
	}
	if err := uploader.Upload(buffer, 0, records); err != nil {
		buffer.Destroy(device.LogicalDevice, ledger)
		return nil, err
	}

	sbt := &ShaderBindingTable{
		Layout: layout,
		Buffer: buffer,
	}
	sbt.Raygen, sbt.Miss, sbt.Hit, sbt.Callable = layout.Regions(buffer.Address)

	core.LogDebug("shader binding table: %d groups, %d bytes (handle %d aligned to %d)",
		groupCount, layout.TotalSize, handleSize, layout.AlignedHandle)
	return sbt, nil
}

// packSBTRecords scatters each group handle to its aligned record slot
// inside a host-side image of the whole table. The gaps between records
// stay zero.
func packSBTRecords(layout SBTLayout, handles []byte, handleSize,
	raygenCount, missCount, hitCount, callableCount uint32) []byte {
	out := make([]byte, layout.TotalSize)
	write := func(regionOffset vk.DeviceSize, firstGroup, count uint32) {
		for g := uint32(0); g < count; g++ {
			src := handles[(firstGroup+g)*handleSize : (firstGroup+g+1)*handleSize]
			dst := regionOffset + vk.DeviceSize(g)*vk.DeviceSize(layout.AlignedHandle)
			copy(out[dst:], src)
		}
	}
	group := uint32(0)
	write(layout.RaygenOffset, group, raygenCount)
	group += raygenCount
	write(layout.MissOffset, group, missCount)
	group += missCount
	write(layout.HitOffset, group, hitCount)
	group += hitCount
	write(layout.CallableOffset, group, callableCount)
	return out
}

// Destroy releases the table buffer.
func (sbt *ShaderBindingTable) Destroy(device vk.Device, ledger *ResourceLedger) {
	if sbt == nil {
		return
	}
	sbt.Buffer.Destroy(device, ledger)
}
