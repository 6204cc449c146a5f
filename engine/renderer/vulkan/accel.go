package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/pixelcollider/lumen/engine/core"
	"github.com/pixelcollider/lumen/engine/scene"
)

// BLAS is one built bottom-level acceleration structure together with
// the buffer that stores it and the mesh ranges it references. The mesh
// ranges must stay allocated for the BLAS lifetime.
type BLAS struct {
	Handle  AccelerationStructure
	Buffer  *ManagedBuffer
	Address DeviceAddress
	Mesh    *MeshBuffers

	ledgerID uuid.UUID
}

// AccelBuilder constructs acceleration structures. BLAS builds are
// synchronous with a bounded fence wait; TLAS builds go through the
// pending-build machinery in tlas.go.
type AccelBuilder struct {
	device *Device
	procs  *ProcTable
	ledger *ResourceLedger
}

func NewAccelBuilder(device *Device, procs *ProcTable, ledger *ResourceLedger) *AccelBuilder {
	return &AccelBuilder{
		device: device,
		procs:  procs,
		ledger: ledger,
	}
}

func (ab *AccelBuilder) newAccelBuffer(name string, size vk.DeviceSize) (*ManagedBuffer, error) {
	usage := vk.BufferUsageFlags(BufferUsageAccelStructStorageBit) |
		vk.BufferUsageFlags(BufferUsageShaderDeviceAddressBit)
	return NewManagedBuffer(ab.device, ab.procs, ab.ledger, name, size, usage,
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
}

func (ab *AccelBuilder) newScratchBuffer(size vk.DeviceSize) (*ManagedBuffer, error) {
	// Scratch needs headroom for the device's scratch offset alignment.
	size = AlignUp(size, vk.DeviceSize(max32(ab.device.RayTracing.MinAccelStructScratchAlignment, 1)))
	usage := vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit) |
		vk.BufferUsageFlags(BufferUsageShaderDeviceAddressBit)
	return NewManagedBuffer(ab.device, ab.procs, ab.ledger, "as_scratch", size, usage,
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
}

// BuildBLAS builds a bottom-level structure over an uploaded mesh. The
// call blocks until the device signals the build fence; a timeout is a
// build failure and all partial resources are released.
func (ab *AccelBuilder) BuildBLAS(name string, mesh *MeshBuffers) (*BLAS, error) {
	if mesh == nil || mesh.IndexCount == 0 {
		return nil, core.Errorf(core.ErrKindInvalidInput, "vulkan.BuildBLAS", "empty mesh")
	}
	geoms := []TrianglesGeometry{{
		VertexAddress:  mesh.VertexAddress,
		VertexStride:   VertexStrideBytes,
		MaxVertex:      mesh.VertexCount - 1,
		IndexAddress:   mesh.IndexAddress,
		PrimitiveCount: mesh.IndexCount / 3,
	}}

	sizes := ab.procs.GetBLASBuildSizes(ab.device.LogicalDevice, BuildFlagPreferFastTrace, geoms)
	if sizes.AccelerationStructureSize == 0 {
		return nil, core.Errorf(core.ErrKindBuildFailure, "vulkan.BuildBLAS", "driver reported zero structure size")
	}

	buffer, err := ab.newAccelBuffer(fmt.Sprintf("blas_%s", name), sizes.AccelerationStructureSize)
	if err != nil {
		return nil, err
	}
	handle, result := ab.procs.CreateAccelerationStructure(ab.device.LogicalDevice,
		buffer.Handle, 0, sizes.AccelerationStructureSize, AccelerationStructureBottomLevel)
	if !ResultIsSuccess(result) {
		buffer.Destroy(ab.device.LogicalDevice, ab.ledger)
		return nil, ResultToError(result, "vulkan.BuildBLAS")
	}

	scratch, err := ab.newScratchBuffer(sizes.BuildScratchSize)
	if err != nil {
		ab.procs.DestroyAccelerationStructure(ab.device.LogicalDevice, handle)
		buffer.Destroy(ab.device.LogicalDevice, ab.ledger)
		return nil, err
	}

	buildErr := ab.submitBuild(func(cb vk.CommandBuffer) {
		recordUploadBarrier(cb)
		ab.procs.CmdBuildBLAS(cb, handle, scratch.Address, BuildFlagPreferFastTrace, geoms)
		recordBuildBarrier(cb)
	})
	scratch.Destroy(ab.device.LogicalDevice, ab.ledger)
	if buildErr != nil {
		ab.procs.DestroyAccelerationStructure(ab.device.LogicalDevice, handle)
		buffer.Destroy(ab.device.LogicalDevice, ab.ledger)
		return nil, core.WrapError(core.ErrKindBuildFailure, "vulkan.BuildBLAS", buildErr)
	}

	blas := &BLAS{
		Handle:   handle,
		Buffer:   buffer,
		Address:  ab.procs.GetAccelerationStructureDeviceAddress(ab.device.LogicalDevice, handle),
		Mesh:     mesh,
		ledgerID: ab.ledger.Track(ResourceAccelStruct, fmt.Sprintf("blas_%s", name)),
	}
	core.LogDebug("built BLAS %q: %d triangles, %d bytes", name, geoms[0].PrimitiveCount, sizes.AccelerationStructureSize)
	return blas, nil
}

// submitBuild records the build into a single-use command buffer,
// submits it with a fence and waits with the build timeout. The scratch
// buffer is only released by callers after this returns, which satisfies
// the rule that scratch outlives the build.
func (ab *AccelBuilder) submitBuild(record func(cb vk.CommandBuffer)) error {
	fence, err := NewFence(ab.device.LogicalDevice, false)
	if err != nil {
		return err
	}
	defer fence.Destroy(ab.device.LogicalDevice)

	cb, err := AllocateAndBeginSingleUse(ab.device.LogicalDevice, ab.device.GraphicsCommandPool)
	if err != nil {
		return err
	}
	record(cb.Handle)
	if err := cb.EndSingleUse(ab.device.LogicalDevice, ab.device.GraphicsCommandPool, ab.device.GraphicsQueue, fence); err != nil {
		cb.Free(ab.device.LogicalDevice, ab.device.GraphicsCommandPool)
		return err
	}
	waitErr := fence.Wait(ab.device.LogicalDevice, BUILD_WAIT_TIMEOUT_NS)
	cb.Free(ab.device.LogicalDevice, ab.device.GraphicsCommandPool)
	return waitErr
}

// recordUploadBarrier makes staged vertex/index transfers visible to
// the acceleration structure build that reads them.
func recordUploadBarrier(cb vk.CommandBuffer) {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccessMask: vk.AccessFlags(AccessAccelStructReadBit),
	}
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(PipelineStageAccelStructBuildBit),
		0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

// recordBuildBarrier orders acceleration structure writes before any
// subsequent build reads or ray traversal.
func recordBuildBarrier(cb vk.CommandBuffer) {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(AccessAccelStructWriteBit),
		DstAccessMask: vk.AccessFlags(AccessAccelStructReadBit),
	}
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(PipelineStageAccelStructBuildBit),
		vk.PipelineStageFlags(PipelineStageAccelStructBuildBit)|vk.PipelineStageFlags(PipelineStageRayTracingShaderBit),
		0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

// Destroy releases the structure and its storage. The referenced mesh
// ranges are owned by the buffer manager and are not touched.
func (b *BLAS) Destroy(device vk.Device, procs *ProcTable, ledger *ResourceLedger) {
	if b == nil {
		return
	}
	procs.DestroyAccelerationStructure(device, b.Handle)
	b.Handle = 0
	b.Buffer.Destroy(device, ledger)
	ledger.Release(b.ledgerID)
	b.ledgerID = uuid.Nil
}

// PackInstances serializes scene instances into the 64-byte records the
// TLAS build consumes. The custom index is the position in the instance
// list so hit shaders can index the instance data buffer directly.
func PackInstances(instances []scene.Instance, blasAddresses []DeviceAddress) ([]byte, error) {
	out := make([]byte, len(instances)*InstanceRecordSize)
	for i, instance := range instances {
		if int(instance.MeshIndex) >= len(blasAddresses) {
			return nil, core.Errorf(core.ErrKindInvalidInput, "vulkan.PackInstances",
				"instance %d references mesh %d of %d", i, instance.MeshIndex, len(blasAddresses))
		}
		PackInstance(out[i*InstanceRecordSize:(i+1)*InstanceRecordSize],
			instance.TransformRows34(),
			uint32(i),
			instance.Mask,
			instance.SBTOffset,
			InstanceFlagTriangleFacingCullDisable,
			blasAddresses[instance.MeshIndex])
	}
	return out, nil
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
