package vulkan

import (
	"encoding/binary"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/pixelcollider/lumen/engine/core"
)

// DeviceAddress is a GPU virtual address obtained from a buffer or an
// acceleration structure.
type DeviceAddress uint64

// AccelerationStructure is an opaque VkAccelerationStructureKHR handle.
// Zero is the null sentinel.
type AccelerationStructure uint64

// DeferredOperation is an opaque VkDeferredOperationKHR handle.
type DeferredOperation uint64

// AccelerationStructureType selects bottom or top level.
type AccelerationStructureType uint32

const (
	AccelerationStructureTopLevel    AccelerationStructureType = 0
	AccelerationStructureBottomLevel AccelerationStructureType = 1
)

// BuildFlags mirror VkBuildAccelerationStructureFlagBitsKHR.
type BuildFlags uint32

const (
	BuildFlagAllowUpdate     BuildFlags = 0x01
	BuildFlagAllowCompact    BuildFlags = 0x02
	BuildFlagPreferFastTrace BuildFlags = 0x04
	BuildFlagPreferFastBuild BuildFlags = 0x08
	BuildFlagLowMemory       BuildFlags = 0x10
)

// Instance record flags, VkGeometryInstanceFlagBitsKHR.
const (
	InstanceFlagTriangleFacingCullDisable uint32 = 0x01
	InstanceFlagTriangleFlipFacing        uint32 = 0x02
	InstanceFlagForceOpaque               uint32 = 0x04
	InstanceFlagForceNoOpaque             uint32 = 0x08
)

// ShaderUnused marks an absent shader slot in a group, VK_SHADER_UNUSED_KHR.
const ShaderUnused uint32 = 0xFFFFFFFF

// InstanceRecordSize is sizeof(VkAccelerationStructureInstanceKHR).
const InstanceRecordSize = 64

// TrianglesGeometry describes one triangle mesh range for a BLAS build.
// Addresses come from the buffer device-address query; vertices are
// R32G32B32 floats, indices U32.
type TrianglesGeometry struct {
	VertexAddress  DeviceAddress
	VertexStride   vk.DeviceSize
	MaxVertex      uint32
	IndexAddress   DeviceAddress
	PrimitiveCount uint32
}

// InstancesGeometry points a TLAS build at a packed instance-record
// buffer.
type InstancesGeometry struct {
	Address DeviceAddress
	Count   uint32
}

// BuildSizesInfo mirrors VkAccelerationStructureBuildSizesInfoKHR.
type BuildSizesInfo struct {
	AccelerationStructureSize vk.DeviceSize
	UpdateScratchSize         vk.DeviceSize
	BuildScratchSize          vk.DeviceSize
}

// GroupType mirrors VkRayTracingShaderGroupTypeKHR.
type GroupType uint32

const (
	GroupGeneral            GroupType = 0
	GroupTrianglesHitGroup  GroupType = 1
	GroupProceduralHitGroup GroupType = 2
)

// ShaderStage is one stage entry of a ray-tracing pipeline; Entry is
// always "main" for our blobs.
type ShaderStage struct {
	Module vk.ShaderModule
	Stage  vk.ShaderStageFlagBits
}

// ShaderGroup indexes into the stage list. Unused slots hold ShaderUnused.
type ShaderGroup struct {
	Type         GroupType
	General      uint32
	ClosestHit   uint32
	AnyHit       uint32
	Intersection uint32
}

// RayTracingPipelineInfo is everything the bridge needs to create a
// VkRayTracingPipelineCreateInfoKHR.
type RayTracingPipelineInfo struct {
	Stages            []ShaderStage
	Groups            []ShaderGroup
	MaxRecursionDepth uint32
	Layout            vk.PipelineLayout
}

// StridedDeviceAddressRegion mirrors VkStridedDeviceAddressRegionKHR.
type StridedDeviceAddressRegion struct {
	DeviceAddress DeviceAddress
	Stride        vk.DeviceSize
	Size          vk.DeviceSize
}

// RayTracingProperties carries the device limits SBT construction and
// recursion clamping depend on.
type RayTracingProperties struct {
	ShaderGroupHandleSize          uint32
	ShaderGroupHandleAlignment     uint32
	ShaderGroupBaseAlignment       uint32
	MaxRayRecursionDepth           uint32
	MinAccelStructScratchAlignment uint32
	TimestampPeriod                float32
}

// ProcTable holds every ray-tracing extension entry point, loaded once at
// device creation. Callers dispatch through the table; a nil field after
// load is fatal at init.
type ProcTable struct {
	GetBufferDeviceAddress                func(device vk.Device, buffer vk.Buffer) DeviceAddress
	GetBLASBuildSizes                     func(device vk.Device, flags BuildFlags, geoms []TrianglesGeometry) BuildSizesInfo
	GetTLASBuildSizes                     func(device vk.Device, flags BuildFlags, instanceCount uint32) BuildSizesInfo
	CreateAccelerationStructure           func(device vk.Device, buffer vk.Buffer, offset, size vk.DeviceSize, asType AccelerationStructureType) (AccelerationStructure, vk.Result)
	DestroyAccelerationStructure          func(device vk.Device, as AccelerationStructure)
	GetAccelerationStructureDeviceAddress func(device vk.Device, as AccelerationStructure) DeviceAddress
	CmdBuildBLAS                          func(cb vk.CommandBuffer, dst AccelerationStructure, scratch DeviceAddress, flags BuildFlags, geoms []TrianglesGeometry)
	CmdBuildTLAS                          func(cb vk.CommandBuffer, dst AccelerationStructure, scratch DeviceAddress, flags BuildFlags, instances InstancesGeometry)
	CreateRayTracingPipeline              func(device vk.Device, op DeferredOperation, cache vk.PipelineCache, info *RayTracingPipelineInfo) (vk.Pipeline, vk.Result)
	GetRayTracingShaderGroupHandles       func(device vk.Device, pipeline vk.Pipeline, firstGroup, groupCount uint32, data []byte) vk.Result
	CmdTraceRays                          func(cb vk.CommandBuffer, raygen, miss, hit, callable *StridedDeviceAddressRegion, width, height, depth uint32)
	CreateDeferredOperation               func(device vk.Device) (DeferredOperation, vk.Result)
	DestroyDeferredOperation              func(device vk.Device, op DeferredOperation)
	DeferredOperationJoin                 func(device vk.Device, op DeferredOperation) vk.Result
	GetDeferredOperationResult            func(device vk.Device, op DeferredOperation) vk.Result
	WriteAccelerationStructureDescriptor  func(device vk.Device, set vk.DescriptorSet, binding uint32, as AccelerationStructure)
}

// Validate confirms every entry point resolved. Missing procs at init are
// fatal per the capability contract.
func (p *ProcTable) Validate() error {
	missing := ""
	switch {
	case p.GetBufferDeviceAddress == nil:
		missing = "vkGetBufferDeviceAddressKHR"
	case p.GetBLASBuildSizes == nil || p.GetTLASBuildSizes == nil:
		missing = "vkGetAccelerationStructureBuildSizesKHR"
	case p.CreateAccelerationStructure == nil:
		missing = "vkCreateAccelerationStructureKHR"
	case p.DestroyAccelerationStructure == nil:
		missing = "vkDestroyAccelerationStructureKHR"
	case p.GetAccelerationStructureDeviceAddress == nil:
		missing = "vkGetAccelerationStructureDeviceAddressKHR"
	case p.CmdBuildBLAS == nil || p.CmdBuildTLAS == nil:
		missing = "vkCmdBuildAccelerationStructuresKHR"
	case p.CreateRayTracingPipeline == nil:
		missing = "vkCreateRayTracingPipelinesKHR"
	case p.GetRayTracingShaderGroupHandles == nil:
		missing = "vkGetRayTracingShaderGroupHandlesKHR"
	case p.CmdTraceRays == nil:
		missing = "vkCmdTraceRaysKHR"
	case p.CreateDeferredOperation == nil || p.DestroyDeferredOperation == nil || p.DeferredOperationJoin == nil || p.GetDeferredOperationResult == nil:
		missing = "vkDeferredOperation*KHR"
	case p.WriteAccelerationStructureDescriptor == nil:
		missing = "vkUpdateDescriptorSets (acceleration structure write)"
	}
	if missing != "" {
		return core.Errorf(core.ErrKindUnsupported, "vulkan.ProcTable", "missing entry point %s", missing)
	}
	return nil
}

// PackInstance serializes one VkAccelerationStructureInstanceKHR into dst,
// which must hold InstanceRecordSize bytes. The transform is row-major
// 3x4.
func PackInstance(dst []byte, transform [12]float32, customIndex uint32, mask uint8, sbtOffset uint32, flags uint32, blasAddress DeviceAddress) {
	_ = dst[InstanceRecordSize-1]
	for i, f := range transform {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
	binary.LittleEndian.PutUint32(dst[48:], customIndex&0x00FFFFFF|uint32(mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], sbtOffset&0x00FFFFFF|flags<<24)
	binary.LittleEndian.PutUint64(dst[56:], uint64(blasAddress))
}

// SBTLayout is the deterministic placement of shader group handles inside
// the shader binding table buffer. Region starts honour
// shaderGroupBaseAlignment, records are spaced by the aligned handle
// size.
type SBTLayout struct {
	HandleSize    uint32
	AlignedHandle uint32

	RaygenOffset   vk.DeviceSize
	MissOffset     vk.DeviceSize
	HitOffset      vk.DeviceSize
	CallableOffset vk.DeviceSize

	RaygenSize   vk.DeviceSize
	MissSize     vk.DeviceSize
	HitSize      vk.DeviceSize
	CallableSize vk.DeviceSize

	TotalSize vk.DeviceSize
}

// ComputeSBTLayout derives the table layout from device properties and
// group counts. Zero-count regions get size 0 and collapse to the running
// offset; tracing with a zero-size callable region is legal.
func ComputeSBTLayout(props RayTracingProperties, raygenCount, missCount, hitCount, callableCount uint32) SBTLayout {
	aligned := AlignUp(props.ShaderGroupHandleSize, props.ShaderGroupHandleAlignment)
	base := vk.DeviceSize(props.ShaderGroupBaseAlignment)

	layout := SBTLayout{
		HandleSize:    props.ShaderGroupHandleSize,
		AlignedHandle: aligned,
	}

	offset := vk.DeviceSize(0)
	layout.RaygenOffset = offset
	layout.RaygenSize = vk.DeviceSize(raygenCount) * vk.DeviceSize(aligned)
	offset = AlignUp(offset+layout.RaygenSize, base)

	layout.MissOffset = offset
	layout.MissSize = vk.DeviceSize(missCount) * vk.DeviceSize(aligned)
	offset = AlignUp(offset+layout.MissSize, base)

	layout.HitOffset = offset
	layout.HitSize = vk.DeviceSize(hitCount) * vk.DeviceSize(aligned)
	offset = AlignUp(offset+layout.HitSize, base)

	layout.CallableOffset = offset
	layout.CallableSize = vk.DeviceSize(callableCount) * vk.DeviceSize(aligned)
	layout.TotalSize = offset + layout.CallableSize

	return layout
}

// Regions materializes the four strided regions against the SBT buffer's
// device address.
func (l *SBTLayout) Regions(bufferAddress DeviceAddress) (raygen, miss, hit, callable StridedDeviceAddressRegion) {
	stride := vk.DeviceSize(l.AlignedHandle)
	raygen = StridedDeviceAddressRegion{
		DeviceAddress: bufferAddress + DeviceAddress(l.RaygenOffset),
		// The raygen region is a single record: stride equals size.
		Stride: l.RaygenSize,
		Size:   l.RaygenSize,
	}
	miss = StridedDeviceAddressRegion{DeviceAddress: bufferAddress + DeviceAddress(l.MissOffset), Stride: stride, Size: l.MissSize}
	hit = StridedDeviceAddressRegion{DeviceAddress: bufferAddress + DeviceAddress(l.HitOffset), Stride: stride, Size: l.HitSize}
	callable = StridedDeviceAddressRegion{DeviceAddress: bufferAddress + DeviceAddress(l.CallableOffset), Stride: stride, Size: l.CallableSize}
	if l.CallableSize == 0 {
		callable = StridedDeviceAddressRegion{}
	}
	return
}
