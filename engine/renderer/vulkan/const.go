package vulkan

import (
	vk "github.com/goki/vulkan"
)

// MAX_FRAMES_IN_FLIGHT is the hard upper bound on simultaneously recorded
// frames; the configured value is clamped to it.
const MAX_FRAMES_IN_FLIGHT uint32 = 3

// STAGING_POOL_SIZE is the fixed size of the persistent-mapped staging
// buffer. Uploads larger than this are split into pool-sized chunks.
const STAGING_POOL_SIZE vk.DeviceSize = 64 * 1024 * 1024

// GEOMETRY_ARENA_SIZE is the device-local arena backing all mesh vertex
// and index ranges.
const GEOMETRY_ARENA_SIZE vk.DeviceSize = 128 * 1024 * 1024

// Bounded waits. A fence that misses BUILD_WAIT_TIMEOUT_NS is treated as a
// hung device.
const (
	BUILD_WAIT_TIMEOUT_NS   uint64 = 30_000_000_000
	FRAME_FENCE_TIMEOUT_NS  uint64 = 30_000_000_000
	ACQUIRE_TIMEOUT_NS      uint64 = 1_000_000_000
)

// MAX_RAY_RECURSION is the recursion depth requested from the ray-tracing
// pipeline, clamped to what the device reports.
const MAX_RAY_RECURSION uint32 = 4

// PUSH_CONSTANT_BUDGET is the size of the push-constant range attached to
// every pipeline layout; RTConstants must fit in it.
const PUSH_CONSTANT_BUDGET uint32 = 128

// Extension bits missing from the core binding. Values match vulkan_core.h.
const (
	BufferUsageShaderDeviceAddressBit           vk.BufferUsageFlagBits = 0x00020000
	BufferUsageShaderBindingTableBit            vk.BufferUsageFlagBits = 0x00000400
	BufferUsageAccelStructBuildInputReadOnlyBit vk.BufferUsageFlagBits = 0x00080000
	BufferUsageAccelStructStorageBit            vk.BufferUsageFlagBits = 0x00100000
)

const (
	PipelineStageRayTracingShaderBit      vk.PipelineStageFlagBits = 0x00200000
	PipelineStageAccelStructBuildBit      vk.PipelineStageFlagBits = 0x02000000
	AccessAccelStructReadBit              vk.AccessFlagBits        = 0x00200000
	AccessAccelStructWriteBit             vk.AccessFlagBits        = 0x00400000
	DescriptorTypeAccelerationStructure   vk.DescriptorType        = 1000150000
	PipelineBindPointRayTracing           vk.PipelineBindPoint     = 1000165000
)

const (
	ShaderStageRaygenBit       vk.ShaderStageFlagBits = 0x00000100
	ShaderStageAnyHitBit       vk.ShaderStageFlagBits = 0x00000200
	ShaderStageClosestHitBit   vk.ShaderStageFlagBits = 0x00000400
	ShaderStageMissBit         vk.ShaderStageFlagBits = 0x00000800
	ShaderStageIntersectionBit vk.ShaderStageFlagBits = 0x00001000
	ShaderStageCallableBit     vk.ShaderStageFlagBits = 0x00002000
)
