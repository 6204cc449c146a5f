package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
)

// Ray tracing descriptor set bindings. One set per frame slot so a frame
// being recorded never rewrites descriptors a submitted frame still
// reads.
const (
	BindingTLAS         uint32 = 0
	BindingOutputImage  uint32 = 1
	BindingFrameUBO     uint32 = 2
	BindingMaterials    uint32 = 3
	BindingInstanceData uint32 = 4
	BindingEnvironment  uint32 = 5
	BindingAccumImage   uint32 = 6
)

// Compute (tonemap) set bindings.
const (
	ComputeBindingAccum  uint32 = 0
	ComputeBindingOutput uint32 = 1
	ComputeBindingUBO    uint32 = 2
)

// DescriptorManager owns the set layouts, the pool and the per-frame
// descriptor sets for both the ray tracing and the tonemap pipelines.
type DescriptorManager struct {
	RTLayout      vk.DescriptorSetLayout
	ComputeLayout vk.DescriptorSetLayout

	RTSets      []vk.DescriptorSet
	ComputeSets []vk.DescriptorSet

	device *Device
	procs  *ProcTable
	ledger *ResourceLedger
	pool   vk.DescriptorPool

	ledgerID uuid.UUID
}

func NewDescriptorManager(device *Device, procs *ProcTable, ledger *ResourceLedger, frameCount uint32) (*DescriptorManager, error) {
	dm := &DescriptorManager{
		device: device,
		procs:  procs,
		ledger: ledger,
	}
	if err := dm.createLayouts(); err != nil {
		return nil, err
	}
	if err := dm.createPoolAndSets(frameCount); err != nil {
		dm.Destroy()
		return nil, err
	}
	return dm, nil
}

func (dm *DescriptorManager) createLayouts() error {
	rtStages := vk.ShaderStageFlags(ShaderStageRaygenBit) |
		vk.ShaderStageFlags(ShaderStageMissBit) |
		vk.ShaderStageFlags(ShaderStageClosestHitBit) |
		vk.ShaderStageFlags(ShaderStageAnyHitBit)

	rtBindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         BindingTLAS,
			DescriptorType:  DescriptorTypeAccelerationStructure,
			DescriptorCount: 1,
			StageFlags:      rtStages,
		},
		{
			Binding:         BindingOutputImage,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(ShaderStageRaygenBit),
		},
		{
			Binding:         BindingFrameUBO,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      rtStages,
		},
		{
			Binding:         BindingMaterials,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(ShaderStageClosestHitBit) | vk.ShaderStageFlags(ShaderStageAnyHitBit),
		},
		{
			Binding:         BindingInstanceData,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(ShaderStageClosestHitBit) | vk.ShaderStageFlags(ShaderStageAnyHitBit),
		},
		{
			Binding:         BindingEnvironment,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(ShaderStageMissBit) | vk.ShaderStageFlags(ShaderStageClosestHitBit),
		},
		{
			Binding:         BindingAccumImage,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(ShaderStageRaygenBit),
		},
	}
	rtLayoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(rtBindings)),
		PBindings:    rtBindings,
	}
	if result := vk.CreateDescriptorSetLayout(dm.device.LogicalDevice, &rtLayoutInfo, nil, &dm.RTLayout); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.DescriptorManager.createLayouts")
	}

	computeBindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         ComputeBindingAccum,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
		{
			Binding:         ComputeBindingOutput,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
		{
			Binding:         ComputeBindingUBO,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
	}
	computeLayoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(computeBindings)),
		PBindings:    computeBindings,
	}
	if result := vk.CreateDescriptorSetLayout(dm.device.LogicalDevice, &computeLayoutInfo, nil, &dm.ComputeLayout); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.DescriptorManager.createLayouts")
	}
	return nil
}

func (dm *DescriptorManager) createPoolAndSets(frameCount uint32) error {
	poolSizes := []vk.DescriptorPoolSize{
		{Type: DescriptorTypeAccelerationStructure, DescriptorCount: frameCount},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: frameCount * 4},
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: frameCount * 2},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: frameCount * 2},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: frameCount},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       frameCount * 2,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if result := vk.CreateDescriptorPool(dm.device.LogicalDevice, &poolInfo, nil, &dm.pool); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.DescriptorManager.createPoolAndSets")
	}
	dm.ledgerID = dm.ledger.Track(ResourceDescriptor, "descriptor_pool")

	dm.RTSets = make([]vk.DescriptorSet, frameCount)
	dm.ComputeSets = make([]vk.DescriptorSet, frameCount)
	for i := uint32(0); i < frameCount; i++ {
		rtAlloc := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     dm.pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{dm.RTLayout},
		}
		if result := vk.AllocateDescriptorSets(dm.device.LogicalDevice, &rtAlloc, &dm.RTSets[i]); !ResultIsSuccess(result) {
			return ResultToError(result, "vulkan.DescriptorManager.createPoolAndSets")
		}
		computeAlloc := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     dm.pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{dm.ComputeLayout},
		}
		if result := vk.AllocateDescriptorSets(dm.device.LogicalDevice, &computeAlloc, &dm.ComputeSets[i]); !ResultIsSuccess(result) {
			return ResultToError(result, "vulkan.DescriptorManager.createPoolAndSets")
		}
	}
	return nil
}

// RTSetWrites carries everything UpdateRTSet binds for one frame slot.
// A zero TLAS handle is written as-is; the raygen shader guards
// traversal behind the pushed instance count.
type RTSetWrites struct {
	TLAS         AccelerationStructure
	OutputView   vk.ImageView
	AccumView    vk.ImageView
	FrameUBO     *ManagedBuffer
	Materials    *ManagedBuffer
	InstanceData *ManagedBuffer
	EnvView      vk.ImageView
	EnvSampler   vk.Sampler
}

// UpdateRTSet rewrites every binding of one frame's ray tracing set. The
// acceleration structure write goes through the bridge because the
// binding's pNext chain cannot express it.
func (dm *DescriptorManager) UpdateRTSet(frame uint32, writes RTSetWrites) {
	set := dm.RTSets[frame]

	dm.procs.WriteAccelerationStructureDescriptor(dm.device.LogicalDevice, set, BindingTLAS, writes.TLAS)

	outputInfo := []vk.DescriptorImageInfo{{
		ImageView:   writes.OutputView,
		ImageLayout: vk.ImageLayoutGeneral,
	}}
	accumInfo := []vk.DescriptorImageInfo{{
		ImageView:   writes.AccumView,
		ImageLayout: vk.ImageLayoutGeneral,
	}}
	uboInfo := []vk.DescriptorBufferInfo{{
		Buffer: writes.FrameUBO.Handle,
		Range:  writes.FrameUBO.TotalSize,
	}}
	materialInfo := []vk.DescriptorBufferInfo{{
		Buffer: writes.Materials.Handle,
		Range:  writes.Materials.TotalSize,
	}}
	instanceInfo := []vk.DescriptorBufferInfo{{
		Buffer: writes.InstanceData.Handle,
		Range:  writes.InstanceData.TotalSize,
	}}
	envInfo := []vk.DescriptorImageInfo{{
		Sampler:     writes.EnvSampler,
		ImageView:   writes.EnvView,
		ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
	}}

	updates := []vk.WriteDescriptorSet{
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      BindingOutputImage,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			PImageInfo:      outputInfo,
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      BindingFrameUBO,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			PBufferInfo:     uboInfo,
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      BindingMaterials,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo:     materialInfo,
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      BindingInstanceData,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo:     instanceInfo,
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      BindingEnvironment,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			PImageInfo:      envInfo,
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      BindingAccumImage,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			PImageInfo:      accumInfo,
		},
	}
	vk.UpdateDescriptorSets(dm.device.LogicalDevice, uint32(len(updates)), updates, 0, nil)
}

// UpdateComputeSet rewrites one frame's tonemap set.
func (dm *DescriptorManager) UpdateComputeSet(frame uint32, accumView, outputView vk.ImageView, ubo *ManagedBuffer) {
	set := dm.ComputeSets[frame]

	accumInfo := []vk.DescriptorImageInfo{{
		ImageView:   accumView,
		ImageLayout: vk.ImageLayoutGeneral,
	}}
	outputInfo := []vk.DescriptorImageInfo{{
		ImageView:   outputView,
		ImageLayout: vk.ImageLayoutGeneral,
	}}
	uboInfo := []vk.DescriptorBufferInfo{{
		Buffer: ubo.Handle,
		Range:  ubo.TotalSize,
	}}

	updates := []vk.WriteDescriptorSet{
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      ComputeBindingAccum,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			PImageInfo:      accumInfo,
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      ComputeBindingOutput,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			PImageInfo:      outputInfo,
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      ComputeBindingUBO,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			PBufferInfo:     uboInfo,
		},
	}
	vk.UpdateDescriptorSets(dm.device.LogicalDevice, uint32(len(updates)), updates, 0, nil)
}

// Destroy releases the pool (and with it every set) and the layouts.
func (dm *DescriptorManager) Destroy() {
	if dm == nil {
		return
	}
	if dm.pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(dm.device.LogicalDevice, dm.pool, nil)
		dm.pool = vk.NullDescriptorPool
		dm.ledger.Release(dm.ledgerID)
		dm.ledgerID = uuid.Nil
	}
	if dm.RTLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(dm.device.LogicalDevice, dm.RTLayout, nil)
		dm.RTLayout = vk.NullDescriptorSetLayout
	}
	if dm.ComputeLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(dm.device.LogicalDevice, dm.ComputeLayout, nil)
		dm.ComputeLayout = vk.NullDescriptorSetLayout
	}
	dm.RTSets = nil
	dm.ComputeSets = nil
}
