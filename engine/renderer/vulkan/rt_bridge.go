package vulkan

/*
#cgo LDFLAGS: -lvulkan

#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include <vulkan/vulkan.h>

typedef struct LumenRTProcs {
	PFN_vkGetBufferDeviceAddress                   pGetBufferDeviceAddress;
	PFN_vkGetAccelerationStructureBuildSizesKHR    pGetBuildSizes;
	PFN_vkCreateAccelerationStructureKHR           pCreateAS;
	PFN_vkDestroyAccelerationStructureKHR          pDestroyAS;
	PFN_vkGetAccelerationStructureDeviceAddressKHR pASAddress;
	PFN_vkCmdBuildAccelerationStructuresKHR        pCmdBuildAS;
	PFN_vkCreateRayTracingPipelinesKHR             pCreateRTPipelines;
	PFN_vkGetRayTracingShaderGroupHandlesKHR       pGroupHandles;
	PFN_vkCmdTraceRaysKHR                          pCmdTraceRays;
	PFN_vkCreateDeferredOperationKHR               pCreateDeferredOp;
	PFN_vkDestroyDeferredOperationKHR              pDestroyDeferredOp;
	PFN_vkDeferredOperationJoinKHR                 pJoinDeferredOp;
	PFN_vkGetDeferredOperationResultKHR            pDeferredOpResult;
} LumenRTProcs;

typedef struct LumenTriGeom {
	uint64_t vertexAddress;
	uint64_t vertexStride;
	uint32_t maxVertex;
	uint64_t indexAddress;
	uint32_t primitiveCount;
} LumenTriGeom;

typedef struct LumenBuildSizes {
	uint64_t asSize;
	uint64_t updateScratchSize;
	uint64_t buildScratchSize;
} LumenBuildSizes;

typedef struct LumenShaderStage {
	uint64_t module;
	uint32_t stage;
} LumenShaderStage;

typedef struct LumenShaderGroup {
	uint32_t gtype;
	uint32_t general;
	uint32_t closestHit;
	uint32_t anyHit;
	uint32_t intersection;
} LumenShaderGroup;

typedef struct LumenSBTRegion {
	uint64_t address;
	uint64_t stride;
	uint64_t size;
} LumenSBTRegion;

typedef struct LumenRTProps {
	uint32_t handleSize;
	uint32_t handleAlignment;
	uint32_t baseAlignment;
	uint32_t maxRecursion;
	uint32_t scratchAlignment;
	float    timestampPeriod;
} LumenRTProps;

#define LUMEN_LOAD(dst, type, name)                        \
	do {                                                   \
		dst = (type)vkGetDeviceProcAddr(dev, name);        \
		if (dst == NULL) {                                 \
			missing++;                                     \
		}                                                  \
	} while (0)

static uint32_t lumen_load_procs(void* device, LumenRTProcs* out) {
	VkDevice dev = (VkDevice)device;
	uint32_t missing = 0;
	memset(out, 0, sizeof(*out));

	out->pGetBufferDeviceAddress =
		(PFN_vkGetBufferDeviceAddress)vkGetDeviceProcAddr(dev, "vkGetBufferDeviceAddress");
	if (out->pGetBufferDeviceAddress == NULL) {
		LUMEN_LOAD(out->pGetBufferDeviceAddress, PFN_vkGetBufferDeviceAddress, "vkGetBufferDeviceAddressKHR");
	}
	LUMEN_LOAD(out->pGetBuildSizes, PFN_vkGetAccelerationStructureBuildSizesKHR, "vkGetAccelerationStructureBuildSizesKHR");
	LUMEN_LOAD(out->pCreateAS, PFN_vkCreateAccelerationStructureKHR, "vkCreateAccelerationStructureKHR");
	LUMEN_LOAD(out->pDestroyAS, PFN_vkDestroyAccelerationStructureKHR, "vkDestroyAccelerationStructureKHR");
	LUMEN_LOAD(out->pASAddress, PFN_vkGetAccelerationStructureDeviceAddressKHR, "vkGetAccelerationStructureDeviceAddressKHR");
	LUMEN_LOAD(out->pCmdBuildAS, PFN_vkCmdBuildAccelerationStructuresKHR, "vkCmdBuildAccelerationStructuresKHR");
	LUMEN_LOAD(out->pCreateRTPipelines, PFN_vkCreateRayTracingPipelinesKHR, "vkCreateRayTracingPipelinesKHR");
	LUMEN_LOAD(out->pGroupHandles, PFN_vkGetRayTracingShaderGroupHandlesKHR, "vkGetRayTracingShaderGroupHandlesKHR");
	LUMEN_LOAD(out->pCmdTraceRays, PFN_vkCmdTraceRaysKHR, "vkCmdTraceRaysKHR");
	LUMEN_LOAD(out->pCreateDeferredOp, PFN_vkCreateDeferredOperationKHR, "vkCreateDeferredOperationKHR");
	LUMEN_LOAD(out->pDestroyDeferredOp, PFN_vkDestroyDeferredOperationKHR, "vkDestroyDeferredOperationKHR");
	LUMEN_LOAD(out->pJoinDeferredOp, PFN_vkDeferredOperationJoinKHR, "vkDeferredOperationJoinKHR");
	LUMEN_LOAD(out->pDeferredOpResult, PFN_vkGetDeferredOperationResultKHR, "vkGetDeferredOperationResultKHR");
	return missing;
}

static int lumen_check_rt_support(void* physicalDevice) {
	VkPhysicalDeviceAccelerationStructureFeaturesKHR asf;
	VkPhysicalDeviceRayTracingPipelineFeaturesKHR rtf;
	VkPhysicalDeviceVulkan12Features v12;
	VkPhysicalDeviceFeatures2 f2;

	memset(&asf, 0, sizeof(asf));
	asf.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
	memset(&rtf, 0, sizeof(rtf));
	rtf.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_FEATURES_KHR;
	rtf.pNext = &asf;
	memset(&v12, 0, sizeof(v12));
	v12.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_VULKAN_1_2_FEATURES;
	v12.pNext = &rtf;
	memset(&f2, 0, sizeof(f2));
	f2.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_FEATURES_2;
	f2.pNext = &v12;

	vkGetPhysicalDeviceFeatures2((VkPhysicalDevice)physicalDevice, &f2);

	return asf.accelerationStructure == VK_TRUE &&
		rtf.rayTracingPipeline == VK_TRUE &&
		v12.bufferDeviceAddress == VK_TRUE &&
		v12.descriptorIndexing == VK_TRUE;
}

static void lumen_rt_properties(void* physicalDevice, LumenRTProps* out) {
	VkPhysicalDeviceAccelerationStructurePropertiesKHR asp;
	VkPhysicalDeviceRayTracingPipelinePropertiesKHR rtp;
	VkPhysicalDeviceProperties2 p2;

	memset(&asp, 0, sizeof(asp));
	asp.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_PROPERTIES_KHR;
	memset(&rtp, 0, sizeof(rtp));
	rtp.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_PROPERTIES_KHR;
	rtp.pNext = &asp;
	memset(&p2, 0, sizeof(p2));
	p2.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2;
	p2.pNext = &rtp;

	vkGetPhysicalDeviceProperties2((VkPhysicalDevice)physicalDevice, &p2);

	out->handleSize = rtp.shaderGroupHandleSize;
	out->handleAlignment = rtp.shaderGroupHandleAlignment;
	out->baseAlignment = rtp.shaderGroupBaseAlignment;
	out->maxRecursion = rtp.maxRayRecursionDepth;
	out->scratchAlignment = asp.minAccelerationStructureScratchOffsetAlignment;
	out->timestampPeriod = p2.properties.limits.timestampPeriod;
}

static VkResult lumen_create_device(void* physicalDevice,
		const uint32_t* families, uint32_t familyCount,
		const char* const* extensions, uint32_t extensionCount,
		void** outDevice) {
	VkDeviceQueueCreateInfo queues[8];
	float priority = 1.0f;
	uint32_t i;

	if (familyCount > 8) {
		return VK_ERROR_INITIALIZATION_FAILED;
	}
	memset(queues, 0, sizeof(queues));
	for (i = 0; i < familyCount; i++) {
		queues[i].sType = VK_STRUCTURE_TYPE_DEVICE_QUEUE_CREATE_INFO;
		queues[i].queueFamilyIndex = families[i];
		queues[i].queueCount = 1;
		queues[i].pQueuePriorities = &priority;
	}

	VkPhysicalDeviceAccelerationStructureFeaturesKHR asf;
	memset(&asf, 0, sizeof(asf));
	asf.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
	asf.accelerationStructure = VK_TRUE;

	VkPhysicalDeviceRayTracingPipelineFeaturesKHR rtf;
	memset(&rtf, 0, sizeof(rtf));
	rtf.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_FEATURES_KHR;
	rtf.pNext = &asf;
	rtf.rayTracingPipeline = VK_TRUE;

	VkPhysicalDeviceVulkan12Features v12;
	memset(&v12, 0, sizeof(v12));
	v12.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_VULKAN_1_2_FEATURES;
	v12.pNext = &rtf;
	v12.bufferDeviceAddress = VK_TRUE;
	v12.descriptorIndexing = VK_TRUE;
	v12.runtimeDescriptorArray = VK_TRUE;
	v12.shaderSampledImageArrayNonUniformIndexing = VK_TRUE;

	VkPhysicalDeviceFeatures2 f2;
	memset(&f2, 0, sizeof(f2));
	f2.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_FEATURES_2;
	f2.pNext = &v12;
	f2.features.samplerAnisotropy = VK_TRUE;

	VkDeviceCreateInfo ci;
	memset(&ci, 0, sizeof(ci));
	ci.sType = VK_STRUCTURE_TYPE_DEVICE_CREATE_INFO;
	ci.pNext = &f2;
	ci.queueCreateInfoCount = familyCount;
	ci.pQueueCreateInfos = queues;
	ci.enabledExtensionCount = extensionCount;
	ci.ppEnabledExtensionNames = extensions;

	VkDevice dev = VK_NULL_HANDLE;
	VkResult r = vkCreateDevice((VkPhysicalDevice)physicalDevice, &ci, NULL, &dev);
	*outDevice = (void*)dev;
	return r;
}

static VkResult lumen_alloc_memory(void* device, uint64_t size,
		uint32_t memoryTypeIndex, int deviceAddress, uint64_t* outMemory) {
	VkMemoryAllocateFlagsInfo flagsInfo;
	memset(&flagsInfo, 0, sizeof(flagsInfo));
	flagsInfo.sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_FLAGS_INFO;
	flagsInfo.flags = VK_MEMORY_ALLOCATE_DEVICE_ADDRESS_BIT;

	VkMemoryAllocateInfo ai;
	memset(&ai, 0, sizeof(ai));
	ai.sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_INFO;
	ai.allocationSize = size;
	ai.memoryTypeIndex = memoryTypeIndex;
	if (deviceAddress) {
		ai.pNext = &flagsInfo;
	}

	VkDeviceMemory memory = VK_NULL_HANDLE;
	VkResult r = vkAllocateMemory((VkDevice)device, &ai, NULL, &memory);
	*outMemory = (uint64_t)(uintptr_t)memory;
	return r;
}

static uint64_t lumen_buffer_address(LumenRTProcs* p, void* device, uint64_t buffer) {
	VkBufferDeviceAddressInfo info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_BUFFER_DEVICE_ADDRESS_INFO;
	info.buffer = (VkBuffer)(uintptr_t)buffer;
	return p->pGetBufferDeviceAddress((VkDevice)device, &info);
}

static void lumen_fill_tri_geometry(const LumenTriGeom* in, uint32_t count,
		VkAccelerationStructureGeometryKHR* geoms, uint32_t* primCounts) {
	uint32_t i;
	for (i = 0; i < count; i++) {
		memset(&geoms[i], 0, sizeof(geoms[i]));
		geoms[i].sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
		geoms[i].geometryType = VK_GEOMETRY_TYPE_TRIANGLES_KHR;
		geoms[i].flags = 0;
		VkAccelerationStructureGeometryTrianglesDataKHR* tri = &geoms[i].geometry.triangles;
		tri->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_TRIANGLES_DATA_KHR;
		tri->vertexFormat = VK_FORMAT_R32G32B32_SFLOAT;
		tri->vertexData.deviceAddress = in[i].vertexAddress;
		tri->vertexStride = in[i].vertexStride;
		tri->maxVertex = in[i].maxVertex;
		tri->indexType = VK_INDEX_TYPE_UINT32;
		tri->indexData.deviceAddress = in[i].indexAddress;
		primCounts[i] = in[i].primitiveCount;
	}
}

static void lumen_blas_sizes(LumenRTProcs* p, void* device, uint32_t flags,
		const LumenTriGeom* tris, uint32_t triCount, LumenBuildSizes* out) {
	VkAccelerationStructureGeometryKHR* geoms =
		calloc(triCount, sizeof(VkAccelerationStructureGeometryKHR));
	uint32_t* prims = calloc(triCount, sizeof(uint32_t));
	lumen_fill_tri_geometry(tris, triCount, geoms, prims);

	VkAccelerationStructureBuildGeometryInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info.type = VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	info.flags = (VkBuildAccelerationStructureFlagsKHR)flags;
	info.mode = VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR;
	info.geometryCount = triCount;
	info.pGeometries = geoms;

	VkAccelerationStructureBuildSizesInfoKHR sizes;
	memset(&sizes, 0, sizeof(sizes));
	sizes.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_SIZES_INFO_KHR;

	p->pGetBuildSizes((VkDevice)device,
		VK_ACCELERATION_STRUCTURE_BUILD_TYPE_DEVICE_KHR, &info, prims, &sizes);

	out->asSize = sizes.accelerationStructureSize;
	out->updateScratchSize = sizes.updateScratchSize;
	out->buildScratchSize = sizes.buildScratchSize;

	free(geoms);
	free(prims);
}

static void lumen_fill_instance_geometry(uint64_t instanceAddress,
		VkAccelerationStructureGeometryKHR* geom) {
	memset(geom, 0, sizeof(*geom));
	geom->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	geom->geometryType = VK_GEOMETRY_TYPE_INSTANCES_KHR;
	geom->geometry.instances.sType =
		VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_INSTANCES_DATA_KHR;
	geom->geometry.instances.arrayOfPointers = VK_FALSE;
	geom->geometry.instances.data.deviceAddress = instanceAddress;
}

static void lumen_tlas_sizes(LumenRTProcs* p, void* device, uint32_t flags,
		uint32_t instanceCount, LumenBuildSizes* out) {
	VkAccelerationStructureGeometryKHR geom;
	lumen_fill_instance_geometry(0, &geom);

	VkAccelerationStructureBuildGeometryInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info.type = VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR;
	info.flags = (VkBuildAccelerationStructureFlagsKHR)flags;
	info.mode = VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR;
	info.geometryCount = 1;
	info.pGeometries = &geom;

	VkAccelerationStructureBuildSizesInfoKHR sizes;
	memset(&sizes, 0, sizeof(sizes));
	sizes.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_SIZES_INFO_KHR;

	p->pGetBuildSizes((VkDevice)device,
		VK_ACCELERATION_STRUCTURE_BUILD_TYPE_DEVICE_KHR, &info, &instanceCount, &sizes);

	out->asSize = sizes.accelerationStructureSize;
	out->updateScratchSize = sizes.updateScratchSize;
	out->buildScratchSize = sizes.buildScratchSize;
}

static VkResult lumen_create_as(LumenRTProcs* p, void* device, uint64_t buffer,
		uint64_t offset, uint64_t size, uint32_t bottomLevel, uint64_t* out) {
	VkAccelerationStructureCreateInfoKHR ci;
	memset(&ci, 0, sizeof(ci));
	ci.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_CREATE_INFO_KHR;
	ci.buffer = (VkBuffer)(uintptr_t)buffer;
	ci.offset = offset;
	ci.size = size;
	ci.type = bottomLevel != 0
		? VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR
		: VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR;

	VkAccelerationStructureKHR as = VK_NULL_HANDLE;
	VkResult r = p->pCreateAS((VkDevice)device, &ci, NULL, &as);
	*out = (uint64_t)(uintptr_t)as;
	return r;
}

static void lumen_destroy_as(LumenRTProcs* p, void* device, uint64_t as) {
	p->pDestroyAS((VkDevice)device, (VkAccelerationStructureKHR)(uintptr_t)as, NULL);
}

static uint64_t lumen_as_address(LumenRTProcs* p, void* device, uint64_t as) {
	VkAccelerationStructureDeviceAddressInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_DEVICE_ADDRESS_INFO_KHR;
	info.accelerationStructure = (VkAccelerationStructureKHR)(uintptr_t)as;
	return p->pASAddress((VkDevice)device, &info);
}

static void lumen_cmd_build_blas(LumenRTProcs* p, void* commandBuffer,
		uint64_t dst, uint64_t scratch, uint32_t flags,
		const LumenTriGeom* tris, uint32_t triCount) {
	VkAccelerationStructureGeometryKHR* geoms =
		calloc(triCount, sizeof(VkAccelerationStructureGeometryKHR));
	uint32_t* prims = calloc(triCount, sizeof(uint32_t));
	VkAccelerationStructureBuildRangeInfoKHR* ranges =
		calloc(triCount, sizeof(VkAccelerationStructureBuildRangeInfoKHR));
	lumen_fill_tri_geometry(tris, triCount, geoms, prims);

	uint32_t i;
	for (i = 0; i < triCount; i++) {
		ranges[i].primitiveCount = prims[i];
	}

	VkAccelerationStructureBuildGeometryInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info.type = VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	info.flags = (VkBuildAccelerationStructureFlagsKHR)flags;
	info.mode = VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR;
	info.dstAccelerationStructure = (VkAccelerationStructureKHR)(uintptr_t)dst;
	info.geometryCount = triCount;
	info.pGeometries = geoms;
	info.scratchData.deviceAddress = scratch;

	const VkAccelerationStructureBuildRangeInfoKHR* rangePtr = ranges;
	p->pCmdBuildAS((VkCommandBuffer)commandBuffer, 1, &info, &rangePtr);

	free(geoms);
	free(prims);
	free(ranges);
}

static void lumen_cmd_build_tlas(LumenRTProcs* p, void* commandBuffer,
		uint64_t dst, uint64_t scratch, uint32_t flags,
		uint64_t instanceAddress, uint32_t instanceCount) {
	VkAccelerationStructureGeometryKHR geom;
	lumen_fill_instance_geometry(instanceAddress, &geom);

	VkAccelerationStructureBuildGeometryInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info.type = VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR;
	info.flags = (VkBuildAccelerationStructureFlagsKHR)flags;
	info.mode = VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR;
	info.dstAccelerationStructure = (VkAccelerationStructureKHR)(uintptr_t)dst;
	info.geometryCount = 1;
	info.pGeometries = &geom;
	info.scratchData.deviceAddress = scratch;

	VkAccelerationStructureBuildRangeInfoKHR range;
	memset(&range, 0, sizeof(range));
	range.primitiveCount = instanceCount;

	const VkAccelerationStructureBuildRangeInfoKHR* rangePtr = &range;
	p->pCmdBuildAS((VkCommandBuffer)commandBuffer, 1, &info, &rangePtr);
}

static VkResult lumen_create_rt_pipeline(LumenRTProcs* p, void* device,
		uint64_t deferredOp, uint64_t cache,
		const LumenShaderStage* stages, uint32_t stageCount,
		const LumenShaderGroup* groups, uint32_t groupCount,
		uint32_t maxRecursion, uint64_t layout, uint64_t* outPipeline) {
	VkPipelineShaderStageCreateInfo* cStages =
		calloc(stageCount, sizeof(VkPipelineShaderStageCreateInfo));
	VkRayTracingShaderGroupCreateInfoKHR* cGroups =
		calloc(groupCount, sizeof(VkRayTracingShaderGroupCreateInfoKHR));
	uint32_t i;

	for (i = 0; i < stageCount; i++) {
		cStages[i].sType = VK_STRUCTURE_TYPE_PIPELINE_SHADER_STAGE_CREATE_INFO;
		cStages[i].stage = (VkShaderStageFlagBits)stages[i].stage;
		cStages[i].module = (VkShaderModule)(uintptr_t)stages[i].module;
		cStages[i].pName = "main";
	}
	for (i = 0; i < groupCount; i++) {
		cGroups[i].sType = VK_STRUCTURE_TYPE_RAY_TRACING_SHADER_GROUP_CREATE_INFO_KHR;
		cGroups[i].type = (VkRayTracingShaderGroupTypeKHR)groups[i].gtype;
		cGroups[i].generalShader = groups[i].general;
		cGroups[i].closestHitShader = groups[i].closestHit;
		cGroups[i].anyHitShader = groups[i].anyHit;
		cGroups[i].intersectionShader = groups[i].intersection;
	}

	VkRayTracingPipelineCreateInfoKHR ci;
	memset(&ci, 0, sizeof(ci));
	ci.sType = VK_STRUCTURE_TYPE_RAY_TRACING_PIPELINE_CREATE_INFO_KHR;
	ci.stageCount = stageCount;
	ci.pStages = cStages;
	ci.groupCount = groupCount;
	ci.pGroups = cGroups;
	ci.maxPipelineRayRecursionDepth = maxRecursion;
	ci.layout = (VkPipelineLayout)(uintptr_t)layout;

	VkPipeline pipeline = VK_NULL_HANDLE;
	VkResult r = p->pCreateRTPipelines((VkDevice)device,
		(VkDeferredOperationKHR)(uintptr_t)deferredOp,
		(VkPipelineCache)(uintptr_t)cache, 1, &ci, NULL, &pipeline);
	*outPipeline = (uint64_t)(uintptr_t)pipeline;

	free(cStages);
	free(cGroups);
	return r;
}

static VkResult lumen_group_handles(LumenRTProcs* p, void* device,
		uint64_t pipeline, uint32_t firstGroup, uint32_t groupCount,
		uint64_t dataSize, void* data) {
	return p->pGroupHandles((VkDevice)device, (VkPipeline)(uintptr_t)pipeline,
		firstGroup, groupCount, (size_t)dataSize, data);
}

static void lumen_cmd_trace_rays(LumenRTProcs* p, void* commandBuffer,
		const LumenSBTRegion* raygen, const LumenSBTRegion* miss,
		const LumenSBTRegion* hit, const LumenSBTRegion* callable,
		uint32_t width, uint32_t height, uint32_t depth) {
	VkStridedDeviceAddressRegionKHR rg = {raygen->address, raygen->stride, raygen->size};
	VkStridedDeviceAddressRegionKHR ms = {miss->address, miss->stride, miss->size};
	VkStridedDeviceAddressRegionKHR ht = {hit->address, hit->stride, hit->size};
	VkStridedDeviceAddressRegionKHR cl = {callable->address, callable->stride, callable->size};
	p->pCmdTraceRays((VkCommandBuffer)commandBuffer, &rg, &ms, &ht, &cl,
		width, height, depth);
}

static VkResult lumen_create_deferred_op(LumenRTProcs* p, void* device, uint64_t* out) {
	VkDeferredOperationKHR op = VK_NULL_HANDLE;
	VkResult r = p->pCreateDeferredOp((VkDevice)device, NULL, &op);
	*out = (uint64_t)(uintptr_t)op;
	return r;
}

static void lumen_destroy_deferred_op(LumenRTProcs* p, void* device, uint64_t op) {
	p->pDestroyDeferredOp((VkDevice)device, (VkDeferredOperationKHR)(uintptr_t)op);
}

static VkResult lumen_join_deferred_op(LumenRTProcs* p, void* device, uint64_t op) {
	return p->pJoinDeferredOp((VkDevice)device, (VkDeferredOperationKHR)(uintptr_t)op);
}

static VkResult lumen_deferred_op_result(LumenRTProcs* p, void* device, uint64_t op) {
	return p->pDeferredOpResult((VkDevice)device, (VkDeferredOperationKHR)(uintptr_t)op);
}

static void lumen_write_as_descriptor(void* device, uint64_t set,
		uint32_t binding, uint64_t as) {
	VkAccelerationStructureKHR handle = (VkAccelerationStructureKHR)(uintptr_t)as;

	VkWriteDescriptorSetAccelerationStructureKHR asWrite;
	memset(&asWrite, 0, sizeof(asWrite));
	asWrite.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET_ACCELERATION_STRUCTURE_KHR;
	asWrite.accelerationStructureCount = 1;
	asWrite.pAccelerationStructures = &handle;

	VkWriteDescriptorSet write;
	memset(&write, 0, sizeof(write));
	write.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET;
	write.pNext = &asWrite;
	write.dstSet = (VkDescriptorSet)(uintptr_t)set;
	write.dstBinding = binding;
	write.descriptorCount = 1;
	write.descriptorType = VK_DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE_KHR;

	vkUpdateDescriptorSets((VkDevice)device, 1, &write, 0, NULL);
}
*/
import "C"

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/pixelcollider/lumen/engine/core"
)

// dispatchPtr reinterprets a dispatchable handle (VkDevice, VkCommandBuffer,
// VkPhysicalDevice) as the raw pointer the C side expects.
func dispatchPtr[T any](h T) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&h))
}

// handle64 reinterprets a non-dispatchable handle as its 64-bit value.
func handle64[T any](h T) C.uint64_t {
	return *(*C.uint64_t)(unsafe.Pointer(&h))
}

// handleFrom rebuilds a binding handle type from a 64-bit value.
func handleFrom[T any](v C.uint64_t) T {
	return *(*T)(unsafe.Pointer(&v))
}

// checkRayTracingSupport queries the feature chain of a candidate physical
// device. All four features must be present for the device to qualify.
func checkRayTracingSupport(pd vk.PhysicalDevice) bool {
	return C.lumen_check_rt_support(dispatchPtr(pd)) != 0
}

// queryRayTracingProperties reads the SBT and scratch alignment limits the
// builders depend on.
func queryRayTracingProperties(pd vk.PhysicalDevice) RayTracingProperties {
	var out C.LumenRTProps
	C.lumen_rt_properties(dispatchPtr(pd), &out)
	return RayTracingProperties{
		ShaderGroupHandleSize:          uint32(out.handleSize),
		ShaderGroupHandleAlignment:     uint32(out.handleAlignment),
		ShaderGroupBaseAlignment:       uint32(out.baseAlignment),
		MaxRayRecursionDepth:           uint32(out.maxRecursion),
		MinAccelStructScratchAlignment: uint32(out.scratchAlignment),
		TimestampPeriod:                float32(out.timestampPeriod),
	}
}

// createLogicalDevice creates the VkDevice with the ray-tracing feature
// chain enabled. The binding's own DeviceCreateInfo cannot express the
// pNext chain, so creation goes through the bridge.
func createLogicalDevice(pd vk.PhysicalDevice, queueFamilies []uint32, extensions []string) (vk.Device, error) {
	cExts := make([]*C.char, len(extensions))
	for i, ext := range extensions {
		cExts[i] = C.CString(ext)
	}
	defer func() {
		for _, p := range cExts {
			C.free(unsafe.Pointer(p))
		}
	}()

	var extPtr **C.char
	if len(cExts) > 0 {
		extPtr = &cExts[0]
	}
	var famPtr *C.uint32_t
	if len(queueFamilies) > 0 {
		famPtr = (*C.uint32_t)(unsafe.Pointer(&queueFamilies[0]))
	}

	var out unsafe.Pointer
	result := vk.Result(C.lumen_create_device(dispatchPtr(pd),
		famPtr, C.uint32_t(len(queueFamilies)),
		extPtr, C.uint32_t(len(cExts)), &out))
	if err := ResultToError(result, "vulkan.createLogicalDevice"); err != nil {
		return nil, err
	}
	return *(*vk.Device)(unsafe.Pointer(&out)), nil
}

// allocateMemory wraps vkAllocateMemory so buffers that need
// VK_MEMORY_ALLOCATE_DEVICE_ADDRESS_BIT can chain the flags info.
func allocateMemory(device vk.Device, size vk.DeviceSize, memoryTypeIndex uint32, deviceAddress bool) (vk.DeviceMemory, error) {
	flag := C.int(0)
	if deviceAddress {
		flag = 1
	}
	var out C.uint64_t
	result := vk.Result(C.lumen_alloc_memory(dispatchPtr(device),
		C.uint64_t(size), C.uint32_t(memoryTypeIndex), flag, &out))
	if err := ResultToError(result, "vulkan.allocateMemory"); err != nil {
		return vk.NullDeviceMemory, err
	}
	return handleFrom[vk.DeviceMemory](out), nil
}

func triGeomsToC(geoms []TrianglesGeometry) []C.LumenTriGeom {
	out := make([]C.LumenTriGeom, len(geoms))
	for i, g := range geoms {
		out[i] = C.LumenTriGeom{
			vertexAddress:  C.uint64_t(g.VertexAddress),
			vertexStride:   C.uint64_t(g.VertexStride),
			maxVertex:      C.uint32_t(g.MaxVertex),
			indexAddress:   C.uint64_t(g.IndexAddress),
			primitiveCount: C.uint32_t(g.PrimitiveCount),
		}
	}
	return out
}

func regionToC(r *StridedDeviceAddressRegion) C.LumenSBTRegion {
	if r == nil {
		return C.LumenSBTRegion{}
	}
	return C.LumenSBTRegion{
		address: C.uint64_t(r.DeviceAddress),
		stride:  C.uint64_t(r.Stride),
		size:    C.uint64_t(r.Size),
	}
}

// loadProcTable resolves every ray-tracing entry point against the created
// device. A single unresolved proc fails the load; the caller treats that
// as a capability error.
func loadProcTable(device vk.Device) (*ProcTable, error) {
	procs := new(C.LumenRTProcs)
	if missing := C.lumen_load_procs(dispatchPtr(device), procs); missing != 0 {
		return nil, core.Errorf(core.ErrKindUnsupported, "vulkan.loadProcTable",
			"%d ray tracing entry points unresolved", int(missing))
	}

	table := &ProcTable{
		GetBufferDeviceAddress: func(dev vk.Device, buffer vk.Buffer) DeviceAddress {
			return DeviceAddress(C.lumen_buffer_address(procs, dispatchPtr(dev), handle64(buffer)))
		},
		GetBLASBuildSizes: func(dev vk.Device, flags BuildFlags, geoms []TrianglesGeometry) BuildSizesInfo {
			if len(geoms) == 0 {
				return BuildSizesInfo{}
			}
			cg := triGeomsToC(geoms)
			var out C.LumenBuildSizes
			C.lumen_blas_sizes(procs, dispatchPtr(dev), C.uint32_t(flags), &cg[0], C.uint32_t(len(cg)), &out)
			return BuildSizesInfo{
				AccelerationStructureSize: vk.DeviceSize(out.asSize),
				UpdateScratchSize:         vk.DeviceSize(out.updateScratchSize),
				BuildScratchSize:          vk.DeviceSize(out.buildScratchSize),
			}
		},
		GetTLASBuildSizes: func(dev vk.Device, flags BuildFlags, instanceCount uint32) BuildSizesInfo {
			var out C.LumenBuildSizes
			C.lumen_tlas_sizes(procs, dispatchPtr(dev), C.uint32_t(flags), C.uint32_t(instanceCount), &out)
			return BuildSizesInfo{
				AccelerationStructureSize: vk.DeviceSize(out.asSize),
				UpdateScratchSize:         vk.DeviceSize(out.updateScratchSize),
				BuildScratchSize:          vk.DeviceSize(out.buildScratchSize),
			}
		},
		CreateAccelerationStructure: func(dev vk.Device, buffer vk.Buffer, offset, size vk.DeviceSize, asType AccelerationStructureType) (AccelerationStructure, vk.Result) {
			bottom := C.uint32_t(0)
			if asType == AccelerationStructureBottomLevel {
				bottom = 1
			}
			var out C.uint64_t
			result := vk.Result(C.lumen_create_as(procs, dispatchPtr(dev), handle64(buffer),
				C.uint64_t(offset), C.uint64_t(size), bottom, &out))
			return AccelerationStructure(out), result
		},
		DestroyAccelerationStructure: func(dev vk.Device, as AccelerationStructure) {
			if as == 0 {
				return
			}
			C.lumen_destroy_as(procs, dispatchPtr(dev), C.uint64_t(as))
		},
		GetAccelerationStructureDeviceAddress: func(dev vk.Device, as AccelerationStructure) DeviceAddress {
			return DeviceAddress(C.lumen_as_address(procs, dispatchPtr(dev), C.uint64_t(as)))
		},
		CmdBuildBLAS: func(cb vk.CommandBuffer, dst AccelerationStructure, scratch DeviceAddress, flags BuildFlags, geoms []TrianglesGeometry) {
			if len(geoms) == 0 {
				return
			}
			cg := triGeomsToC(geoms)
			C.lumen_cmd_build_blas(procs, dispatchPtr(cb), C.uint64_t(dst), C.uint64_t(scratch),
				C.uint32_t(flags), &cg[0], C.uint32_t(len(cg)))
		},
		CmdBuildTLAS: func(cb vk.CommandBuffer, dst AccelerationStructure, scratch DeviceAddress, flags BuildFlags, instances InstancesGeometry) {
			C.lumen_cmd_build_tlas(procs, dispatchPtr(cb), C.uint64_t(dst), C.uint64_t(scratch),
				C.uint32_t(flags), C.uint64_t(instances.Address), C.uint32_t(instances.Count))
		},
		CreateRayTracingPipeline: func(dev vk.Device, op DeferredOperation, cache vk.PipelineCache, info *RayTracingPipelineInfo) (vk.Pipeline, vk.Result) {
			cStages := make([]C.LumenShaderStage, len(info.Stages))
			for i, s := range info.Stages {
				cStages[i] = C.LumenShaderStage{
					module: handle64(s.Module),
					stage:  C.uint32_t(s.Stage),
				}
			}
			cGroups := make([]C.LumenShaderGroup, len(info.Groups))
			for i, g := range info.Groups {
				cGroups[i] = C.LumenShaderGroup{
					gtype:        C.uint32_t(g.Type),
					general:      C.uint32_t(g.General),
					closestHit:   C.uint32_t(g.ClosestHit),
					anyHit:       C.uint32_t(g.AnyHit),
					intersection: C.uint32_t(g.Intersection),
				}
			}
			var out C.uint64_t
			result := vk.Result(C.lumen_create_rt_pipeline(procs, dispatchPtr(dev),
				C.uint64_t(op), handle64(cache),
				&cStages[0], C.uint32_t(len(cStages)),
				&cGroups[0], C.uint32_t(len(cGroups)),
				C.uint32_t(info.MaxRecursionDepth), handle64(info.Layout), &out))
			return handleFrom[vk.Pipeline](out), result
		},
		GetRayTracingShaderGroupHandles: func(dev vk.Device, pipeline vk.Pipeline, firstGroup, groupCount uint32, data []byte) vk.Result {
			if len(data) == 0 {
				return vk.ErrorInitializationFailed
			}
			return vk.Result(C.lumen_group_handles(procs, dispatchPtr(dev), handle64(pipeline),
				C.uint32_t(firstGroup), C.uint32_t(groupCount),
				C.uint64_t(len(data)), unsafe.Pointer(&data[0])))
		},
		CmdTraceRays: func(cb vk.CommandBuffer, raygen, miss, hit, callable *StridedDeviceAddressRegion, width, height, depth uint32) {
			rg := regionToC(raygen)
			ms := regionToC(miss)
			ht := regionToC(hit)
			cl := regionToC(callable)
			C.lumen_cmd_trace_rays(procs, dispatchPtr(cb), &rg, &ms, &ht, &cl,
				C.uint32_t(width), C.uint32_t(height), C.uint32_t(depth))
		},
		CreateDeferredOperation: func(dev vk.Device) (DeferredOperation, vk.Result) {
			var out C.uint64_t
			result := vk.Result(C.lumen_create_deferred_op(procs, dispatchPtr(dev), &out))
			return DeferredOperation(out), result
		},
		DestroyDeferredOperation: func(dev vk.Device, op DeferredOperation) {
			if op == 0 {
				return
			}
			C.lumen_destroy_deferred_op(procs, dispatchPtr(dev), C.uint64_t(op))
		},
		DeferredOperationJoin: func(dev vk.Device, op DeferredOperation) vk.Result {
			return vk.Result(C.lumen_join_deferred_op(procs, dispatchPtr(dev), C.uint64_t(op)))
		},
		GetDeferredOperationResult: func(dev vk.Device, op DeferredOperation) vk.Result {
			return vk.Result(C.lumen_deferred_op_result(procs, dispatchPtr(dev), C.uint64_t(op)))
		},
		WriteAccelerationStructureDescriptor: func(dev vk.Device, set vk.DescriptorSet, binding uint32, as AccelerationStructure) {
			C.lumen_write_as_descriptor(dispatchPtr(dev), handle64(set), C.uint32_t(binding), C.uint64_t(as))
		},
	}
	return table, nil
}
