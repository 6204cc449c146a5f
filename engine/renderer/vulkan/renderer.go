package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/pixelcollider/lumen/engine/assets"
	"github.com/pixelcollider/lumen/engine/config"
	"github.com/pixelcollider/lumen/engine/core"
	"github.com/pixelcollider/lumen/engine/platform"
	"github.com/pixelcollider/lumen/engine/scene"
)

// FrameUBO is the per-frame uniform block read by the raygen, hit and
// tonemap shaders. Field order and sizes match the std140 block in the
// shaders; everything is 4-byte, so the Go layout is the wire layout.
type FrameUBO struct {
	ViewInverse    [16]float32
	ProjInverse    [16]float32
	CameraPos      [4]float32
	Time           float32
	FrameCounter   uint32
	ResetAccum     uint32
	MaxAccumFrames uint32
}

// RTConstants is the push constant block shared by the trace and tonemap
// dispatches. Must stay within PUSH_CONSTANT_BUDGET.
type RTConstants struct {
	InstanceCount uint32
	AccumFrames   uint32
	DebugFlags    uint32
	Padding       uint32
}

// Material is one entry of the material storage buffer indexed by hit
// shaders.
type Material struct {
	Albedo    [4]float32
	Emissive  [4]float32
	Roughness float32
	Metallic  float32
	IOR       float32
	Padding   float32
}

// DefaultMaterial is a matte light grey.
func DefaultMaterial() Material {
	return Material{
		Albedo:    [4]float32{0.8, 0.8, 0.8, 1},
		Roughness: 0.9,
		IOR:       1.45,
	}
}

// InstanceShaderData mirrors one instance's geometry addresses and
// material for the hit shaders; indexed by gl_InstanceCustomIndexEXT.
type InstanceShaderData struct {
	VertexAddress uint64
	IndexAddress  uint64
	MaterialIndex uint32
	IndexCount    uint32
	Padding       [2]uint32
}

const (
	materialCapacity = 256
	instanceCapacity = 1024

	rtOutputFormat vk.Format = vk.FormatR16g16b16a16Sfloat
	accumFormat    vk.Format = vk.FormatR32g32b32a32Sfloat

	computeGroupSize uint32 = 8
)

// FrameSlot is the per-frame-in-flight recording state: the command
// buffer, the mapped uniform buffer and the timestamp query pool. Sync
// primitives live on the swapchain; the slot references them by index.
type FrameSlot struct {
	CommandBuffer *CommandBuffer
	UBO           *ManagedBuffer
	QueryPool     vk.QueryPool

	// queried reports whether the query pool holds results from a
	// submitted frame.
	queried  bool
	ledgerID uuid.UUID
}

// Renderer drives the whole path-traced frame: acceleration structure
// upkeep, descriptor refresh, trace, tonemap, blit and present.
type Renderer struct {
	ctx *Context
	cfg *config.Config
	bus *core.EventBus

	shaders     *assets.ShaderManager
	descriptors *DescriptorManager
	pipelines   *PipelineManager
	builder     *AccelBuilder
	tlas        *TLASManager

	meshes []*MeshBuffers
	blases []*BLAS

	materialBuffer *ManagedBuffer
	instanceBuffer *ManagedBuffer
	instanceCount  uint32

	envTexture      *RTImage
	envSampler      vk.Sampler
	envSamplerLedge uuid.UUID

	// Double-buffered trace targets: the frame traces into one while
	// the previous frame's blit may still read the other.
	rtImages  [2]*RTImage
	currentRT int

	// Accumulation is read-modify-write in place, so one image serves
	// all frames; barriers order access across submissions.
	accumImage *RTImage

	slots       []*FrameSlot
	currentSlot uint32

	camera *scene.Camera

	frameNumber uint64
	accumFrames uint32
	resetAccum  bool
	startTime   float64

	rebuildQueued bool

	metrics *core.Metrics

	// LastGPUTimeMS is the most recent measured trace-to-present GPU
	// time, zero until the first timestamp readback.
	LastGPUTimeMS float64
}

// NewRenderer boots the Vulkan context and every manager, uploads the
// fallback environment and waits for the first ray tracing pipeline.
func NewRenderer(p *platform.Platform, cfg *config.Config, bus *core.EventBus, shaders *assets.ShaderManager) (*Renderer, error) {
	ctx, err := NewContext(p, cfg)
	if err != nil {
		return nil, err
	}
	r := &Renderer{
		ctx:        ctx,
		cfg:        cfg,
		bus:        bus,
		shaders:    shaders,
		metrics:    core.NewMetrics(),
		resetAccum: true,
	}

	frameCount := ctx.Swapchain.MaxFramesInFlight
	descriptors, err := NewDescriptorManager(ctx.Device, ctx.Procs, ctx.Ledger, frameCount)
	if err != nil {
		r.Destroy()
		return nil, err
	}
	r.descriptors = descriptors

	pipelines, err := NewPipelineManager(ctx.Device, ctx.Procs, ctx.Ledger, shaders, ctx.BufferMgr, descriptors, cfg.PipelineCachePath)
	if err != nil {
		r.Destroy()
		return nil, err
	}
	r.pipelines = pipelines
	if err := pipelines.WaitReady(); err != nil {
		r.Destroy()
		return nil, err
	}

	r.builder = NewAccelBuilder(ctx.Device, ctx.Procs, ctx.Ledger)
	r.tlas = NewTLASManager(ctx.Device, ctx.Procs, ctx.Ledger, r.builder, bus)

	if err := r.createSceneBuffers(); err != nil {
		r.Destroy()
		return nil, err
	}
	if err := r.createEnvironment(); err != nil {
		r.Destroy()
		return nil, err
	}
	if err := r.createTargets(); err != nil {
		r.Destroy()
		return nil, err
	}
	if err := r.createFrameSlots(); err != nil {
		r.Destroy()
		return nil, err
	}

	bus.Register(core.EVENT_CODE_SHADER_RELOADED, r, func(code core.EventCode, sender interface{}, data core.EventContext) bool {
		r.rebuildQueued = true
		return false
	})

	core.LogInfo("renderer ready: %d frames in flight", frameCount)
	return r, nil
}

func (r *Renderer) createSceneBuffers() error {
	var err error
	r.materialBuffer, err = NewManagedBuffer(r.ctx.Device, r.ctx.Procs, r.ctx.Ledger, "materials",
		vk.DeviceSize(materialCapacity*int(unsafe.Sizeof(Material{}))),
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return err
	}
	if err := r.materialBuffer.Map(r.ctx.Device.LogicalDevice); err != nil {
		return err
	}

	r.instanceBuffer, err = NewManagedBuffer(r.ctx.Device, r.ctx.Procs, r.ctx.Ledger, "instance_data",
		vk.DeviceSize(instanceCapacity*int(unsafe.Sizeof(InstanceShaderData{}))),
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return err
	}
	if err := r.instanceBuffer.Map(r.ctx.Device.LogicalDevice); err != nil {
		return err
	}

	defaults := []Material{DefaultMaterial()}
	return r.materialBuffer.WriteAt(0, materialsToBytes(defaults))
}

// createEnvironment uploads the 1x1 white fallback environment texture.
// A real HDR environment replaces it through the same path.
func (r *Renderer) createEnvironment() error {
	device := r.ctx.Device
	texture, err := NewRTImage(device, r.ctx.Ledger, "environment_fallback", 1, 1, vk.FormatR8g8b8a8Unorm,
		vk.ImageUsageFlags(vk.ImageUsageSampledBit)|vk.ImageUsageFlags(vk.ImageUsageTransferDstBit))
	if err != nil {
		return err
	}

	pixel, err := NewManagedBuffer(device, r.ctx.Procs, r.ctx.Ledger, "environment_pixel", 4,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		texture.Destroy(device.LogicalDevice, r.ctx.Ledger)
		return err
	}
	if err := pixel.Map(device.LogicalDevice); err == nil {
		err = pixel.WriteAt(0, []byte{255, 255, 255, 255})
	}
	if err != nil {
		pixel.Destroy(device.LogicalDevice, r.ctx.Ledger)
		texture.Destroy(device.LogicalDevice, r.ctx.Ledger)
		return err
	}

	cb, err := AllocateAndBeginSingleUse(device.LogicalDevice, device.GraphicsCommandPool)
	if err == nil {
		texture.Transition(cb.Handle, vk.ImageLayoutTransferDstOptimal,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			0, vk.AccessFlags(vk.AccessTransferWriteBit))
		texture.CopyFromBuffer(cb.Handle, pixel.Handle)
		texture.Transition(cb.Handle, vk.ImageLayoutShaderReadOnlyOptimal,
			vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(PipelineStageRayTracingShaderBit),
			vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessShaderReadBit))
		err = cb.EndSingleUse(device.LogicalDevice, device.GraphicsCommandPool, device.GraphicsQueue, nil)
	}
	pixel.Destroy(device.LogicalDevice, r.ctx.Ledger)
	if err != nil {
		texture.Destroy(device.LogicalDevice, r.ctx.Ledger)
		return err
	}
	r.envTexture = texture

	sampler, ledgerID, err := NewDefaultSampler(device, r.ctx.Ledger)
	if err != nil {
		return err
	}
	r.envSampler = sampler
	r.envSamplerLedge = ledgerID
	return nil
}

func (r *Renderer) createTargets() error {
	extent := r.ctx.Swapchain.Extent
	usage := vk.ImageUsageFlags(vk.ImageUsageStorageBit) |
		vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit) |
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)
	for i := range r.rtImages {
		image, err := NewRTImage(r.ctx.Device, r.ctx.Ledger, "rt_output", extent.Width, extent.Height, rtOutputFormat, usage)
		if err != nil {
			return err
		}
		r.rtImages[i] = image
	}
	accum, err := NewRTImage(r.ctx.Device, r.ctx.Ledger, "accumulation", extent.Width, extent.Height, accumFormat,
		vk.ImageUsageFlags(vk.ImageUsageStorageBit))
	if err != nil {
		return err
	}
	r.accumImage = accum
	return nil
}

func (r *Renderer) destroyTargets() {
	for i := range r.rtImages {
		r.rtImages[i].Destroy(r.ctx.Device.LogicalDevice, r.ctx.Ledger)
		r.rtImages[i] = nil
	}
	r.accumImage.Destroy(r.ctx.Device.LogicalDevice, r.ctx.Ledger)
	r.accumImage = nil
}

func (r *Renderer) createFrameSlots() error {
	frameCount := r.ctx.Swapchain.MaxFramesInFlight
	r.slots = make([]*FrameSlot, frameCount)
	for i := uint32(0); i < frameCount; i++ {
		slot := &FrameSlot{CommandBuffer: &CommandBuffer{}}
		if err := slot.CommandBuffer.Allocate(r.ctx.Device.LogicalDevice, r.ctx.Device.GraphicsCommandPool); err != nil {
			return err
		}
		ubo, err := NewManagedBuffer(r.ctx.Device, r.ctx.Procs, r.ctx.Ledger, "frame_ubo",
			vk.DeviceSize(unsafe.Sizeof(FrameUBO{})),
			vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
		if err != nil {
			return err
		}
		if err := ubo.Map(r.ctx.Device.LogicalDevice); err != nil {
			return err
		}
		slot.UBO = ubo

		queryInfo := vk.QueryPoolCreateInfo{
			SType:      vk.StructureTypeQueryPoolCreateInfo,
			QueryType:  vk.QueryTypeTimestamp,
			QueryCount: 2,
		}
		if result := vk.CreateQueryPool(r.ctx.Device.LogicalDevice, &queryInfo, nil, &slot.QueryPool); !ResultIsSuccess(result) {
			return ResultToError(result, "vulkan.Renderer.createFrameSlots")
		}
		slot.ledgerID = r.ctx.Ledger.Track(ResourceQueryPool, "frame_query_pool")
		r.slots[i] = slot
	}
	return nil
}

// SetCamera installs the camera the next frames render from.
func (r *Renderer) SetCamera(camera *scene.Camera) {
	r.camera = camera
	aspect := float32(r.ctx.Swapchain.Extent.Width) / float32(r.ctx.Swapchain.Extent.Height)
	camera.SetAspect(aspect)
}

// LoadScene uploads every mesh, builds their BLASes, fills the material
// and instance storage buffers and submits the TLAS rebuild. Safe to
// call again with a new scene; previous geometry is released after the
// device idles.
func (r *Renderer) LoadScene(meshes []scene.MeshData, instances []scene.Instance, materials []Material) error {
	if len(instances) > instanceCapacity {
		return core.Errorf(core.ErrKindInvalidInput, "vulkan.Renderer.LoadScene",
			"%d instances exceeds capacity %d", len(instances), instanceCapacity)
	}
	if len(materials) > materialCapacity {
		return core.Errorf(core.ErrKindInvalidInput, "vulkan.Renderer.LoadScene",
			"%d materials exceeds capacity %d", len(materials), materialCapacity)
	}
	if len(r.blases) > 0 {
		if err := r.ctx.Device.WaitIdle(); err != nil {
			return err
		}
		r.releaseGeometry()
	}

	for i := range meshes {
		buffers, err := r.ctx.BufferMgr.UploadMesh(&meshes[i])
		if err != nil {
			return err
		}
		r.meshes = append(r.meshes, buffers)
		blas, err := r.builder.BuildBLAS(meshes[i].Name, buffers)
		if err != nil {
			return err
		}
		r.blases = append(r.blases, blas)
	}

	if len(materials) == 0 {
		materials = []Material{DefaultMaterial()}
	}
	if err := r.materialBuffer.WriteAt(0, materialsToBytes(materials)); err != nil {
		return err
	}

	shaderData := make([]InstanceShaderData, len(instances))
	for i, instance := range instances {
		mesh := r.meshes[instance.MeshIndex]
		materialIndex := uint32(instance.MeshIndex)
		if int(materialIndex) >= len(materials) {
			materialIndex = 0
		}
		shaderData[i] = InstanceShaderData{
			VertexAddress: uint64(mesh.VertexAddress),
			IndexAddress:  uint64(mesh.IndexAddress),
			MaterialIndex: materialIndex,
			IndexCount:    mesh.IndexCount,
		}
	}
	if len(shaderData) > 0 {
		if err := r.instanceBuffer.WriteAt(0, instanceDataToBytes(shaderData)); err != nil {
			return err
		}
	}
	r.instanceCount = uint32(len(instances))

	if err := r.tlas.SubmitRebuild(instances, r.blases, r.frameNumber); err != nil {
		return err
	}
	r.resetAccum = true
	core.LogInfo("scene loaded: %d meshes, %d instances", len(meshes), len(instances))
	return nil
}

func (r *Renderer) releaseGeometry() {
	for _, blas := range r.blases {
		blas.Destroy(r.ctx.Device.LogicalDevice, r.ctx.Procs, r.ctx.Ledger)
	}
	r.blases = nil
	for _, mesh := range r.meshes {
		r.ctx.BufferMgr.ReleaseMesh(mesh)
	}
	r.meshes = nil
}

// OnResize records the new framebuffer size; the resize is absorbed at
// the next frame boundary.
func (r *Renderer) OnResize(width, height uint32) {
	r.ctx.NoteResize(width, height)
}

func (r *Renderer) handleResize() error {
	width, height := r.ctx.FramebufferWidth, r.ctx.FramebufferHeight
	if width == 0 || height == 0 {
		// Minimized; keep the pending generation until a real size shows up.
		return nil
	}
	if err := r.ctx.Swapchain.Recreate(r.ctx.Surface, width, height); err != nil {
		return err
	}
	r.destroyTargets()
	if err := r.createTargets(); err != nil {
		return err
	}
	if r.camera != nil {
		r.camera.SetAspect(float32(width) / float32(height))
	}
	r.resetAccum = true
	r.ctx.FramebufferSizeLastGeneration = r.ctx.FramebufferSizeGeneration
	return nil
}

// RenderFrame advances asynchronous work, records one frame and submits
// it. Transient conditions (resize races, out-of-date surfaces) are
// absorbed by skipping the frame.
func (r *Renderer) RenderFrame(elapsed float64) error {
	if r.rebuildQueued {
		r.rebuildQueued = false
		if err := r.pipelines.RebuildRT(); err != nil {
			core.LogError("pipeline rebuild failed, keeping previous pipeline: %v", err)
		}
	}
	if swapped, err := r.pipelines.Poll(); err != nil {
		core.LogError("deferred pipeline creation failed: %v", err)
	} else if swapped {
		r.resetAccum = true
	}
	if swapped, err := r.tlas.Poll(r.frameNumber); err != nil {
		core.LogError("TLAS rebuild failed, previous structure retained: %v", err)
	} else if swapped {
		r.resetAccum = true
	}

	if r.ctx.ResizePending() {
		if err := r.handleResize(); err != nil {
			return err
		}
		if r.ctx.ResizePending() {
			// Still minimized.
			return nil
		}
	}

	sc := r.ctx.Swapchain
	slot := r.slots[r.currentSlot]
	fence := sc.InFlightFences[r.currentSlot]
	if err := fence.Wait(r.ctx.Device.LogicalDevice, FRAME_FENCE_TIMEOUT_NS); err != nil {
		if core.IsTransient(err) {
			return core.WrapError(core.ErrKindDeviceLost, "vulkan.Renderer.RenderFrame", err)
		}
		return err
	}
	r.readTimestamps(slot)

	imageIndex, err := sc.AcquireNextImage(ACQUIRE_TIMEOUT_NS, sc.ImageAvailableSemaphores[r.currentSlot])
	if err != nil {
		if core.IsTransient(err) {
			r.ctx.NoteResize(r.ctx.FramebufferWidth, r.ctx.FramebufferHeight)
			return nil
		}
		return err
	}

	if err := fence.Reset(r.ctx.Device.LogicalDevice); err != nil {
		return err
	}

	if r.camera != nil && r.camera.ChangedSinceLastFrame() {
		r.resetAccum = true
	}
	if r.resetAccum {
		r.accumFrames = 0
	}
	if r.accumFrames < r.cfg.MaxAccumFrames {
		r.accumFrames++
	}

	r.updateUniforms(slot, elapsed)
	r.updateDescriptors(slot)

	if err := r.record(slot, imageIndex); err != nil {
		return err
	}
	if err := r.submit(slot); err != nil {
		return err
	}

	if err := sc.Present(r.ctx.Device.PresentQueue, sc.RenderCompleteSemaphores[r.currentSlot], imageIndex); err != nil {
		if core.IsTransient(err) {
			r.ctx.NoteResize(r.ctx.FramebufferWidth, r.ctx.FramebufferHeight)
		} else {
			return err
		}
	}

	r.resetAccum = false
	r.frameNumber++
	if r.frameNumber > uint64(sc.MaxFramesInFlight) {
		r.tlas.CollectRetired(r.frameNumber - uint64(sc.MaxFramesInFlight))
	}
	r.currentRT = (r.currentRT + 1) % len(r.rtImages)
	r.currentSlot = (r.currentSlot + 1) % sc.MaxFramesInFlight
	r.metrics.Update(elapsed)
	return nil
}

func (r *Renderer) updateUniforms(slot *FrameSlot, elapsed float64) {
	ubo := FrameUBO{
		Time:           float32(elapsed),
		FrameCounter:   uint32(r.frameNumber),
		MaxAccumFrames: r.cfg.MaxAccumFrames,
	}
	if r.resetAccum {
		ubo.ResetAccum = 1
	}
	if r.camera != nil {
		view := r.camera.ViewInverse()
		proj := r.camera.ProjectionInverse()
		copy(ubo.ViewInverse[:], view[:])
		copy(ubo.ProjInverse[:], proj[:])
		pos := r.camera.Position
		ubo.CameraPos = [4]float32{pos.X(), pos.Y(), pos.Z(), 1}
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&ubo)), unsafe.Sizeof(ubo))
	if err := slot.UBO.WriteAt(0, data); err != nil {
		core.LogError("frame UBO write: %v", err)
	}
}

// updateDescriptors rewrites the current slot's sets. The slot's fence
// has signaled, so no submitted work references them.
func (r *Renderer) updateDescriptors(slot *FrameSlot) {
	var tlasHandle AccelerationStructure
	if active := r.tlas.Active(); active != nil {
		tlasHandle = active.Handle
	}
	output := r.rtImages[r.currentRT]
	r.descriptors.UpdateRTSet(r.currentSlot, RTSetWrites{
		TLAS:         tlasHandle,
		OutputView:   output.View,
		AccumView:    r.accumImage.View,
		FrameUBO:     slot.UBO,
		Materials:    r.materialBuffer,
		InstanceData: r.instanceBuffer,
		EnvView:      r.envTexture.View,
		EnvSampler:   r.envSampler,
	})
	r.descriptors.UpdateComputeSet(r.currentSlot, r.accumImage.View, output.View, slot.UBO)
}

func (r *Renderer) record(slot *FrameSlot, imageIndex uint32) error {
	cb := slot.CommandBuffer
	cb.Reset()
	if err := cb.Begin(true); err != nil {
		return err
	}
	handle := cb.Handle
	extent := r.ctx.Swapchain.Extent
	output := r.rtImages[r.currentRT]

	vk.CmdResetQueryPool(handle, slot.QueryPool, 0, 2)
	vk.CmdWriteTimestamp(handle, vk.PipelineStageTopOfPipeBit, slot.QueryPool, 0)

	// Targets to general for storage writes. Source stages cover the
	// previous frame's readers.
	output.Transition(handle, vk.ImageLayoutGeneral,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit)|vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(PipelineStageRayTracingShaderBit),
		0, vk.AccessFlags(vk.AccessShaderWriteBit))
	if r.accumImage.Layout != vk.ImageLayoutGeneral {
		r.accumImage.Transition(handle, vk.ImageLayoutGeneral,
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
			vk.PipelineStageFlags(PipelineStageRayTracingShaderBit),
			0, vk.AccessFlags(vk.AccessShaderReadBit)|vk.AccessFlags(vk.AccessShaderWriteBit))
	}

	// Trace.
	vk.CmdBindPipeline(handle, PipelineBindPointRayTracing, r.pipelines.RTPipeline)
	vk.CmdBindDescriptorSets(handle, PipelineBindPointRayTracing, r.pipelines.RTPipelineLayout,
		0, 1, []vk.DescriptorSet{r.descriptors.RTSets[r.currentSlot]}, 0, nil)
	constants := RTConstants{
		InstanceCount: r.instanceCount,
		AccumFrames:   r.accumFrames,
	}
	rtStages := vk.ShaderStageFlags(ShaderStageRaygenBit) |
		vk.ShaderStageFlags(ShaderStageMissBit) |
		vk.ShaderStageFlags(ShaderStageClosestHitBit) |
		vk.ShaderStageFlags(ShaderStageAnyHitBit)
	vk.CmdPushConstants(handle, r.pipelines.RTPipelineLayout, rtStages,
		0, uint32(unsafe.Sizeof(constants)), unsafe.Pointer(&constants))

	sbt := r.pipelines.SBT
	r.ctx.Procs.CmdTraceRays(handle, &sbt.Raygen, &sbt.Miss, &sbt.Hit, &sbt.Callable,
		extent.Width, extent.Height, 1)

	// Trace writes visible to the tonemap dispatch.
	traceToCompute := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit) | vk.AccessFlags(vk.AccessShaderWriteBit),
	}
	vk.CmdPipelineBarrier(handle,
		vk.PipelineStageFlags(PipelineStageRayTracingShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 1, []vk.MemoryBarrier{traceToCompute}, 0, nil, 0, nil)

	// Tonemap.
	vk.CmdBindPipeline(handle, vk.PipelineBindPointCompute, r.pipelines.ComputePipeline)
	vk.CmdBindDescriptorSets(handle, vk.PipelineBindPointCompute, r.pipelines.ComputePipelineLayout,
		0, 1, []vk.DescriptorSet{r.descriptors.ComputeSets[r.currentSlot]}, 0, nil)
	vk.CmdPushConstants(handle, r.pipelines.ComputePipelineLayout,
		vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		0, uint32(unsafe.Sizeof(constants)), unsafe.Pointer(&constants))
	groupsX := (extent.Width + computeGroupSize - 1) / computeGroupSize
	groupsY := (extent.Height + computeGroupSize - 1) / computeGroupSize
	vk.CmdDispatch(handle, groupsX, groupsY, 1)

	// Blit tonemapped output to the swapchain image.
	output.Transition(handle, vk.ImageLayoutTransferSrcOptimal,
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.AccessFlags(vk.AccessShaderWriteBit), vk.AccessFlags(vk.AccessTransferReadBit))
	r.transitionSwapchainImage(handle, imageIndex,
		vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, vk.AccessFlags(vk.AccessTransferWriteBit))

	blit := vk.ImageBlit{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
	}
	blit.SrcOffsets[1] = vk.Offset3D{X: int32(output.Width), Y: int32(output.Height), Z: 1}
	blit.DstOffsets[1] = vk.Offset3D{X: int32(extent.Width), Y: int32(extent.Height), Z: 1}
	vk.CmdBlitImage(handle, output.Handle, vk.ImageLayoutTransferSrcOptimal,
		r.ctx.Swapchain.Images[imageIndex], vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{blit}, vk.FilterLinear)

	r.transitionSwapchainImage(handle, imageIndex,
		vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutPresentSrc,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		vk.AccessFlags(vk.AccessTransferWriteBit), 0)

	vk.CmdWriteTimestamp(handle, vk.PipelineStageBottomOfPipeBit, slot.QueryPool, 1)
	return cb.End()
}

func (r *Renderer) transitionSwapchainImage(cb vk.CommandBuffer, imageIndex uint32,
	oldLayout, newLayout vk.ImageLayout, srcStage, dstStage vk.PipelineStageFlags,
	srcAccess, dstAccess vk.AccessFlags) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               r.ctx.Swapchain.Images[imageIndex],
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(cb, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (r *Renderer) submit(slot *FrameSlot) error {
	sc := r.ctx.Swapchain
	waitStage := vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{sc.ImageAvailableSemaphores[r.currentSlot]},
		PWaitDstStageMask:    []vk.PipelineStageFlags{waitStage},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{slot.CommandBuffer.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{sc.RenderCompleteSemaphores[r.currentSlot]},
	}
	result := vk.QueueSubmit(r.ctx.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, sc.InFlightFences[r.currentSlot].Handle)
	if !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.Renderer.submit")
	}
	slot.CommandBuffer.MarkSubmitted()
	slot.queried = true
	return nil
}

// readTimestamps pulls the previous use of this slot's query pool. The
// fence wait guarantees availability.
func (r *Renderer) readTimestamps(slot *FrameSlot) {
	if !slot.queried {
		return
	}
	var stamps [2]uint64
	result := vk.GetQueryPoolResults(r.ctx.Device.LogicalDevice, slot.QueryPool, 0, 2,
		uint(unsafe.Sizeof(stamps)), unsafe.Pointer(&stamps[0]), 8,
		vk.QueryResultFlags(vk.QueryResult64Bit))
	if result != vk.Success {
		return
	}
	period := float64(r.ctx.Device.RayTracing.TimestampPeriod)
	r.LastGPUTimeMS = float64(stamps[1]-stamps[0]) * period / 1e6
}

// Metrics exposes the rolling frame statistics.
func (r *Renderer) Metrics() *core.Metrics {
	return r.metrics
}

// AccumulatedFrames reports how many frames the current view has
// converged over.
func (r *Renderer) AccumulatedFrames() uint32 {
	return r.accumFrames
}

// Destroy idles the device and releases everything the renderer owns.
func (r *Renderer) Destroy() {
	if r == nil || r.ctx == nil {
		return
	}
	if r.ctx.Device != nil {
		if err := r.ctx.Device.WaitIdle(); err != nil {
			core.LogError("device idle during renderer shutdown: %v", err)
		}
	}
	if r.bus != nil {
		r.bus.Unregister(core.EVENT_CODE_SHADER_RELOADED, r)
	}
	r.tlas.Destroy()
	r.releaseGeometry()
	for _, slot := range r.slots {
		if slot == nil {
			continue
		}
		slot.CommandBuffer.Free(r.ctx.Device.LogicalDevice, r.ctx.Device.GraphicsCommandPool)
		slot.UBO.Destroy(r.ctx.Device.LogicalDevice, r.ctx.Ledger)
		if slot.QueryPool != vk.NullQueryPool {
			vk.DestroyQueryPool(r.ctx.Device.LogicalDevice, slot.QueryPool, nil)
			r.ctx.Ledger.Release(slot.ledgerID)
		}
	}
	r.slots = nil
	r.destroyTargets()
	if r.envSampler != vk.NullSampler {
		vk.DestroySampler(r.ctx.Device.LogicalDevice, r.envSampler, nil)
		r.ctx.Ledger.Release(r.envSamplerLedge)
		r.envSampler = vk.NullSampler
	}
	r.envTexture.Destroy(r.ctx.Device.LogicalDevice, r.ctx.Ledger)
	r.envTexture = nil
	r.materialBuffer.Destroy(r.ctx.Device.LogicalDevice, r.ctx.Ledger)
	r.instanceBuffer.Destroy(r.ctx.Device.LogicalDevice, r.ctx.Ledger)
	r.pipelines.Destroy()
	r.descriptors.Destroy()
	r.ctx.Destroy()
	r.ctx = nil
}

func materialsToBytes(materials []Material) []byte {
	if len(materials) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&materials[0])), len(materials)*int(unsafe.Sizeof(Material{})))
}

func instanceDataToBytes(data []InstanceShaderData) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*int(unsafe.Sizeof(InstanceShaderData{})))
}
