package vulkan

import (
	"bytes"
	"io"
	"os"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"

	"github.com/pixelcollider/lumen/engine/assets"
	"github.com/pixelcollider/lumen/engine/core"
)

// rtShaderOrder fixes the stage indices the shader groups refer to.
var rtShaderOrder = []struct {
	name  string
	stage vk.ShaderStageFlagBits
}{
	{assets.ShaderRaygen, ShaderStageRaygenBit},
	{assets.ShaderMiss, ShaderStageMissBit},
	{assets.ShaderShadowMiss, ShaderStageMissBit},
	{assets.ShaderClosestHit, ShaderStageClosestHitBit},
	{assets.ShaderAnyHit, ShaderStageAnyHitBit},
	{assets.ShaderShadowAnyHit, ShaderStageAnyHitBit},
	{assets.ShaderVolumeAnyHit, ShaderStageAnyHitBit},
	{assets.ShaderIntersection, ShaderStageIntersectionBit},
	{assets.ShaderCallable, ShaderStageCallableBit},
}

// Group counts implied by buildShaderGroups. The SBT layout depends on
// them staying in sync.
const (
	RaygenGroupCount   uint32 = 1
	MissGroupCount     uint32 = 2
	HitGroupCount      uint32 = 4
	CallableGroupCount uint32 = 1
)

// Hit group order inside the SBT hit region. Instance sbtOffset selects
// among these.
const (
	HitGroupOpaque     uint32 = 0
	HitGroupShadow     uint32 = 1
	HitGroupVolumetric uint32 = 2
	HitGroupProcedural uint32 = 3
)

type pendingPipeline struct {
	op       DeferredOperation
	pipeline vk.Pipeline
	modules  []vk.ShaderModule
}

// PipelineManager owns the pipeline layouts, the on-disk pipeline cache,
// the ray tracing and tonemap pipelines and the shader binding table.
// Ray tracing pipeline creation runs through a deferred operation; the
// previous pipeline keeps serving frames until the replacement is ready.
type PipelineManager struct {
	RTPipelineLayout      vk.PipelineLayout
	ComputePipelineLayout vk.PipelineLayout
	RTPipeline            vk.Pipeline
	ComputePipeline       vk.Pipeline
	SBT                   *ShaderBindingTable

	// Generation increments whenever the pipeline and SBT swap so frame
	// recording picks up the new table regions.
	Generation uint64

	device    *Device
	procs     *ProcTable
	ledger    *ResourceLedger
	shaders   *assets.ShaderManager
	bufferMgr *BufferManager

	cache     vk.PipelineCache
	cachePath string

	liveModules []vk.ShaderModule
	pending     *pendingPipeline

	rtLedgerID      uuid.UUID
	computeLedgerID uuid.UUID
}

// NewPipelineManager creates the layouts and the compute pipeline and
// kicks off deferred creation of the ray tracing pipeline. Call
// WaitReady before recording the first frame.
func NewPipelineManager(device *Device, procs *ProcTable, ledger *ResourceLedger,
	shaders *assets.ShaderManager, bufferMgr *BufferManager, descriptors *DescriptorManager, cachePath string) (*PipelineManager, error) {
	pm := &PipelineManager{
		device:    device,
		procs:     procs,
		ledger:    ledger,
		shaders:   shaders,
		bufferMgr: bufferMgr,
		cachePath: cachePath,
	}
	if err := pm.createCache(); err != nil {
		return nil, err
	}
	if err := pm.createLayouts(descriptors); err != nil {
		pm.Destroy()
		return nil, err
	}
	if err := pm.createComputePipeline(); err != nil {
		pm.Destroy()
		return nil, err
	}
	if err := pm.beginRTPipeline(); err != nil {
		pm.Destroy()
		return nil, err
	}
	return pm, nil
}

func (pm *PipelineManager) createLayouts(descriptors *DescriptorManager) error {
	rtStages := vk.ShaderStageFlags(ShaderStageRaygenBit) |
		vk.ShaderStageFlags(ShaderStageMissBit) |
		vk.ShaderStageFlags(ShaderStageClosestHitBit) |
		vk.ShaderStageFlags(ShaderStageAnyHitBit)

	rtInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{descriptors.RTLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{{
			StageFlags: rtStages,
			Size:       PUSH_CONSTANT_BUDGET,
		}},
	}
	if result := vk.CreatePipelineLayout(pm.device.LogicalDevice, &rtInfo, nil, &pm.RTPipelineLayout); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.PipelineManager.createLayouts")
	}

	computeInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{descriptors.ComputeLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges: []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			Size:       PUSH_CONSTANT_BUDGET,
		}},
	}
	if result := vk.CreatePipelineLayout(pm.device.LogicalDevice, &computeInfo, nil, &pm.ComputePipelineLayout); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.PipelineManager.createLayouts")
	}
	return nil
}

func (pm *PipelineManager) createModule(name string) (vk.ShaderModule, error) {
	code, err := pm.shaders.Load(name)
	if err != nil {
		return vk.NullShaderModule, err
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}
	var module vk.ShaderModule
	if result := vk.CreateShaderModule(pm.device.LogicalDevice, &createInfo, nil, &module); !ResultIsSuccess(result) {
		return vk.NullShaderModule, ResultToError(result, "vulkan.PipelineManager.createModule")
	}
	return module, nil
}

func (pm *PipelineManager) createComputePipeline() error {
	module, err := pm.createModule(assets.ShaderCompute)
	if err != nil {
		return err
	}
	defer vk.DestroyShaderModule(pm.device.LogicalDevice, module, nil)

	createInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: module,
			PName:  SafeString("main"),
		},
		Layout: pm.ComputePipelineLayout,
	}
	pipelines := make([]vk.Pipeline, 1)
	if result := vk.CreateComputePipelines(pm.device.LogicalDevice, pm.cache, 1,
		[]vk.ComputePipelineCreateInfo{createInfo}, nil, pipelines); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.PipelineManager.createComputePipeline")
	}
	pm.ComputePipeline = pipelines[0]
	pm.computeLedgerID = pm.ledger.Track(ResourcePipeline, "tonemap_pipeline")
	return nil
}

func buildShaderGroups() []ShaderGroup {
	unused := ShaderUnused
	return []ShaderGroup{
		{Type: GroupGeneral, General: 0, ClosestHit: unused, AnyHit: unused, Intersection: unused},
		{Type: GroupGeneral, General: 1, ClosestHit: unused, AnyHit: unused, Intersection: unused},
		{Type: GroupGeneral, General: 2, ClosestHit: unused, AnyHit: unused, Intersection: unused},
		{Type: GroupTrianglesHitGroup, General: unused, ClosestHit: 3, AnyHit: 4, Intersection: unused},
		{Type: GroupTrianglesHitGroup, General: unused, ClosestHit: unused, AnyHit: 5, Intersection: unused},
		{Type: GroupTrianglesHitGroup, General: unused, ClosestHit: 3, AnyHit: 6, Intersection: unused},
		{Type: GroupProceduralHitGroup, General: unused, ClosestHit: 3, AnyHit: unused, Intersection: 7},
		{Type: GroupGeneral, General: 8, ClosestHit: unused, AnyHit: unused, Intersection: unused},
	}
}

// beginRTPipeline loads every stage module and submits the create
// through a deferred operation. Drivers may complete synchronously.
func (pm *PipelineManager) beginRTPipeline() error {
	modules := make([]vk.ShaderModule, 0, len(rtShaderOrder))
	stages := make([]ShaderStage, 0, len(rtShaderOrder))
	cleanup := func() {
		for _, module := range modules {
			vk.DestroyShaderModule(pm.device.LogicalDevice, module, nil)
		}
	}
	for _, entry := range rtShaderOrder {
		module, err := pm.createModule(entry.name)
		if err != nil {
			cleanup()
			return err
		}
		modules = append(modules, module)
		stages = append(stages, ShaderStage{Module: module, Stage: entry.stage})
	}

	recursion := Clamp(MAX_RAY_RECURSION, 1, pm.device.RayTracing.MaxRayRecursionDepth)
	info := &RayTracingPipelineInfo{
		Stages:            stages,
		Groups:            buildShaderGroups(),
		MaxRecursionDepth: recursion,
		Layout:            pm.RTPipelineLayout,
	}

	op, result := pm.procs.CreateDeferredOperation(pm.device.LogicalDevice)
	if !ResultIsSuccess(result) {
		cleanup()
		return ResultToError(result, "vulkan.PipelineManager.beginRTPipeline")
	}

	pipeline, result := pm.procs.CreateRayTracingPipeline(pm.device.LogicalDevice, op, pm.cache, info)
	switch result {
	case vk.OperationDeferred:
		pm.pending = &pendingPipeline{op: op, pipeline: pipeline, modules: modules}
		core.LogDebug("ray tracing pipeline creation deferred")
		return nil
	case vk.Success, vk.OperationNotDeferred:
		pm.procs.DestroyDeferredOperation(pm.device.LogicalDevice, op)
		return pm.installRTPipeline(pipeline, modules)
	default:
		pm.procs.DestroyDeferredOperation(pm.device.LogicalDevice, op)
		cleanup()
		return ResultToError(result, "vulkan.PipelineManager.beginRTPipeline")
	}
}

// Poll drives a deferred pipeline creation forward without blocking for
// long. Returns true when the pipeline swapped in this call.
func (pm *PipelineManager) Poll() (bool, error) {
	if pm.pending == nil {
		return false, nil
	}
	result := pm.procs.DeferredOperationJoin(pm.device.LogicalDevice, pm.pending.op)
	switch result {
	case vk.Success:
	case vk.ThreadDone, vk.ThreadIdle:
		// Another thread (the driver) still owns outstanding work.
		return false, nil
	default:
		err := ResultToError(result, "vulkan.PipelineManager.Poll")
		pm.failPending()
		return false, err
	}

	opResult := pm.procs.GetDeferredOperationResult(pm.device.LogicalDevice, pm.pending.op)
	pm.procs.DestroyDeferredOperation(pm.device.LogicalDevice, pm.pending.op)
	pending := pm.pending
	pm.pending = nil
	if !ResultIsSuccess(opResult) {
		for _, module := range pending.modules {
			vk.DestroyShaderModule(pm.device.LogicalDevice, module, nil)
		}
		return false, core.WrapError(core.ErrKindShaderLoad, "vulkan.PipelineManager.Poll",
			ResultToError(opResult, "deferred pipeline creation"))
	}
	if err := pm.installRTPipeline(pending.pipeline, pending.modules); err != nil {
		return false, err
	}
	return true, nil
}

// WaitReady spins the deferred operation until the first ray tracing
// pipeline is installed. Used at startup where there is nothing to
// render yet anyway.
func (pm *PipelineManager) WaitReady() error {
	for pm.RTPipeline == vk.NullPipeline {
		swapped, err := pm.Poll()
		if err != nil {
			return err
		}
		if !swapped && pm.pending == nil && pm.RTPipeline == vk.NullPipeline {
			return core.NewError(core.ErrKindShaderLoad, "vulkan.PipelineManager.WaitReady: no pipeline and no pending creation")
		}
	}
	return nil
}

// installRTPipeline swaps the new pipeline and a freshly built SBT in,
// destroying the previous pair. Replacing a live pipeline idles the
// device; frames in flight may still reference the old SBT buffer.
func (pm *PipelineManager) installRTPipeline(pipeline vk.Pipeline, modules []vk.ShaderModule) error {
	sbt, err := BuildShaderBindingTable(pm.device, pm.procs, pm.ledger, pm.bufferMgr, pipeline,
		RaygenGroupCount, MissGroupCount, HitGroupCount, CallableGroupCount)
	if err != nil {
		vk.DestroyPipeline(pm.device.LogicalDevice, pipeline, nil)
		for _, module := range modules {
			vk.DestroyShaderModule(pm.device.LogicalDevice, module, nil)
		}
		return err
	}

	if pm.RTPipeline != vk.NullPipeline {
		if err := pm.device.WaitIdle(); err != nil {
			core.LogError("device idle before pipeline swap: %v", err)
		}
		vk.DestroyPipeline(pm.device.LogicalDevice, pm.RTPipeline, nil)
		pm.ledger.Release(pm.rtLedgerID)
	}
	pm.SBT.Destroy(pm.device.LogicalDevice, pm.ledger)
	for _, module := range pm.liveModules {
		vk.DestroyShaderModule(pm.device.LogicalDevice, module, nil)
	}

	pm.RTPipeline = pipeline
	pm.SBT = sbt
	pm.liveModules = modules
	pm.rtLedgerID = pm.ledger.Track(ResourcePipeline, "ray_tracing_pipeline")
	pm.Generation++
	core.LogInfo("ray tracing pipeline installed (generation %d)", pm.Generation)
	return nil
}

// RebuildRT begins a fresh deferred creation after a shader reload. The
// current pipeline keeps rendering until the replacement lands. A
// rebuild already pending is abandoned first.
func (pm *PipelineManager) RebuildRT() error {
	if pm.pending != nil {
		pm.abandonPending()
	}
	return pm.beginRTPipeline()
}

// abandonPending drives a pending creation to completion and discards
// the result. Deferred operations cannot be destroyed mid-flight.
func (pm *PipelineManager) abandonPending() {
	for {
		result := pm.procs.DeferredOperationJoin(pm.device.LogicalDevice, pm.pending.op)
		if result != vk.ThreadIdle {
			break
		}
	}
	pm.failPending()
}

func (pm *PipelineManager) failPending() {
	pm.procs.DestroyDeferredOperation(pm.device.LogicalDevice, pm.pending.op)
	if pm.pending.pipeline != vk.NullPipeline {
		vk.DestroyPipeline(pm.device.LogicalDevice, pm.pending.pipeline, nil)
	}
	for _, module := range pm.pending.modules {
		vk.DestroyShaderModule(pm.device.LogicalDevice, module, nil)
	}
	pm.pending = nil
}

func (pm *PipelineManager) createCache() error {
	var initial []byte
	if data, err := os.ReadFile(pm.cachePath); err == nil {
		if blob, err := decompressCacheBlob(data); err == nil {
			initial = blob
			core.LogDebug("pipeline cache: %d bytes from %s", len(blob), pm.cachePath)
		} else {
			core.LogWarn("pipeline cache at %s is corrupt, starting cold: %v", pm.cachePath, err)
		}
	}

	createInfo := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if len(initial) > 0 {
		createInfo.InitialDataSize = uint(len(initial))
		createInfo.PInitialData = unsafe.Pointer(&initial[0])
	}
	if result := vk.CreatePipelineCache(pm.device.LogicalDevice, &createInfo, nil, &pm.cache); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.PipelineManager.createCache")
	}
	return nil
}

// persistCache writes the driver's pipeline cache blob to disk, lz4
// compressed. Failures only cost the next cold start.
func (pm *PipelineManager) persistCache() {
	if pm.cache == vk.NullPipelineCache || pm.cachePath == "" {
		return
	}
	var size uint
	if result := vk.GetPipelineCacheData(pm.device.LogicalDevice, pm.cache, &size, nil); !ResultIsSuccess(result) || size == 0 {
		return
	}
	blob := make([]byte, size)
	if result := vk.GetPipelineCacheData(pm.device.LogicalDevice, pm.cache, &size, unsafe.Pointer(&blob[0])); !ResultIsSuccess(result) {
		return
	}
	compressed, err := compressCacheBlob(blob[:size])
	if err != nil {
		core.LogWarn("pipeline cache compression failed: %v", err)
		return
	}
	if err := os.WriteFile(pm.cachePath, compressed, 0o644); err != nil {
		core.LogWarn("pipeline cache write failed: %v", err)
		return
	}
	core.LogDebug("pipeline cache: persisted %d bytes (%d compressed)", size, len(compressed))
}

func compressCacheBlob(blob []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(blob); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressCacheBlob(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

// Destroy persists the cache and releases every pipeline object.
func (pm *PipelineManager) Destroy() {
	if pm == nil {
		return
	}
	if pm.pending != nil {
		pm.abandonPending()
	}
	pm.persistCache()

	pm.SBT.Destroy(pm.device.LogicalDevice, pm.ledger)
	pm.SBT = nil
	for _, module := range pm.liveModules {
		vk.DestroyShaderModule(pm.device.LogicalDevice, module, nil)
	}
	pm.liveModules = nil
	if pm.RTPipeline != vk.NullPipeline {
		vk.DestroyPipeline(pm.device.LogicalDevice, pm.RTPipeline, nil)
		pm.RTPipeline = vk.NullPipeline
		pm.ledger.Release(pm.rtLedgerID)
	}
	if pm.ComputePipeline != vk.NullPipeline {
		vk.DestroyPipeline(pm.device.LogicalDevice, pm.ComputePipeline, nil)
		pm.ComputePipeline = vk.NullPipeline
		pm.ledger.Release(pm.computeLedgerID)
	}
	if pm.RTPipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(pm.device.LogicalDevice, pm.RTPipelineLayout, nil)
		pm.RTPipelineLayout = vk.NullPipelineLayout
	}
	if pm.ComputePipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(pm.device.LogicalDevice, pm.ComputePipelineLayout, nil)
		pm.ComputePipelineLayout = vk.NullPipelineLayout
	}
	if pm.cache != vk.NullPipelineCache {
		vk.DestroyPipelineCache(pm.device.LogicalDevice, pm.cache, nil)
		pm.cache = vk.NullPipelineCache
	}
}
