package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/pixelcollider/lumen/engine/core"
	"github.com/pixelcollider/lumen/engine/scene"
)

// TLAS is one built top-level structure. A zero Handle is the legal
// empty-scene sentinel: descriptors are still written and the miss
// shader produces every pixel.
type TLAS struct {
	Handle         AccelerationStructure
	Buffer         *ManagedBuffer
	InstanceBuffer *ManagedBuffer
	InstanceCount  uint32

	ledgerID uuid.UUID
}

func (t *TLAS) destroy(device vk.Device, procs *ProcTable, ledger *ResourceLedger) {
	if t == nil {
		return
	}
	if t.Handle != 0 {
		procs.DestroyAccelerationStructure(device, t.Handle)
		t.Handle = 0
	}
	t.Buffer.Destroy(device, ledger)
	t.InstanceBuffer.Destroy(device, ledger)
	ledger.Release(t.ledgerID)
	t.ledgerID = uuid.Nil
}

// pendingBuild is an in-flight TLAS rebuild. The scratch and instance
// buffers stay alive until the fence signals; the command buffer is
// freed at the same point.
type pendingBuild struct {
	fence   *Fence
	cb      *CommandBuffer
	scratch *ManagedBuffer
	tlas    *TLAS
}

type retiredTLAS struct {
	tlas  *TLAS
	frame uint64
}

// TLASManager rebuilds the top-level structure asynchronously. Frames
// keep tracing against the active TLAS until a pending rebuild's fence
// signals, at which point the structures swap and the old one is retired
// until every frame that referenced it has drained.
type TLASManager struct {
	device  *Device
	procs   *ProcTable
	ledger  *ResourceLedger
	builder *AccelBuilder
	bus     *core.EventBus

	active  *TLAS
	pending *pendingBuild
	retired []retiredTLAS

	// Generation increments on every swap so descriptor sets know to
	// rewrite binding 0.
	Generation uint64
}

func NewTLASManager(device *Device, procs *ProcTable, ledger *ResourceLedger, builder *AccelBuilder, bus *core.EventBus) *TLASManager {
	return &TLASManager{
		device:  device,
		procs:   procs,
		ledger:  ledger,
		builder: builder,
		bus:     bus,
	}
}

// Active returns the TLAS frames should trace against, nil before the
// first build completes.
func (tm *TLASManager) Active() *TLAS {
	return tm.active
}

// SubmitRebuild starts an asynchronous rebuild over the given instances.
// A rebuild already in flight is cancelled first; its resources are
// reclaimed after a bounded wait. An empty instance list completes
// immediately with the null-structure sentinel.
func (tm *TLASManager) SubmitRebuild(instances []scene.Instance, blases []*BLAS, currentFrame uint64) error {
	if err := tm.cancelPending(); err != nil {
		return err
	}

	if len(instances) == 0 {
		tm.swapIn(&TLAS{}, currentFrame)
		core.LogDebug("TLAS rebuild: empty scene, installed null structure")
		return nil
	}

	addresses := make([]DeviceAddress, len(blases))
	for i, blas := range blases {
		addresses[i] = blas.Address
	}
	records, err := PackInstances(instances, addresses)
	if err != nil {
		return err
	}

	instanceBuffer, err := NewManagedBuffer(tm.device, tm.procs, tm.ledger, "tlas_instances",
		vk.DeviceSize(len(records)),
		vk.BufferUsageFlags(BufferUsageShaderDeviceAddressBit)|vk.BufferUsageFlags(BufferUsageAccelStructBuildInputReadOnlyBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return err
	}
	if err := instanceBuffer.Map(tm.device.LogicalDevice); err != nil {
		instanceBuffer.Destroy(tm.device.LogicalDevice, tm.ledger)
		return err
	}
	if err := instanceBuffer.WriteAt(0, records); err != nil {
		instanceBuffer.Destroy(tm.device.LogicalDevice, tm.ledger)
		return err
	}

	count := uint32(len(instances))
	sizes := tm.procs.GetTLASBuildSizes(tm.device.LogicalDevice, BuildFlagPreferFastTrace, count)

	buffer, err := tm.builder.newAccelBuffer("tlas", sizes.AccelerationStructureSize)
	if err != nil {
		instanceBuffer.Destroy(tm.device.LogicalDevice, tm.ledger)
		return err
	}
	handle, result := tm.procs.CreateAccelerationStructure(tm.device.LogicalDevice,
		buffer.Handle, 0, sizes.AccelerationStructureSize, AccelerationStructureTopLevel)
	if !ResultIsSuccess(result) {
		buffer.Destroy(tm.device.LogicalDevice, tm.ledger)
		instanceBuffer.Destroy(tm.device.LogicalDevice, tm.ledger)
		return ResultToError(result, "vulkan.TLASManager.SubmitRebuild")
	}
	newTLAS := &TLAS{
		Handle:         handle,
		Buffer:         buffer,
		InstanceBuffer: instanceBuffer,
		InstanceCount:  count,
		ledgerID:       tm.ledger.Track(ResourceAccelStruct, "tlas"),
	}

	scratch, err := tm.builder.newScratchBuffer(sizes.BuildScratchSize)
	if err != nil {
		newTLAS.destroy(tm.device.LogicalDevice, tm.procs, tm.ledger)
		return err
	}

	fence, err := NewFence(tm.device.LogicalDevice, false)
	if err != nil {
		scratch.Destroy(tm.device.LogicalDevice, tm.ledger)
		newTLAS.destroy(tm.device.LogicalDevice, tm.procs, tm.ledger)
		return err
	}
	cb, err := AllocateAndBeginSingleUse(tm.device.LogicalDevice, tm.device.GraphicsCommandPool)
	if err != nil {
		fence.Destroy(tm.device.LogicalDevice)
		scratch.Destroy(tm.device.LogicalDevice, tm.ledger)
		newTLAS.destroy(tm.device.LogicalDevice, tm.procs, tm.ledger)
		return err
	}
	tm.procs.CmdBuildTLAS(cb.Handle, handle, scratch.Address, BuildFlagPreferFastTrace,
		InstancesGeometry{Address: instanceBuffer.Address, Count: count})
	recordBuildBarrier(cb.Handle)
	if err := cb.EndSingleUse(tm.device.LogicalDevice, tm.device.GraphicsCommandPool, tm.device.GraphicsQueue, fence); err != nil {
		cb.Free(tm.device.LogicalDevice, tm.device.GraphicsCommandPool)
		fence.Destroy(tm.device.LogicalDevice)
		scratch.Destroy(tm.device.LogicalDevice, tm.ledger)
		newTLAS.destroy(tm.device.LogicalDevice, tm.procs, tm.ledger)
		return core.WrapError(core.ErrKindDeferredOp, "vulkan.TLASManager.SubmitRebuild", err)
	}

	tm.pending = &pendingBuild{
		fence:   fence,
		cb:      cb,
		scratch: scratch,
		tlas:    newTLAS,
	}
	core.LogDebug("TLAS rebuild submitted: %d instances, %d bytes", count, sizes.AccelerationStructureSize)
	return nil
}

// Poll checks the pending rebuild without blocking. It returns true when
// a swap happened this call. Failure keeps the previous TLAS installed.
func (tm *TLASManager) Poll(currentFrame uint64) (bool, error) {
	if tm.pending == nil {
		return false, nil
	}
	done, err := tm.pending.fence.Status(tm.device.LogicalDevice)
	if err != nil {
		pendingErr := core.WrapError(core.ErrKindDeferredOp, "vulkan.TLASManager.Poll", err)
		tm.releasePending(true)
		return false, pendingErr
	}
	if !done {
		return false, nil
	}

	newTLAS := tm.pending.tlas
	tm.releasePending(false)
	tm.swapIn(newTLAS, currentFrame)
	return true, nil
}

func (tm *TLASManager) swapIn(newTLAS *TLAS, currentFrame uint64) {
	if tm.active != nil {
		tm.retired = append(tm.retired, retiredTLAS{tlas: tm.active, frame: currentFrame})
	}
	tm.active = newTLAS
	tm.Generation++

	var data core.EventContext
	data.Data.U64[0] = tm.Generation
	tm.bus.Fire(core.EVENT_CODE_TLAS_READY, tm, data)
}

// releasePending frees the command buffer and scratch; destroyTLAS also
// drops the freshly built structure (cancellation and failure paths).
func (tm *TLASManager) releasePending(destroyTLAS bool) {
	p := tm.pending
	if p == nil {
		return
	}
	p.cb.Free(tm.device.LogicalDevice, tm.device.GraphicsCommandPool)
	p.fence.Destroy(tm.device.LogicalDevice)
	p.scratch.Destroy(tm.device.LogicalDevice, tm.ledger)
	if destroyTLAS {
		p.tlas.destroy(tm.device.LogicalDevice, tm.procs, tm.ledger)
	}
	tm.pending = nil
}

// cancelPending waits out an in-flight build before discarding it. The
// wait is bounded; a device that cannot finish a build inside the build
// timeout is treated as failed.
func (tm *TLASManager) cancelPending() error {
	if tm.pending == nil {
		return nil
	}
	if err := tm.pending.fence.Wait(tm.device.LogicalDevice, BUILD_WAIT_TIMEOUT_NS); err != nil {
		tm.releasePending(true)
		return core.WrapError(core.ErrKindDeferredOp, "vulkan.TLASManager.cancelPending", err)
	}
	tm.releasePending(true)
	return nil
}

// CollectRetired destroys retired structures no in-flight frame can
// still reference: those retired at least MAX_FRAMES_IN_FLIGHT frames
// before the last completed frame.
func (tm *TLASManager) CollectRetired(completedFrame uint64) {
	keep := tm.retired[:0]
	for _, entry := range tm.retired {
		if entry.frame+uint64(MAX_FRAMES_IN_FLIGHT) <= completedFrame {
			entry.tlas.destroy(tm.device.LogicalDevice, tm.procs, tm.ledger)
		} else {
			keep = append(keep, entry)
		}
	}
	tm.retired = keep
}

// Destroy cancels any pending build and releases every structure. The
// caller has already idled the device.
func (tm *TLASManager) Destroy() {
	if tm == nil {
		return
	}
	if tm.pending != nil {
		if err := tm.pending.fence.Wait(tm.device.LogicalDevice, BUILD_WAIT_TIMEOUT_NS); err != nil {
			core.LogError("pending TLAS build did not finish during shutdown: %v", err)
		}
		tm.releasePending(true)
	}
	for _, entry := range tm.retired {
		entry.tlas.destroy(tm.device.LogicalDevice, tm.procs, tm.ledger)
	}
	tm.retired = nil
	if tm.active != nil {
		tm.active.destroy(tm.device.LogicalDevice, tm.procs, tm.ledger)
		tm.active = nil
	}
}
