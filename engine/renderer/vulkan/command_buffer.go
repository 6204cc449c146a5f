package vulkan

import (
	vk "github.com/goki/vulkan"
)

type CommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// CommandBuffer wraps a VkCommandBuffer with a state machine so misuse
// (ending a buffer that never began, resubmitting a recording buffer)
// surfaces in debugging instead of as driver errors.
type CommandBuffer struct {
	Handle vk.CommandBuffer
	State  CommandBufferState
}

// Allocate takes a primary command buffer from pool.
func (cb *CommandBuffer) Allocate(device vk.Device, pool vk.CommandPool) error {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cb.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
	handles := make([]vk.CommandBuffer, 1)
	if result := vk.AllocateCommandBuffers(device, &allocInfo, handles); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.CommandBuffer.Allocate")
	}
	cb.Handle = handles[0]
	cb.State = COMMAND_BUFFER_STATE_READY
	return nil
}

// Free returns the buffer to its pool.
func (cb *CommandBuffer) Free(device vk.Device, pool vk.CommandPool) {
	if cb.Handle != nil {
		vk.FreeCommandBuffers(device, pool, 1, []vk.CommandBuffer{cb.Handle})
	}
	cb.Handle = nil
	cb.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

// Begin starts recording. Frame recorders pass oneTimeSubmit since every
// frame re-records from scratch.
func (cb *CommandBuffer) Begin(oneTimeSubmit bool) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTimeSubmit {
		beginInfo.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if result := vk.BeginCommandBuffer(cb.Handle, &beginInfo); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.CommandBuffer.Begin")
	}
	cb.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

// End finishes recording.
func (cb *CommandBuffer) End() error {
	if result := vk.EndCommandBuffer(cb.Handle); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.CommandBuffer.End")
	}
	cb.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

// Reset moves a submitted buffer back to ready once its fence has
// signaled. The pool is created with the reset bit so the buffer itself
// can be re-begun.
func (cb *CommandBuffer) Reset() {
	cb.State = COMMAND_BUFFER_STATE_READY
}

// MarkSubmitted records that the buffer is in flight.
func (cb *CommandBuffer) MarkSubmitted() {
	cb.State = COMMAND_BUFFER_STATE_SUBMITTED
}

// AllocateAndBeginSingleUse prepares a throwaway buffer for a one-shot
// upload or build submission.
func AllocateAndBeginSingleUse(device vk.Device, pool vk.CommandPool) (*CommandBuffer, error) {
	cb := &CommandBuffer{}
	if err := cb.Allocate(device, pool); err != nil {
		return nil, err
	}
	if err := cb.Begin(true); err != nil {
		cb.Free(device, pool)
		return nil, err
	}
	return cb, nil
}

// EndSingleUse submits the buffer on queue and, when fence is nil, blocks
// until the queue drains before freeing it. With a fence the caller owns
// completion tracking and must free the buffer afterwards.
func (cb *CommandBuffer) EndSingleUse(device vk.Device, pool vk.CommandPool, queue vk.Queue, fence *Fence) error {
	if err := cb.End(); err != nil {
		return err
	}
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	var fenceHandle vk.Fence
	if fence != nil {
		fenceHandle = fence.Handle
	}
	if result := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fenceHandle); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.CommandBuffer.EndSingleUse")
	}
	cb.MarkSubmitted()
	if fence != nil {
		return nil
	}
	if result := vk.QueueWaitIdle(queue); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.CommandBuffer.EndSingleUse")
	}
	cb.Free(device, pool)
	return nil
}
