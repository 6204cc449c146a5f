package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/pixelcollider/lumen/engine/core"
)

// Fence wraps a VkFence together with its signaled bookkeeping so waits
// can be skipped when the fence is already known signaled.
type Fence struct {
	Handle     vk.Fence
	IsSignaled bool
}

// NewFence creates a fence, optionally in the signaled state. Frame fences
// start signaled so the first frame does not block.
func NewFence(device vk.Device, createSignaled bool) (*Fence, error) {
	fence := &Fence{
		IsSignaled: createSignaled,
	}
	createInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		createInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var handle vk.Fence
	if result := vk.CreateFence(device, &createInfo, nil, &handle); !ResultIsSuccess(result) {
		return nil, ResultToError(result, "vulkan.NewFence")
	}
	fence.Handle = handle
	return fence, nil
}

// Wait blocks until the fence signals or timeoutNS elapses. A timeout is
// reported as a transient error so the frame loop can decide whether the
// device is hung.
func (f *Fence) Wait(device vk.Device, timeoutNS uint64) error {
	if f.IsSignaled {
		return nil
	}
	result := vk.WaitForFences(device, 1, []vk.Fence{f.Handle}, vk.True, timeoutNS)
	switch result {
	case vk.Success:
		f.IsSignaled = true
		return nil
	case vk.Timeout:
		return core.Errorf(core.ErrKindTransient, "vulkan.Fence.Wait", "fence wait timed out after %d ns", timeoutNS)
	default:
		return ResultToError(result, "vulkan.Fence.Wait")
	}
}

// Status polls the fence without blocking.
func (f *Fence) Status(device vk.Device) (bool, error) {
	if f.IsSignaled {
		return true, nil
	}
	result := vk.GetFenceStatus(device, f.Handle)
	switch result {
	case vk.Success:
		f.IsSignaled = true
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, ResultToError(result, "vulkan.Fence.Status")
	}
}

// Reset returns the fence to the unsignaled state before reuse.
func (f *Fence) Reset(device vk.Device) error {
	if result := vk.ResetFences(device, 1, []vk.Fence{f.Handle}); !ResultIsSuccess(result) {
		return ResultToError(result, "vulkan.Fence.Reset")
	}
	f.IsSignaled = false
	return nil
}

// Destroy releases the fence. Safe to call on a zero-value fence.
func (f *Fence) Destroy(device vk.Device) {
	if f.Handle != vk.NullFence {
		vk.DestroyFence(device, f.Handle, nil)
		f.Handle = vk.NullFence
	}
	f.IsSignaled = false
}
