package vulkan

import (
	vk "github.com/goki/vulkan"
	"golang.org/x/exp/constraints"

	"github.com/pixelcollider/lumen/engine/core"
)

// ResultString names a VkResult for log output.
func ResultString(result vk.Result) string {
	switch result {
	case vk.Success:
		return "VK_SUCCESS"
	case vk.NotReady:
		return "VK_NOT_READY"
	case vk.Timeout:
		return "VK_TIMEOUT"
	case vk.Incomplete:
		return "VK_INCOMPLETE"
	case vk.Suboptimal:
		return "VK_SUBOPTIMAL_KHR"
	case vk.ThreadIdle:
		return "VK_THREAD_IDLE_KHR"
	case vk.ThreadDone:
		return "VK_THREAD_DONE_KHR"
	case vk.OperationDeferred:
		return "VK_OPERATION_DEFERRED_KHR"
	case vk.OperationNotDeferred:
		return "VK_OPERATION_NOT_DEFERRED_KHR"
	case vk.ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY"
	case vk.ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY"
	case vk.ErrorInitializationFailed:
		return "VK_ERROR_INITIALIZATION_FAILED"
	case vk.ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST"
	case vk.ErrorMemoryMapFailed:
		return "VK_ERROR_MEMORY_MAP_FAILED"
	case vk.ErrorLayerNotPresent:
		return "VK_ERROR_LAYER_NOT_PRESENT"
	case vk.ErrorExtensionNotPresent:
		return "VK_ERROR_EXTENSION_NOT_PRESENT"
	case vk.ErrorFeatureNotPresent:
		return "VK_ERROR_FEATURE_NOT_PRESENT"
	case vk.ErrorIncompatibleDriver:
		return "VK_ERROR_INCOMPATIBLE_DRIVER"
	case vk.ErrorFormatNotSupported:
		return "VK_ERROR_FORMAT_NOT_SUPPORTED"
	case vk.ErrorSurfaceLost:
		return "VK_ERROR_SURFACE_LOST_KHR"
	case vk.ErrorOutOfDate:
		return "VK_ERROR_OUT_OF_DATE_KHR"
	case vk.ErrorOutOfPoolMemory:
		return "VK_ERROR_OUT_OF_POOL_MEMORY"
	case vk.ErrorFragmentation:
		return "VK_ERROR_FRAGMENTATION"
	case vk.ErrorUnknown:
		return "VK_ERROR_UNKNOWN"
	default:
		return "VK_<unrecognized>"
	}
}

// ResultIsSuccess reports whether the result is one of the non-error
// codes.
func ResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

// ResultToError maps a VkResult onto the core error taxonomy. Success
// codes map to nil.
func ResultToError(result vk.Result, op string) error {
	if ResultIsSuccess(result) {
		return nil
	}
	kind := core.ErrKindUnknown
	switch result {
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfPoolMemory, vk.ErrorFragmentation:
		kind = core.ErrKindOutOfMemory
	case vk.ErrorDeviceLost:
		kind = core.ErrKindDeviceLost
	case vk.ErrorOutOfDate, vk.ErrorSurfaceLost:
		kind = core.ErrKindTransient
	case vk.ErrorExtensionNotPresent, vk.ErrorFeatureNotPresent, vk.ErrorFormatNotSupported, vk.ErrorLayerNotPresent, vk.ErrorIncompatibleDriver:
		kind = core.ErrKindUnsupported
	}
	return core.Errorf(kind, op, "%s", ResultString(result))
}

// AlignUp rounds value up to the next multiple of alignment. alignment
// must be a power of two.
func AlignUp[T constraints.Unsigned](value, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

// Clamp bounds value to [lo, hi].
func Clamp[T constraints.Ordered](value, lo, hi T) T {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

var end = "\x00"
var endChar byte = '\x00'

// SafeString null-terminates s for the C side.
func SafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

// SafeStrings null-terminates every element in place.
func SafeStrings(list []string) []string {
	for i := range list {
		list[i] = SafeString(list[i])
	}
	return list
}

// FindFirstZeroInByteArray locates the C string terminator in a
// fixed-size property array.
func FindFirstZeroInByteArray(arr []byte) int {
	for i, b := range arr {
		if b == 0 {
			return i
		}
	}
	return len(arr)
}
