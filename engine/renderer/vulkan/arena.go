package vulkan

import (
	"sort"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/pixelcollider/lumen/engine/core"
)

// arenaAlignment keeps every sub-allocation aligned for both vertex
// fetch and acceleration structure build input.
const arenaAlignment vk.DeviceSize = 256

// ArenaBlock is one sub-allocated range inside the geometry arena.
type ArenaBlock struct {
	Offset vk.DeviceSize
	Size   vk.DeviceSize
}

// GeometryArena is a single device-local buffer that parcels out ranges
// for mesh vertex and index data. One buffer for all geometry keeps the
// device address space dense and avoids per-mesh allocations.
type GeometryArena struct {
	mu     sync.Mutex
	buffer *ManagedBuffer
	free   []ArenaBlock
}

// NewGeometryArena allocates the backing buffer. Usage covers transfer
// destination, storage reads from hit shaders and acceleration structure
// build input.
func NewGeometryArena(device *Device, procs *ProcTable, ledger *ResourceLedger) (*GeometryArena, error) {
	usage := vk.BufferUsageFlags(vk.BufferUsageTransferDstBit) |
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit) |
		vk.BufferUsageFlags(BufferUsageShaderDeviceAddressBit) |
		vk.BufferUsageFlags(BufferUsageAccelStructBuildInputReadOnlyBit)
	buffer, err := NewManagedBuffer(device, procs, ledger, "geometry_arena",
		GEOMETRY_ARENA_SIZE, usage, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, err
	}
	return &GeometryArena{
		buffer: buffer,
		free:   []ArenaBlock{{Offset: 0, Size: GEOMETRY_ARENA_SIZE}},
	}, nil
}

// Allocate carves an aligned block out of the first free range that fits.
func (a *GeometryArena) Allocate(size vk.DeviceSize) (ArenaBlock, error) {
	if size == 0 {
		return ArenaBlock{}, core.Errorf(core.ErrKindInvalidInput, "vulkan.GeometryArena.Allocate", "zero-size allocation")
	}
	size = AlignUp(size, arenaAlignment)

	a.mu.Lock()
	defer a.mu.Unlock()
	for i, block := range a.free {
		if block.Size < size {
			continue
		}
		allocated := ArenaBlock{Offset: block.Offset, Size: size}
		if block.Size == size {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = ArenaBlock{Offset: block.Offset + size, Size: block.Size - size}
		}
		return allocated, nil
	}
	return ArenaBlock{}, core.Errorf(core.ErrKindOutOfMemory, "vulkan.GeometryArena.Allocate",
		"no free range of %d bytes in %d byte arena", size, GEOMETRY_ARENA_SIZE)
}

// Free returns a block to the arena and coalesces adjacent free ranges.
func (a *GeometryArena) Free(block ArenaBlock) {
	if block.Size == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.free = append(a.free, block)
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].Offset < a.free[j].Offset })

	merged := a.free[:1]
	for _, next := range a.free[1:] {
		last := &merged[len(merged)-1]
		if last.Offset+last.Size == next.Offset {
			last.Size += next.Size
		} else {
			merged = append(merged, next)
		}
	}
	a.free = merged
}

// FreeBytes reports the total unallocated space.
func (a *GeometryArena) FreeBytes() vk.DeviceSize {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total vk.DeviceSize
	for _, block := range a.free {
		total += block.Size
	}
	return total
}

// Buffer exposes the backing buffer for copy commands and descriptors.
func (a *GeometryArena) Buffer() *ManagedBuffer {
	return a.buffer
}

// Address resolves a block to its device address for build input.
func (a *GeometryArena) Address(block ArenaBlock) DeviceAddress {
	return a.buffer.Address + DeviceAddress(block.Offset)
}

// Destroy releases the backing buffer.
func (a *GeometryArena) Destroy(device vk.Device, ledger *ResourceLedger) {
	if a == nil {
		return
	}
	a.buffer.Destroy(device, ledger)
	a.free = nil
}
