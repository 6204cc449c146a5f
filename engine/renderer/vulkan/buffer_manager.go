package vulkan

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"

	"github.com/pixelcollider/lumen/engine/core"
	"github.com/pixelcollider/lumen/engine/scene"
)

// MeshBuffers is the uploaded GPU residence of one mesh: vertex and index
// ranges inside the geometry arena plus their device addresses for
// acceleration structure builds.
type MeshBuffers struct {
	Vertex ArenaBlock
	Index  ArenaBlock

	VertexAddress DeviceAddress
	IndexAddress  DeviceAddress

	VertexCount uint32
	IndexCount  uint32
}

// BufferManager owns the staging pool and the geometry arena and moves
// mesh data onto the device. Uploads larger than the pool are split into
// pool-sized chunks rather than allocating transient staging buffers.
type BufferManager struct {
	device *Device
	procs  *ProcTable
	ledger *ResourceLedger

	arena   *GeometryArena
	staging *ManagedBuffer
}

func NewBufferManager(device *Device, procs *ProcTable, ledger *ResourceLedger) (*BufferManager, error) {
	arena, err := NewGeometryArena(device, procs, ledger)
	if err != nil {
		return nil, err
	}
	staging, err := NewManagedBuffer(device, procs, ledger, "staging_pool",
		STAGING_POOL_SIZE,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		arena.Destroy(device.LogicalDevice, ledger)
		return nil, err
	}
	if err := staging.Map(device.LogicalDevice); err != nil {
		staging.Destroy(device.LogicalDevice, ledger)
		arena.Destroy(device.LogicalDevice, ledger)
		return nil, err
	}
	return &BufferManager{
		device:  device,
		procs:   procs,
		ledger:  ledger,
		arena:   arena,
		staging: staging,
	}, nil
}

// Arena exposes the geometry arena for descriptor binding.
func (bm *BufferManager) Arena() *GeometryArena {
	return bm.arena
}

// Upload copies data into dst at dstOffset through the staging pool,
// splitting into pool-sized chunks when needed. Each chunk submission
// waits for the transfer queue to drain before the staging range is
// reused.
func (bm *BufferManager) Upload(dst *ManagedBuffer, dstOffset vk.DeviceSize, data []byte) error {
	remaining := data
	offset := dstOffset
	for len(remaining) > 0 {
		chunk := remaining
		if vk.DeviceSize(len(chunk)) > STAGING_POOL_SIZE {
			chunk = chunk[:STAGING_POOL_SIZE]
		}
		if err := bm.staging.WriteAt(0, chunk); err != nil {
			return err
		}
		if err := bm.copyBuffer(bm.staging.Handle, dst.Handle, 0, offset, vk.DeviceSize(len(chunk))); err != nil {
			return err
		}
		offset += vk.DeviceSize(len(chunk))
		remaining = remaining[len(chunk):]
	}
	return nil
}

func (bm *BufferManager) copyBuffer(src, dst vk.Buffer, srcOffset, dstOffset, size vk.DeviceSize) error {
	cb, err := AllocateAndBeginSingleUse(bm.device.LogicalDevice, bm.device.GraphicsCommandPool)
	if err != nil {
		return err
	}
	region := vk.BufferCopy{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}
	vk.CmdCopyBuffer(cb.Handle, src, dst, 1, []vk.BufferCopy{region})
	return cb.EndSingleUse(bm.device.LogicalDevice, bm.device.GraphicsCommandPool, bm.device.GraphicsQueue, nil)
}

// UploadMesh validates the mesh, allocates arena ranges for its vertex
// and index data and uploads both. The returned addresses feed the BLAS
// build.
func (bm *BufferManager) UploadMesh(mesh *scene.MeshData) (*MeshBuffers, error) {
	if err := mesh.Validate(); err != nil {
		return nil, err
	}

	vertexBytes := packVertices(mesh.Vertices)
	indexBytes := packIndices(mesh.Indices)

	vertexBlock, err := bm.arena.Allocate(vk.DeviceSize(len(vertexBytes)))
	if err != nil {
		return nil, err
	}
	indexBlock, err := bm.arena.Allocate(vk.DeviceSize(len(indexBytes)))
	if err != nil {
		bm.arena.Free(vertexBlock)
		return nil, err
	}

	if err := bm.Upload(bm.arena.Buffer(), vertexBlock.Offset, vertexBytes); err != nil {
		bm.arena.Free(vertexBlock)
		bm.arena.Free(indexBlock)
		return nil, err
	}
	if err := bm.Upload(bm.arena.Buffer(), indexBlock.Offset, indexBytes); err != nil {
		bm.arena.Free(vertexBlock)
		bm.arena.Free(indexBlock)
		return nil, err
	}

	core.LogDebug("uploaded mesh %q: %d vertices, %d indices", mesh.Name, len(mesh.Vertices), len(mesh.Indices))
	return &MeshBuffers{
		Vertex:        vertexBlock,
		Index:         indexBlock,
		VertexAddress: bm.arena.Address(vertexBlock),
		IndexAddress:  bm.arena.Address(indexBlock),
		VertexCount:   uint32(len(mesh.Vertices)),
		IndexCount:    uint32(len(mesh.Indices)),
	}, nil
}

// ReleaseMesh returns a mesh's arena ranges. The caller guarantees no
// in-flight frame still traces against the ranges.
func (bm *BufferManager) ReleaseMesh(buffers *MeshBuffers) {
	if buffers == nil {
		return
	}
	bm.arena.Free(buffers.Vertex)
	bm.arena.Free(buffers.Index)
}

// Destroy tears down the staging pool and the arena.
func (bm *BufferManager) Destroy() {
	if bm == nil {
		return
	}
	bm.staging.Destroy(bm.device.LogicalDevice, bm.ledger)
	bm.arena.Destroy(bm.device.LogicalDevice, bm.ledger)
}

// VertexStrideBytes is the tightly packed position-only vertex layout.
const VertexStrideBytes = 12

func packVertices(vertices []mgl32.Vec3) []byte {
	out := make([]byte, len(vertices)*VertexStrideBytes)
	for i, v := range vertices {
		binary.LittleEndian.PutUint32(out[i*12:], math.Float32bits(v.X()))
		binary.LittleEndian.PutUint32(out[i*12+4:], math.Float32bits(v.Y()))
		binary.LittleEndian.PutUint32(out[i*12+8:], math.Float32bits(v.Z()))
	}
	return out
}

func packIndices(indices []uint32) []byte {
	out := make([]byte, len(indices)*4)
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(out[i*4:], idx)
	}
	return out
}
