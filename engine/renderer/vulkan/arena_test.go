package vulkan

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"

	"github.com/pixelcollider/lumen/engine/core"
)

func testArena(size vk.DeviceSize) *GeometryArena {
	return &GeometryArena{
		free: []ArenaBlock{{Offset: 0, Size: size}},
	}
}

func TestArenaAllocateAligns(t *testing.T) {
	arena := testArena(4096)

	block, err := arena.Allocate(100)
	if err != nil {
		t.Fatal(err)
	}
	if block.Offset != 0 || block.Size != arenaAlignment {
		t.Fatalf("block = %+v, want offset 0 size %d", block, arenaAlignment)
	}

	second, err := arena.Allocate(300)
	if err != nil {
		t.Fatal(err)
	}
	if second.Offset != 256 || second.Size != 512 {
		t.Fatalf("second block = %+v, want offset 256 size 512", second)
	}
}

func TestArenaAllocateZero(t *testing.T) {
	arena := testArena(4096)
	if _, err := arena.Allocate(0); core.KindOf(err) != core.ErrKindInvalidInput {
		t.Fatalf("zero allocation error = %v, want invalid input", err)
	}
}

func TestArenaExhaustion(t *testing.T) {
	arena := testArena(1024)
	if _, err := arena.Allocate(512); err != nil {
		t.Fatal(err)
	}
	_, err := arena.Allocate(1024)
	if core.KindOf(err) != core.ErrKindOutOfMemory {
		t.Fatalf("exhaustion error = %v, want out of memory", err)
	}
}

func TestArenaFreeCoalesces(t *testing.T) {
	arena := testArena(1024)
	a, _ := arena.Allocate(256)
	b, _ := arena.Allocate(256)
	c, _ := arena.Allocate(256)

	if got := arena.FreeBytes(); got != 256 {
		t.Fatalf("free bytes after allocations = %d, want 256", got)
	}

	// Free out of order; adjacent ranges must merge back into one.
	arena.Free(c)
	arena.Free(a)
	arena.Free(b)

	if got := arena.FreeBytes(); got != 1024 {
		t.Fatalf("free bytes after frees = %d, want 1024", got)
	}
	if _, err := arena.Allocate(1024); err != nil {
		t.Fatalf("full-size allocation after coalesce failed: %v", err)
	}
}

func TestArenaFreeZeroBlock(t *testing.T) {
	arena := testArena(1024)
	arena.Free(ArenaBlock{})
	if got := arena.FreeBytes(); got != 1024 {
		t.Fatalf("free bytes = %d, want 1024", got)
	}
}

func TestPackVertices(t *testing.T) {
	out := packVertices([]mgl32.Vec3{{1, 2, 3}, {-0.5, 0, 4}})
	if len(out) != 2*VertexStrideBytes {
		t.Fatalf("packed length = %d, want %d", len(out), 2*VertexStrideBytes)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(out[0:])); got != 1 {
		t.Errorf("v0.x = %f, want 1", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(out[12:])); got != -0.5 {
		t.Errorf("v1.x = %f, want -0.5", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(out[20:])); got != 4 {
		t.Errorf("v1.z = %f, want 4", got)
	}
}

func TestPackIndices(t *testing.T) {
	out := packIndices([]uint32{0, 1, 0xFFFF0002})
	if len(out) != 12 {
		t.Fatalf("packed length = %d, want 12", len(out))
	}
	if got := binary.LittleEndian.Uint32(out[8:]); got != 0xFFFF0002 {
		t.Errorf("index 2 = %#x", got)
	}
}
