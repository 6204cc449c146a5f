package scene

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/pixelcollider/lumen/engine/core"
)

// MeshData is what the geometry collaborator hands the renderer: positions
// and triangle indices, nothing else. Uploading turns it into device
// buffer ranges.
type MeshData struct {
	Name     string
	Vertices []mgl32.Vec3
	Indices  []uint32
}

// Validate rejects meshes the acceleration structure builder cannot
// consume.
func (m *MeshData) Validate() error {
	if len(m.Vertices) == 0 {
		return core.Errorf(core.ErrKindInvalidInput, "scene.MeshData", "mesh %q has no vertices", m.Name)
	}
	if len(m.Indices) == 0 || len(m.Indices)%3 != 0 {
		return core.Errorf(core.ErrKindInvalidInput, "scene.MeshData", "mesh %q has %d indices, want a positive multiple of 3", m.Name, len(m.Indices))
	}
	for _, idx := range m.Indices {
		if idx >= uint32(len(m.Vertices)) {
			return core.Errorf(core.ErrKindInvalidInput, "scene.MeshData", "mesh %q index %d out of range", m.Name, idx)
		}
	}
	return nil
}

// TriangleCount is the primitive count the BLAS build range uses.
func (m *MeshData) TriangleCount() uint32 {
	return uint32(len(m.Indices) / 3)
}

// Instance places a mesh in the world. The transform feeds the TLAS
// instance record as a row-major 3x4.
type Instance struct {
	MeshIndex uint32
	Transform mgl32.Mat4
	Mask      uint8
	SBTOffset uint32
}

// NewInstance places mesh meshIndex with the given transform, visible to
// every ray mask.
func NewInstance(meshIndex uint32, transform mgl32.Mat4) Instance {
	return Instance{
		MeshIndex: meshIndex,
		Transform: transform,
		Mask:      0xFF,
	}
}

// TransformRows34 converts the column-major mgl32 matrix into the
// row-major 3x4 layout acceleration structure instances expect.
func (in *Instance) TransformRows34() [12]float32 {
	m := in.Transform
	var out [12]float32
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			out[row*4+col] = m.At(row, col)
		}
	}
	return out
}

// Triangle returns the smallest traceable scene: one triangle in the XY
// plane.
func Triangle() *MeshData {
	return &MeshData{
		Name: "triangle",
		Vertices: []mgl32.Vec3{
			{-0.5, -0.5, 0},
			{0.5, -0.5, 0},
			{0, 0.5, 0},
		},
		Indices: []uint32{0, 1, 2},
	}
}
