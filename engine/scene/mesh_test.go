package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pixelcollider/lumen/engine/core"
)

func TestMeshValidate(t *testing.T) {
	if err := Triangle().Validate(); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		mesh MeshData
	}{
		{"no vertices", MeshData{Name: "empty", Indices: []uint32{0, 1, 2}}},
		{"no indices", MeshData{Name: "bare", Vertices: Triangle().Vertices}},
		{"ragged indices", MeshData{Name: "ragged", Vertices: Triangle().Vertices, Indices: []uint32{0, 1}}},
		{"index out of range", MeshData{Name: "oob", Vertices: Triangle().Vertices, Indices: []uint32{0, 1, 5}}},
	}
	for _, tc := range cases {
		err := tc.mesh.Validate()
		if core.KindOf(err) != core.ErrKindInvalidInput {
			t.Errorf("%s: error = %v, want invalid input", tc.name, err)
		}
	}
}

func TestTriangleCount(t *testing.T) {
	mesh := MeshData{Indices: make([]uint32, 12)}
	if got := mesh.TriangleCount(); got != 4 {
		t.Errorf("triangle count = %d, want 4", got)
	}
}

func TestNewInstanceDefaults(t *testing.T) {
	inst := NewInstance(2, mgl32.Ident4())
	if inst.MeshIndex != 2 {
		t.Errorf("mesh index = %d", inst.MeshIndex)
	}
	if inst.Mask != 0xFF {
		t.Errorf("mask = %#x, want 0xFF", inst.Mask)
	}
	if inst.SBTOffset != 0 {
		t.Errorf("sbt offset = %d, want 0", inst.SBTOffset)
	}
}

func TestTransformRows34(t *testing.T) {
	inst := NewInstance(0, mgl32.Translate3D(1, 2, 3))
	rows := inst.TransformRows34()

	// Row-major 3x4: translation sits at the end of each row.
	if rows[3] != 1 || rows[7] != 2 || rows[11] != 3 {
		t.Errorf("translation = %v, %v, %v", rows[3], rows[7], rows[11])
	}
	// Rotation part stays identity.
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			want := float32(0)
			if row == col {
				want = 1
			}
			if got := rows[row*4+col]; got != want {
				t.Errorf("rows[%d][%d] = %v, want %v", row, col, got, want)
			}
		}
	}
}
