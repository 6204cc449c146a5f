package scene

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestCameraChangedSinceLastFrame(t *testing.T) {
	cam := NewCamera(mgl32.Vec3{0, 0, 3}, mgl32.Vec3{0, 0, 0}, 16.0/9.0)

	if !cam.ChangedSinceLastFrame() {
		t.Fatal("first observation did not report a change")
	}
	if cam.ChangedSinceLastFrame() {
		t.Fatal("static camera reported a change")
	}

	cam.Orbit(0.1, 0)
	if !cam.ChangedSinceLastFrame() {
		t.Fatal("orbit did not report a change")
	}
	if cam.ChangedSinceLastFrame() {
		t.Fatal("change flag did not clear")
	}
}

func TestCameraOrbitKeepsRadius(t *testing.T) {
	cam := NewCamera(mgl32.Vec3{0, 0, 3}, mgl32.Vec3{0, 0, 0}, 1)
	before := cam.Position.Sub(cam.Target).Len()

	cam.Orbit(0.7, 0.3)
	after := cam.Position.Sub(cam.Target).Len()

	if math.Abs(float64(after-before)) > 1e-4 {
		t.Errorf("radius drifted from %v to %v", before, after)
	}
}

func TestCameraOrbitClampsPitch(t *testing.T) {
	cam := NewCamera(mgl32.Vec3{0, 0, 3}, mgl32.Vec3{0, 0, 0}, 1)
	for i := 0; i < 100; i++ {
		cam.Orbit(0, 0.5)
	}

	offset := cam.Position.Sub(cam.Target)
	pitch := math.Asin(float64(offset.Y() / offset.Len()))
	if pitch > 1.46 {
		t.Errorf("pitch %v exceeds clamp", pitch)
	}
	if offset.Len() < 1e-3 {
		t.Error("camera collapsed onto target")
	}
}

func TestCameraZoomClamp(t *testing.T) {
	cam := NewCamera(mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 0, 0}, 1)

	cam.Zoom(100)
	radius := cam.Position.Sub(cam.Target).Len()
	if math.Abs(float64(radius-0.05)) > 1e-5 {
		t.Errorf("radius = %v, want clamp at 0.05", radius)
	}

	cam.Zoom(-0.95)
	radius = cam.Position.Sub(cam.Target).Len()
	if math.Abs(float64(radius-1.0)) > 1e-4 {
		t.Errorf("radius = %v, want 1.0", radius)
	}
}

func TestProjectionFlipsY(t *testing.T) {
	cam := NewCamera(mgl32.Vec3{0, 0, 3}, mgl32.Vec3{0, 0, 0}, 1)
	proj := cam.Projection()
	if proj[5] >= 0 {
		t.Errorf("proj[5] = %v, want negative for the Vulkan clip space", proj[5])
	}
}

func TestMatricesApproxEqual(t *testing.T) {
	a := mgl32.Ident4()
	b := a
	if !MatricesApproxEqual(a, b, MatrixEpsilon) {
		t.Fatal("identical matrices reported different")
	}
	b[3] += 10 * MatrixEpsilon
	if MatricesApproxEqual(a, b, MatrixEpsilon) {
		t.Fatal("perturbed matrix reported equal")
	}
}
