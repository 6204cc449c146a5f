package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// MatrixEpsilon is the per-element threshold past which a camera movement
// resets progressive accumulation.
const MatrixEpsilon float32 = 1e-5

// Camera is the minimal camera collaborator the renderer consumes: it
// produces the inverse view/projection pair for the raygen shader and a
// change signal for accumulation invalidation.
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3

	FovY   float32
	Near   float32
	Far    float32
	aspect float32

	lastView mgl32.Mat4
	hasLast  bool
}

func NewCamera(position, target mgl32.Vec3, aspect float32) *Camera {
	return &Camera{
		Position: position,
		Target:   target,
		Up:       mgl32.Vec3{0, 1, 0},
		FovY:     mgl32.DegToRad(60),
		Near:     0.1,
		Far:      1000,
		aspect:   aspect,
	}
}

// SetAspect updates the projection aspect ratio, typically after a resize.
func (c *Camera) SetAspect(aspect float32) {
	if aspect > 0 {
		c.aspect = aspect
	}
}

// View returns the world-to-view matrix.
func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Target, c.Up)
}

// Projection returns the view-to-clip matrix with the Vulkan Y flip baked
// in.
func (c *Camera) Projection() mgl32.Mat4 {
	proj := mgl32.Perspective(c.FovY, c.aspect, c.Near, c.Far)
	proj[5] *= -1
	return proj
}

// ViewInverse returns the view-to-world matrix the raygen shader uses to
// place ray origins.
func (c *Camera) ViewInverse() mgl32.Mat4 {
	return c.View().Inv()
}

// ProjectionInverse returns the clip-to-view matrix the raygen shader uses
// to build ray directions.
func (c *Camera) ProjectionInverse() mgl32.Mat4 {
	return c.Projection().Inv()
}

// Orbit rotates the camera around the target on the Y axis and tilts it.
func (c *Camera) Orbit(yawRad, pitchRad float32) {
	offset := c.Position.Sub(c.Target)
	radius := offset.Len()
	if radius == 0 {
		return
	}

	yaw := float32(math.Atan2(float64(offset.X()), float64(offset.Z()))) + yawRad
	pitch := float32(math.Asin(float64(offset.Y()/radius))) + pitchRad
	pitch = mgl32.Clamp(pitch, -1.45, 1.45)

	c.Position = c.Target.Add(mgl32.Vec3{
		radius * float32(math.Cos(float64(pitch))*math.Sin(float64(yaw))),
		radius * float32(math.Sin(float64(pitch))),
		radius * float32(math.Cos(float64(pitch))*math.Cos(float64(yaw))),
	})
}

// Zoom moves the camera along the view direction, clamped so it never
// crosses the target.
func (c *Camera) Zoom(delta float32) {
	offset := c.Position.Sub(c.Target)
	radius := offset.Len()
	radius = mgl32.Clamp(radius-delta, 0.05, 1e6)
	c.Position = c.Target.Add(offset.Normalize().Mul(radius))
}

// ChangedSinceLastFrame compares the current view matrix against the one
// observed on the previous call. The first call always reports a change.
func (c *Camera) ChangedSinceLastFrame() bool {
	view := c.View()
	if !c.hasLast {
		c.lastView = view
		c.hasLast = true
		return true
	}
	changed := !MatricesApproxEqual(view, c.lastView, MatrixEpsilon)
	c.lastView = view
	return changed
}

// MatricesApproxEqual reports whether every element differs by at most
// epsilon.
func MatricesApproxEqual(a, b mgl32.Mat4, epsilon float32) bool {
	for i := 0; i < 16; i++ {
		if float32(math.Abs(float64(a[i]-b[i]))) > epsilon {
			return false
		}
	}
	return true
}
