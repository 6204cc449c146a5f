//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Shader sources and the logical names the pipeline loads them under.
var shaderSources = []struct {
	src  string
	name string
}{
	{"raygen.rgen", "raygen"},
	{"miss.rmiss", "miss"},
	{"shadowmiss.rmiss", "shadowmiss"},
	{"closesthit.rchit", "closesthit"},
	{"anyhit.rahit", "anyhit"},
	{"shadow_anyhit.rahit", "shadow_anyhit"},
	{"volumetric_anyhit.rahit", "volumetric_anyhit"},
	{"intersection.rint", "intersection"},
	{"callable.rcall", "callable"},
	{"compute.comp", "compute"},
}

const shaderDir = "assets/shaders"

// Compiles every GLSL shader to SPIR-V with the ray tracing target env.
func (Build) Shaders() error {
	for _, shader := range shaderSources {
		src := filepath.Join(shaderDir, shader.src)
		out := filepath.Join(shaderDir, shader.name+".spv")
		if _, err := executeCmd("glslc",
			withArgs("--target-env=vulkan1.2", src, "-o", out),
			withStream()); err != nil {
			return fmt.Errorf("compiling %s: %w", shader.src, err)
		}
	}
	return nil
}

// Builds the demo binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", "lumen", "."), withStream()); err != nil {
		return err
	}
	return nil
}
