package vulkan

import (
	"bytes"
	"testing"
)

func TestCacheBlobRoundTrip(t *testing.T) {
	blob := make([]byte, 64*1024)
	for i := range blob {
		blob[i] = byte(i % 251)
	}

	compressed, err := compressCacheBlob(blob)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := decompressCacheBlob(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blob, restored) {
		t.Fatal("round-tripped blob differs")
	}
}

func TestCacheBlobCorrupt(t *testing.T) {
	if _, err := decompressCacheBlob([]byte("not an lz4 frame")); err == nil {
		t.Fatal("corrupt blob decompressed without error")
	}
}

func TestShaderGroupTable(t *testing.T) {
	groups := buildShaderGroups()

	want := int(RaygenGroupCount + MissGroupCount + HitGroupCount + CallableGroupCount)
	if len(groups) != want {
		t.Fatalf("group count = %d, want %d", len(groups), want)
	}

	stageCount := uint32(len(rtShaderOrder))
	for i, group := range groups {
		for _, ref := range []uint32{group.General, group.ClosestHit, group.AnyHit, group.Intersection} {
			if ref != ShaderUnused && ref >= stageCount {
				t.Errorf("group %d references stage %d beyond %d stages", i, ref, stageCount)
			}
		}
		switch group.Type {
		case GroupGeneral:
			if group.General == ShaderUnused {
				t.Errorf("general group %d has no general stage", i)
			}
		case GroupTrianglesHitGroup:
			if group.ClosestHit == ShaderUnused && group.AnyHit == ShaderUnused {
				t.Errorf("triangle hit group %d binds no shader", i)
			}
		case GroupProceduralHitGroup:
			if group.Intersection == ShaderUnused {
				t.Errorf("procedural group %d has no intersection stage", i)
			}
		}
	}

	// The hit region starts after raygen and the two miss groups; the
	// instance sbtOffset indexes into it.
	hitStart := RaygenGroupCount + MissGroupCount
	if groups[hitStart+HitGroupOpaque].Type != GroupTrianglesHitGroup {
		t.Error("opaque hit group is not a triangle group")
	}
	if groups[hitStart+HitGroupProcedural].Type != GroupProceduralHitGroup {
		t.Error("procedural hit group is not procedural")
	}
}
