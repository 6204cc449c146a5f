package vulkan

import (
	"encoding/binary"
	"math"
	"testing"

	vk "github.com/goki/vulkan"
)

func testRTProperties() RayTracingProperties {
	return RayTracingProperties{
		ShaderGroupHandleSize:      32,
		ShaderGroupHandleAlignment: 32,
		ShaderGroupBaseAlignment:   64,
		MaxRayRecursionDepth:       31,
	}
}

func TestComputeSBTLayout(t *testing.T) {
	layout := ComputeSBTLayout(testRTProperties(), 1, 2, 4, 1)

	if layout.AlignedHandle != 32 {
		t.Fatalf("aligned handle = %d, want 32", layout.AlignedHandle)
	}
	if layout.RaygenOffset != 0 || layout.RaygenSize != 32 {
		t.Errorf("raygen region = %d+%d, want 0+32", layout.RaygenOffset, layout.RaygenSize)
	}
	if layout.MissOffset != 64 || layout.MissSize != 64 {
		t.Errorf("miss region = %d+%d, want 64+64", layout.MissOffset, layout.MissSize)
	}
	if layout.HitOffset != 128 || layout.HitSize != 128 {
		t.Errorf("hit region = %d+%d, want 128+128", layout.HitOffset, layout.HitSize)
	}
	if layout.CallableOffset != 256 || layout.CallableSize != 32 {
		t.Errorf("callable region = %d+%d, want 256+32", layout.CallableOffset, layout.CallableSize)
	}
	if layout.TotalSize != 288 {
		t.Errorf("total size = %d, want 288", layout.TotalSize)
	}
}

func TestComputeSBTLayoutLooseAlignment(t *testing.T) {
	props := RayTracingProperties{
		ShaderGroupHandleSize:      32,
		ShaderGroupHandleAlignment: 64,
		ShaderGroupBaseAlignment:   256,
	}
	layout := ComputeSBTLayout(props, 1, 2, 4, 0)

	if layout.AlignedHandle != 64 {
		t.Fatalf("aligned handle = %d, want 64", layout.AlignedHandle)
	}
	// Every region start must sit on the base alignment.
	for _, offset := range []vk.DeviceSize{layout.RaygenOffset, layout.MissOffset, layout.HitOffset, layout.CallableOffset} {
		if offset%256 != 0 {
			t.Errorf("region offset %d not base aligned", offset)
		}
	}
	if layout.CallableSize != 0 {
		t.Errorf("callable size = %d, want 0", layout.CallableSize)
	}
}

func TestSBTRegions(t *testing.T) {
	layout := ComputeSBTLayout(testRTProperties(), 1, 2, 4, 1)
	raygen, miss, hit, callable := layout.Regions(0x10000)

	if raygen.DeviceAddress != 0x10000 {
		t.Errorf("raygen address = %#x, want 0x10000", raygen.DeviceAddress)
	}
	if raygen.Stride != raygen.Size {
		t.Errorf("raygen stride %d != size %d", raygen.Stride, raygen.Size)
	}
	if miss.DeviceAddress != 0x10000+DeviceAddress(layout.MissOffset) {
		t.Errorf("miss address = %#x", miss.DeviceAddress)
	}
	if miss.Stride != 32 || hit.Stride != 32 {
		t.Errorf("record strides = %d/%d, want 32", miss.Stride, hit.Stride)
	}
	if callable.Size != 32 {
		t.Errorf("callable size = %d, want 32", callable.Size)
	}
}

func TestSBTRegionsZeroCallable(t *testing.T) {
	layout := ComputeSBTLayout(testRTProperties(), 1, 2, 4, 0)
	_, _, _, callable := layout.Regions(0x10000)

	if callable != (StridedDeviceAddressRegion{}) {
		t.Fatalf("zero-count callable region = %+v, want zero value", callable)
	}
}

func TestPackInstance(t *testing.T) {
	var transform [12]float32
	for i := range transform {
		transform[i] = float32(i) + 0.5
	}
	dst := make([]byte, InstanceRecordSize)
	PackInstance(dst, transform, 0xABCDEF, 0x7F, 2, InstanceFlagTriangleFacingCullDisable, 0xDEADBEEF12345678)

	for i, want := range transform {
		got := math.Float32frombits(binary.LittleEndian.Uint32(dst[i*4:]))
		if got != want {
			t.Fatalf("transform[%d] = %f, want %f", i, got, want)
		}
	}
	word := binary.LittleEndian.Uint32(dst[48:])
	if word&0x00FFFFFF != 0xABCDEF {
		t.Errorf("custom index = %#x, want 0xABCDEF", word&0x00FFFFFF)
	}
	if word>>24 != 0x7F {
		t.Errorf("mask = %#x, want 0x7F", word>>24)
	}
	word = binary.LittleEndian.Uint32(dst[52:])
	if word&0x00FFFFFF != 2 {
		t.Errorf("sbt offset = %d, want 2", word&0x00FFFFFF)
	}
	if word>>24 != InstanceFlagTriangleFacingCullDisable {
		t.Errorf("flags = %#x, want %#x", word>>24, InstanceFlagTriangleFacingCullDisable)
	}
	if addr := binary.LittleEndian.Uint64(dst[56:]); addr != 0xDEADBEEF12345678 {
		t.Errorf("blas address = %#x", addr)
	}
}

func fakeProcTable() *ProcTable {
	return &ProcTable{
		GetBufferDeviceAddress: func(vk.Device, vk.Buffer) DeviceAddress { return 0 },
		GetBLASBuildSizes: func(vk.Device, BuildFlags, []TrianglesGeometry) BuildSizesInfo {
			return BuildSizesInfo{}
		},
		GetTLASBuildSizes: func(vk.Device, BuildFlags, uint32) BuildSizesInfo {
			return BuildSizesInfo{}
		},
		CreateAccelerationStructure: func(vk.Device, vk.Buffer, vk.DeviceSize, vk.DeviceSize, AccelerationStructureType) (AccelerationStructure, vk.Result) {
			return 1, vk.Success
		},
		DestroyAccelerationStructure:          func(vk.Device, AccelerationStructure) {},
		GetAccelerationStructureDeviceAddress: func(vk.Device, AccelerationStructure) DeviceAddress { return 0 },
		CmdBuildBLAS:                          func(vk.CommandBuffer, AccelerationStructure, DeviceAddress, BuildFlags, []TrianglesGeometry) {},
		CmdBuildTLAS:                          func(vk.CommandBuffer, AccelerationStructure, DeviceAddress, BuildFlags, InstancesGeometry) {},
		CreateRayTracingPipeline: func(vk.Device, DeferredOperation, vk.PipelineCache, *RayTracingPipelineInfo) (vk.Pipeline, vk.Result) {
			return vk.NullPipeline, vk.Success
		},
		GetRayTracingShaderGroupHandles: func(vk.Device, vk.Pipeline, uint32, uint32, []byte) vk.Result {
			return vk.Success
		},
		CmdTraceRays:               func(vk.CommandBuffer, *StridedDeviceAddressRegion, *StridedDeviceAddressRegion, *StridedDeviceAddressRegion, *StridedDeviceAddressRegion, uint32, uint32, uint32) {},
		CreateDeferredOperation:    func(vk.Device) (DeferredOperation, vk.Result) { return 1, vk.Success },
		DestroyDeferredOperation:   func(vk.Device, DeferredOperation) {},
		DeferredOperationJoin:      func(vk.Device, DeferredOperation) vk.Result { return vk.Success },
		GetDeferredOperationResult: func(vk.Device, DeferredOperation) vk.Result { return vk.Success },
		WriteAccelerationStructureDescriptor: func(vk.Device, vk.DescriptorSet, uint32, AccelerationStructure) {},
	}
}

func TestProcTableValidate(t *testing.T) {
	procs := fakeProcTable()
	if err := procs.Validate(); err != nil {
		t.Fatalf("complete table rejected: %v", err)
	}

	procs.CmdTraceRays = nil
	if err := procs.Validate(); err == nil {
		t.Fatal("missing vkCmdTraceRaysKHR not reported")
	}

	procs = fakeProcTable()
	procs.DeferredOperationJoin = nil
	if err := procs.Validate(); err == nil {
		t.Fatal("missing deferred operation proc not reported")
	}
}
