package vulkan

import (
	"encoding/binary"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pixelcollider/lumen/engine/core"
	"github.com/pixelcollider/lumen/engine/scene"
)

func TestPackInstancesRecords(t *testing.T) {
	instances := []scene.Instance{
		scene.NewInstance(0, mgl32.Ident4()),
		scene.NewInstance(1, mgl32.Translate3D(1, 2, 3)),
	}
	addresses := []DeviceAddress{0x1000, 0x2000}

	records, err := PackInstances(instances, addresses)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2*InstanceRecordSize {
		t.Fatalf("record bytes = %d, want %d", len(records), 2*InstanceRecordSize)
	}

	for i := range instances {
		record := records[i*InstanceRecordSize:]
		word := binary.LittleEndian.Uint32(record[48:])
		if got := word & 0x00FFFFFF; got != uint32(i) {
			t.Errorf("instance %d custom index = %d", i, got)
		}
		if got := word >> 24; got != 0xFF {
			t.Errorf("instance %d mask = %#x, want 0xFF", i, got)
		}
		if got := binary.LittleEndian.Uint64(record[56:]); got != uint64(addresses[i]) {
			t.Errorf("instance %d blas address = %#x, want %#x", i, got, addresses[i])
		}
	}

	// Row-major 3x4: translation lands in elements 3, 7 and 11.
	second := records[InstanceRecordSize:]
	if got := binary.LittleEndian.Uint32(second[3*4:]); got != 0x3F800000 {
		t.Errorf("tx bits = %#x, want 1.0", got)
	}
	if got := binary.LittleEndian.Uint32(second[7*4:]); got != 0x40000000 {
		t.Errorf("ty bits = %#x, want 2.0", got)
	}
}

func TestPackInstancesBadMeshIndex(t *testing.T) {
	instances := []scene.Instance{scene.NewInstance(3, mgl32.Ident4())}
	_, err := PackInstances(instances, []DeviceAddress{0x1000})
	if core.KindOf(err) != core.ErrKindInvalidInput {
		t.Fatalf("error = %v, want invalid input", err)
	}
}

func TestPackInstancesEmpty(t *testing.T) {
	records, err := PackInstances(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("record bytes = %d, want 0", len(records))
	}
}
