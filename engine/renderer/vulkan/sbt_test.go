package vulkan

import (
	"bytes"
	"testing"

	vk "github.com/goki/vulkan"
)

func TestPackSBTRecords(t *testing.T) {
	props := testRTProperties()
	layout := ComputeSBTLayout(props, 1, 2, 4, 1)

	handleSize := props.ShaderGroupHandleSize
	handles := make([]byte, 8*handleSize)
	for g := 0; g < 8; g++ {
		for b := uint32(0); b < handleSize; b++ {
			handles[uint32(g)*handleSize+b] = byte(g + 1)
		}
	}

	records := packSBTRecords(layout, handles, handleSize, 1, 2, 4, 1)
	if len(records) != int(layout.TotalSize) {
		t.Fatalf("record bytes = %d, want %d", len(records), layout.TotalSize)
	}

	check := func(regionOffset int, firstGroup, count int) {
		for g := 0; g < count; g++ {
			slot := records[regionOffset+g*int(layout.AlignedHandle):]
			want := bytes.Repeat([]byte{byte(firstGroup + g + 1)}, int(handleSize))
			if !bytes.Equal(slot[:handleSize], want) {
				t.Errorf("group %d not at offset %d", firstGroup+g, regionOffset+g*int(layout.AlignedHandle))
			}
		}
	}
	check(int(layout.RaygenOffset), 0, 1)
	check(int(layout.MissOffset), 1, 2)
	check(int(layout.HitOffset), 3, 4)
	check(int(layout.CallableOffset), 7, 1)

	// The base-alignment padding between the raygen record and the miss
	// region stays zero.
	gap := records[layout.RaygenOffset+vk.DeviceSize(handleSize) : layout.MissOffset]
	for i, b := range gap {
		if b != 0 {
			t.Fatalf("padding byte %d = %#x, want 0", i, b)
		}
	}
}
