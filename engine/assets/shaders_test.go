package assets

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pixelcollider/lumen/engine/core"
)

func spirvBlob(words ...uint32) []byte {
	all := append([]uint32{SPIRVMagic}, words...)
	data := make([]byte, len(all)*4)
	for i, w := range all {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	return data
}

func TestValidateSPIRV(t *testing.T) {
	words, err := ValidateSPIRV(spirvBlob(0x00010500, 0, 1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 5 || words[0] != SPIRVMagic {
		t.Errorf("words = %v", words)
	}
}

func TestValidateSPIRVBadSize(t *testing.T) {
	_, err := ValidateSPIRV([]byte{0x03, 0x02, 0x23})
	if core.KindOf(err) != core.ErrKindShaderLoad {
		t.Fatalf("error = %v, want shader load", err)
	}
}

func TestValidateSPIRVBadMagic(t *testing.T) {
	blob := spirvBlob(0)
	blob[0] = 0x7F
	_, err := ValidateSPIRV(blob)
	if core.KindOf(err) != core.ErrKindShaderLoad {
		t.Fatalf("error = %v, want shader load", err)
	}
}

func newTestManager(t *testing.T) (*ShaderManager, string) {
	t.Helper()
	dir := t.TempDir()
	sm, err := NewShaderManager(dir, core.NewEventBus())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sm.Close() })
	return sm, dir
}

func TestShaderManagerLoad(t *testing.T) {
	sm, dir := newTestManager(t)
	path := filepath.Join(dir, ShaderRaygen+".spv")
	if err := os.WriteFile(path, spirvBlob(0x00010500, 7), 0o644); err != nil {
		t.Fatal(err)
	}

	words, err := sm.Load(ShaderRaygen)
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 3 || words[2] != 7 {
		t.Errorf("words = %v", words)
	}

	// Second load comes from the cache even if the file vanishes.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.Load(ShaderRaygen); err != nil {
		t.Fatalf("cached load failed: %v", err)
	}

	// Invalidation forces the next load back to disk.
	sm.Invalidate(ShaderRaygen)
	if _, err := sm.Load(ShaderRaygen); core.KindOf(err) != core.ErrKindShaderLoad {
		t.Fatalf("error = %v, want shader load", err)
	}
}

func TestShaderManagerLoadMissing(t *testing.T) {
	sm, _ := newTestManager(t)
	_, err := sm.Load(ShaderMiss)
	if core.KindOf(err) != core.ErrKindShaderLoad {
		t.Fatalf("error = %v, want shader load", err)
	}
}

func TestDrainReloadsFiresEvents(t *testing.T) {
	dir := t.TempDir()
	bus := core.NewEventBus()
	sm, err := NewShaderManager(dir, bus)
	if err != nil {
		t.Fatal(err)
	}
	defer sm.Close()

	var reloaded []string
	bus.Register(core.EVENT_CODE_SHADER_RELOADED, t, func(code core.EventCode, sender interface{}, data core.EventContext) bool {
		reloaded = append(reloaded, data.Data.Str)
		return false
	})

	// Editors fire several writes per save; duplicates collapse to one
	// notification.
	sm.queueReload(ShaderRaygen)
	sm.queueReload(ShaderCompute)
	sm.queueReload(ShaderRaygen)
	sm.DrainReloads()

	if len(reloaded) != 2 {
		t.Fatalf("reloads = %v, want 2 entries", reloaded)
	}
	seen := map[string]bool{}
	for _, name := range reloaded {
		seen[name] = true
	}
	if !seen[ShaderRaygen] || !seen[ShaderCompute] {
		t.Errorf("reloads = %v", reloaded)
	}

	// A drained queue stays quiet.
	reloaded = nil
	sm.DrainReloads()
	if len(reloaded) != 0 {
		t.Errorf("empty drain fired %v", reloaded)
	}
}

func TestShaderManagerCloseIdempotent(t *testing.T) {
	sm, _ := newTestManager(t)
	if err := sm.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sm.Close(); err != nil {
		t.Fatal(err)
	}
}
