package assets

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/pixelcollider/lumen/engine/containers"
	"github.com/pixelcollider/lumen/engine/core"
)

// SPIRVMagic is the little-endian magic number every valid SPIR-V stream
// starts with.
const SPIRVMagic uint32 = 0x07230203

// Logical shader names the pipeline asks for. Each maps to <name>.spv in
// the shader directory.
const (
	ShaderRaygen          = "raygen"
	ShaderMiss            = "miss"
	ShaderShadowMiss      = "shadowmiss"
	ShaderClosestHit      = "closesthit"
	ShaderAnyHit          = "anyhit"
	ShaderShadowAnyHit    = "shadow_anyhit"
	ShaderVolumeAnyHit    = "volumetric_anyhit"
	ShaderIntersection    = "intersection"
	ShaderCallable        = "callable"
	ShaderCompute         = "compute"
)

// reloadQueueSize bounds how many distinct shader changes can pile up
// between two frames.
const reloadQueueSize = 32

// ShaderManager loads SPIR-V blobs by logical name and watches the shader
// directory for changes. Reload notifications are queued and drained once
// per frame on the render thread, so a pipeline rebuild never races a
// trace in flight.
type ShaderManager struct {
	dir string
	bus *core.EventBus

	mutex sync.RWMutex
	blobs map[string][]uint32

	done     chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool

	reloadMu sync.Mutex
	reloads  *containers.RingQueue[string]
}

func NewShaderManager(dir string, bus *core.EventBus) (*ShaderManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, core.WrapError(core.ErrKindShaderLoad, "assets.NewShaderManager", err)
	}

	sm := &ShaderManager{
		dir:      dir,
		bus:      bus,
		blobs:    make(map[string][]uint32),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		reloads:  containers.NewRingQueue[string](reloadQueueSize),
	}

	if err := sm.fsnotify.Add(dir); err != nil {
		// Watching is best effort; a missing directory only disables hot
		// reload, initial loads go through os.ReadFile anyway.
		core.LogWarn("shader dir %s not watchable: %s", dir, err)
	}
	go sm.watch()

	return sm, nil
}

// Load returns the SPIR-V words for a logical shader name, reading and
// validating the blob on first use.
func (sm *ShaderManager) Load(name string) ([]uint32, error) {
	sm.mutex.RLock()
	blob, ok := sm.blobs[name]
	sm.mutex.RUnlock()
	if ok {
		return blob, nil
	}
	return sm.reload(name)
}

// Invalidate drops the cached blob so the next Load re-reads from disk.
func (sm *ShaderManager) Invalidate(name string) {
	sm.mutex.Lock()
	delete(sm.blobs, name)
	sm.mutex.Unlock()
}

// DrainReloads fires one SHADER_RELOADED event per changed blob. Called
// once per frame by the application loop.
func (sm *ShaderManager) DrainReloads() {
	sm.reloadMu.Lock()
	defer sm.reloadMu.Unlock()
	for !sm.reloads.IsEmpty() {
		name, _ := sm.reloads.Dequeue()
		sm.Invalidate(name)
		ctx := core.EventContext{}
		ctx.Data.Str = name
		sm.bus.Fire(core.EVENT_CODE_SHADER_RELOADED, sm, ctx)
	}
}

// Close stops the watcher.
func (sm *ShaderManager) Close() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	if sm.isClosed {
		return nil
	}
	sm.isClosed = true
	close(sm.done)
	return sm.fsnotify.Close()
}

func (sm *ShaderManager) reload(name string) ([]uint32, error) {
	path := filepath.Join(sm.dir, name+".spv")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.WrapError(core.ErrKindShaderLoad, "assets.Load "+name, err)
	}

	words, err := ValidateSPIRV(data)
	if err != nil {
		return nil, err
	}

	sm.mutex.Lock()
	sm.blobs[name] = words
	sm.mutex.Unlock()

	core.LogDebug("Loaded shader %s (%d words)", name, len(words))
	return words, nil
}

func (sm *ShaderManager) watch() {
	for {
		select {
		case <-sm.done:
			return
		case e, ok := <-sm.fsnotify.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(e.Name, ".spv") {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(e.Name), ".spv")
			sm.queueReload(name)
		case err, ok := <-sm.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogWarn("shader watcher: %s", err)
		}
	}
}

func (sm *ShaderManager) queueReload(name string) {
	sm.reloadMu.Lock()
	defer sm.reloadMu.Unlock()
	// Drop duplicates already queued; editors fire several writes per save.
	for i, n := 0, sm.reloads.Len(); i < n; i++ {
		queued, _ := sm.reloads.Dequeue()
		if queued != name {
			sm.reloads.Enqueue(queued)
		}
	}
	if err := sm.reloads.Enqueue(name); err != nil {
		core.LogWarn("reload queue full, dropping %s", name)
	}
}

// ValidateSPIRV checks the magic number and converts the byte stream into
// 32-bit words.
func ValidateSPIRV(data []byte) ([]uint32, error) {
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, core.Errorf(core.ErrKindShaderLoad, "assets.ValidateSPIRV", "blob size %d not a multiple of 4", len(data))
	}
	if binary.LittleEndian.Uint32(data) != SPIRVMagic {
		return nil, core.Errorf(core.ErrKindShaderLoad, "assets.ValidateSPIRV", "bad magic 0x%08x", binary.LittleEndian.Uint32(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words, nil
}
