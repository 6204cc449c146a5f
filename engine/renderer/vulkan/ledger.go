package vulkan

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelcollider/lumen/engine/core"
)

// ResourceKind tags ledger entries so leak reports read well.
type ResourceKind string

const (
	ResourceBuffer        ResourceKind = "buffer"
	ResourceImage         ResourceKind = "image"
	ResourceAccelStruct   ResourceKind = "acceleration_structure"
	ResourcePipeline      ResourceKind = "pipeline"
	ResourceDescriptor    ResourceKind = "descriptor_pool"
	ResourceSwapchain     ResourceKind = "swapchain"
	ResourceSampler       ResourceKind = "sampler"
	ResourceShaderModule  ResourceKind = "shader_module"
	ResourceQueryPool     ResourceKind = "query_pool"
	ResourceCommandBuffer ResourceKind = "command_buffer"
)

type ledgerEntry struct {
	kind      ResourceKind
	name      string
	createdAt time.Time
}

// ResourceLedger tracks every long-lived GPU object the context owns.
// Lifetime tracking is local to the Context; there is no process-wide
// destruction state. Double-release is reported as a programming error
// rather than silently ignored.
type ResourceLedger struct {
	mu      sync.Mutex
	entries map[uuid.UUID]ledgerEntry
}

func NewResourceLedger() *ResourceLedger {
	return &ResourceLedger{
		entries: make(map[uuid.UUID]ledgerEntry),
	}
}

// Track registers a resource and returns its ledger id.
func (rl *ResourceLedger) Track(kind ResourceKind, name string) uuid.UUID {
	id := uuid.New()
	rl.mu.Lock()
	rl.entries[id] = ledgerEntry{kind: kind, name: name, createdAt: time.Now()}
	rl.mu.Unlock()
	return id
}

// Release removes a resource. Releasing the zero id is a no-op (the
// resource was never created); releasing an unknown id means a
// double-destroy and is flagged loudly.
func (rl *ResourceLedger) Release(id uuid.UUID) bool {
	if id == uuid.Nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	entry, ok := rl.entries[id]
	if !ok {
		core.LogError("resource ledger: double destroy of id %s", id)
		return false
	}
	delete(rl.entries, id)
	core.LogDebug("released %s %q", entry.kind, entry.name)
	return true
}

// Outstanding returns the number of live entries.
func (rl *ResourceLedger) Outstanding() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// ReportLeaks logs every entry still alive. Called at context destroy;
// a clean shutdown reports nothing.
func (rl *ResourceLedger) ReportLeaks() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, entry := range rl.entries {
		core.LogWarn("leaked %s %q (id %s, created %s)", entry.kind, entry.name, id, entry.createdAt.Format(time.RFC3339))
	}
	return len(rl.entries)
}
