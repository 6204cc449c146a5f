package core

import "sync"

// EventContext is a small fixed payload fired alongside an event code.
// Only the fields relevant to the code are populated.
type EventContext struct {
	Data struct {
		U64 [2]uint64
		F64 [2]float64
		U32 [4]uint32
		I32 [4]int32
		Str string
	}
}

// EventCode identifies a renderer core event. Applications should use
// codes beyond 255.
type EventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT EventCode = 0x01

	// Framebuffer resized by the OS.
	/* Context usage:
	 * u32 width  = data.U32[0];
	 * u32 height = data.U32[1];
	 */
	EVENT_CODE_RESIZED EventCode = 0x02

	// A deferred TLAS build completed; descriptors must be rewritten
	// before the next trace.
	/* Context usage:
	 * u64 tlas_generation = data.U64[0];
	 */
	EVENT_CODE_TLAS_READY EventCode = 0x03

	// A SPIR-V blob on disk changed; the pipeline should rebuild.
	/* Context usage:
	 * str logical_name = data.Str;
	 */
	EVENT_CODE_SHADER_RELOADED EventCode = 0x04

	MAX_EVENT_CODE EventCode = 0xFF
)

// Should return true if handled; a handled event is not passed on to any
// more listeners.
type FnOnEvent func(code EventCode, sender interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus routes events between collaborators. It is owned by the
// application; the renderer and its subsystems receive it at construction
// instead of reaching for package state.
type EventBus struct {
	mu         sync.RWMutex
	registered map[EventCode][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[EventCode][]*registeredEvent),
	}
}

// Register adds a listener for the given code. Duplicate listener
// registrations for the same code are rejected.
func (eb *EventBus) Register(code EventCode, listener interface{}, onEvent FnOnEvent) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, e := range eb.registered[code] {
		if e.listener == listener {
			LogWarn("event listener already registered for code 0x%02x", code)
			return false
		}
	}
	eb.registered[code] = append(eb.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

// Unregister removes a listener for the given code. Returns false when no
// matching registration is found.
func (eb *EventBus) Unregister(code EventCode, listener interface{}) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	events := eb.registered[code]
	for i, e := range events {
		if e.listener == listener {
			eb.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire delivers the event to listeners of the code, in registration order.
// Returns true when a listener handled it.
func (eb *EventBus) Fire(code EventCode, sender interface{}, context EventContext) bool {
	eb.mu.RLock()
	events := make([]*registeredEvent, len(eb.registered[code]))
	copy(events, eb.registered[code])
	eb.mu.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}
