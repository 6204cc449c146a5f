package core

import "testing"

type testListener struct{ name string }

func TestEventBusFireOrder(t *testing.T) {
	bus := NewEventBus()
	var order []string

	a := &testListener{"a"}
	b := &testListener{"b"}
	bus.Register(EVENT_CODE_TLAS_READY, a, func(code EventCode, sender interface{}, data EventContext) bool {
		order = append(order, "a")
		return false
	})
	bus.Register(EVENT_CODE_TLAS_READY, b, func(code EventCode, sender interface{}, data EventContext) bool {
		order = append(order, "b")
		return false
	})

	var ctx EventContext
	ctx.Data.U64[0] = 7
	bus.Fire(EVENT_CODE_TLAS_READY, nil, ctx)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("delivery order = %v", order)
	}
}

func TestEventBusHandledStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	reached := false

	a := &testListener{"a"}
	b := &testListener{"b"}
	bus.Register(EVENT_CODE_APPLICATION_QUIT, a, func(EventCode, interface{}, EventContext) bool {
		return true
	})
	bus.Register(EVENT_CODE_APPLICATION_QUIT, b, func(EventCode, interface{}, EventContext) bool {
		reached = true
		return false
	})

	if !bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}) {
		t.Fatal("handled event reported unhandled")
	}
	if reached {
		t.Fatal("second listener ran after the event was handled")
	}
}

func TestEventBusDuplicateRegistration(t *testing.T) {
	bus := NewEventBus()
	l := &testListener{"a"}
	onEvent := func(EventCode, interface{}, EventContext) bool { return false }

	if !bus.Register(EVENT_CODE_RESIZED, l, onEvent) {
		t.Fatal("first registration rejected")
	}
	if bus.Register(EVENT_CODE_RESIZED, l, onEvent) {
		t.Fatal("duplicate registration accepted")
	}
}

func TestEventBusUnregister(t *testing.T) {
	bus := NewEventBus()
	l := &testListener{"a"}
	fired := false
	bus.Register(EVENT_CODE_RESIZED, l, func(EventCode, interface{}, EventContext) bool {
		fired = true
		return false
	})

	if !bus.Unregister(EVENT_CODE_RESIZED, l) {
		t.Fatal("unregister failed")
	}
	if bus.Unregister(EVENT_CODE_RESIZED, l) {
		t.Fatal("second unregister succeeded")
	}

	bus.Fire(EVENT_CODE_RESIZED, nil, EventContext{})
	if fired {
		t.Fatal("unregistered listener still fired")
	}
}
