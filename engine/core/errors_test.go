package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapErrorNil(t *testing.T) {
	if err := WrapError(ErrKindTransient, "op", nil); err != nil {
		t.Fatalf("wrapping nil = %v, want nil", err)
	}
}

func TestKindOf(t *testing.T) {
	err := NewError(ErrKindDeviceLost, "vulkan.submit")
	if KindOf(err) != ErrKindDeviceLost {
		t.Errorf("kind = %v", KindOf(err))
	}

	// The kind survives further wrapping.
	wrapped := fmt.Errorf("frame 42: %w", err)
	if KindOf(wrapped) != ErrKindDeviceLost {
		t.Errorf("wrapped kind = %v", KindOf(wrapped))
	}

	if KindOf(errors.New("plain")) != ErrKindUnknown {
		t.Error("foreign error did not map to unknown")
	}
	if KindOf(nil) != ErrKindUnknown {
		t.Error("nil did not map to unknown")
	}
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("mmap failed")
	err := WrapError(ErrKindOutOfMemory, "vulkan.allocate", cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause lost through WrapError")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(NewError(ErrKindTransient, "acquire")) {
		t.Error("transient error not recognized")
	}
	if IsTransient(NewError(ErrKindBuildFailure, "build")) {
		t.Error("build failure reported transient")
	}
	if IsTransient(nil) {
		t.Error("nil reported transient")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Errorf(ErrKindInvalidInput, "scene.MeshData", "mesh %q has no vertices", "floor")
	msg := err.Error()
	if msg != `scene.MeshData: invalid input: mesh "floor" has no vertices` {
		t.Errorf("message = %q", msg)
	}

	bare := NewError(ErrKindUnsupported, "vulkan.NewDevice")
	if bare.Error() != "vulkan.NewDevice: unsupported" {
		t.Errorf("bare message = %q", bare.Error())
	}
}
