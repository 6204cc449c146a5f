package containers

import "testing"

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](4)
	for i := 1; i <= 3; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatal(err)
		}
	}
	if rq.Len() != 3 {
		t.Fatalf("len = %d, want 3", rq.Len())
	}
	for i := 1; i <= 3; i++ {
		got, err := rq.Dequeue()
		if err != nil {
			t.Fatal(err)
		}
		if got != i {
			t.Errorf("dequeued %d, want %d", got, i)
		}
	}
	if !rq.IsEmpty() {
		t.Error("queue not empty after draining")
	}
}

func TestRingQueueFull(t *testing.T) {
	rq := NewRingQueue[string](2)
	rq.Enqueue("a")
	rq.Enqueue("b")
	if !rq.IsFull() {
		t.Fatal("queue not reported full")
	}
	if err := rq.Enqueue("c"); err != ErrQueueFull {
		t.Fatalf("overflow error = %v, want ErrQueueFull", err)
	}
}

func TestRingQueueEmpty(t *testing.T) {
	rq := NewRingQueue[int](2)
	if _, err := rq.Dequeue(); err != ErrQueueEmpty {
		t.Fatalf("dequeue error = %v, want ErrQueueEmpty", err)
	}
	if _, err := rq.Peek(); err != ErrQueueEmpty {
		t.Fatalf("peek error = %v, want ErrQueueEmpty", err)
	}
}

func TestRingQueuePeek(t *testing.T) {
	rq := NewRingQueue[int](2)
	rq.Enqueue(42)
	got, err := rq.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("peek = %d, want 42", got)
	}
	if rq.Len() != 1 {
		t.Errorf("peek consumed the element, len = %d", rq.Len())
	}
}

func TestRingQueueWraparound(t *testing.T) {
	rq := NewRingQueue[int](3)
	for cycle := 0; cycle < 5; cycle++ {
		base := cycle * 10
		for i := 0; i < 3; i++ {
			if err := rq.Enqueue(base + i); err != nil {
				t.Fatalf("cycle %d enqueue %d: %v", cycle, i, err)
			}
		}
		for i := 0; i < 3; i++ {
			got, err := rq.Dequeue()
			if err != nil {
				t.Fatalf("cycle %d dequeue %d: %v", cycle, i, err)
			}
			if got != base+i {
				t.Errorf("cycle %d: dequeued %d, want %d", cycle, got, base+i)
			}
		}
	}
}
