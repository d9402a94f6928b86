package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startQueue(t *testing.T) *Queue {
	t.Helper()
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return q
}

func TestQueueRunsInOrder(t *testing.T) {
	q := startQueue(t)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		q.Post(func() { got = append(got, i) })
	}
	if err := q.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	want := []int{0, 1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestQueueRunStopsOnCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- q.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestQueueSyncHonoursContext(t *testing.T) {
	q := NewQueue() // never run
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := q.Sync(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Sync() error = %v, want DeadlineExceeded", err)
	}
}

func TestWorkCoalesces(t *testing.T) {
	q := NewQueue()
	runs := 0
	w := NewWork(q, func() { runs++ })

	if !w.Submit() {
		t.Fatal("first Submit() = false, want true")
	}
	if w.Submit() {
		t.Error("second Submit() while pending = true, want false")
	}
	if !w.Pending() {
		t.Error("Pending() = false after Submit")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)
	if err := q.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if runs != 1 {
		t.Errorf("handler ran %d times, want 1", runs)
	}
	if w.Pending() {
		t.Error("Pending() = true after run")
	}

	// Once run, the work can be queued again.
	if !w.Submit() {
		t.Error("Submit() after run = false, want true")
	}
	if err := q.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if runs != 2 {
		t.Errorf("handler ran %d times, want 2", runs)
	}
}

func TestWorkResubmitFromHandler(t *testing.T) {
	q := startQueue(t)
	runs := 0
	var w *Work
	w = NewWork(q, func() {
		runs++
		if runs == 1 {
			// Pending is cleared before the handler runs.
			w.Submit()
		}
	})

	w.Submit()
	if err := q.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := q.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if runs != 2 {
		t.Errorf("handler ran %d times, want 2", runs)
	}
}
