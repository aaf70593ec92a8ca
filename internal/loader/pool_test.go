package loader

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/conc/panics"
)

func runOrdered(t *testing.T, order QueueOrder) []string {
	t.Helper()
	pool := newWorkerPool(1, order, 0, nil)

	blocker := make(chan struct{})
	started := make(chan struct{})
	if err := pool.submit(func() {
		close(started)
		<-blocker
	}); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	<-started

	var mu sync.Mutex
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		if err := pool.submit(func() {
			mu.Lock()
			got = append(got, name)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("submit %s: %v", name, err)
		}
	}
	close(blocker)
	pool.close()
	return got
}

func TestWorkerPoolLIFO(t *testing.T) {
	got := runOrdered(t, LIFO)
	if len(got) != 3 || got[0] != "c" || got[1] != "b" || got[2] != "a" {
		t.Fatalf("expected newest first, got %v", got)
	}
}

func TestWorkerPoolFIFO(t *testing.T) {
	got := runOrdered(t, FIFO)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected submission order, got %v", got)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	recovered := make(chan *panics.Recovered, 1)
	pool := newWorkerPool(1, FIFO, 0, func(r *panics.Recovered) { recovered <- r })
	defer pool.close()

	_ = pool.submit(func() { panic("task exploded") })
	select {
	case r := <-recovered:
		if r.Value != "task exploded" {
			t.Fatalf("unexpected panic value %v", r.Value)
		}
	case <-time.After(time.Second):
		t.Fatalf("panic was not reported")
	}

	done := make(chan struct{})
	_ = pool.submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker should survive a panicking task")
	}
}

func TestWorkerPoolCloseDrainsAndRejects(t *testing.T) {
	pool := newWorkerPool(2, LIFO, 0, nil)
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 10; i++ {
		_ = pool.submit(func() {
			time.Sleep(time.Millisecond)
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	pool.close()
	if ran != 10 {
		t.Fatalf("close should drain backlog, ran %d", ran)
	}
	if err := pool.submit(func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestParseQueueOrder(t *testing.T) {
	cases := map[string]QueueOrder{"": LIFO, "LIFO": LIFO, " fifo ": FIFO}
	for raw, want := range cases {
		got, err := ParseQueueOrder(raw)
		if err != nil || got != want {
			t.Fatalf("%q: got %v err=%v", raw, got, err)
		}
	}
	if _, err := ParseQueueOrder("random"); err == nil {
		t.Fatalf("expected error for unknown order")
	}
}
