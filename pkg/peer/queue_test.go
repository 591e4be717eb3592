package peer

import (
	"errors"
	"testing"
	"time"

	"github.com/alljoyn-go/securepeer/pkg/errs"
)

func TestWorkQueueRunsSubmittedTasks(t *testing.T) {
	q := newWorkQueue(3)
	defer q.Close()

	done := make(chan struct{})
	if err := q.Submit(func() { close(done) }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestWorkQueueReportsWouldBlockWhenFull(t *testing.T) {
	q := newWorkQueue(1)
	defer q.Close()

	block := make(chan struct{})
	release := make(chan struct{})
	if err := q.Submit(func() { close(block); <-release }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-block // the worker goroutine is now occupied running this task

	// With depth 1, one more task fits in the channel buffer behind it...
	if err := q.Submit(func() {}); err != nil {
		t.Fatalf("Submit into the one free buffered slot: %v", err)
	}
	// ...but a third has nowhere to go while the first is still executing.
	if err := q.Submit(func() {}); err == nil || !errors.Is(err, errs.ErrWouldBlock) {
		t.Fatalf("Submit on a full queue: got %v, want ErrWouldBlock", err)
	}
	close(release)
}
