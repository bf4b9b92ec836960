//go:build linux || darwin

package poller

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestPollerReadable(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatal(err)
	}
	r, w := fds[0], fds[1]
	defer unix.Close(r)
	defer unix.Close(w)

	if err := p.Add(r); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ready, err := p.Wait(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 0 {
		t.Errorf("Expected no events on an empty pipe, got %v", ready)
	}

	unix.Write(w, []byte("x"))
	ready, err = p.Wait(1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0] != r {
		t.Fatalf("Expected [%d], got %v", r, ready)
	}

	// level-triggered: still readable until drained
	ready, _ = p.Wait(10)
	if len(ready) != 1 {
		t.Errorf("Expected the fd to stay readable, got %v", ready)
	}

	if err := p.Remove(r); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	ready, _ = p.Wait(10)
	if len(ready) != 0 {
		t.Errorf("Expected no events after Remove, got %v", ready)
	}
}

func TestPollerWatchWrite(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatal(err)
	}
	r, w := fds[0], fds[1]
	defer unix.Close(r)
	defer unix.Close(w)

	// the write end is never readable
	if err := p.Add(w); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ready, _ := p.Wait(10); len(ready) != 0 {
		t.Errorf("Expected no read events, got %v", ready)
	}

	if err := p.WatchWrite(w); err != nil {
		t.Fatalf("WatchWrite: %v", err)
	}
	ready, err := p.Wait(1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0] != w {
		t.Fatalf("Expected [%d], got %v", w, ready)
	}

	if err := p.Remove(w); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ready, _ := p.Wait(10); len(ready) != 0 {
		t.Errorf("Expected no events after Remove, got %v", ready)
	}
}

// an fd that was never added is added by WatchWrite
func TestPollerWatchWriteUnwatched(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	if err := p.WatchWrite(fds[1]); err != nil {
		t.Fatalf("WatchWrite: %v", err)
	}
	ready, _ := p.Wait(1000)
	if len(ready) != 1 || ready[0] != fds[1] {
		t.Errorf("Expected [%d], got %v", fds[1], ready)
	}
}
