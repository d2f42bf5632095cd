package drain

import (
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	d := New()

	token, ok := d.Acquire()
	if !ok {
		t.Fatalf("fresh drainer rejected a token")
	}
	if err := token.Context().Err(); err != nil {
		t.Fatalf("token context already canceled: %v", err)
	}
	token.Release()

	if d.Draining() {
		t.Fatalf("drainer draining before Drain")
	}
}

func TestDrainRejectsNewTokens(t *testing.T) {
	d := New()
	d.Drain()

	if _, ok := d.Acquire(); ok {
		t.Fatalf("drained drainer handed out a token")
	}
	if !d.Draining() {
		t.Fatalf("Draining() false after Drain")
	}
}

func TestDrainWaitsForOutstanding(t *testing.T) {
	d := New()
	token, _ := d.Acquire()

	done := make(chan struct{})
	go func() {
		d.Drain()
		close(done)
	}()

	// the token context is canceled promptly even while Drain blocks
	select {
	case <-token.Context().Done():
	case <-time.After(time.Second):
		t.Fatalf("token context not canceled by Drain")
	}

	select {
	case <-done:
		t.Fatalf("Drain returned with a token outstanding")
	case <-time.After(20 * time.Millisecond):
	}

	token.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Drain did not return after release")
	}
}

func TestDrainIdempotent(t *testing.T) {
	d := New()
	d.Drain()
	d.Drain()
}
