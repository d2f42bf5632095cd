package watch

import (
	"testing"
	"time"
)

func wokeUp(sub *Subscription) bool {
	select {
	case <-sub.Wakeup():
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

func TestValue_GetSet(t *testing.T) {
	v := NewValue(1)
	if v.Get() != 1 {
		t.Fatalf("get = %d, want 1", v.Get())
	}
	v.Set(2)
	if v.Get() != 2 {
		t.Fatalf("get = %d, want 2", v.Get())
	}
}

func TestValue_SubscribeWakeup(t *testing.T) {
	v := NewValue(0)
	sub := v.Subscribe()
	defer sub.Cancel()

	v.Set(1)
	if !wokeUp(sub) {
		t.Fatalf("set did not wake the subscriber")
	}

	// edge-triggered: several sets collapse into one pending wakeup
	v.Set(2)
	v.Set(3)
	if !wokeUp(sub) {
		t.Fatalf("coalesced sets did not wake the subscriber")
	}
	if wokeUp(sub) {
		t.Fatalf("spurious second wakeup")
	}
	if v.Get() != 3 {
		t.Fatalf("get = %d, want 3", v.Get())
	}
}

func TestValue_AtomicOp(t *testing.T) {
	v := NewValue(10)
	sub := v.Subscribe()
	defer sub.Cancel()

	v.AtomicOp(func(x *int) bool {
		*x++
		return true
	})
	if v.Get() != 11 {
		t.Fatalf("get = %d, want 11", v.Get())
	}
	if !wokeUp(sub) {
		t.Fatalf("changing op did not wake the subscriber")
	}

	// an op reporting no change stays silent
	v.AtomicOp(func(x *int) bool { return false })
	if wokeUp(sub) {
		t.Fatalf("silent op woke the subscriber")
	}
}

func TestValue_Cancel(t *testing.T) {
	v := NewValue(0)
	sub := v.Subscribe()
	sub.Cancel()

	v.Set(1)
	if wokeUp(sub) {
		t.Fatalf("canceled subscription still receives wakeups")
	}
}

func TestSet_AddRemove(t *testing.T) {
	s := NewSet[int]()
	sub := s.Subscribe()
	defer sub.Cancel()

	s.Add(1)
	if !s.Contains(1) || s.Size() != 1 {
		t.Fatalf("add failed: contains=%v size=%d", s.Contains(1), s.Size())
	}
	if !wokeUp(sub) {
		t.Fatalf("add did not wake the subscriber")
	}

	// adding an existing element stays silent
	s.Add(1)
	if wokeUp(sub) {
		t.Fatalf("duplicate add woke the subscriber")
	}

	s.Remove(1)
	if s.Contains(1) || s.Size() != 0 {
		t.Fatalf("remove failed")
	}
	if !wokeUp(sub) {
		t.Fatalf("remove did not wake the subscriber")
	}

	// removing an absent element stays silent
	s.Remove(2)
	if wokeUp(sub) {
		t.Fatalf("absent remove woke the subscriber")
	}
}

func TestSet_Snapshot(t *testing.T) {
	s := NewSet[int]()
	s.Add(1)
	s.Add(2)

	snap := s.Snapshot()
	if len(snap) != 2 || !snap[1] || !snap[2] {
		t.Fatalf("snapshot = %v", snap)
	}

	// snapshot is a copy
	delete(snap, 1)
	if !s.Contains(1) {
		t.Fatalf("snapshot aliased the set")
	}
}
