package raft

import (
	"context"

	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/watch"
)

// StateMachine adapts the application machine to the member: it
// feeds committed entries in strict log order and lets readers block
// until the applied state satisfies a predicate. All machine access
// is serialised under the member's mutex.
type StateMachine struct {
	member  *Member
	machine Machine
	applied *watch.Value[uint64]
}

func makeStateMachine(m *Member, machine Machine,
	snapshot []byte, snapshotIndex uint64) *StateMachine {
	machine.Restore(snapshot)
	return &StateMachine{
		member:  m,
		machine: machine,
		applied: watch.NewValue(snapshotIndex),
	}
}

// LastApplied return the applied cursor.
func (sm *StateMachine) LastApplied() uint64 {
	return sm.applied.Get()
}

// RunUntilSatisfied block until pred over the machine holds, or ctx
// fires. pred runs with the member's mutex held and must not block.
func (sm *StateMachine) RunUntilSatisfied(ctx context.Context,
	pred func(machine Machine) bool) error {
	sub := sm.applied.Subscribe()
	defer sub.Cancel()

	for {
		sm.member.mutex.Lock()
		ok := pred(sm.machine)
		sm.member.mutex.Unlock()
		if ok {
			return nil
		}

		select {
		case <-sub.Wakeup():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// apply feed one committed change entry to the machine. Called with
// the member's mutex held.
func (sm *StateMachine) apply(entry *raftpd.Entry) {
	sm.machine.Apply(entry.Data)
}

// notifyApplied publish the applied cursor, waking subscribers.
func (sm *StateMachine) notifyApplied(index uint64) {
	sm.applied.Set(index)
}

// takeSnapshot ask the machine for a snapshot of its current state.
// Called with the member's mutex held.
func (sm *StateMachine) takeSnapshot() []byte {
	return sm.machine.TakeSnapshot()
}

// restore reset the machine from a snapshot installed at index.
// Called with the member's mutex held.
func (sm *StateMachine) restore(snapshot []byte, index uint64) {
	sm.machine.Restore(snapshot)
	sm.applied.Set(index)
}
