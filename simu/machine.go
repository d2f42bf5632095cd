package simu

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/821684824/raftcore/raft"
)

// changeMachine is the test state machine: it records every applied
// change in order. The member serialises Apply/TakeSnapshot/Restore;
// the mutex only protects concurrent readers from the test side.
type changeMachine struct {
	mutex   sync.Mutex
	changes [][]byte
}

var _ raft.Machine = (*changeMachine)(nil)

func (cm *changeMachine) Apply(change []byte) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.changes = append(cm.changes, append([]byte(nil), change...))
}

func (cm *changeMachine) TakeSnapshot() []byte {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(cm.changes); err != nil {
		panic("simu: encode changes failed")
	}
	return buf.Bytes()
}

func (cm *changeMachine) Restore(snapshot []byte) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if len(snapshot) == 0 {
		cm.changes = nil
		return
	}

	var changes [][]byte
	dec := gob.NewDecoder(bytes.NewBuffer(snapshot))
	if err := dec.Decode(&changes); err != nil {
		panic("simu: decode changes failed")
	}
	cm.changes = changes
}

// Contains report whether change has been applied.
func (cm *changeMachine) Contains(change []byte) bool {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	for _, c := range cm.changes {
		if bytes.Equal(c, change) {
			return true
		}
	}
	return false
}

// Changes return a copy of the applied sequence.
func (cm *changeMachine) Changes() [][]byte {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	result := make([][]byte, len(cm.changes))
	copy(result, cm.changes)
	return result
}
