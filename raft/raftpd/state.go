package raftpd

// PersistentState is everything a member must keep durably: term and
// vote, the latest snapshot, and the log entries after it. A member
// recreated from a PersistentState alone must resume correctly.
type PersistentState struct {
	CurrentTerm uint64
	VotedFor    MemberID

	SnapshotState  []byte
	SnapshotConfig ComplexConfig
	SnapshotIndex  uint64
	SnapshotTerm   uint64

	Entries []Entry
}

// MakeInitial return the founding state: a snapshot at index 0
// holding initialState under config, an empty log, term 0.
func MakeInitial(initialState []byte, config Config) PersistentState {
	return PersistentState{
		CurrentTerm:    InvalidTerm,
		VotedFor:       NilMember,
		SnapshotState:  initialState,
		SnapshotConfig: ComplexConfig{Config: config},
		SnapshotIndex:  InvalidIndex,
		SnapshotTerm:   InvalidTerm,
	}
}

// MakeJoin return the blank state of a member joining an existing
// cluster. It holds nothing and waits for an InstallSnapshot.
func MakeJoin() PersistentState {
	return PersistentState{
		CurrentTerm: InvalidTerm,
		VotedFor:    NilMember,
		SnapshotConfig: ComplexConfig{
			Config: MakeConfig(),
		},
		SnapshotIndex: InvalidIndex,
		SnapshotTerm:  InvalidTerm,
	}
}

// Reset clears the state for decoding.
func (s *PersistentState) Reset() {
	*s = PersistentState{}
}

// Clone return a deep copy.
func (s *PersistentState) Clone() PersistentState {
	out := *s
	out.SnapshotState = append([]byte(nil), s.SnapshotState...)
	out.SnapshotConfig = s.SnapshotConfig.Clone()
	out.Entries = make([]Entry, len(s.Entries))
	for i, e := range s.Entries {
		out.Entries[i] = e
		out.Entries[i].Data = append([]byte(nil), e.Data...)
	}
	return out
}

// LastIndex return the index of the last log entry, or the snapshot
// index when the log is empty.
func (s *PersistentState) LastIndex() uint64 {
	if len(s.Entries) == 0 {
		return s.SnapshotIndex
	}
	return s.Entries[len(s.Entries)-1].Index
}
