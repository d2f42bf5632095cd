package walstore

import (
	"github.com/821684824/raftcore/raft/raftpd"
)

// record types
const (
	recordState int32 = iota
	recordEntry
	recordSnapshot
)

// record is one framed unit of a segment file. Crc covers Data.
type record struct {
	Type int32
	Crc  uint32
	Data []byte
}

func (r *record) Reset() {
	*r = record{}
}

// stateHeader carries the term and vote part of the persistent state.
type stateHeader struct {
	CurrentTerm uint64
	VotedFor    raftpd.MemberID
}

func (h *stateHeader) Reset() {
	*h = stateHeader{}
}

// snapshotRecord carries the snapshot part of the persistent state.
type snapshotRecord struct {
	State  []byte
	Config raftpd.ComplexConfig
	Index  uint64
	Term   uint64
}

func (s *snapshotRecord) Reset() {
	*s = snapshotRecord{}
}

type entryRecord struct {
	Entry raftpd.Entry
}

func (e *entryRecord) Reset() {
	*e = entryRecord{}
}
