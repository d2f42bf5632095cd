// Package raftpd holds the data types exchanged between members:
// log entries, configurations, persistent state and the RPC
// argument/reply structs. Everything here is gob-encodable.
package raftpd

import (
	"github.com/google/uuid"
)

// InvalidIndex is the index before the first log entry.
const InvalidIndex uint64 = 0

// InvalidTerm is the term before the first election.
const InvalidTerm uint64 = 0

// MemberID identifies one member of the cluster. The zero value is
// "no member" (used for an empty voted_for and an unknown leader).
type MemberID uuid.UUID

// NilMember is the zero MemberID.
var NilMember = MemberID{}

// NewMemberID return a fresh random id.
func NewMemberID() MemberID {
	return MemberID(uuid.New())
}

// IsNil report whether id is the zero id.
func (id MemberID) IsNil() bool {
	return id == NilMember
}

// String return a short prefix of the id, enough to tell members
// apart in logs.
func (id MemberID) String() string {
	return uuid.UUID(id).String()[:8]
}

// EntryType discriminates the three kinds of log entry.
type EntryType int

const (
	// EntryChange carries an application change payload.
	EntryChange EntryType = iota
	// EntryConfig carries a gob-encoded ComplexConfig.
	EntryConfig
	// EntryNoop is appended by a new leader at the start of its term.
	EntryNoop
)

// Entry is one slot of the replicated log.
type Entry struct {
	Index uint64
	Term  uint64
	Type  EntryType
	Data  []byte
}

// Log is a slice of the log as carried by AppendEntries: the entries
// after PrevIndex, whose predecessor had term PrevTerm.
type Log struct {
	PrevIndex uint64
	PrevTerm  uint64
	Entries   []Entry
}

// LastIndex return the index of the last entry in the slice, or
// PrevIndex when the slice is empty.
func (l *Log) LastIndex() uint64 {
	if len(l.Entries) == 0 {
		return l.PrevIndex
	}
	return l.Entries[len(l.Entries)-1].Index
}

// RequestVoteRequest asks for a vote in Term.
type RequestVoteRequest struct {
	Term         uint64
	Candidate    MemberID
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteReply answers a vote request.
type RequestVoteReply struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesRequest replicates a log slice (empty for heartbeat).
type AppendEntriesRequest struct {
	Term         uint64
	Leader       MemberID
	Log          Log
	LeaderCommit uint64
}

// AppendEntriesReply answers a replication attempt.
type AppendEntriesReply struct {
	Term    uint64
	Success bool
}

// InstallSnapshotRequest ships a whole snapshot to a lagging member.
type InstallSnapshotRequest struct {
	Term      uint64
	Leader    MemberID
	LastIndex uint64
	LastTerm  uint64
	State     []byte
	Config    ComplexConfig
}

// InstallSnapshotReply answers a snapshot install.
type InstallSnapshotReply struct {
	Term uint64
}
