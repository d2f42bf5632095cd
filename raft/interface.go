package raft

import (
	"context"

	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/watch"
)

// NetworkAndStorage is the capability a member depends on: three
// request/response RPC senders, a persistent-state writer, and a
// connectivity watchable. Embedders implement it for real networks;
// the simulation harness implements it in memory.
//
// Any send may fail; the member treats a failure as no information
// and retries later. The receiver side must tolerate duplicated
// delivery. WritePersistentState must be atomic: after an error or a
// cancellation, the previously written state must still be intact.
type NetworkAndStorage interface {
	SendRequestVote(ctx context.Context, dest raftpd.MemberID,
		req *raftpd.RequestVoteRequest) (*raftpd.RequestVoteReply, error)

	SendAppendEntries(ctx context.Context, dest raftpd.MemberID,
		req *raftpd.AppendEntriesRequest) (*raftpd.AppendEntriesReply, error)

	SendInstallSnapshot(ctx context.Context, dest raftpd.MemberID,
		req *raftpd.InstallSnapshotRequest) (*raftpd.InstallSnapshotReply, error)

	WritePersistentState(ctx context.Context, state *raftpd.PersistentState) error

	ConnectedMembers() *watch.Set[raftpd.MemberID]
}

// Machine is the application state machine. The member serialises
// all calls, so implementations need no locking of their own.
// TakeSnapshot must be deterministic given the applied history.
type Machine interface {
	Apply(change []byte)
	TakeSnapshot() []byte
	Restore(snapshot []byte)
}
