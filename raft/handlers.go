package raft

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils"
)

// OnRequestVote handle a vote request. The vote is durable before
// the reply is returned.
func (m *Member) OnRequestVote(ctx context.Context,
	req *raftpd.RequestVoteRequest) (*raftpd.RequestVoteReply, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.stopped {
		return nil, ErrStopped
	}

	dirty := false
	if req.Term > m.term {
		m.becomeFollower(req.Term, raftpd.NilMember)
		dirty = true
	}

	granted := false
	if req.Term == m.term &&
		(m.votedFor.IsNil() || m.votedFor == req.Candidate) &&
		m.wal.IsUpToDate(req.LastLogIndex, req.LastLogTerm) {
		granted = true
		if m.votedFor.IsNil() {
			m.votedFor = req.Candidate
			dirty = true
		}
		m.resetElectionTimer()
	}

	if dirty {
		if err := m.persist(); err != nil {
			return nil, err
		}
	}

	log.Debugf("%v [term: %d] vote request from %v [term: %d]: granted=%v",
		m.id, m.term, req.Candidate, req.Term, granted)

	return &raftpd.RequestVoteReply{Term: m.term, VoteGranted: granted}, nil
}

// OnAppendEntries handle a replication request (or heartbeat).
func (m *Member) OnAppendEntries(ctx context.Context,
	req *raftpd.AppendEntriesRequest) (*raftpd.AppendEntriesReply, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.stopped {
		return nil, ErrStopped
	}

	if req.Term < m.term {
		log.Debugf("%v [term: %d] reject expired append from %v [term: %d]",
			m.id, m.term, req.Leader, req.Term)
		return &raftpd.AppendEntriesReply{Term: m.term, Success: false}, nil
	}
	if req.Term > m.term || m.role != RoleFollower {
		m.becomeFollower(req.Term, req.Leader)
	} else {
		m.leaderHint.Set(req.Leader)
		m.resetElectionTimer()
	}

	prevIdx := req.Log.PrevIndex
	prevTerm := req.Log.PrevTerm
	entries := req.Log.Entries

	if prevIdx < m.wal.PrevIndex() {
		// a prefix already subsumed by our snapshot
		if req.Log.LastIndex() <= m.wal.PrevIndex() {
			if err := m.persist(); err != nil {
				return nil, err
			}
			return &raftpd.AppendEntriesReply{Term: m.term, Success: true}, nil
		}
		cut := m.wal.PrevIndex() - prevIdx
		entries = entries[cut:]
		prevIdx = m.wal.PrevIndex()
		prevTerm = m.wal.PrevTerm()
	}

	lastNew, ok := m.wal.TryAppend(prevIdx, prevTerm, entries)
	if !ok {
		log.Debugf("%v [term: %d] reject append from %v [prev: %d, prev term: %d]",
			m.id, m.term, req.Leader, prevIdx, prevTerm)
		if err := m.persist(); err != nil {
			return nil, err
		}
		return &raftpd.AppendEntriesReply{Term: m.term, Success: false}, nil
	}

	m.updateEffectiveConfig()
	m.wal.CommitTo(utils.MinUint64(req.LeaderCommit, lastNew))
	m.applyCommitted()

	if err := m.persist(); err != nil {
		return nil, err
	}

	return &raftpd.AppendEntriesReply{Term: m.term, Success: true}, nil
}

// OnInstallSnapshot handle a snapshot install from the leader.
func (m *Member) OnInstallSnapshot(ctx context.Context,
	req *raftpd.InstallSnapshotRequest) (*raftpd.InstallSnapshotReply, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.stopped {
		return nil, ErrStopped
	}

	if req.Term < m.term {
		return &raftpd.InstallSnapshotReply{Term: m.term}, nil
	}
	if req.Term > m.term || m.role != RoleFollower {
		m.becomeFollower(req.Term, req.Leader)
	} else {
		m.leaderHint.Set(req.Leader)
		m.resetElectionTimer()
	}

	if req.LastIndex <= m.wal.PrevIndex() {
		// stale snapshot, ours already covers it
		if err := m.persist(); err != nil {
			return nil, err
		}
		return &raftpd.InstallSnapshotReply{Term: m.term}, nil
	}

	log.Infof("%v [term: %d] install snapshot from %v [idx: %d, term: %d]",
		m.id, m.term, req.Leader, req.LastIndex, req.LastTerm)

	m.snapshotState = append([]byte(nil), req.State...)
	m.snapshotConfig = req.Config.Clone()
	m.wal.CompactTo(req.LastIndex, req.LastTerm)
	m.machine.restore(m.snapshotState, req.LastIndex)
	m.appliedConfig = req.Config.Clone()
	m.updateEffectiveConfig()

	if err := m.persist(); err != nil {
		return nil, err
	}

	return &raftpd.InstallSnapshotReply{Term: m.term}, nil
}
