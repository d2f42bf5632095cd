package raft

import (
	log "github.com/sirupsen/logrus"

	"github.com/821684824/raftcore/raft/peer"
	"github.com/821684824/raftcore/raft/raftpd"
)

// startElection bump the term, vote for self and solicit the voting
// members. Called with the mutex held.
func (m *Member) startElection() {
	if !m.config.IsVoter(m.id) {
		// non-voting members and blank joiners never campaign
		m.resetElectionTimer()
		return
	}

	m.term++
	m.role = RoleCandidate
	m.votedFor = m.id
	m.leaderHint.Set(raftpd.NilMember)
	m.resetElectionTimer()
	m.rebuildNodes()

	log.Infof("%v [term: %d] starts election [last: %d, last term: %d]",
		m.id, m.term, m.wal.LastIndex(), m.wal.LastTerm())

	if err := m.persist(); err != nil {
		return
	}

	if m.config.IsQuorum(m.grantedVotes()) {
		// single voter wins immediately
		m.becomeLeader()
		return
	}

	lastIdx := m.wal.LastIndex()
	lastTerm := m.wal.LastTerm()
	for id, node := range m.nodes {
		if !m.config.IsVoter(id) {
			continue
		}
		node.ResetVoteState()
		go m.askVote(m.term, id, lastIdx, lastTerm)
	}
}

func (m *Member) askVote(term uint64, dest raftpd.MemberID, lastIdx, lastTerm uint64) {
	token, ok := m.drainer.Acquire()
	if !ok {
		return
	}
	defer token.Release()

	req := &raftpd.RequestVoteRequest{
		Term:         term,
		Candidate:    m.id,
		LastLogIndex: lastIdx,
		LastLogTerm:  lastTerm,
	}
	reply, err := m.netStorage.SendRequestVote(token.Context(), dest, req)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err != nil {
		log.Debugf("%v [term: %d] vote request to %v failed: %v",
			m.id, term, dest, err)
		return
	}
	if m.stopped {
		return
	}
	if reply.Term > m.term {
		m.becomeFollower(reply.Term, raftpd.NilMember)
		m.persist()
		return
	}
	if m.role != RoleCandidate || m.term != term {
		// stale reply from a previous election
		return
	}

	node := m.nodes[dest]
	if node == nil {
		return
	}
	node.UpdateVoteState(reply.VoteGranted)

	log.Debugf("%v [term: %d] vote from %v: %v", m.id, term, dest, reply.VoteGranted)

	if reply.VoteGranted && m.config.IsQuorum(m.grantedVotes()) {
		m.becomeLeader()
	}
}

// grantedVotes collect the ids that granted a vote this election,
// including ourselves.
func (m *Member) grantedVotes() map[raftpd.MemberID]bool {
	votes := map[raftpd.MemberID]bool{m.id: true}
	for id, node := range m.nodes {
		if node.Vote == peer.VoteGranted {
			votes[id] = true
		}
	}
	return votes
}

// becomeLeader take leadership of the current term: append the term's
// no-op entry and start the per-peer updaters. Called with the mutex
// held.
func (m *Member) becomeLeader() {
	m.role = RoleLeader
	m.leaderHint.Set(m.id)
	m.ledTerms[m.term] = true
	m.heartbeatElapsed = 0

	log.Infof("%v becomes leader [term: %d, last: %d]",
		m.id, m.term, m.wal.LastIndex())

	noop := raftpd.Entry{
		Index: m.wal.LastIndex() + 1,
		Term:  m.term,
		Type:  raftpd.EntryNoop,
	}
	m.wal.Append([]raftpd.Entry{noop})

	if err := m.persist(); err != nil {
		return
	}

	m.rebuildNodes()
	for id, node := range m.nodes {
		go m.runPeer(m.term, node, m.wakes[id])
	}
	m.advanceCommit()
}

// rebuildNodes resets the peer table to the effective configuration.
// As candidate the table tracks votes; as leader it tracks
// replication progress and one updater goroutine runs per entry.
func (m *Member) rebuildNodes() {
	m.nodes = make(map[raftpd.MemberID]*peer.Node)
	m.wakes = make(map[raftpd.MemberID]chan struct{})
	for id := range m.config.Members() {
		if id == m.id {
			continue
		}
		m.nodes[id] = peer.MakeNode(m.id, id, m.wal.LastIndex()+1)
		m.wakes[id] = make(chan struct{}, 1)
	}
}

// syncPeers reconcile the peer table with a changed effective
// configuration while leading: new members get an updater, removed
// ones are dropped (their updaters exit on the next revalidation).
func (m *Member) syncPeers() {
	if m.role != RoleLeader {
		return
	}
	members := m.config.Members()
	for id := range members {
		if id == m.id || m.nodes[id] != nil {
			continue
		}
		node := peer.MakeNode(m.id, id, m.wal.LastIndex()+1)
		wake := make(chan struct{}, 1)
		m.nodes[id] = node
		m.wakes[id] = wake
		go m.runPeer(m.term, node, wake)
	}
	for id := range m.nodes {
		if !members[id] {
			delete(m.nodes, id)
			delete(m.wakes, id)
		}
	}
}
