package raft

import (
	log "github.com/sirupsen/logrus"

	"github.com/821684824/raftcore/raft/peer"
	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils"
	"github.com/821684824/raftcore/utils/pd"
	"github.com/821684824/raftcore/watch"
)

// runPeer is the leader's updater for one peer: it sends one RPC at
// a time (append or snapshot install), digests the reply, and sleeps
// until the heartbeat tick or a proposal wakes it. It exits when the
// member stops leading term, or the peer leaves the configuration.
func (m *Member) runPeer(term uint64, node *peer.Node, wake chan struct{}) {
	connected := m.netStorage.ConnectedMembers()
	connSub := connected.Subscribe()
	defer connSub.Cancel()

	for {
		m.mutex.Lock()
		if !m.leadingPeer(term, node) {
			m.mutex.Unlock()
			return
		}

		if !connected.Contains(node.ID) {
			m.mutex.Unlock()
			if !m.waitPeerWake(wake, connSub) {
				return
			}
			continue
		}

		if node.NeedSnapshot(m.wal.PrevIndex()) {
			node.SendSnapshot(m.wal.PrevIndex())
		}

		if node.IsSnapshotting() {
			m.sendSnapshotTo(term, node)
		} else if !m.sendAppendTo(term, node) {
			continue
		}

		m.mutex.Lock()
		pending := m.leadingPeer(term, node) && !node.IsSnapshotting() &&
			node.NextIdx <= m.wal.LastIndex()
		m.mutex.Unlock()

		if !pending && !m.waitPeerWake(wake, connSub) {
			return
		}
	}
}

// leadingPeer report whether we still lead term and node is still a
// live entry of the peer table. Called with the mutex held.
func (m *Member) leadingPeer(term uint64, node *peer.Node) bool {
	return !m.stopped && m.role == RoleLeader && m.term == term &&
		m.nodes[node.ID] == node
}

// waitPeerWake block until a proposal, a heartbeat tick or a
// connectivity change. Return false when the member is draining.
func (m *Member) waitPeerWake(wake chan struct{}, connSub *watch.Subscription) bool {
	select {
	case <-wake:
		return true
	case <-connSub.Wakeup():
		return true
	case <-m.drainer.Context().Done():
		return false
	}
}

// sendAppendTo build and send one AppendEntries to node. Called with
// the mutex held; it is released around the send. Return false when
// the caller should restart its loop immediately.
func (m *Member) sendAppendTo(term uint64, node *peer.Node) bool {
	prevIdx := node.NextIdx - 1
	prevTerm := m.wal.Term(prevIdx)
	entries := m.wal.EntriesFrom(node.NextIdx)
	lastSent := prevIdx + uint64(len(entries))
	req := &raftpd.AppendEntriesRequest{
		Term:   term,
		Leader: m.id,
		Log: raftpd.Log{
			PrevIndex: prevIdx,
			PrevTerm:  prevTerm,
			Entries:   entries,
		},
		LeaderCommit: m.wal.CommitIndex(),
	}
	dest := node.ID
	m.mutex.Unlock()

	token, ok := m.drainer.Acquire()
	if !ok {
		return true
	}
	reply, err := m.netStorage.SendAppendEntries(token.Context(), dest, req)
	token.Release()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.leadingPeer(term, node) {
		return true
	}
	if err != nil {
		log.Debugf("%v [term: %d] append to %v failed: %v", m.id, term, dest, err)
		node.HandleUnreachable()
		return true
	}
	if reply.Term > m.term {
		m.becomeFollower(reply.Term, raftpd.NilMember)
		m.persist()
		return true
	}
	if node.HandleAppendEntries(!reply.Success, lastSent) {
		m.advanceCommit()
	}
	if !reply.Success {
		// keep probing backwards without waiting for the heartbeat
		return false
	}
	return true
}

// sendSnapshotTo ship the current snapshot to a lagging node. Called
// with the mutex held; it is released around the send.
func (m *Member) sendSnapshotTo(term uint64, node *peer.Node) {
	req := &raftpd.InstallSnapshotRequest{
		Term:      term,
		Leader:    m.id,
		LastIndex: m.wal.PrevIndex(),
		LastTerm:  m.wal.PrevTerm(),
		State:     append([]byte(nil), m.snapshotState...),
		Config:    m.snapshotConfig.Clone(),
	}
	dest := node.ID
	m.mutex.Unlock()

	log.Infof("%v [term: %d] send snapshot to %v [idx: %d, term: %d]",
		m.id, term, dest, req.LastIndex, req.LastTerm)

	token, ok := m.drainer.Acquire()
	if !ok {
		return
	}
	reply, err := m.netStorage.SendInstallSnapshot(token.Context(), dest, req)
	token.Release()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.leadingPeer(term, node) {
		return
	}
	if err != nil {
		log.Debugf("%v [term: %d] snapshot to %v failed: %v", m.id, term, dest, err)
		node.HandleUnreachable()
		return
	}
	if reply.Term > m.term {
		m.becomeFollower(reply.Term, raftpd.NilMember)
		m.persist()
		return
	}
	node.HandleSnapshot()
	m.advanceCommit()
}

// advanceCommit move the commit index to the highest N replicated on
// a quorum of the effective configuration whose entry carries the
// current term. Prior-term entries commit only transitively. Called
// with the mutex held.
func (m *Member) advanceCommit() {
	if m.role != RoleLeader {
		return
	}

	for n := m.wal.LastIndex(); n > m.wal.CommitIndex(); n-- {
		if m.wal.Term(n) != m.term {
			// no current-term entry at or above n is replicated
			// widely enough; nothing to commit this round
			break
		}
		acks := map[raftpd.MemberID]bool{m.id: true}
		for id, node := range m.nodes {
			if node.Matched >= n {
				acks[id] = true
			}
		}
		if !m.config.IsQuorum(acks) {
			continue
		}

		m.wal.CommitTo(n)
		m.applyCommitted()
		m.resolveTokens()
		m.wakeAllPeers()
		return
	}
}

// applyCommitted feed committed entries to the state machine in log
// order and drive the configuration transitions that completion of a
// config entry requires. Called with the mutex held.
func (m *Member) applyCommitted() {
	for {
		entries := m.wal.NextApplyEntries()
		if len(entries) == 0 {
			break
		}
		for i := range entries {
			entry := &entries[i]
			switch entry.Type {
			case raftpd.EntryChange:
				m.machine.apply(entry)
			case raftpd.EntryConfig:
				m.applyConfigEntry(entry)
			case raftpd.EntryNoop:
			}
		}
		m.machine.notifyApplied(m.wal.LastApplied())
	}
	m.maybeCompact()
}

func (m *Member) applyConfigEntry(entry *raftpd.Entry) {
	var cc raftpd.ComplexConfig
	pd.MustUnmarshal(&cc, entry.Data)
	m.appliedConfig = cc.Clone()

	if m.role != RoleLeader {
		return
	}

	if cc.IsJoint() && m.config.IsJoint() {
		// joint entry committed, append its simple successor
		next := raftpd.ComplexConfig{Config: cc.NewConfig.Clone()}
		m.appendConfigEntry(&next)
		log.Infof("%v [term: %d] joint config committed, proposing new config",
			m.id, m.term)
	} else if !cc.IsJoint() && !cc.Config.IsMember(m.id) {
		// committed config excludes us, relinquish leadership
		log.Infof("%v [term: %d] removed from configuration, stepping down",
			m.id, m.term)
		m.becomeFollower(m.term, raftpd.NilMember)
	}
}

// appendConfigEntry append a config entry at the tail as leader and
// make it effective. Called with the mutex held.
func (m *Member) appendConfigEntry(cc *raftpd.ComplexConfig) {
	entry := raftpd.Entry{
		Index: m.wal.LastIndex() + 1,
		Term:  m.term,
		Type:  raftpd.EntryConfig,
		Data:  pd.MustMarshal(cc),
	}
	m.wal.Append([]raftpd.Entry{entry})
	m.updateEffectiveConfig()
	m.syncPeers()
	if err := m.persist(); err != nil {
		return
	}
	m.wakeAllPeers()
}

// maybeCompact snapshot the machine and drop the applied prefix once
// it grows past the threshold. Called with the mutex held.
func (m *Member) maybeCompact() {
	applied := m.wal.LastApplied()
	if applied-m.wal.PrevIndex() < m.opts.SnapshotThreshold {
		return
	}

	term := m.wal.Term(applied)
	utils.Assert(term != raftpd.InvalidTerm, "%v compact at %d without term", m.id, applied)

	m.snapshotState = m.machine.takeSnapshot()
	m.snapshotConfig = m.appliedConfig.Clone()
	m.wal.CompactTo(applied, term)

	log.Infof("%v [term: %d] compacted log through %d", m.id, m.term, applied)

	if err := m.persist(); err != nil {
		return
	}
}
