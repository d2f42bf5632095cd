// Package peer tracks what the leader knows about each other member:
// replication progress and the vote it cast in the current election.
// One request is in flight per peer at a time, so progress moves in
// lock step with the reply stream.
package peer

import (
	log "github.com/sirupsen/logrus"

	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils"
)

// Node maintains the same information as other nodes in the raft group.
type Node struct {
	belongID raftpd.MemberID

	// node id
	ID raftpd.MemberID

	// detected status
	Vote VoteState

	// known to the maximum location
	Matched uint64

	// next entry index to send
	NextIdx uint64

	// When in nodeStateProbe, the leader is still locating the end of
	// the common prefix and walks NextIdx backwards on rejection.
	//
	// When in nodeStateReplicate, the follower accepted the previous
	// append and entries flow forward from NextIdx.
	//
	// When in nodeStateSnapshot, NextIdx fell below the leader's
	// snapshot boundary and a snapshot install is pending.
	state nodeState

	// pendingSnapshot is the boundary index of the snapshot being
	// installed while in nodeStateSnapshot.
	pendingSnapshot uint64
}

// MakeNode create instance for remote peer.
func MakeNode(belong, id raftpd.MemberID, nextIdx uint64) *Node {
	return &Node{
		belongID:        belong,
		ID:              id,
		Vote:            VoteNone,
		Matched:         raftpd.InvalidIndex,
		NextIdx:         nextIdx,
		state:           nodeStateProbe,
		pendingSnapshot: raftpd.InvalidIndex,
	}
}

// NeedSnapshot report whether the next entry to send has already
// been compacted away on the leader.
func (n *Node) NeedSnapshot(snapshotIndex uint64) bool {
	return n.state != nodeStateSnapshot && n.NextIdx <= snapshotIndex
}

// IsSnapshotting report whether a snapshot install is pending.
func (n *Node) IsSnapshotting() bool {
	return n.state == nodeStateSnapshot
}

// HandleUnreachable trigger unreachable event.
func (n *Node) HandleUnreachable() {
	switch n.state {
	case nodeStateReplicate:
		// An append was probably lost in flight, back off to the
		// last index known replicated.
		n.NextIdx = n.Matched + 1
		n.becomeProbe()
	case nodeStateSnapshot:
		n.becomeProbe()
		n.NextIdx = utils.MaxUint64(n.pendingSnapshot, raftpd.InvalidIndex+1)
	}
}

// HandleSnapshot trigger receive snapshot response event.
func (n *Node) HandleSnapshot() {
	if n.state != nodeStateSnapshot {
		return
	}
	n.Matched = n.pendingSnapshot
	n.NextIdx = n.pendingSnapshot + 1
	n.pendingSnapshot = raftpd.InvalidIndex
	n.becomeProbe()
}

// HandleAppendEntries trigger append response event. lastSent is the
// index of the last entry carried by the request that was answered.
// Return whether Matched advanced.
func (n *Node) HandleAppendEntries(reject bool, lastSent uint64) bool {
	if n.state == nodeStateSnapshot {
		return false
	}

	if reject {
		if n.state == nodeStateReplicate {
			n.NextIdx = n.Matched + 1
			n.becomeProbe()
		} else if n.NextIdx > raftpd.InvalidIndex+1 {
			n.NextIdx--
		}
		log.Debugf("%v node: %v update next index: %d",
			n.belongID, n.ID, n.NextIdx)
		return false
	}

	if lastSent < n.Matched {
		log.Debugf("%v node: %v [next: %d] ignore staled append response: %d",
			n.belongID, n.ID, n.NextIdx, lastSent)
		return false
	}

	advanced := n.Matched < lastSent
	n.Matched = lastSent
	n.NextIdx = n.Matched + 1
	if n.state == nodeStateProbe {
		n.becomeReplicate()
	}
	return advanced
}

// SendSnapshot translate state to nodeStateSnapshot,
// and set pendingSnapshot to idx.
func (n *Node) SendSnapshot(idx uint64) {
	log.Debugf("%v node: %v from %v => %v [pd snapshot: %d]",
		n.belongID, n.ID, n.state, nodeStateSnapshot, idx)

	n.pendingSnapshot = idx
	n.state = nodeStateSnapshot
}

// UpdateVoteState set vote by granted.
func (n *Node) UpdateVoteState(granted bool) {
	if granted {
		n.Vote = VoteGranted
	} else {
		n.Vote = VoteReject
	}
}

// ResetVoteState set vote to VoteNone.
func (n *Node) ResetVoteState() {
	n.Vote = VoteNone
}

// ToProbe transfer status to probe, and reset fields.
func (n *Node) ToProbe(nextIdx uint64) {
	n.Matched = raftpd.InvalidIndex
	n.NextIdx = nextIdx
	n.pendingSnapshot = raftpd.InvalidIndex
	n.becomeProbe()
}

func (n *Node) becomeProbe() {
	origin := n.state
	n.state = nodeStateProbe

	log.Debugf("%v node: %v from %v => %v", n.belongID, n.ID, origin, n.state)
}

func (n *Node) becomeReplicate() {
	origin := n.state
	n.state = nodeStateReplicate

	log.Debugf("%v node: %v from %v => %v", n.belongID, n.ID, origin, n.state)
}
