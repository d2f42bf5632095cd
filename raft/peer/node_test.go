package peer

import (
	"testing"

	"github.com/821684824/raftcore/raft/raftpd"
)

var (
	testBelong = raftpd.NewMemberID()
	testPeer   = raftpd.NewMemberID()
)

func TestMakeNode(t *testing.T) {
	n := MakeNode(testBelong, testPeer, 5)
	if n.Matched != raftpd.InvalidIndex || n.NextIdx != 5 {
		t.Fatalf("make node: matched %d, next %d", n.Matched, n.NextIdx)
	}
	if n.state != nodeStateProbe {
		t.Fatalf("make node: state %v, want probe", n.state)
	}
	if n.Vote != VoteNone {
		t.Fatalf("make node: vote %v, want none", n.Vote)
	}
}

func TestNode_HandleAppendEntries(t *testing.T) {
	tests := []struct {
		state    nodeState
		matched  uint64
		nextIdx  uint64
		reject   bool
		lastSent uint64

		wadvanced bool
		wmatched  uint64
		wnext     uint64
		wstate    nodeState
	}{
		// probe success moves to replicate
		{nodeStateProbe, 0, 3, false, 5, true, 5, 6, nodeStateReplicate},
		// probe reject walks next backwards
		{nodeStateProbe, 0, 3, true, 2, false, 0, 2, nodeStateProbe},
		// probe reject never walks below the first index
		{nodeStateProbe, 0, 1, true, 0, false, 0, 1, nodeStateProbe},
		// replicate success advances
		{nodeStateReplicate, 5, 6, false, 8, true, 8, 9, nodeStateReplicate},
		// replicate reject falls back to matched and probes
		{nodeStateReplicate, 5, 9, true, 8, false, 5, 6, nodeStateProbe},
		// stale response is ignored
		{nodeStateReplicate, 5, 6, false, 3, false, 5, 6, nodeStateReplicate},
		// duplicate response does not report progress
		{nodeStateReplicate, 5, 6, false, 5, false, 5, 6, nodeStateReplicate},
		// responses are dropped while snapshotting
		{nodeStateSnapshot, 5, 6, false, 8, false, 5, 6, nodeStateSnapshot},
	}

	for i, test := range tests {
		n := MakeNode(testBelong, testPeer, test.nextIdx)
		n.state = test.state
		n.Matched = test.matched

		advanced := n.HandleAppendEntries(test.reject, test.lastSent)
		if advanced != test.wadvanced {
			t.Fatalf("#%d: advanced = %v, want %v", i, advanced, test.wadvanced)
		}
		if n.Matched != test.wmatched || n.NextIdx != test.wnext {
			t.Fatalf("#%d: matched %d next %d, want %d %d",
				i, n.Matched, n.NextIdx, test.wmatched, test.wnext)
		}
		if n.state != test.wstate {
			t.Fatalf("#%d: state = %v, want %v", i, n.state, test.wstate)
		}
	}
}

func TestNode_HandleUnreachable(t *testing.T) {
	tests := []struct {
		state           nodeState
		matched         uint64
		nextIdx         uint64
		pendingSnapshot uint64
		wnext           uint64
	}{
		// probe keeps its position
		{nodeStateProbe, 2, 3, raftpd.InvalidIndex, 3},
		// replicate backs off to matched
		{nodeStateReplicate, 2, 7, raftpd.InvalidIndex, 3},
		// snapshot aborts and probes from the pending boundary
		{nodeStateSnapshot, 0, 1, 5, 5},
	}

	for i, test := range tests {
		n := MakeNode(testBelong, testPeer, test.nextIdx)
		n.state = test.state
		n.Matched = test.matched
		n.pendingSnapshot = test.pendingSnapshot

		n.HandleUnreachable()
		if n.NextIdx != test.wnext {
			t.Fatalf("#%d: next = %d, want %d", i, n.NextIdx, test.wnext)
		}
		if n.state != nodeStateProbe {
			t.Fatalf("#%d: state = %v, want probe", i, n.state)
		}
	}
}

func TestNode_Snapshot(t *testing.T) {
	n := MakeNode(testBelong, testPeer, 1)
	if !n.NeedSnapshot(3) {
		t.Fatalf("next %d below snapshot 3 should need snapshot", n.NextIdx)
	}

	n.SendSnapshot(3)
	if !n.IsSnapshotting() || n.NeedSnapshot(3) {
		t.Fatalf("snapshotting node should not ask again")
	}

	n.HandleSnapshot()
	if n.Matched != 3 || n.NextIdx != 4 {
		t.Fatalf("after snapshot: matched %d next %d, want 3 4", n.Matched, n.NextIdx)
	}
	if n.state != nodeStateProbe || n.pendingSnapshot != raftpd.InvalidIndex {
		t.Fatalf("after snapshot: state %v pending %d", n.state, n.pendingSnapshot)
	}

	// a second response is a no-op
	n.HandleSnapshot()
	if n.Matched != 3 || n.NextIdx != 4 {
		t.Fatalf("duplicate snapshot response moved the node")
	}
}

func TestNode_VoteState(t *testing.T) {
	n := MakeNode(testBelong, testPeer, 1)

	n.UpdateVoteState(true)
	if n.Vote != VoteGranted {
		t.Fatalf("vote = %v, want granted", n.Vote)
	}

	n.UpdateVoteState(false)
	if n.Vote != VoteReject {
		t.Fatalf("vote = %v, want reject", n.Vote)
	}

	n.ResetVoteState()
	if n.Vote != VoteNone {
		t.Fatalf("vote = %v, want none", n.Vote)
	}
}

func TestNode_ToProbe(t *testing.T) {
	n := MakeNode(testBelong, testPeer, 1)
	n.SendSnapshot(7)
	n.Matched = 7

	n.ToProbe(9)
	if n.Matched != raftpd.InvalidIndex || n.NextIdx != 9 {
		t.Fatalf("to probe: matched %d next %d", n.Matched, n.NextIdx)
	}
	if n.state != nodeStateProbe || n.pendingSnapshot != raftpd.InvalidIndex {
		t.Fatalf("to probe: state %v pending %d", n.state, n.pendingSnapshot)
	}
}
