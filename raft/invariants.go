package raft

import (
	"bytes"

	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils"
)

// CheckInvariants verify the cross-replica safety properties over a
// set of live members: election safety, log matching, and agreement
// on committed entries. It locks every member for the duration, so
// callers must pass a consistent ordering and must not hold any
// member's mutex themselves. Violations panic through utils.Assert.
func CheckInvariants(members []*Member) {
	for _, m := range members {
		m.mutex.Lock()
	}
	defer func() {
		for i := len(members) - 1; i >= 0; i-- {
			members[i].mutex.Unlock()
		}
	}()

	checkElectionSafety(members)
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			checkLogPair(members[i], members[j])
		}
	}
}

// checkElectionSafety: at most one member won any given term.
func checkElectionSafety(members []*Member) {
	winners := make(map[uint64]raftpd.MemberID)
	for _, m := range members {
		for term := range m.ledTerms {
			prev, ok := winners[term]
			utils.Assert(!ok || prev == m.id,
				"two leaders in term %d: %v and %v", term, prev, m.id)
			winners[term] = m.id
		}
	}
}

// checkLogPair verify log matching and committed-entry agreement
// between two members. Both mutexes are held.
func checkLogPair(a, b *Member) {
	lo := utils.MaxUint64(a.wal.PrevIndex(), b.wal.PrevIndex()) + 1
	hi := utils.MinUint64(a.wal.LastIndex(), b.wal.LastIndex())
	if hi < lo {
		checkSnapshotBoundary(a, b)
		checkSnapshotBoundary(b, a)
		return
	}

	// find the highest common index with matching terms; everything
	// below it must be identical
	agree := raftpd.InvalidIndex
	for idx := hi; idx >= lo; idx-- {
		if a.wal.Term(idx) == b.wal.Term(idx) {
			agree = idx
			break
		}
	}
	for idx := lo; idx <= agree && agree != raftpd.InvalidIndex; idx++ {
		entryA := a.wal.At(idx)
		entryB := b.wal.At(idx)
		utils.Assert(entryA.Term == entryB.Term,
			"log matching violated at %d below matched index %d: %v=%d %v=%d",
			idx, agree, a.id, entryA.Term, b.id, entryB.Term)
		utils.Assert(entryA.Type == entryB.Type && bytes.Equal(entryA.Data, entryB.Data),
			"state machine safety violated at %d between %v and %v", idx, a.id, b.id)
	}

	// committed entries must agree regardless
	minCommit := utils.MinUint64(a.wal.CommitIndex(), b.wal.CommitIndex())
	for idx := lo; idx <= utils.MinUint64(minCommit, hi); idx++ {
		utils.Assert(a.wal.Term(idx) == b.wal.Term(idx),
			"committed entry %d disagrees between %v and %v", idx, a.id, b.id)
	}

	checkSnapshotBoundary(a, b)
	checkSnapshotBoundary(b, a)
}

// checkSnapshotBoundary: a's snapshot covers only committed entries,
// so where b has committed the boundary index, terms must match.
func checkSnapshotBoundary(a, b *Member) {
	idx := a.wal.PrevIndex()
	if idx <= b.wal.PrevIndex() || idx > b.wal.LastIndex() {
		return
	}
	if idx > b.wal.CommitIndex() {
		return
	}
	utils.Assert(b.wal.Term(idx) == a.wal.PrevTerm(),
		"snapshot boundary %d of %v conflicts with committed log of %v",
		idx, a.id, b.id)
}
