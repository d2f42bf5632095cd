package holder

import (
	log "github.com/sirupsen/logrus"

	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils"
)

// LogHolder keeps the in-memory suffix of the replicated log, after
// the latest snapshot. Memory layout:
//
// [prev, lastApplied, commitIndex, lastIndex)
// +--------------+--------------+--------------+
// | wait compact |  wait apply  | wait commit  |
// +--------------+--------------+--------------+
// ^ prev         ^ applied      ^ committed    ^ last
//
// There always is a dummy entry carrying the snapshot boundary
// (prev index and term), it makes the programming more easy.
type LogHolder struct {
	id raftpd.MemberID

	// last index of entry has been applied
	lastApplied uint64

	// last index of committed entry
	commitIndex uint64

	// buffered entries, entries[0] is the dummy
	entries []raftpd.Entry
}

// MakeLogHolder create a holder whose snapshot boundary is
// (prevIndex, prevTerm), seeded with the given entries.
func MakeLogHolder(id raftpd.MemberID, prevIndex, prevTerm uint64,
	entries []raftpd.Entry) *LogHolder {
	log.Debugf("%v make log holder [idx: %d, term: %d, entries: %d]",
		id, prevIndex, prevTerm, len(entries))

	all := make([]raftpd.Entry, 1, len(entries)+1)
	all[0].Index = prevIndex
	all[0].Term = prevTerm
	all = append(all, entries...)

	return &LogHolder{
		id:          id,
		entries:     all,
		lastApplied: prevIndex,
		commitIndex: prevIndex,
	}
}

// PrevIndex return the snapshot boundary index.
func (holder *LogHolder) PrevIndex() uint64 {
	return holder.offset()
}

// PrevTerm return the snapshot boundary term.
func (holder *LogHolder) PrevTerm() uint64 {
	return holder.entries[0].Term
}

// Term return the term of idx, or InvalidTerm if idx is outside
// the held range.
func (holder *LogHolder) Term(idx uint64) uint64 {
	lastIndex := holder.LastIndex()
	dummyIdx := holder.offset()
	if idx < dummyIdx || idx > lastIndex {
		return raftpd.InvalidTerm
	}
	return holder.entries[idx-dummyIdx].Term
}

// At return the entry at idx, which must be in (prev, last].
func (holder *LogHolder) At(idx uint64) *raftpd.Entry {
	offset := holder.offset()
	utils.Assert(idx > offset && idx <= holder.LastIndex(),
		"%v index %d out of range (%d, %d]",
		holder.id, idx, offset, holder.LastIndex())
	return &holder.entries[idx-offset]
}

// Slice return the entries between [lo, hi), not including the dummy.
func (holder *LogHolder) Slice(lo, hi uint64) []raftpd.Entry {
	holder.checkOutOfBounds(lo, hi)
	offset := holder.offset()
	entries := holder.entries[lo-offset : hi-offset]

	if len(entries) != 0 {
		utils.Assert(entries[0].Index == lo, "error index")
		utils.Assert(entries[len(entries)-1].Index == hi-1, "error index")
	}
	return entries
}

// EntriesFrom return a copy of the entries in [idx, last].
func (holder *LogHolder) EntriesFrom(idx uint64) []raftpd.Entry {
	entries := holder.Slice(idx, holder.LastIndex()+1)
	dup := make([]raftpd.Entry, len(entries))
	copy(dup, entries)
	return dup
}

// Entries return a copy of all held entries after the snapshot.
func (holder *LogHolder) Entries() []raftpd.Entry {
	return holder.EntriesFrom(holder.offset() + 1)
}

// IsUpToDate determines if the given (idx, term) log is at least as
// up-to-date as ours, by comparing the term and index of the last
// entries.
func (holder *LogHolder) IsUpToDate(idx, term uint64) bool {
	return term > holder.LastTerm() ||
		(term == holder.LastTerm() && idx >= holder.LastIndex())
}

// LastIndex return the last index of current entries.
func (holder *LogHolder) LastIndex() uint64 {
	utils.Assert(len(holder.entries) != 0, "require len(holder.entries) great than zero")
	length := len(holder.entries)
	actual := holder.entries[length-1].Index
	get := holder.offset() + uint64(length) - 1
	utils.Assert(actual == get, "bad entries")
	return get
}

// LastTerm return the term of the last entry.
func (holder *LogHolder) LastTerm() uint64 {
	return holder.Term(holder.LastIndex())
}

// CommitIndex return the committed cursor.
func (holder *LogHolder) CommitIndex() uint64 {
	return holder.commitIndex
}

// LastApplied return the applied cursor.
func (holder *LogHolder) LastApplied() uint64 {
	return holder.lastApplied
}

// CommitTo advance the committed cursor to `to`. Never decreases.
func (holder *LogHolder) CommitTo(to uint64) {
	if holder.commitIndex >= to {
		/* never decrease commit */
		return
	}

	utils.Assert(holder.LastIndex() >= to,
		"%v toCommit %d is out of range [last index: %d]",
		holder.id, to, holder.LastIndex())

	holder.commitIndex = to

	log.Debugf("%v commit entries to index: %d", holder.id, to)
}

// NextApplyEntries return the committed entries not yet applied and
// advance the applied cursor past them.
func (holder *LogHolder) NextApplyEntries() []raftpd.Entry {
	if holder.lastApplied == holder.commitIndex {
		return nil
	}

	log.Debugf("%v apply entries to index: %d", holder.id, holder.commitIndex)

	result := holder.Slice(holder.lastApplied+1, holder.commitIndex+1)
	holder.lastApplied = holder.commitIndex
	return result
}

// CompactTo replace the prefix through `to` with a snapshot boundary.
// When (to, term) conflicts with the held entries, or lies outside
// them, the whole log is rebuilt around the boundary.
func (holder *LogHolder) CompactTo(to, term uint64) {
	if holder.Term(to) != term || to <= holder.offset() || to > holder.lastApplied {
		log.Debugf("%v compact and rebuild: %d, term: %d", holder.id, to, term)
		entries := make([]raftpd.Entry, 1)
		entries[0].Index = to
		entries[0].Term = term
		holder.entries = entries
		holder.lastApplied = to
		holder.commitIndex = to
	} else {
		log.Debugf("%v compact to: %d, term: %d", holder.id, to, term)
		offset := holder.offset()
		holder.entries = drain(holder.entries, int(to-offset))
	}
}

// TryAppend check whether the slice after (prevIdx, prevTerm) can be
// accepted. On success it resolves conflicts, appends what is new,
// and returns the index of the last new entry.
func (holder *LogHolder) TryAppend(prevIdx, prevTerm uint64,
	entries []raftpd.Entry) (uint64, bool) {
	if holder.Term(prevIdx) == prevTerm {
		conflictIdx := holder.findConflict(entries)
		if conflictIdx == 0 {
			/* success, no conflict */
		} else if conflictIdx <= holder.commitIndex {
			log.Panicf("%v entry %d conflict with committed entry %d",
				holder.id, conflictIdx, holder.commitIndex)
		} else {
			offset := prevIdx + 1
			holder.truncateAndAppend(entries[conflictIdx-offset:])
		}

		if len(entries) == 0 {
			return prevIdx, true
		}
		return entries[len(entries)-1].Index, true
	}

	utils.Assert(prevIdx >= holder.commitIndex,
		"%v entry %d [term: %d] conflict with committed entry term: %d",
		holder.id, prevIdx, prevTerm, holder.Term(prevIdx))

	return raftpd.InvalidIndex, false
}

// Append push entries at back, and return the new last index.
func (holder *LogHolder) Append(entries []raftpd.Entry) uint64 {
	if len(entries) == 0 {
		return holder.LastIndex()
	}

	prevIndex := entries[0].Index - 1
	utils.Assert(prevIndex >= holder.commitIndex,
		"%v after %d is out of range [committed: %d]",
		holder.id, prevIndex, holder.commitIndex)
	utils.Assert(prevIndex == holder.LastIndex(),
		"%v append at %d, last index: %d",
		holder.id, prevIndex+1, holder.LastIndex())

	holder.entries = append(holder.entries, entries...)
	return holder.LastIndex()
}
