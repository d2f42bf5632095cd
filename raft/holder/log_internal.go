package holder

import (
	log "github.com/sirupsen/logrus"

	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils"
)

func (holder *LogHolder) checkOutOfBounds(lo, hi uint64) {
	utils.Assert(lo <= hi, "%v invalid slice %d > %d", holder.id, lo, hi)

	lower := holder.offset() + 1
	upper := holder.LastIndex() + 1
	utils.Assert(!(lo < lower || hi > upper),
		"%v slice[%d, %d] out of bound[%d, %d]",
		holder.id, lo, hi, lower, upper)
}

func (holder *LogHolder) truncateAndAppend(entries []raftpd.Entry) {
	if len(entries) == 0 {
		return
	}

	lastIndex := holder.LastIndex()
	after := entries[0].Index
	utils.Assert(after > holder.offset(),
		"%v truncate at %d reaches below snapshot %d",
		holder.id, after, holder.offset())

	if after == lastIndex+1 {
		// after is the next index in the entries, append directly
	} else {
		holder.checkOutOfBounds(holder.offset()+1, after)
		holder.entries = holder.entries[:after-holder.offset()]
	}
	holder.entries = append(holder.entries, entries...)

	holder.validateConsistency()
}

// findConflict return the first index whose term differs from the
// held entry at the same index; zero when nothing conflicts and
// nothing is new.
func (holder *LogHolder) findConflict(entries []raftpd.Entry) uint64 {
	for i := 0; i < len(entries); i++ {
		entry := &entries[i]
		if holder.Term(entry.Index) != entry.Term {
			if entry.Index <= holder.LastIndex() {
				log.Infof("%v found conflict at index %d, "+
					"[existing term: %d, conflicting term: %d]",
					holder.id, entry.Index, holder.Term(entry.Index), entry.Term)
			}
			return entry.Index
		}
	}
	return 0
}

// offset return the dummy entry's index.
func (holder *LogHolder) offset() uint64 {
	utils.Assert(len(holder.entries) != 0, "require len(holder.entries) great than zero")
	return holder.entries[0].Index
}

func (holder *LogHolder) validateConsistency() {
	for i := 0; i < len(holder.entries)-1; i++ {
		utils.Assert(holder.entries[i].Index+1 == holder.entries[i+1].Index,
			"%v index:%d at:%d not sequences", holder.id, holder.entries[i].Index, i)
	}
}

// drain like memmove(entries, entries + to, len).
func drain(entries []raftpd.Entry, to int) []raftpd.Entry {
	if len(entries) == 0 {
		return entries
	}

	length := len(entries) - to
	for i := 0; i < length; i++ {
		entries[i] = entries[i+to]
	}
	return entries[:length]
}
