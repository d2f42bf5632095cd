package holder

import (
	"testing"

	"github.com/821684824/raftcore/raft/raftpd"
)

var testID = raftpd.NewMemberID()

func makeEntry(idx, term uint64) raftpd.Entry {
	return raftpd.Entry{
		Index: idx,
		Term:  term,
	}
}

func makeEntries(idxs ...uint64) []raftpd.Entry {
	entries := []raftpd.Entry{}
	for _, i := range idxs {
		entries = append(entries, makeEntry(i, i))
	}
	return entries
}

func compareEntry(a, b raftpd.Entry) bool {
	return a.Term == b.Term && a.Index == b.Index
}

func compareEntries(t *testing.T, i int, a, want []raftpd.Entry) {
	if len(a) != len(want) {
		t.Fatalf("#%d: len(entries) want: %d, get: %d",
			i, len(want), len(a))
	}
	for j := 0; j < len(a); j++ {
		if !compareEntry(a[j], want[j]) {
			t.Fatalf("#%d: ents[%d] want: %v, get: %v",
				i, j, want[j], a[j])
		}
	}
}

func TestMakeLogHolder(t *testing.T) {
	tests := []struct {
		prevIdx, prevTerm uint64
		entries           []raftpd.Entry
		wlast             uint64
	}{
		{0, 0, []raftpd.Entry{}, 0},
		{0, 0, makeEntries(1, 2), 2},
		{5, 3, []raftpd.Entry{makeEntry(6, 3)}, 6},
	}

	for i, test := range tests {
		e := MakeLogHolder(testID, test.prevIdx, test.prevTerm, test.entries)
		if e.PrevIndex() != test.prevIdx {
			t.Fatalf("#%d: prev index want: %d, get: %d",
				i, test.prevIdx, e.PrevIndex())
		}
		if e.PrevTerm() != test.prevTerm {
			t.Fatalf("#%d: prev term want: %d, get: %d",
				i, test.prevTerm, e.PrevTerm())
		}
		if e.LastIndex() != test.wlast {
			t.Fatalf("#%d: last index want: %d, get: %d",
				i, test.wlast, e.LastIndex())
		}
		if e.CommitIndex() != test.prevIdx || e.LastApplied() != test.prevIdx {
			t.Fatalf("#%d: cursors want: %d, get: (%d, %d)",
				i, test.prevIdx, e.CommitIndex(), e.LastApplied())
		}
	}
}

func TestLogHolder_Term(t *testing.T) {
	offset, num := uint64(100), uint64(100)

	entries := make([]raftpd.Entry, 0)
	for i := uint64(1); i < num; i++ {
		entries = append(entries, makeEntry(offset+i, i+1))
	}

	e := MakeLogHolder(testID, offset, 1, entries)

	tests := []struct {
		index uint64
		term  uint64
	}{
		{offset - 1, 0},
		{offset, 1},
		{offset + num/2, num/2 + 1},
		{offset + num - 1, num},
		{offset + num, 0},
	}

	for i := 0; i < len(tests); i++ {
		term := e.Term(tests[i].index)
		if term != tests[i].term {
			t.Fatalf("#%d: at = %d, want = %d, get = %d",
				i, tests[i].index, tests[i].term, term)
		}
	}
}

func TestLogHolder_IsUpToDate(t *testing.T) {
	e := MakeLogHolder(testID, 0, 0, makeEntries(1, 2, 3))
	tests := []struct {
		idx    uint64
		term   uint64
		result bool
	}{
		// greater term, ignore lastIndex
		{e.LastIndex() - 1, 4, true},
		{e.LastIndex(), 4, true},
		{e.LastIndex() + 1, 4, true},
		// smaller term, ignore lastIndex
		{e.LastIndex() - 1, 2, false},
		{e.LastIndex(), 2, false},
		{e.LastIndex() + 1, 2, false},
		// equal term, lager lastIndex wins
		{e.LastIndex() - 1, 3, false},
		{e.LastIndex(), 3, true},
		{e.LastIndex() + 1, 3, true},
	}
	for i := 0; i < len(tests); i++ {
		test := &tests[i]
		result := e.IsUpToDate(test.idx, test.term)
		if result != test.result {
			t.Fatalf("#%d: uptodate = %v, want %v", i, result, test.result)
		}
	}
}

func TestLogHolder_Slice(t *testing.T) {
	tests := []struct {
		lo    uint64
		hi    uint64
		wents []raftpd.Entry
	}{
		{2, 4, makeEntries(2, 3)},
		{2, 2, makeEntries()},
		{2, 5, makeEntries(2, 3, 4)},
	}

	for i := 0; i < len(tests); i++ {
		test := &tests[i]
		e := MakeLogHolder(testID, 0, 0, makeEntries(1, 2, 3, 4))
		entries := e.Slice(test.lo, test.hi)
		compareEntries(t, i, entries, test.wents)
	}
}

func TestLogHolder_EntriesFrom(t *testing.T) {
	e := MakeLogHolder(testID, 2, 2, makeEntries(3, 4, 5))
	entries := e.EntriesFrom(4)
	compareEntries(t, 0, entries, makeEntries(4, 5))

	// returned slice is a copy, mutating it leaves the holder intact
	entries[0].Term = 100
	if e.Term(4) != 4 {
		t.Fatalf("entries from aliased the internal buffer")
	}
}

func TestLogHolder_TryAppend(t *testing.T) {
	tests := []struct {
		origin          []raftpd.Entry
		entries         []raftpd.Entry
		prvIdx, prvTerm uint64
		wents           []raftpd.Entry
		widx            uint64
		wres            bool
	}{
		// empty heartbeat
		{makeEntries(1, 2), makeEntries(), 2, 2, makeEntries(1, 2), 2, true},
		// append at tail
		{makeEntries(1), makeEntries(2), 1, 1, makeEntries(1, 2), 2, true},
		// duplicate of an existing suffix
		{makeEntries(1, 2, 3), makeEntries(2, 3), 1, 1, makeEntries(1, 2, 3), 3, true},
		// conflicting suffix is truncated and replaced
		{makeEntries(1, 2, 3),
			[]raftpd.Entry{makeEntry(2, 4), makeEntry(3, 4)},
			1, 1,
			[]raftpd.Entry{makeEntry(1, 1), makeEntry(2, 4), makeEntry(3, 4)},
			3, true},
		// prev mismatch is rejected
		{makeEntries(1), makeEntries(3), 2, 2, makeEntries(1), raftpd.InvalidIndex, false},
	}

	for i, test := range tests {
		holder := MakeLogHolder(testID, 0, 0, test.origin)
		idx, res := holder.TryAppend(test.prvIdx, test.prvTerm, test.entries)
		if res != test.wres {
			t.Fatalf("#%d: ok = %v, want %v", i, res, test.wres)
		}
		if idx != test.widx {
			t.Fatalf("#%d: last new index = %d, want %d", i, idx, test.widx)
		}
		compareEntries(t, i, holder.Entries(), test.wents)
	}
}

func TestLogHolder_Append(t *testing.T) {
	tests := []struct {
		entries []raftpd.Entry
		widx    uint64
		wents   []raftpd.Entry
	}{
		// empty
		{makeEntries(), 3, makeEntries(1, 2, 3)},
		// non-empty
		{makeEntries(4), 4, makeEntries(1, 2, 3, 4)},
	}

	for i := 0; i < len(tests); i++ {
		test := &tests[i]
		e := MakeLogHolder(testID, 0, 0, makeEntries(1, 2, 3))
		idx := e.Append(test.entries)
		if idx != test.widx {
			t.Fatalf("#%d: last_index = %d, want %d", i, idx, test.widx)
		}
		compareEntries(t, i, e.Entries(), test.wents)
	}
}

func TestLogHolder_CommitTo(t *testing.T) {
	e := MakeLogHolder(testID, 0, 0, makeEntries(1, 2, 3))
	e.CommitTo(2)
	if e.CommitIndex() != 2 {
		t.Fatalf("commit index = %d, want 2", e.CommitIndex())
	}

	// never decreases
	e.CommitTo(1)
	if e.CommitIndex() != 2 {
		t.Fatalf("commit index decreased to %d", e.CommitIndex())
	}

	e.CommitTo(3)
	if e.CommitIndex() != 3 {
		t.Fatalf("commit index = %d, want 3", e.CommitIndex())
	}
}

func TestLogHolder_NextApplyEntries(t *testing.T) {
	tests := []struct {
		commit uint64
		first  []raftpd.Entry
		second []raftpd.Entry
	}{
		{0, nil, nil},
		{2, makeEntries(1, 2), nil},
		{3, makeEntries(1, 2, 3), nil},
	}

	for i, test := range tests {
		e := MakeLogHolder(testID, 0, 0, makeEntries(1, 2, 3))
		e.CommitTo(test.commit)
		compareEntries(t, i, e.NextApplyEntries(), test.first)
		// second call returns nothing, cursor already advanced
		compareEntries(t, i, e.NextApplyEntries(), test.second)
		if e.LastApplied() != test.commit {
			t.Fatalf("#%d: last applied = %d, want %d",
				i, e.LastApplied(), test.commit)
		}
	}
}

func TestLogHolder_CompactTo(t *testing.T) {
	tests := []struct {
		idx, term uint64
		wprev     uint64
		wents     []raftpd.Entry
	}{
		// conflict term, rebuild
		{2, 3, 2, makeEntries()},
		// at the current boundary, rebuild
		{1, 1, 1, makeEntries()},
		// beyond applied, rebuild
		{5, 5, 5, makeEntries()},
		// normal, keep suffix
		{3, 3, 3, makeEntries(4)},
	}

	for i := 0; i < len(tests); i++ {
		test := &tests[i]
		e := MakeLogHolder(testID, 1, 1, makeEntries(2, 3, 4))
		e.CommitTo(3)
		e.NextApplyEntries()
		e.CompactTo(test.idx, test.term)
		if e.PrevIndex() != test.wprev || e.PrevTerm() != test.term {
			t.Fatalf("#%d: boundary = (%d, %d), want (%d, %d)",
				i, e.PrevIndex(), e.PrevTerm(), test.wprev, test.term)
		}
		compareEntries(t, i, e.Entries(), test.wents)
	}
}

func TestDrain(t *testing.T) {
	type param struct {
		entries []raftpd.Entry
		to      int
		want    []raftpd.Entry
	}

	tests := []param{
		{[]raftpd.Entry{}, 0, []raftpd.Entry{}},
		{makeEntries(1), 0, makeEntries(1)},
		{makeEntries(1), 1, makeEntries()},
		{[]raftpd.Entry{makeEntry(1, 1), makeEntry(2, 1)}, 1,
			[]raftpd.Entry{makeEntry(2, 1)}},
	}

	for i := 0; i < len(tests); i++ {
		test := &tests[i]
		entries := drain(test.entries, test.to)
		compareEntries(t, i, entries, test.want)
	}
}
