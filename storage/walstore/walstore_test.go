package walstore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/821684824/raftcore/raft/raftpd"
)

func makeState(term uint64, entries ...raftpd.Entry) raftpd.PersistentState {
	return raftpd.PersistentState{
		CurrentTerm: term,
		Entries:     entries,
	}
}

func makeEntry(idx, term uint64, data string) raftpd.Entry {
	return raftpd.Entry{
		Index: idx,
		Term:  term,
		Type:  raftpd.EntryChange,
		Data:  []byte(data),
	}
}

func TestOpenEmptyDir(t *testing.T) {
	dir := t.TempDir()

	store, _, ok, err := Open(dir)
	require.NoError(t, err)
	require.False(t, ok)
	store.Close()
}

func TestCreateNoDir(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "missing"))
	require.Equal(t, ErrNoDir, err)
}

func TestSaveAndRecover(t *testing.T) {
	dir := t.TempDir()

	store, _, _, err := Open(dir)
	require.NoError(t, err)

	state := makeState(3,
		makeEntry(1, 1, "a"),
		makeEntry(2, 3, "b"))
	state.VotedFor = raftpd.NewMemberID()
	require.NoError(t, store.Save(&state))
	store.Close()

	reopened, got, ok, err := Open(dir)
	require.NoError(t, err)
	require.True(t, ok)
	defer reopened.Close()

	require.Equal(t, state.CurrentTerm, got.CurrentTerm)
	require.Equal(t, state.VotedFor, got.VotedFor)
	require.Equal(t, state.Entries, got.Entries)
}

func TestDeltaSaves(t *testing.T) {
	dir := t.TempDir()

	store, _, _, err := Open(dir)
	require.NoError(t, err)

	state := makeState(1, makeEntry(1, 1, "a"))
	require.NoError(t, store.Save(&state))

	state.CurrentTerm = 2
	state.Entries = append(state.Entries, makeEntry(2, 2, "b"))
	require.NoError(t, store.Save(&state))

	state.Entries = append(state.Entries, makeEntry(3, 2, "c"))
	require.NoError(t, store.Save(&state))
	store.Close()

	reopened, got, ok, err := Open(dir)
	require.NoError(t, err)
	require.True(t, ok)
	defer reopened.Close()

	require.Equal(t, uint64(2), got.CurrentTerm)
	require.Equal(t, state.Entries, got.Entries)
}

func TestTruncatedSuffixRecovery(t *testing.T) {
	dir := t.TempDir()

	store, _, _, err := Open(dir)
	require.NoError(t, err)

	state := makeState(1,
		makeEntry(1, 1, "a"),
		makeEntry(2, 1, "b"),
		makeEntry(3, 1, "c"))
	require.NoError(t, store.Save(&state))

	// a new leader overwrote the suffix from index 2
	state = makeState(2,
		makeEntry(1, 1, "a"),
		makeEntry(2, 2, "x"))
	require.NoError(t, store.Save(&state))
	store.Close()

	reopened, got, ok, err := Open(dir)
	require.NoError(t, err)
	require.True(t, ok)
	defer reopened.Close()

	require.Equal(t, state.Entries, got.Entries)
}

func TestSnapshotDropsPrefix(t *testing.T) {
	dir := t.TempDir()

	store, _, _, err := Open(dir)
	require.NoError(t, err)

	state := makeState(1,
		makeEntry(1, 1, "a"),
		makeEntry(2, 1, "b"),
		makeEntry(3, 1, "c"))
	require.NoError(t, store.Save(&state))

	state.SnapshotState = []byte("machine")
	state.SnapshotIndex = 2
	state.SnapshotTerm = 1
	state.Entries = state.Entries[2:]
	require.NoError(t, store.Save(&state))
	store.Close()

	reopened, got, ok, err := Open(dir)
	require.NoError(t, err)
	require.True(t, ok)
	defer reopened.Close()

	require.Equal(t, []byte("machine"), got.SnapshotState)
	require.Equal(t, uint64(2), got.SnapshotIndex)
	require.Equal(t, uint64(1), got.SnapshotTerm)
	require.Equal(t, []raftpd.Entry{makeEntry(3, 1, "c")}, got.Entries)
}

func TestSegmentRotation(t *testing.T) {
	old := SegmentSizeBytes
	SegmentSizeBytes = 64
	defer func() { SegmentSizeBytes = old }()

	dir := t.TempDir()

	store, _, _, err := Open(dir)
	require.NoError(t, err)

	state := makeState(1)
	for i := uint64(1); i <= 8; i++ {
		state.CurrentTerm = i
		state.Entries = append(state.Entries,
			makeEntry(i, i, "some payload to push the tail past the threshold"))
		require.NoError(t, store.Save(&state))
	}
	store.Close()

	names, err := readWalNames(dir)
	require.NoError(t, err)
	require.Greater(t, len(names), 1)

	reopened, got, ok, err := Open(dir)
	require.NoError(t, err)
	require.True(t, ok)
	defer reopened.Close()

	require.Equal(t, state.CurrentTerm, got.CurrentTerm)
	require.Equal(t, state.Entries, got.Entries)
}

func TestTornTailRecord(t *testing.T) {
	dir := t.TempDir()

	store, _, _, err := Open(dir)
	require.NoError(t, err)

	state := makeState(1, makeEntry(1, 1, "a"))
	require.NoError(t, store.Save(&state))
	store.Close()

	// simulate a crash mid-write: a length prefix without its body
	names, err := readWalNames(dir)
	require.NoError(t, err)
	tail, err := os.OpenFile(filepath.Join(dir, names[len(names)-1]),
		os.O_WRONLY|os.O_APPEND, 0600)
	require.NoError(t, err)
	require.NoError(t, binary.Write(tail, binary.LittleEndian, int32(128)))
	_, err = tail.Write([]byte("torn"))
	require.NoError(t, err)
	require.NoError(t, tail.Close())

	reopened, got, ok, err := Open(dir)
	require.NoError(t, err)
	require.True(t, ok)
	defer reopened.Close()

	require.Equal(t, state.Entries, got.Entries)
	require.Equal(t, state.CurrentTerm, got.CurrentTerm)
}
