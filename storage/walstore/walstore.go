// Package walstore persists a member's raftpd.PersistentState in a
// directory of segmented, checksummed wal files. Each Save appends
// the delta against the previously saved state: a snapshot record
// when the snapshot moved, a state record when term or vote changed,
// and entry records from the first index that differs. Recovery
// replays every segment in order; later records win.
package walstore

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils"
	"github.com/821684824/raftcore/utils/pd"
)

var (
	// SegmentSizeBytes is the rotation threshold of a segment file.
	// Exported so that tests can set a small size.
	SegmentSizeBytes int64 = 64 * 1000 * 1000 // 64MB

	ErrCRCMismatch = errors.New("walstore: crc mismatch")
	ErrNoDir       = errors.New("walstore: directory does not exist")
)

// Store is a file-backed persistent-state store.
type Store struct {
	dir   string
	files []*os.File
	enc   *encoder

	// last state written, used to compute deltas
	saved raftpd.PersistentState
	dirty bool
}

// Create initialize an empty store in dir, which must exist.
func Create(dir string) (*Store, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, ErrNoDir
	}

	name := filepath.Join(dir, walName(0, 0))
	file, err := os.Create(name)
	if err != nil {
		return nil, err
	}

	store := &Store{dir: dir, files: []*os.File{file}}
	store.enc = makeEncoder(file)
	return store, nil
}

// Open recover a store from the segments in dir. The returned state
// reports ok=false when no segments exist yet.
func Open(dir string) (*Store, raftpd.PersistentState, bool, error) {
	var state raftpd.PersistentState

	names, err := readWalNames(dir)
	if err != nil {
		return nil, state, false, err
	}
	if len(names) == 0 {
		store, err := Create(dir)
		return store, state, false, err
	}
	if !isValidSequences(names) {
		return nil, state, false, errBadWalName
	}

	files := make([]*os.File, 0, len(names))
	for _, name := range names {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR, 0600)
		if err != nil {
			closeAll(files...)
			return nil, state, false, err
		}
		files = append(files, f)
	}

	state, tailOff, err := replay(files)
	if err != nil {
		closeAll(files...)
		return nil, state, false, err
	}

	// cut a torn tail record, then append after the replayed ones
	tail := files[len(files)-1]
	if err := tail.Truncate(tailOff); err != nil {
		closeAll(files...)
		return nil, state, false, err
	}
	if _, err := tail.Seek(tailOff, io.SeekStart); err != nil {
		closeAll(files...)
		return nil, state, false, err
	}

	store := &Store{dir: dir, files: files}
	store.enc = makeEncoder(tail)
	store.saved = state.Clone()
	store.dirty = true
	return store, state, true, nil
}

// replay decode all segments in order and rebuild the latest state.
// The returned offset is where valid data ends in the tail file.
func replay(files []*os.File) (raftpd.PersistentState, int64, error) {
	state := raftpd.PersistentState{}
	dec := makeDecoder(files)

	var rec record
	for {
		err := dec.decode(&rec)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			// torn tail write, everything before it is good
			log.Warnf("walstore: truncated record at tail, stopping replay")
			break
		}
		if err != nil {
			return state, 0, err
		}

		switch rec.Type {
		case recordState:
			var header stateHeader
			pd.MustUnmarshal(&header, rec.Data)
			state.CurrentTerm = header.CurrentTerm
			state.VotedFor = header.VotedFor
		case recordSnapshot:
			var snap snapshotRecord
			pd.MustUnmarshal(&snap, rec.Data)
			state.SnapshotState = snap.State
			state.SnapshotConfig = snap.Config
			state.SnapshotIndex = snap.Index
			state.SnapshotTerm = snap.Term
			state.Entries = entriesAfter(state.Entries, snap.Index)
		case recordEntry:
			var er entryRecord
			pd.MustUnmarshal(&er, rec.Data)
			state.Entries = placeEntry(state.Entries, er.Entry, state.SnapshotIndex)
		default:
			log.Panicf("walstore: unknown record type %d", rec.Type)
		}
	}
	return state, dec.off, nil
}

// entriesAfter keep only the entries with index beyond snapIndex.
func entriesAfter(entries []raftpd.Entry, snapIndex uint64) []raftpd.Entry {
	result := entries[:0]
	for _, e := range entries {
		if e.Index > snapIndex {
			result = append(result, e)
		}
	}
	return result
}

// placeEntry put entry at its position, truncating any conflicting
// suffix, exactly like an in-memory log append would.
func placeEntry(entries []raftpd.Entry, entry raftpd.Entry,
	snapIndex uint64) []raftpd.Entry {
	if entry.Index <= snapIndex {
		return entries
	}
	pos := int(entry.Index - snapIndex - 1)
	if pos < len(entries) {
		entries = entries[:pos]
	}
	utils.Assert(pos == len(entries),
		"walstore: entry %d leaves a gap after %d", entry.Index, snapIndex+uint64(len(entries)))
	return append(entries, entry)
}

// Save append the delta between state and the previously saved one,
// then fsync. The write is atomic at record granularity: a torn tail
// record is dropped on recovery.
func (store *Store) Save(state *raftpd.PersistentState) error {
	if !store.dirty || state.SnapshotIndex != store.saved.SnapshotIndex {
		snap := snapshotRecord{
			State:  state.SnapshotState,
			Config: state.SnapshotConfig,
			Index:  state.SnapshotIndex,
			Term:   state.SnapshotTerm,
		}
		rec := record{Type: recordSnapshot, Data: pd.MustMarshal(&snap)}
		if err := store.enc.encode(&rec); err != nil {
			return err
		}
	}

	if !store.dirty || state.CurrentTerm != store.saved.CurrentTerm ||
		state.VotedFor != store.saved.VotedFor {
		header := stateHeader{CurrentTerm: state.CurrentTerm, VotedFor: state.VotedFor}
		rec := record{Type: recordState, Data: pd.MustMarshal(&header)}
		if err := store.enc.encode(&rec); err != nil {
			return err
		}
	}

	for _, entry := range state.Entries {
		if store.dirty && sameEntry(&store.saved, &entry) {
			continue
		}
		er := entryRecord{Entry: entry}
		rec := record{Type: recordEntry, Data: pd.MustMarshal(&er)}
		if err := store.enc.encode(&rec); err != nil {
			return err
		}
	}

	if err := store.enc.flush(); err != nil {
		return err
	}

	store.saved = state.Clone()
	store.dirty = true

	return store.maybeRotate()
}

// sameEntry report whether saved already holds entry at its index
// with the same term.
func sameEntry(saved *raftpd.PersistentState, entry *raftpd.Entry) bool {
	if entry.Index <= saved.SnapshotIndex {
		return true
	}
	pos := int(entry.Index - saved.SnapshotIndex - 1)
	if pos >= len(saved.Entries) {
		return false
	}
	return saved.Entries[pos].Term == entry.Term
}

// maybeRotate start a new segment once the tail grows past the
// threshold.
func (store *Store) maybeRotate() error {
	tail := store.files[len(store.files)-1]
	off, err := tail.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if off < SegmentSizeBytes {
		return nil
	}

	seq, _, err := parseWalName(filepath.Base(tail.Name()))
	if err != nil {
		return err
	}
	name := walName(seq+1, store.saved.LastIndex())
	file, err := os.Create(filepath.Join(store.dir, name))
	if err != nil {
		return err
	}

	log.Debugf("walstore: rotate to %s", name)

	store.files = append(store.files, file)
	store.enc = makeEncoder(file)
	return nil
}

// Close release the segment files.
func (store *Store) Close() {
	closeAll(store.files...)
	store.files = nil
}

func closeAll(files ...*os.File) {
	for i := 0; i < len(files); i++ {
		files[i].Close()
	}
}
