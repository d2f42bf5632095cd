// Package boltstore persists a member's raftpd.PersistentState as a
// single gob blob inside a bolt database. It trades the write
// amplification of rewriting the whole state on every Save for a dead
// simple recovery path, which suits small logs that compact often.
package boltstore

import (
	"time"

	"github.com/boltdb/bolt"

	"github.com/821684824/raftcore/raft/raftpd"
	"github.com/821684824/raftcore/utils/pd"
)

var (
	bucketName = []byte("raftstate")
	stateKey   = []byte("state")
)

// Store is a bolt-backed persistent-state store.
type Store struct {
	db *bolt.DB
}

// Open create or open the database at path and ensure the state
// bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Save overwrite the stored state with state. Bolt commits are
// durable once Update returns.
func (store *Store) Save(state *raftpd.PersistentState) error {
	data, err := pd.Marshal(state)
	if err != nil {
		return err
	}
	return store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(stateKey, data)
	})
}

// Load return the stored state. ok is false when nothing has been
// saved yet.
func (store *Store) Load() (raftpd.PersistentState, bool, error) {
	var state raftpd.PersistentState
	found := false
	err := store.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketName).Get(stateKey)
		if data == nil {
			return nil
		}
		found = true
		return pd.Unmarshal(&state, data)
	})
	return state, found, err
}

// Close release the database file.
func (store *Store) Close() error {
	return store.db.Close()
}
