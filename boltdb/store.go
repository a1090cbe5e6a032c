package boltdb

import (
	"encoding/binary"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pilosa/erpdk"
	"github.com/pkg/errors"
)

var (
	entityBucket     = []byte("entities")
	checkpointBucket = []byte("checkpoints")
)

var (
	_ erpdk.EntityStore  = &Store{}
	_ erpdk.Checkpointer = &Store{}
)

// Store journals affected entity ids and source checkpoints in a bolt file.
type Store struct {
	Db *bolt.DB
}

// NewStore opens (creating if necessary) the bolt file at filename.
func NewStore(filename string) (s *Store, err error) {
	s = &Store{}
	s.Db, err = bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second, NoGrowSync: true})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	s.Db.MaxBatchDelay = 400 * time.Microsecond
	err = s.Db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entityBucket); err != nil {
			return errors.Wrap(err, "creating entities bucket")
		}
		if _, err := tx.CreateBucketIfNotExists(checkpointBucket); err != nil {
			return errors.Wrap(err, "creating checkpoints bucket")
		}
		return nil
	})
	if err != nil {
		s.Db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return s, nil
}

// Close syncs and closes the database.
func (s *Store) Close() error {
	err := s.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return s.Db.Close()
}

func entityKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// AddEntities implements erpdk.EntityStore. Concurrent calls are coalesced
// into a single transaction.
func (s *Store) AddEntities(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.Db.Batch(func(tx *bolt.Tx) error {
		b := tx.Bucket(entityBucket)
		for _, id := range ids {
			if err := b.Put(entityKey(id), []byte{}); err != nil {
				return errors.Wrapf(err, "putting entity %d", id)
			}
		}
		return nil
	})
	return errors.Wrap(err, "journaling entities")
}

// Entities implements erpdk.EntityStore.
func (s *Store) Entities() (ids []int64, err error) {
	err = s.Db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entityBucket).ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return errors.Errorf("malformed entity key %x", k)
			}
			ids = append(ids, int64(binary.BigEndian.Uint64(k)))
			return nil
		})
	})
	return ids, errors.Wrap(err, "reading entities")
}

// Done implements erpdk.Checkpointer.
func (s *Store) Done(name string) (done bool, err error) {
	err = s.Db.View(func(tx *bolt.Tx) error {
		done = tx.Bucket(checkpointBucket).Get([]byte(name)) != nil
		return nil
	})
	return done, err
}

// MarkDone implements erpdk.Checkpointer. The time of completion is stored
// with each name.
func (s *Store) MarkDone(names ...string) error {
	if len(names) == 0 {
		return nil
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	err := s.Db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(checkpointBucket)
		for _, name := range names {
			if err := b.Put([]byte(name), stamp); err != nil {
				return errors.Wrapf(err, "marking %s done", name)
			}
		}
		return nil
	})
	return errors.Wrap(err, "writing checkpoints")
}
