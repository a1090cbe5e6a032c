package leveldb

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pilosa/erpdk"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	_ erpdk.EntityStore  = &Store{}
	_ erpdk.Checkpointer = &Store{}
)

// Key prefixes. Entity keys are followed by the big endian id, checkpoint
// keys by the input name.
var (
	entityPrefix     = []byte("e/")
	checkpointPrefix = []byte("c/")
)

// Store journals affected entity ids and source checkpoints in a leveldb
// directory.
type Store struct {
	dirname string
	db      *leveldb.DB
}

type errorList []error

func (errs errorList) Error() string {
	errstrings := make([]string, len(errs))
	for i, err := range errs {
		errstrings[i] = err.Error()
	}
	return strings.Join(errstrings, "; ")
}

// NewStore opens (creating if necessary) the leveldb database in dirname.
func NewStore(dirname string) (*Store, error) {
	err := os.MkdirAll(filepath.Dir(dirname), 0700)
	if err != nil {
		return nil, errors.Wrap(err, "making directory")
	}
	db, err := leveldb.OpenFile(dirname, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname)
	}
	return &Store{dirname: dirname, db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "closing leveldb")
}

func entityKey(id int64) []byte {
	key := make([]byte, len(entityPrefix)+8)
	copy(key, entityPrefix)
	binary.BigEndian.PutUint64(key[len(entityPrefix):], uint64(id))
	return key
}

// AddEntities implements erpdk.EntityStore.
func (s *Store) AddEntities(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for _, id := range ids {
		batch.Put(entityKey(id), nil)
	}
	return errors.Wrap(s.db.Write(batch, nil), "journaling entities")
}

// Entities implements erpdk.EntityStore.
func (s *Store) Entities() ([]int64, error) {
	var ids []int64
	errs := make(errorList, 0)
	iter := s.db.NewIterator(util.BytesPrefix(entityPrefix), nil)
	for iter.Next() {
		k := iter.Key()
		if len(k) != len(entityPrefix)+8 {
			errs = append(errs, errors.Errorf("malformed entity key %x", k))
			continue
		}
		ids = append(ids, int64(binary.BigEndian.Uint64(k[len(entityPrefix):])))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		errs = append(errs, errors.Wrap(err, "iterating entities"))
	}
	if len(errs) > 0 {
		return ids, errs
	}
	return ids, nil
}

// Done implements erpdk.Checkpointer.
func (s *Store) Done(name string) (bool, error) {
	ok, err := s.db.Has(append(append([]byte{}, checkpointPrefix...), name...), nil)
	return ok, errors.Wrapf(err, "checking %s", name)
}

// MarkDone implements erpdk.Checkpointer.
func (s *Store) MarkDone(names ...string) error {
	if len(names) == 0 {
		return nil
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	batch := new(leveldb.Batch)
	for _, name := range names {
		batch.Put(append(append([]byte{}, checkpointPrefix...), name...), stamp)
	}
	return errors.Wrap(s.db.Write(batch, &opt.WriteOptions{Sync: true}), "writing checkpoints")
}
