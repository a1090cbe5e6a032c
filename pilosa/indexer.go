// Package pilosa exports affected entities into a Pilosa index so that the
// entities touched by each batch or drain pass can be queried. Each field
// ("added", "redone") has one row per batch sequence number, and a column
// per entity id.
package pilosa

import (
	"io"
	"sync"
	"time"

	"github.com/pilosa/erpdk"
	gopilosa "github.com/pilosa/go-pilosa"
	"github.com/pkg/errors"
)

var _ erpdk.Indexer = &Indexer{}

// Indexer is an erpdk.Indexer backed by a Pilosa index.
type Indexer struct {
	client    *gopilosa.Client
	batchSize uint
	log       erpdk.Logger

	lock        sync.RWMutex
	index       *gopilosa.Index
	importWG    sync.WaitGroup
	recordChans map[string]chanRecordIterator
	closed      bool

	errLock sync.Mutex
	errs    []error
}

// Client returns a Pilosa client.
func (i *Indexer) Client() *gopilosa.Client {
	return i.client
}

// AddAffected implements erpdk.Indexer. The field is created on first use.
// Entities added after Close are dropped.
func (i *Indexer) AddAffected(fieldName string, batch uint64, entityID uint64) {
	i.lock.RLock()
	c, ok := i.recordChans[fieldName]
	if !ok {
		i.lock.RUnlock()
		if err := i.ensureField(fieldName); err != nil {
			i.fail(errors.Wrapf(err, "setting up field '%s'", fieldName))
			return
		}
		i.lock.RLock()
		c, ok = i.recordChans[fieldName]
	}
	// Close can't close c while the read lock is held.
	defer i.lock.RUnlock()
	if !ok {
		return
	}
	c <- gopilosa.Column{RowID: batch, ColumnID: entityID}
}

func (i *Indexer) ensureField(fieldName string) error {
	i.lock.Lock()
	defer i.lock.Unlock()
	if i.closed {
		return nil
	}
	field := i.index.Field(fieldName, gopilosa.OptFieldTypeSet(gopilosa.CacheTypeRanked, 100000))
	return i.setupField(field)
}

func (i *Indexer) fail(err error) {
	i.log.Printf("pilosa indexer: %v", err)
	i.errLock.Lock()
	i.errs = append(i.errs, err)
	i.errLock.Unlock()
}

// Close ensures that all ongoing imports have finished, and returns the
// first error encountered while setting up fields or importing.
func (i *Indexer) Close() error {
	i.lock.Lock()
	if !i.closed {
		for _, cbi := range i.recordChans {
			close(cbi)
		}
	}
	i.closed = true
	i.recordChans = make(map[string]chanRecordIterator)
	i.lock.Unlock()
	i.importWG.Wait()
	i.errLock.Lock()
	defer i.errLock.Unlock()
	if len(i.errs) > 0 {
		return errors.Wrapf(i.errs[0], "%d indexing errors, first", len(i.errs))
	}
	return nil
}

// setupField ensures the existence of a field in Pilosa, and starts an
// importer for it. Callers must hold i.lock.
func (i *Indexer) setupField(field *gopilosa.Field) error {
	fieldName := field.Name()
	if _, ok := i.recordChans[fieldName]; ok {
		return nil
	}
	err := i.client.EnsureField(field)
	if err != nil {
		return errors.Wrapf(err, "creating field '%v'", fieldName)
	}
	cbi := newChanRecordIterator()
	i.recordChans[fieldName] = cbi
	i.importWG.Add(1)
	go func() {
		defer i.importWG.Done()
		err := i.client.ImportField(field, cbi, gopilosa.OptImportBatchSize(int(i.batchSize)))
		if err != nil {
			i.fail(errors.Wrapf(err, "importing field %v", fieldName))
			// drain so AddAffected never blocks on a dead importer
			for range cbi {
			}
		}
	}()
	return nil
}

// SetupPilosa creates the index and the affected-entity fields in Pilosa and
// returns an Indexer which imports into them in batches of batchSize.
func SetupPilosa(hosts []string, indexName string, batchSize uint, log erpdk.Logger) (*Indexer, error) {
	if log == nil {
		log = erpdk.NopLogger{}
	}
	if batchSize == 0 {
		batchSize = 10000
	}
	indexer := &Indexer{
		batchSize:   batchSize,
		log:         log,
		recordChans: make(map[string]chanRecordIterator),
	}
	client, err := gopilosa.NewClient(hosts,
		gopilosa.OptClientSocketTimeout(time.Minute*60),
		gopilosa.OptClientConnectTimeout(time.Second*60))
	if err != nil {
		return nil, errors.Wrap(err, "creating pilosa cluster client")
	}
	indexer.client = client
	schema := gopilosa.NewSchema()
	indexer.index = schema.Index(indexName)
	for _, name := range []string{erpdk.FieldAdded, erpdk.FieldRedone} {
		indexer.index.Field(name, gopilosa.OptFieldTypeSet(gopilosa.CacheTypeRanked, 100000))
	}
	err = client.SyncSchema(schema)
	if err != nil {
		return nil, errors.Wrap(err, "synchronizing schema")
	}
	for _, field := range indexer.index.Fields() {
		err := indexer.setupField(field)
		if err != nil {
			return nil, errors.Wrapf(err, "setting up field '%s'", field.Name())
		}
	}
	return indexer, nil
}

type chanRecordIterator chan gopilosa.Record

func newChanRecordIterator() chanRecordIterator {
	return make(chan gopilosa.Record, 200000)
}

func (c chanRecordIterator) NextRecord() (gopilosa.Record, error) {
	b, ok := <-c
	if !ok {
		return b, io.EOF
	}
	return b, nil
}
