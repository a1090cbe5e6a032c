package erpdk

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Fields under which affected entities are exported to an Indexer.
const (
	FieldAdded  = "added"
	FieldRedone = "redone"
)

// Dispatcher submits records and redo units to a Resolver and merges the
// affected entities into an EntitySet. A single Dispatcher may be used by
// several goroutines at once, each working on a different batch.
type Dispatcher struct {
	resolver Resolver
	set      *EntitySet

	dataSource string
	schema     Schema
	store      EntityStore
	indexer    Indexer
	log        Logger
	stats      Statter

	drains *Nexter
}

// DispatcherOption is a functional option for NewDispatcher.
type DispatcherOption func(d *Dispatcher)

// OptDispatcherDataSource sets the DATA_SOURCE used for records which do not
// carry one.
func OptDispatcherDataSource(dataSource string) DispatcherOption {
	return func(d *Dispatcher) {
		d.dataSource = dataSource
	}
}

// OptDispatcherSchema restricts submitted records to the fields in schema.
func OptDispatcherSchema(schema Schema) DispatcherOption {
	return func(d *Dispatcher) {
		d.schema = schema
	}
}

// OptDispatcherStore journals newly affected entities to store.
func OptDispatcherStore(store EntityStore) DispatcherOption {
	return func(d *Dispatcher) {
		d.store = store
	}
}

// OptDispatcherIndexer exports affected entities to indexer.
func OptDispatcherIndexer(indexer Indexer) DispatcherOption {
	return func(d *Dispatcher) {
		d.indexer = indexer
	}
}

// OptDispatcherLogger sets the logger.
func OptDispatcherLogger(log Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// OptDispatcherStatter sets the stats collector.
func OptDispatcherStatter(stats Statter) DispatcherOption {
	return func(d *Dispatcher) {
		d.stats = stats
	}
}

// NewDispatcher returns a Dispatcher which resolves through r and merges into
// set. The caller owns set and may read it at any time.
func NewDispatcher(r Resolver, set *EntitySet, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		resolver: r,
		set:      set,
		indexer:  NopIndexer{},
		log:      NopLogger{},
		stats:    NopStatter{},
		drains:   NewNexter(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EntitySet returns the set the Dispatcher merges into.
func (d *Dispatcher) EntitySet() *EntitySet { return d.set }

// OnBatch submits records to the Resolver one at a time in delivery order.
// An empty batch is a no-op. The first failure stops the batch, and the
// remaining records are not submitted.
//
// If ctx is cancelled, the record being resolved is allowed to finish, and
// OnBatch then returns an error matching ErrStopped.
func (d *Dispatcher) OnBatch(ctx context.Context, records []Record, seq uint64) error {
	if len(records) == 0 {
		return nil
	}
	d.log.Debugf("batch %d: %d records", seq, len(records))
	for i, rec := range records {
		if ctx.Err() != nil {
			return errors.Wrapf(ErrStopped, "batch %d after %d of %d records", seq, i, len(records))
		}
		if err := d.addRecord(ctx, rec, seq); err != nil {
			d.stats.Count("records_failed", 1, 1)
			return errors.Wrapf(err, "batch %d, record %d of %d", seq, i+1, len(records))
		}
	}
	d.stats.Count("batches", 1, 1)
	return nil
}

func (d *Dispatcher) addRecord(ctx context.Context, rec Record, seq uint64) error {
	dataSource, recordID, err := rec.Validate(d.dataSource)
	if err != nil {
		return &ResolveError{Kind: ErrInvalidRecord, DataSource: dataSource, RecordID: recordID, Err: err}
	}
	if d.schema != nil {
		rec = d.schema.Project(rec)
	}
	if rec.DataSource() == "" {
		rec = rec.Copy()
		rec[FieldDataSource] = dataSource
	}

	start := time.Now()
	res, err := d.resolver.AddRecord(context.WithoutCancel(ctx), dataSource, recordID, rec, true)
	d.stats.Timing("resolve_latency", time.Since(start), 1, "op:add")
	if err != nil {
		return &ResolveError{Kind: KindOf(err), DataSource: dataSource, RecordID: recordID, Err: err}
	}
	d.stats.Count("records_submitted", 1, 1)
	return errors.Wrapf(d.merge(FieldAdded, seq, res), "record %s/%s", dataSource, recordID)
}

// merge adds the entities in res to the set, journaling and exporting them
// as configured.
func (d *Dispatcher) merge(field string, seq uint64, res *Result) error {
	ids := res.EntityIDs()
	if len(ids) == 0 {
		return nil
	}
	added := d.set.Add(ids...)
	d.stats.Count("entities_affected", int64(len(added)), 1)
	for _, id := range ids {
		d.indexer.AddAffected(field, seq, uint64(id))
	}
	if d.store != nil && len(added) > 0 {
		if err := d.store.AddEntities(added); err != nil {
			return errors.Wrap(err, "journaling affected entities")
		}
	}
	return nil
}
