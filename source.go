package erpdk

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Source delivers micro-batches of records. NextBatch blocks until a batch
// is available or ctx is done, and returns io.EOF once the source is
// exhausted. Implementations of Source should be thread safe - each batch is
// handed to exactly one caller.
type Source interface {
	NextBatch(ctx context.Context) (Batch, error)
}

// Batch is a micro-batch of records.
type Batch interface {
	Records() []Record

	// Commit notifies the Source which produced this batch that every
	// record in it has been completely processed. Batches which are never
	// committed may be delivered again (e.g. after a restart).
	Commit() error
}

// RecordBatch is a Batch with nothing to commit.
type RecordBatch []Record

// Records implements Batch.
func (b RecordBatch) Records() []Record { return b }

// Commit implements Batch and does nothing.
func (b RecordBatch) Commit() error { return nil }

// RecordSource is the interface for getting records one at a time. Record
// returns io.EOF when there are no more records.
type RecordSource interface {
	Record() (Record, error)
}

// NamedReadCloser is an io.ReadCloser with a name (e.g. a file or object
// key).
type NamedReadCloser interface {
	io.ReadCloser
	Name() string
}

// RawSource hands out readers for a sequence of named inputs, returning
// io.EOF when there are no more.
type RawSource interface {
	NextReader() (NamedReadCloser, error)
}

// Batcher turns a RecordSource into a Source by grouping up to size records
// into each batch.
type Batcher struct {
	lock sync.Mutex
	src  RecordSource
	size int
	eof  bool
}

// NewBatcher returns a Batcher reading from src.
func NewBatcher(src RecordSource, size int) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{
		src:  src,
		size: size,
	}
}

// NextBatch implements Source.
func (b *Batcher) NextBatch(ctx context.Context) (Batch, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.eof {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := make(RecordBatch, 0, b.size)
	for len(batch) < b.size {
		rec, err := b.src.Record()
		if err == io.EOF {
			b.eof = true
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "getting record")
		}
		batch = append(batch, rec)
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}
