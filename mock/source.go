package mock

import (
	"context"
	"io"
	"sync"

	"github.com/pilosa/erpdk"
)

// Source is an erpdk.Source which hands out a fixed list of batches and
// records which of them were committed. It is threadsafe.
type Source struct {
	mu        sync.Mutex
	batches   [][]erpdk.Record
	next      int
	committed []int
}

// NewSource gets a Source which delivers batches in order.
func NewSource(batches ...[]erpdk.Record) *Source {
	return &Source{batches: batches}
}

// NextBatch implements erpdk.Source.
func (s *Source) NextBatch(ctx context.Context) (erpdk.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.batches) {
		return nil, io.EOF
	}
	b := &batch{src: s, idx: s.next, recs: s.batches[s.next]}
	s.next++
	return b, nil
}

// Committed returns the indexes of committed batches in commit order.
func (s *Source) Committed() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.committed...)
}

type batch struct {
	src  *Source
	idx  int
	recs []erpdk.Record
}

func (b *batch) Records() []erpdk.Record { return b.recs }

func (b *batch) Commit() error {
	b.src.mu.Lock()
	b.src.committed = append(b.src.committed, b.idx)
	b.src.mu.Unlock()
	return nil
}
