package erpdk_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/pilosa/erpdk"
)

type sliceSource struct {
	recs []erpdk.Record
	err  error
}

func (s *sliceSource) Record() (erpdk.Record, error) {
	if len(s.recs) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	r := s.recs[0]
	s.recs = s.recs[1:]
	return r, nil
}

func recs(ids ...string) []erpdk.Record {
	ret := make([]erpdk.Record, len(ids))
	for i, id := range ids {
		ret[i] = erpdk.Record{"DATA_SOURCE": "TEST", "RECORD_ID": id}
	}
	return ret
}

func TestBatcher(t *testing.T) {
	tests := []struct {
		name string
		size int
		n    int
		exp  []int
	}{
		{name: "empty", size: 3, n: 0, exp: nil},
		{name: "exact", size: 2, n: 4, exp: []int{2, 2}},
		{name: "partial", size: 3, n: 4, exp: []int{3, 1}},
		{name: "zero size", size: 0, n: 2, exp: []int{1, 1}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ids := make([]string, test.n)
			for i := range ids {
				ids[i] = string(rune('a' + i))
			}
			b := erpdk.NewBatcher(&sliceSource{recs: recs(ids...)}, test.size)
			var sizes []int
			for {
				batch, err := b.NextBatch(context.Background())
				if err == io.EOF {
					break
				} else if err != nil {
					t.Fatalf("getting batch: %v", err)
				}
				sizes = append(sizes, len(batch.Records()))
				if err := batch.Commit(); err != nil {
					t.Fatalf("committing: %v", err)
				}
			}
			if len(sizes) != len(test.exp) {
				t.Fatalf("batch sizes exp/got\n%v\n%v", test.exp, sizes)
			}
			for i := range sizes {
				if sizes[i] != test.exp[i] {
					t.Fatalf("batch sizes exp/got\n%v\n%v", test.exp, sizes)
				}
			}
			// stays exhausted
			if _, err := b.NextBatch(context.Background()); err != io.EOF {
				t.Fatalf("expected io.EOF after exhaustion, got %v", err)
			}
		})
	}
}

func TestBatcherErrors(t *testing.T) {
	b := erpdk.NewBatcher(&sliceSource{recs: recs("a"), err: errors.New("bad disk")}, 5)
	if _, err := b.NextBatch(context.Background()); err == nil {
		t.Fatal("expected error from record source")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b = erpdk.NewBatcher(&sliceSource{recs: recs("a")}, 5)
	if _, err := b.NextBatch(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
