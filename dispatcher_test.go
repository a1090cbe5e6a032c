package erpdk_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/mock"
	"github.com/pilosa/erpdk/test"
	"github.com/pkg/errors"
)

// byRecordID resolves each record to the entities listed for its RECORD_ID.
func byRecordID(entities map[string][]int64) func(string, string, erpdk.Record) (*erpdk.Result, error) {
	return func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
		return mock.Entities(entities[id]...), nil
	}
}

func TestOnBatch(t *testing.T) {
	tests := []struct {
		name     string
		batches  [][]erpdk.Record
		entities map[string][]int64
		exp      []int64
	}{
		{
			name:    "empty batch",
			batches: [][]erpdk.Record{{}},
			exp:     []int64{},
		},
		{
			name:     "same entity twice",
			batches:  [][]erpdk.Record{recs("1", "2")},
			entities: map[string][]int64{"1": {1}, "2": {1}},
			exp:      []int64{1},
		},
		{
			name:     "merge of two entities",
			batches:  [][]erpdk.Record{recs("1", "2", "3")},
			entities: map[string][]int64{"1": {1}, "2": {2}, "3": {1, 2}},
			exp:      []int64{1, 2},
		},
		{
			name:     "union across batches",
			batches:  [][]erpdk.Record{recs("1"), recs("2"), recs("1")},
			entities: map[string][]int64{"1": {5, 6}, "2": {6, 7}},
			exp:      []int64{5, 6, 7},
		},
		{
			name:     "no affected entities",
			batches:  [][]erpdk.Record{recs("1", "2")},
			entities: map[string][]int64{},
			exp:      []int64{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &mock.Resolver{AddFunc: byRecordID(tc.entities)}
			set := erpdk.NewEntitySet()
			d := erpdk.NewDispatcher(r, set)
			total := 0
			for i, b := range tc.batches {
				test.ErrNil(t, d.OnBatch(context.Background(), b, uint64(i)), "OnBatch")
				total += len(b)
			}
			test.MustBe(t, tc.exp, set.IDs())

			calls := r.CallsTo("add")
			if len(calls) != total {
				t.Fatalf("expected %d add calls, got %d", total, len(calls))
			}
			n := 0
			for _, b := range tc.batches {
				for _, rec := range b {
					if calls[n].RecordID != rec.RecordID() || calls[n].DataSource != "TEST" || !calls[n].WithInfo {
						t.Fatalf("call %d: unexpected %+v for %v", n, calls[n], rec)
					}
					n++
				}
			}
		})
	}
}

func TestOnBatchInvalidRecordHalts(t *testing.T) {
	r := &mock.Resolver{AddFunc: func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
		if id == "2" {
			return nil, errors.Wrap(erpdk.ErrInvalidRecord, "engine rejected record")
		}
		return mock.Entities(10), nil
	}}
	stats := &mock.RecordingStatter{}
	set := erpdk.NewEntitySet()
	d := erpdk.NewDispatcher(r, set, erpdk.OptDispatcherStatter(stats))

	err := d.OnBatch(context.Background(), recs("1", "2", "3"), 0)
	if !errors.Is(err, erpdk.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	var re *erpdk.ResolveError
	if !errors.As(err, &re) || re.RecordID != "2" || re.DataSource != "TEST" {
		t.Fatalf("expected ResolveError for TEST/2, got %v", err)
	}
	if calls := r.CallsTo("add"); len(calls) != 2 {
		t.Fatalf("record after the failure should not be submitted, got %d calls", len(calls))
	}
	test.MustBe(t, []int64{10}, set.IDs())
	test.MustBe(t, int64(1), stats.Counted("records_failed"))
	test.MustBe(t, int64(1), stats.Counted("records_submitted"))
	test.MustBe(t, int64(1), stats.Counted("entities_affected"))
}

func TestOnBatchServiceUnavailable(t *testing.T) {
	r := &mock.Resolver{AddFunc: func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
		return nil, errors.New("connection refused")
	}}
	d := erpdk.NewDispatcher(r, erpdk.NewEntitySet())
	err := d.OnBatch(context.Background(), recs("1", "2"), 0)
	if !errors.Is(err, erpdk.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if calls := r.CallsTo("add"); len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
}

func TestOnBatchValidation(t *testing.T) {
	r := &mock.Resolver{}
	d := erpdk.NewDispatcher(r, erpdk.NewEntitySet())
	err := d.OnBatch(context.Background(), []erpdk.Record{{"RECORD_ID": "1"}}, 0)
	if !errors.Is(err, erpdk.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord for missing data source, got %v", err)
	}
	if len(r.Calls()) != 0 {
		t.Fatalf("invalid record should not reach the resolver")
	}

	var got erpdk.Record
	r = &mock.Resolver{AddFunc: func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
		got = rec
		return nil, nil
	}}
	d = erpdk.NewDispatcher(r, erpdk.NewEntitySet(),
		erpdk.OptDispatcherDataSource("CUSTOMERS"),
		erpdk.OptDispatcherSchema(erpdk.TruthsetSchema))
	in := erpdk.Record{"RECORD_ID": "1", "GENDER": "F", "SHOE_SIZE": "9"}
	test.ErrNil(t, d.OnBatch(context.Background(), []erpdk.Record{in}, 0), "OnBatch")
	mustBeRecord(t, erpdk.Record{"DATA_SOURCE": "CUSTOMERS", "RECORD_ID": "1", "GENDER": "F"}, got)
	if _, ok := in["DATA_SOURCE"]; ok {
		t.Fatal("input record was modified")
	}
}

func TestOnBatchStopsBetweenRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &mock.Resolver{AddFunc: func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
		if id == "2" {
			cancel()
		}
		return mock.Entities(2), nil
	}}
	set := erpdk.NewEntitySet()
	d := erpdk.NewDispatcher(r, set)
	err := d.OnBatch(ctx, recs("1", "2", "3"), 0)
	if !errors.Is(err, erpdk.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if calls := r.CallsTo("add"); len(calls) != 2 {
		t.Fatalf("in-flight record should finish and the next should not start, got %d calls", len(calls))
	}
	// the record in flight when the stop came was still merged
	test.MustBe(t, []int64{2}, set.IDs())
}

type recordingStore struct {
	mu  sync.Mutex
	ids []int64
}

func (s *recordingStore) AddEntities(ids []int64) error {
	s.mu.Lock()
	s.ids = append(s.ids, ids...)
	s.mu.Unlock()
	return nil
}
func (s *recordingStore) Entities() ([]int64, error) { return s.ids, nil }
func (s *recordingStore) Close() error               { return nil }

type affected struct {
	field  string
	batch  uint64
	entity uint64
}

type recordingIndexer struct {
	mu   sync.Mutex
	bits []affected
}

func (x *recordingIndexer) AddAffected(field string, batch uint64, entityID uint64) {
	x.mu.Lock()
	x.bits = append(x.bits, affected{field, batch, entityID})
	x.mu.Unlock()
}
func (x *recordingIndexer) Close() error { return nil }

func TestOnBatchExports(t *testing.T) {
	r := &mock.Resolver{AddFunc: byRecordID(map[string][]int64{"1": {4}, "2": {4, 8}})}
	store := &recordingStore{}
	idx := &recordingIndexer{}
	d := erpdk.NewDispatcher(r, erpdk.NewEntitySet(), erpdk.OptDispatcherStore(store), erpdk.OptDispatcherIndexer(idx))
	test.ErrNil(t, d.OnBatch(context.Background(), recs("1", "2"), 7), "OnBatch")

	test.MustBe(t, []int64{4, 8}, store.ids, "journal holds newly added ids only")
	test.MustBe(t, []affected{{"added", 7, 4}, {"added", 7, 4}, {"added", 7, 8}}, idx.bits)
}

func TestOnBatchConcurrent(t *testing.T) {
	r := &mock.Resolver{AddFunc: func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
		return mock.Entities(int64(len(id)), 100), nil
	}}
	set := erpdk.NewEntitySet()
	d := erpdk.NewDispatcher(r, set)
	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := make([]byte, i+1)
			for j := range id {
				id[j] = 'x'
			}
			if err := d.OnBatch(context.Background(), recs(string(id)), uint64(i)); err != nil {
				t.Errorf("batch %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	test.MustBe(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 100}, set.IDs())
}
