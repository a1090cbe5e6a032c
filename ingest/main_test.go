package ingest_test

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/ingest"
	"github.com/pilosa/erpdk/mock"
	"github.com/pilosa/erpdk/test"
)

func rec(id string) erpdk.Record {
	return erpdk.Record{erpdk.FieldRecordID: id, "PRIMARY_NAME_FULL": "name " + id}
}

func newMain(t *testing.T, r *mock.Resolver, src *mock.Source) *ingest.Main {
	t.Helper()
	m := ingest.NewMain()
	m.StatusBind = ""
	m.DataSource = "TEST"
	m.LogPath = filepath.Join(t.TempDir(), "erpdk.log")
	m.NewResolver = func() (erpdk.Resolver, error) { return r, nil }
	if src != nil {
		m.NewSource = func() (erpdk.Source, error) { return src, nil }
	}
	return m
}

func TestMainIngestAndDrain(t *testing.T) {
	r := &mock.Resolver{
		AddFunc: func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
			if ds != "TEST" {
				t.Errorf("unexpected data source %q", ds)
			}
			return mock.Entities(map[string][]int64{"1": {1}, "2": {2}, "3": {1}}[id]...), nil
		},
		RedoFunc: func(unit erpdk.RedoUnit) (*erpdk.Result, error) {
			return mock.Entities(1, 3), nil
		},
	}
	r.QueueRedo("u1")
	src := mock.NewSource([]erpdk.Record{rec("1"), rec("2")}, []erpdk.Record{rec("3")})
	m := newMain(t, r, src)
	m.Output = filepath.Join(t.TempDir(), "entities.txt")

	err := m.RunContext(context.Background(), context.Background())
	test.ErrNil(t, err, "RunContext")
	test.MustBe(t, []int64{1, 2, 3}, m.EntitySet().IDs())
	test.MustBe(t, []int{0, 1}, src.Committed())
	test.MustBe(t, 3, len(r.CallsTo("add")))
	test.MustBe(t, 1, len(r.CallsTo("process-redo")))

	out, err := ioutil.ReadFile(m.Output)
	test.ErrNil(t, err, "reading output")
	test.MustBe(t, "1\n2\n3\n", string(out))
}

func TestMainNoDrainAfter(t *testing.T) {
	r := &mock.Resolver{}
	r.QueueRedo("u1")
	m := newMain(t, r, mock.NewSource([]erpdk.Record{rec("1")}))
	m.DrainAfter = false

	test.ErrNil(t, m.RunContext(context.Background(), context.Background()), "RunContext")
	test.MustBe(t, 0, len(r.CallsTo("get-redo")))
	test.MustBe(t, 1, r.Pending())
}

func TestMainDrainOnly(t *testing.T) {
	r := &mock.Resolver{
		RedoFunc: func(unit erpdk.RedoUnit) (*erpdk.Result, error) {
			return mock.Entities(7), nil
		},
	}
	r.QueueRedo("u1", "u2")
	m := newMain(t, r, nil)
	m.Output = filepath.Join(t.TempDir(), "out.txt")

	test.ErrNil(t, m.RunContext(context.Background(), context.Background()), "RunContext")
	test.MustBe(t, 2, len(r.CallsTo("process-redo")))
	test.MustBe(t, []int64{7}, m.EntitySet().IDs())

	out, err := ioutil.ReadFile(m.Output)
	test.ErrNil(t, err, "reading output")
	test.MustBe(t, "7\n", string(out))
}

func TestMainInvalidRecord(t *testing.T) {
	r := &mock.Resolver{}
	src := mock.NewSource([]erpdk.Record{rec("1"), {"PRIMARY_NAME_FULL": "no id"}, rec("3")})
	m := newMain(t, r, src)

	err := m.RunContext(context.Background(), context.Background())
	test.ErrIs(t, err, erpdk.ErrInvalidRecord)
	test.MustBe(t, 0, len(src.Committed()))
	test.MustBe(t, 0, len(r.CallsTo("get-redo")))
}

func TestMainResume(t *testing.T) {
	for _, storeType := range []string{"bolt", "leveldb"} {
		t.Run(storeType, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "journal")
			r := &mock.Resolver{
				AddFunc: func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
					if id == "1" {
						return mock.Entities(10, 11), nil
					}
					return mock.Entities(12), nil
				},
			}

			m := newMain(t, r, mock.NewSource([]erpdk.Record{rec("1")}))
			m.StorePath, m.StoreType = path, storeType
			test.ErrNil(t, m.RunContext(context.Background(), context.Background()), "first run")

			m = newMain(t, r, mock.NewSource([]erpdk.Record{rec("2")}))
			m.StorePath, m.StoreType = path, storeType
			test.ErrNil(t, m.RunContext(context.Background(), context.Background()), "second run")
			test.MustBe(t, []int64{12}, m.EntitySet().IDs())

			m = newMain(t, r, mock.NewSource())
			m.StorePath, m.StoreType, m.Resume = path, storeType, true
			test.ErrNil(t, m.RunContext(context.Background(), context.Background()), "resumed run")
			test.MustBe(t, []int64{10, 11, 12}, m.EntitySet().IDs())
		})
	}
}

func TestMainStopped(t *testing.T) {
	r := &mock.Resolver{}
	r.QueueRedo("u1")
	m := newMain(t, r, mock.NewSource([]erpdk.Record{rec("1")}))
	stop, cancel := context.WithCancel(context.Background())
	cancel()

	test.ErrNil(t, m.RunContext(stop, context.Background()), "RunContext")
	test.MustBe(t, 0, len(r.CallsTo("add")))
	// stopping ingestion still drains
	test.MustBe(t, 1, len(r.CallsTo("process-redo")))
}

func TestMainValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(m *ingest.Main)
	}{
		{name: "concurrency", modify: func(m *ingest.Main) { m.Concurrency = 0 }},
		{name: "store type", modify: func(m *ingest.Main) { m.StoreType = "sqlite" }},
		{name: "resume without store", modify: func(m *ingest.Main) { m.Resume = true }},
		{name: "no resolver", modify: func(m *ingest.Main) { m.NewResolver = nil; m.ResolverAddr = "" }},
		{name: "drain cron without source", modify: func(m *ingest.Main) { m.DrainCron = "* * * * *" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newMain(t, &mock.Resolver{}, nil)
			tc.modify(m)
			if err := m.RunContext(context.Background(), context.Background()); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestWriteEntities(t *testing.T) {
	buf := &bytes.Buffer{}
	test.ErrNil(t, ingest.WriteEntities(buf, erpdk.NewEntitySet(30, -2, 4)), "WriteEntities")
	test.MustBe(t, "-2\n4\n30\n", buf.String())
}
