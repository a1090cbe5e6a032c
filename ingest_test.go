package erpdk_test

import (
	"context"
	"testing"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/mock"
	"github.com/pilosa/erpdk/test"
)

func TestIngesterRun(t *testing.T) {
	for _, conc := range []int{1, 4} {
		src := mock.NewSource(recs("1", "2"), recs(), recs("3"), recs("4", "5", "6"))
		r := &mock.Resolver{AddFunc: func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
			return mock.Entities(int64(id[0] - '0')), nil
		}}
		set := erpdk.NewEntitySet()
		n := erpdk.NewIngester(src, erpdk.NewDispatcher(r, set), nil)
		n.Concurrency = conc
		test.ErrNil(t, n.Run(context.Background()), "Run")
		test.MustBe(t, []int64{1, 2, 3, 4, 5, 6}, set.IDs())
		test.MustBe(t, 4, len(src.Committed()), "committed batches")
		test.MustBe(t, uint64(4), n.Batches())
	}
}

func TestIngesterFailedBatchNotCommitted(t *testing.T) {
	src := mock.NewSource(recs("1"), recs("2", "bad"), recs("3"))
	r := &mock.Resolver{AddFunc: func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
		if id == "bad" {
			return nil, erpdk.ErrInvalidRecord
		}
		return mock.Entities(1), nil
	}}
	n := erpdk.NewIngester(src, erpdk.NewDispatcher(r, erpdk.NewEntitySet()), nil)
	err := n.Run(context.Background())
	test.ErrIs(t, err, erpdk.ErrInvalidRecord)
	test.MustBe(t, []int{0}, src.Committed())
}

func TestIngesterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := mock.NewSource(recs("1", "2"), recs("3"))
	r := &mock.Resolver{AddFunc: func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
		if id == "1" {
			cancel()
		}
		return mock.Entities(1), nil
	}}
	n := erpdk.NewIngester(src, erpdk.NewDispatcher(r, erpdk.NewEntitySet()), nil)
	test.ErrNil(t, n.Run(ctx), "stopping is not an error")
	test.MustBe(t, []int(nil), src.Committed(), "interrupted batch stays uncommitted")
	test.MustBe(t, 1, len(r.Calls()))
}
