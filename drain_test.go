package erpdk_test

import (
	"context"
	"testing"
	"time"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/mock"
	"github.com/pilosa/erpdk/test"
	"github.com/pkg/errors"
)

func TestDrain(t *testing.T) {
	tests := []struct {
		name  string
		units []erpdk.RedoUnit
		redo  map[erpdk.RedoUnit][]int64
		exp   []int64
	}{
		{
			name: "nothing pending",
			exp:  []int64{},
		},
		{
			name:  "three units",
			units: []erpdk.RedoUnit{"r1", "r2", "r3"},
			redo:  map[erpdk.RedoUnit][]int64{"r1": {1}, "r3": {1, 3}},
			exp:   []int64{1, 3},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &mock.Resolver{RedoFunc: func(u erpdk.RedoUnit) (*erpdk.Result, error) {
				return mock.Entities(tc.redo[u]...), nil
			}}
			r.QueueRedo(tc.units...)
			set := erpdk.NewEntitySet()
			d := erpdk.NewDispatcher(r, set)
			n, err := d.Drain(context.Background())
			test.ErrNil(t, err, "Drain")
			test.MustBe(t, len(tc.units), n, "units processed")
			test.MustBe(t, tc.exp, set.IDs())
			test.MustBe(t, len(tc.units)+1, len(r.CallsTo("get-redo")), "get-redo calls")
			processed := r.CallsTo("process-redo")
			test.MustBe(t, len(tc.units), len(processed), "process-redo calls")
			for i, c := range processed {
				if c.Redo != tc.units[i] || !c.WithInfo {
					t.Fatalf("call %d: unexpected %+v", i, c)
				}
			}
		})
	}
}

func TestDrainAfterIngest(t *testing.T) {
	// E1 from record 1, E2 from record 2, and redo of the first unit
	// touches E1 again.
	r := &mock.Resolver{}
	r.AddFunc = func(ds, id string, rec erpdk.Record) (*erpdk.Result, error) {
		r.QueueRedo(erpdk.RedoUnit("redo-" + id))
		if id == "1" {
			return mock.Entities(1), nil
		}
		return mock.Entities(2), nil
	}
	r.RedoFunc = func(u erpdk.RedoUnit) (*erpdk.Result, error) {
		if u == "redo-1" {
			return mock.Entities(1), nil
		}
		return mock.Entities(), nil
	}
	set := erpdk.NewEntitySet()
	d := erpdk.NewDispatcher(r, set)
	test.ErrNil(t, d.OnBatch(context.Background(), recs("1", "2"), 0), "OnBatch")
	n, err := d.Drain(context.Background())
	test.ErrNil(t, err, "Drain")
	test.MustBe(t, 2, n)
	test.MustBe(t, []int64{1, 2}, set.IDs())
	test.MustBe(t, 0, r.Pending())
}

func TestDrainQueuesMoreWork(t *testing.T) {
	r := &mock.Resolver{}
	r.RedoFunc = func(u erpdk.RedoUnit) (*erpdk.Result, error) {
		if len(u) < 4 {
			r.QueueRedo(u + "x")
		}
		return mock.Entities(int64(len(u))), nil
	}
	r.QueueRedo("x")
	set := erpdk.NewEntitySet()
	n, err := erpdk.NewDispatcher(r, set).Drain(context.Background())
	test.ErrNil(t, err, "Drain")
	test.MustBe(t, 4, n)
	test.MustBe(t, []int64{1, 2, 3, 4}, set.IDs())
}

func TestDrainFailureHalts(t *testing.T) {
	r := &mock.Resolver{RedoFunc: func(u erpdk.RedoUnit) (*erpdk.Result, error) {
		if u == "r2" {
			return nil, errors.Wrap(erpdk.ErrInvalidRecord, "corrupt redo")
		}
		return mock.Entities(9), nil
	}}
	r.QueueRedo("r1", "r2", "r3")
	set := erpdk.NewEntitySet()
	n, err := erpdk.NewDispatcher(r, set).Drain(context.Background())
	test.ErrIs(t, err, erpdk.ErrInvalidRecord)
	var re *erpdk.ResolveError
	if !errors.As(err, &re) || re.Redo != "r2" {
		t.Fatalf("expected ResolveError naming r2, got %v", err)
	}
	test.MustBe(t, 1, n)
	test.MustBe(t, 1, r.Pending(), "r3 left pending")
	test.MustBe(t, []int64{9}, set.IDs())

	r = &mock.Resolver{GetRedoErr: errors.New("engine down")}
	_, err = erpdk.NewDispatcher(r, set).Drain(context.Background())
	test.ErrIs(t, err, erpdk.ErrServiceUnavailable)
}

func TestDrainStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &mock.Resolver{RedoFunc: func(u erpdk.RedoUnit) (*erpdk.Result, error) {
		cancel()
		return mock.Entities(1), nil
	}}
	r.QueueRedo("r1", "r2")
	n, err := erpdk.NewDispatcher(r, erpdk.NewEntitySet()).Drain(ctx)
	test.ErrIs(t, err, erpdk.ErrStopped)
	test.MustBe(t, 1, n)
	test.MustBe(t, 1, r.Pending())
}

func TestDrainScheduler(t *testing.T) {
	if _, err := erpdk.NewDrainScheduler("not a cron", nil, nil); err == nil {
		t.Fatal("expected invalid expression error")
	}
	s, err := erpdk.NewDrainScheduler("*/5 * * * *", erpdk.NewDispatcher(&mock.Resolver{}, erpdk.NewEntitySet()), nil)
	test.ErrNil(t, err, "NewDrainScheduler")
	next, err := s.Next(time.Date(2024, 3, 1, 10, 2, 30, 0, time.UTC))
	test.ErrNil(t, err, "Next")
	test.MustBe(t, time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC), next)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.ErrNil(t, s.Run(ctx), "Run after cancel")
}
