package erpdk

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"
)

// Drain processes redo units until the Resolver reports that none are left,
// merging affected entities exactly as OnBatch does. It returns the number of
// units processed. Processing one unit may queue more, so there is no fixed
// bound on the number of iterations.
//
// The first failure halts the drain. The failed unit stays with the engine
// and will be picked up by a later drain.
func (d *Dispatcher) Drain(ctx context.Context) (n int, err error) {
	pass := d.drains.Next()
	d.log.Debugf("drain %d: starting", pass)
	for {
		if ctx.Err() != nil {
			return n, errors.Wrapf(ErrStopped, "drain %d after %d redo units", pass, n)
		}
		unit, err := d.resolver.GetRedoRecord(context.WithoutCancel(ctx))
		if err != nil {
			return n, &ResolveError{Kind: KindOf(err), Err: errors.Wrap(err, "getting redo record")}
		}
		if unit == "" {
			d.log.Debugf("drain %d: processed %d redo units", pass, n)
			return n, nil
		}

		start := time.Now()
		res, err := d.resolver.ProcessRedoRecord(context.WithoutCancel(ctx), unit, true)
		d.stats.Timing("resolve_latency", time.Since(start), 1, "op:redo")
		if err != nil {
			d.stats.Count("redo_failed", 1, 1)
			return n, &ResolveError{Kind: KindOf(err), Redo: unit, Err: err}
		}
		n++
		d.stats.Count("redo_processed", 1, 1)
		if err := d.merge(FieldRedone, pass, res); err != nil {
			return n, errors.Wrapf(err, "drain %d", pass)
		}
	}
}

// DrainScheduler runs Dispatcher.Drain on a cron schedule, for deployments
// where redo work should not wait for ingestion to stop. Ticks which arrive
// while a drain is running are skipped.
type DrainScheduler struct {
	expr string
	d    *Dispatcher
	log  Logger
}

// NewDrainScheduler validates expr and returns a DrainScheduler for d.
func NewDrainScheduler(expr string, d *Dispatcher, log Logger) (*DrainScheduler, error) {
	if !gronx.IsValid(expr) {
		return nil, errors.Errorf("invalid drain cron expression: %q", expr)
	}
	if log == nil {
		log = NopLogger{}
	}
	return &DrainScheduler{
		expr: expr,
		d:    d,
		log:  log,
	}, nil
}

// Next returns the first scheduled drain strictly after t.
func (s *DrainScheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

// Run drains on every tick until ctx is done, which is not an error. A failed
// drain ends Run with that error.
func (s *DrainScheduler) Run(ctx context.Context) error {
	for {
		next, err := s.Next(time.Now())
		if err != nil {
			return errors.Wrap(err, "computing next drain")
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		n, err := s.d.Drain(ctx)
		if errors.Is(err, ErrStopped) {
			return nil
		} else if err != nil {
			return errors.Wrap(err, "scheduled drain")
		}
		s.log.Printf("scheduled drain processed %d redo units", n)
	}
}
