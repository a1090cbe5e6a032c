package erpdk

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Ingester pulls batches from a Source and hands them to a Dispatcher,
// committing each batch once every record in it has been resolved.
type Ingester struct {
	Concurrency int

	src    Source
	d      *Dispatcher
	nexter *Nexter
	log    Logger
}

// NewIngester gets a new Ingester which numbers batches from 0.
func NewIngester(src Source, d *Dispatcher, log Logger) *Ingester {
	if log == nil {
		log = NopLogger{}
	}
	return &Ingester{
		Concurrency: 1,
		src:         src,
		d:           d,
		nexter:      NewNexter(),
		log:         log,
	}
}

// Batches returns the number of batches handed to the Dispatcher so far.
func (n *Ingester) Batches() uint64 {
	return n.nexter.Last() + 1
}

// Run processes batches until the Source is exhausted, ctx is done, or a
// batch fails. Stopping because ctx is done is not an error, and the batch
// which was interrupted is left uncommitted. A failed batch stops every
// worker and its error is returned.
func (n *Ingester) Run(ctx context.Context) error {
	conc := n.Concurrency
	if conc < 1 {
		conc = 1
	}
	eg, gctx := errgroup.WithContext(ctx)
	for i := 0; i < conc; i++ {
		i := i
		eg.Go(func() error {
			return n.runWorker(gctx, ctx, i)
		})
	}
	return eg.Wait()
}

func (n *Ingester) runWorker(ctx, parent context.Context, w int) error {
	n.log.Debugf("ingest worker %d: starting", w)
	for {
		batch, err := n.src.NextBatch(ctx)
		if err == io.EOF {
			n.log.Debugf("ingest worker %d: source exhausted", w)
			return nil
		} else if err != nil {
			if ctx.Err() != nil {
				return n.stopped(parent, w, err)
			}
			return errors.Wrap(err, "getting next batch")
		}
		seq := n.nexter.Next()
		err = n.d.OnBatch(ctx, batch.Records(), seq)
		if errors.Is(err, ErrStopped) {
			return n.stopped(parent, w, err)
		} else if err != nil {
			return errors.Wrapf(err, "processing batch %d", seq)
		}
		if err := batch.Commit(); err != nil {
			return errors.Wrapf(err, "committing batch %d", seq)
		}
	}
}

// stopped decides what a worker returns after cancellation. Only a stop
// requested by the caller is clean; one caused by another worker failing
// is reported by that worker.
func (n *Ingester) stopped(parent context.Context, w int, err error) error {
	if parent.Err() != nil {
		n.log.Printf("ingest worker %d: stopped", w)
		return nil
	}
	n.log.Debugf("ingest worker %d: %v", w, err)
	return nil
}
