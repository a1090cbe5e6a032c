package file

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pilosa/erpdk"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Replayer copies files into a watched directory at a limited rate so that
// a static dataset arrives the way a stream would. Each file is written
// under a hidden .tmp name and renamed into place once complete.
type Replayer struct {
	src     erpdk.RawSource
	dest    string
	limiter *rate.Limiter
	log     erpdk.Logger
}

// NewReplayer gets a Replayer which copies the files of src into dest at no
// more than perSecond files per second. A perSecond of 0 means no limit.
func NewReplayer(src erpdk.RawSource, dest string, perSecond float64, burst int, log erpdk.Logger) (*Replayer, error) {
	if perSecond < 0 {
		return nil, errors.Errorf("rate must not be negative, got %v", perSecond)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, errors.Wrap(err, "making destination directory")
	}
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond == 0 {
		limit = rate.Inf
	}
	if log == nil {
		log = erpdk.NopLogger{}
	}
	return &Replayer{
		src:     src,
		dest:    dest,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}, nil
}

// Run copies files until src is exhausted or ctx is done, and returns the
// number copied. Stopping because of ctx is not an error.
func (r *Replayer) Run(ctx context.Context) (n int, err error) {
	for {
		rc, err := r.src.NextReader()
		if err == io.EOF {
			return n, nil
		} else if err != nil {
			return n, errors.Wrap(err, "getting next file")
		}
		if err := r.limiter.Wait(ctx); err != nil {
			// ctx is done, or will be before the next file is due
			rc.Close()
			r.log.Debugf("stopping replay: %v", err)
			return n, nil
		}
		err = r.copy(rc)
		rc.Close()
		if err != nil {
			return n, err
		}
		n++
		r.log.Debugf("replayed %s", rc.Name())
	}
}

func (r *Replayer) copy(rc erpdk.NamedReadCloser) error {
	name := filepath.Base(rc.Name())
	tmp := filepath.Join(r.dest, "."+name+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "copying %s", name)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "closing %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, filepath.Join(r.dest, name)), "renaming %s", tmp)
}
