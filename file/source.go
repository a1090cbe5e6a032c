// Package file reads records from files: a directory watched for new
// JSON-lines or CSV files, plus the tools to download a dataset, split it
// into small files and replay those into a watched directory over time.
package file

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/format"
	"github.com/pkg/errors"
)

// Source is an erpdk.Source which watches a directory for new files. Each
// trigger picks up at most MaxFilesPerTrigger new files, in name order, and
// delivers all of their records as one batch. Committing the batch
// checkpoints its files so that they are skipped by later runs. Hidden files
// and files ending in .tmp are ignored, so writers should create files under
// such a name and rename them once complete.
type Source struct {
	dir      string
	poll     time.Duration
	maxFiles int
	once     bool
	cp       erpdk.Checkpointer
	log      erpdk.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// SrcOption is a functional option for NewSource.
type SrcOption func(s *Source) error

// OptSrcPath sets the directory to watch.
func OptSrcPath(pathname string) SrcOption {
	return func(s *Source) error {
		info, err := os.Stat(pathname)
		if err != nil {
			return errors.Wrap(err, "statting path")
		}
		if !info.IsDir() {
			return errors.Errorf("%s is not a directory", pathname)
		}
		s.dir = pathname
		return nil
	}
}

// OptSrcPollInterval sets how long to wait between looks at an idle
// directory.
func OptSrcPollInterval(d time.Duration) SrcOption {
	return func(s *Source) error {
		if d <= 0 {
			return errors.Errorf("poll interval must be positive, got %v", d)
		}
		s.poll = d
		return nil
	}
}

// OptSrcMaxFilesPerTrigger limits the number of files in each batch.
func OptSrcMaxFilesPerTrigger(n int) SrcOption {
	return func(s *Source) error {
		if n < 1 {
			return errors.Errorf("max files per trigger must be positive, got %d", n)
		}
		s.maxFiles = n
		return nil
	}
}

// OptSrcOnce makes the Source return io.EOF instead of waiting once the
// directory holds no new files.
func OptSrcOnce(once bool) SrcOption {
	return func(s *Source) error {
		s.once = once
		return nil
	}
}

// OptSrcCheckpointer records completed files in cp and skips files which cp
// already holds.
func OptSrcCheckpointer(cp erpdk.Checkpointer) SrcOption {
	return func(s *Source) error {
		s.cp = cp
		return nil
	}
}

// OptSrcLogger sets the logger.
func OptSrcLogger(log erpdk.Logger) SrcOption {
	return func(s *Source) error {
		s.log = log
		return nil
	}
}

// NewSource gets a Source. OptSrcPath is required.
func NewSource(opts ...SrcOption) (*Source, error) {
	s := &Source{
		poll:     time.Second,
		maxFiles: 1,
		log:      erpdk.NopLogger{},
		seen:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.dir == "" {
		return nil, errors.New("a directory to watch is required")
	}
	return s, nil
}

// NextBatch implements erpdk.Source.
func (s *Source) NextBatch(ctx context.Context) (erpdk.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		names, err := s.newFiles()
		if err != nil {
			return nil, err
		}
		if len(names) > 0 {
			return s.read(names)
		}
		if s.once {
			return nil, io.EOF
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.poll):
		}
	}
}

// newFiles lists up to maxFiles files which have not been handed out or
// checkpointed.
func (s *Source) newFiles() ([]string, error) {
	infos, err := ioutil.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "reading directory")
	}
	var names []string
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		path := filepath.Join(s.dir, name)
		if _, ok := s.seen[path]; ok {
			continue
		}
		if s.cp != nil {
			done, err := s.cp.Done(CheckpointName(path))
			if err != nil {
				return nil, errors.Wrapf(err, "checking checkpoint for %s", name)
			}
			if done {
				s.seen[path] = struct{}{}
				continue
			}
		}
		names = append(names, path)
		if len(names) == s.maxFiles {
			break
		}
	}
	return names, nil
}

func (s *Source) read(paths []string) (erpdk.Batch, error) {
	b := &fileBatch{src: s, paths: paths}
	for _, path := range paths {
		recs, err := readFile(path)
		if err != nil {
			return nil, err
		}
		b.recs = append(b.recs, recs...)
		s.seen[path] = struct{}{}
	}
	s.log.Debugf("read %d records from %d files", len(b.recs), len(paths))
	return b, nil
}

func readFile(path string) ([]erpdk.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening file")
	}
	defer f.Close()
	return format.Read(path, f)
}

// CheckpointName is the name under which a completed file is recorded.
func CheckpointName(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "file://" + filepath.ToSlash(path)
}

type fileBatch struct {
	src   *Source
	paths []string
	recs  []erpdk.Record
}

func (b *fileBatch) Records() []erpdk.Record { return b.recs }

func (b *fileBatch) Commit() error {
	if b.src.cp == nil {
		return nil
	}
	names := make([]string, len(b.paths))
	for i, path := range b.paths {
		names[i] = CheckpointName(path)
	}
	return errors.Wrap(b.src.cp.MarkDone(names...), "checkpointing files")
}

// RawSource is an erpdk.RawSource over a single file or the files in a
// directory, in name order. It is threadsafe.
type RawSource struct {
	files   []string
	fileIdx *uint64
}

// NewRawSource gets a RawSource for pathname.
func NewRawSource(pathname string) (*RawSource, error) {
	fileIdx := uint64(0)
	s := &RawSource{
		fileIdx: &fileIdx,
	}
	info, err := os.Stat(pathname)
	if err != nil {
		return nil, errors.Wrap(err, "statting path")
	}
	if info.IsDir() {
		infos, err := ioutil.ReadDir(pathname)
		if err != nil {
			return nil, errors.Wrap(err, "reading directory")
		}
		s.files = make([]string, 0, len(infos))
		for _, info = range infos {
			if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
				continue
			}
			s.files = append(s.files, filepath.Join(pathname, info.Name()))
		}
	} else {
		s.files = []string{pathname}
	}
	return s, nil
}

// Len returns the number of files.
func (s *RawSource) Len() int { return len(s.files) }

type namedFile struct {
	*os.File
}

func (m *namedFile) Name() string {
	return filepath.Base(m.File.Name())
}

// NextReader implements erpdk.RawSource.
func (s *RawSource) NextReader() (erpdk.NamedReadCloser, error) {
	idx := atomic.AddUint64(s.fileIdx, 1) - 1
	if int(idx) >= len(s.files) {
		return nil, io.EOF
	}

	file, err := os.Open(s.files[idx])
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", s.files[idx])
	}
	return &namedFile{file}, nil
}
