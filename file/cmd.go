package file

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/ingest"
	"github.com/pilosa/pilosa/logger"
	"github.com/pkg/errors"
)

// Main ingests files as they appear in a directory.
type Main struct {
	ingest.Main `flag:"!embed"`

	Path               string        `help:"Directory to watch for new JSON lines or CSV files."`
	PollInterval       time.Duration `help:"How often to look for new files."`
	MaxFilesPerTrigger int           `help:"Maximum number of files in each batch."`
	Once               bool          `help:"Stop once every file in the directory has been ingested rather than waiting for more."`
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	m := &Main{
		Main:               *ingest.NewMain(),
		Path:               "data",
		PollInterval:       time.Second,
		MaxFilesPerTrigger: 1,
	}
	m.NewSource = func() (erpdk.Source, error) {
		opts := []SrcOption{
			OptSrcPath(m.Path),
			OptSrcPollInterval(m.PollInterval),
			OptSrcMaxFilesPerTrigger(m.MaxFilesPerTrigger),
			OptSrcOnce(m.Once),
			OptSrcLogger(m.Log()),
		}
		if cp := m.Checkpointer(); cp != nil {
			opts = append(opts, OptSrcCheckpointer(cp))
		}
		return NewSource(opts...)
	}
	return m
}

// SplitMain splits a dataset into small files, downloading it first if it
// is given as a URL.
type SplitMain struct {
	Input        string `help:"Dataset to split - a local path, or an http(s):// or s3:// URL."`
	Dir          string `help:"Directory to write the split files to."`
	Prefix       string `help:"Name prefix for the split files. Empty means the input's base name."`
	LinesPerFile int    `help:"Maximum number of records in each file."`
	Region       string `help:"AWS region to use for s3:// inputs."`
	Verbose      bool   `help:"Enable verbose logging."`
}

// NewSplitMain gets a new SplitMain with default values.
func NewSplitMain() *SplitMain {
	return &SplitMain{
		Dir:          "split",
		LinesPerFile: 100,
		Region:       "us-east-1",
	}
}

// Run splits the input.
func (m *SplitMain) Run() error {
	log := newLogger(m.Verbose)
	if m.Input == "" {
		return errors.New("an input is required")
	}
	input := m.Input
	if strings.Contains(input, "://") {
		tmpDir, err := ioutil.TempDir("", "erpdk-download")
		if err != nil {
			return errors.Wrap(err, "making download directory")
		}
		defer os.RemoveAll(tmpDir)
		local := filepath.Join(tmpDir, filepath.Base(input))
		d := &Downloader{Region: m.Region}
		n, err := d.Download(context.Background(), input, local)
		if err != nil {
			return errors.Wrap(err, "downloading input")
		}
		log.Printf("downloaded %d bytes from %s", n, input)
		input = local
	}

	f, err := os.Open(input)
	if err != nil {
		return errors.Wrap(err, "opening input")
	}
	defer f.Close()
	ext := filepath.Ext(input)
	prefix := m.Prefix
	if prefix == "" {
		prefix = strings.TrimSuffix(filepath.Base(input), ext)
	}
	paths, err := erpdk.SplitToFiles(f, m.Dir, prefix, ext, m.LinesPerFile, strings.EqualFold(ext, ".csv"))
	if err != nil {
		return errors.Wrap(err, "splitting input")
	}
	log.Printf("wrote %d files to %s", len(paths), m.Dir)
	return nil
}

// ReplayMain copies files into a watched directory at a limited rate.
type ReplayMain struct {
	From    string  `help:"File or directory of files to replay."`
	To      string  `help:"Directory to copy files into."`
	Rate    float64 `help:"Files per second. 0 means as fast as possible."`
	Burst   int     `help:"Number of files which may be copied at once after an idle period."`
	Verbose bool    `help:"Enable verbose logging."`
}

// NewReplayMain gets a new ReplayMain with default values.
func NewReplayMain() *ReplayMain {
	return &ReplayMain{
		From:  "split",
		To:    "data",
		Rate:  1,
		Burst: 1,
	}
}

// Run replays files until they are all copied.
func (m *ReplayMain) Run() error {
	log := newLogger(m.Verbose)
	src, err := NewRawSource(m.From)
	if err != nil {
		return errors.Wrap(err, "getting files to replay")
	}
	r, err := NewReplayer(src, m.To, m.Rate, m.Burst, log)
	if err != nil {
		return errors.Wrap(err, "getting replayer")
	}
	n, err := r.Run(context.Background())
	log.Printf("replayed %d of %d files into %s", n, src.Len(), m.To)
	return err
}

func newLogger(verbose bool) logger.Logger {
	if verbose {
		return logger.NewVerboseLogger(os.Stderr)
	}
	return logger.NewStandardLogger(os.Stderr)
}
