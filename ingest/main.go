// Package ingest holds the configuration and run loop shared by every erpdk
// command: it connects to the resolution engine, sets up the optional
// journal, metrics, status server and Pilosa export, and then runs a Source
// through a Dispatcher followed by a redo drain.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/boltdb"
	"github.com/pilosa/erpdk/leveldb"
	"github.com/pilosa/erpdk/pilosa"
	"github.com/pilosa/erpdk/prom"
	"github.com/pilosa/erpdk/rpc"
	"github.com/pilosa/erpdk/status"
	"github.com/pilosa/erpdk/termstat"
	"github.com/pilosa/pilosa/logger"
	"github.com/pkg/errors"
)

// Main holds all config for general ingest.
type Main struct {
	ResolverAddr    string        `help:"host:port of the entity resolution engine's gRPC endpoint."`
	ResolverTimeout time.Duration `help:"Timeout for each call to the resolution engine. 0 means none."`
	DataSource      string        `help:"DATA_SOURCE to use for records which do not have one. Empty means such records are invalid."`
	Strict          bool          `help:"Drop record fields which are not part of the truthset schema before submitting."`
	Concurrency     int           `help:"Number of batches to process concurrently."`
	DrainAfter      bool          `help:"Drain the engine's redo queue once ingestion stops."`
	DrainCron       string        `help:"Cron expression on which to drain the redo queue while ingesting. Only valid for commands which ingest. Empty disables scheduled drains."`
	StorePath       string        `help:"Path of the journal of affected entities and completed inputs. Empty disables the journal."`
	StoreType       string        `help:"Journal implementation - bolt or leveldb."`
	Resume          bool          `help:"Seed the affected entity set from the journal."`
	Output          string        `help:"File to write the affected entity ids to when the run ends. '-' means stdout, empty disables."`
	StatusBind      string        `help:"host:port on which to serve affected entities and metrics. Empty disables."`
	PilosaHosts     []string      `help:"Comma separated list of host:port pairs for Pilosa. Empty disables exporting affected entities."`
	Index           string        `help:"Name of Pilosa index to export affected entities to."`
	BatchSize       uint          `help:"Number of affected entities to buffer before importing them into Pilosa."`
	LogPath         string        `help:"Log file to write to. Empty means stderr."`
	Verbose         bool          `help:"Enable verbose logging."`
	Progress        bool          `help:"Print running counters to stderr."`
	TLS             rpc.TLSConfig

	NewSource   func() (erpdk.Source, error)   `flag:"-"`
	NewResolver func() (erpdk.Resolver, error) `flag:"-"`

	log      logger.Logger
	logFile  *os.File
	resolver erpdk.Resolver
	store    journal
	stats    *prom.Statter
	progress *termstat.Collector
	indexer  erpdk.Indexer
	set      *erpdk.EntitySet
	d        *erpdk.Dispatcher
	ingester *erpdk.Ingester
	drained  int64
	draining int32
	stopping int32
}

type journal interface {
	erpdk.EntityStore
	erpdk.Checkpointer
}

// Log returns the logger, which is only set up once Run has started.
func (m *Main) Log() logger.Logger { return m.log }

// Checkpointer returns the journal, or nil if there isn't one. Sources use it
// to skip inputs which a previous run already completed.
func (m *Main) Checkpointer() erpdk.Checkpointer {
	if m.store == nil {
		return nil
	}
	return m.store
}

// EntitySet returns the entities affected so far.
func (m *Main) EntitySet() *erpdk.EntitySet { return m.set }

// NewMain gets a Main with default settings.
func NewMain() *Main {
	return &Main{
		ResolverAddr: "localhost:8258",
		Concurrency:  1,
		DrainAfter:   true,
		StoreType:    "bolt",
		StatusBind:   ":13131",
		Index:        "erpdk",
		BatchSize:    10000,
		log:          logger.NopLogger,
	}
}

// Run ingests until the source is exhausted or the process is interrupted,
// then drains the redo queue. An interrupt once the drain has started, or a
// second one, abandons the drain.
func (m *Main) Run() error {
	stop, cancelStop := context.WithCancel(context.Background())
	defer cancelStop()
	abort, cancelAbort := context.WithCancel(context.Background())
	defer cancelAbort()

	if err := m.setup(); err != nil {
		m.close()
		return errors.Wrap(err, "setting up")
	}
	defer m.close()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		for {
			select {
			case <-signals:
			case <-abort.Done():
				return
			}
			if m.interrupt(cancelStop, cancelAbort) {
				return
			}
		}
	}()
	return m.run(stop, abort)
}

// interrupt handles one interrupt. Before the drain has started it stops
// ingestion, after that it abandons the drain. It reports whether there is
// nothing left to interrupt.
func (m *Main) interrupt(cancelStop, cancelAbort context.CancelFunc) bool {
	if atomic.LoadInt32(&m.draining) == 0 && atomic.CompareAndSwapInt32(&m.stopping, 0, 1) {
		m.log.Printf("stopping ingestion, interrupt again to abandon the redo drain")
		cancelStop()
		return false
	}
	m.log.Printf("abandoning redo drain")
	cancelStop()
	cancelAbort()
	return true
}

// RunContext is Run with the interrupts replaced by contexts: stop ends
// ingestion and abort ends the drain.
func (m *Main) RunContext(stop, abort context.Context) error {
	if err := m.setup(); err != nil {
		m.close()
		return errors.Wrap(err, "setting up")
	}
	defer m.close()
	return m.run(stop, abort)
}

func (m *Main) validate() error {
	if m.NewResolver == nil && m.ResolverAddr == "" {
		return errors.New("a resolver address is required")
	}
	if m.Concurrency < 1 {
		return errors.Errorf("concurrency must be at least 1, got %d", m.Concurrency)
	}
	switch m.StoreType {
	case "bolt", "leveldb":
	default:
		return errors.Errorf("unknown store type %q", m.StoreType)
	}
	if m.Resume && m.StorePath == "" {
		return errors.New("resume requires a store path")
	}
	if m.DrainCron != "" && m.NewSource == nil {
		return errors.New("scheduled drains need a source to run alongside")
	}
	return nil
}

func (m *Main) setup() (err error) {
	if err := m.validate(); err != nil {
		return errors.Wrap(err, "validating configuration")
	}

	// setup logging
	var logOut io.Writer = os.Stderr
	if m.LogPath != "" {
		m.logFile, err = os.OpenFile(m.LogPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "opening log file")
		}
		logOut = m.logFile
	}
	if m.Verbose {
		m.log = logger.NewVerboseLogger(logOut)
	} else {
		m.log = logger.NewStandardLogger(logOut)
	}

	if m.NewResolver != nil {
		m.resolver, err = m.NewResolver()
	} else {
		m.resolver, err = m.dialResolver()
	}
	if err != nil {
		return errors.Wrap(err, "getting resolver")
	}

	m.set = erpdk.NewEntitySet()
	if m.StorePath != "" {
		if m.store, err = m.openStore(); err != nil {
			return errors.Wrap(err, "opening journal")
		}
		if m.Resume {
			ids, err := m.store.Entities()
			if err != nil {
				return errors.Wrap(err, "reading journal")
			}
			m.set.Add(ids...)
			m.log.Printf("resumed with %d affected entities", len(ids))
		}
	}

	m.stats = prom.NewStatter("erpdk")
	var stats erpdk.Statter = m.stats
	if m.Progress {
		m.progress = termstat.NewCollector(os.Stderr)
		stats = erpdk.MultiStatter{m.stats, m.progress}
	}
	m.indexer = erpdk.NopIndexer{}
	if len(m.PilosaHosts) > 0 {
		indexer, err := pilosa.SetupPilosa(m.PilosaHosts, m.Index, m.BatchSize, m.log)
		if err != nil {
			return errors.Wrap(err, "setting up Pilosa")
		}
		m.indexer = indexer
	}

	opts := []erpdk.DispatcherOption{
		erpdk.OptDispatcherDataSource(m.DataSource),
		erpdk.OptDispatcherIndexer(m.indexer),
		erpdk.OptDispatcherLogger(m.log),
		erpdk.OptDispatcherStatter(stats),
	}
	if m.Strict {
		opts = append(opts, erpdk.OptDispatcherSchema(erpdk.TruthsetSchema))
	}
	if m.store != nil {
		opts = append(opts, erpdk.OptDispatcherStore(m.store))
	}
	m.d = erpdk.NewDispatcher(m.resolver, m.set, opts...)
	return nil
}

func (m *Main) openStore() (journal, error) {
	if m.StoreType == "leveldb" {
		s, err := leveldb.NewStore(m.StorePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := boltdb.NewStore(m.StorePath)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Main) dialResolver() (erpdk.Resolver, error) {
	opts := []rpc.ClientOption{
		rpc.OptClientTimeout(m.ResolverTimeout),
		rpc.OptClientLogger(m.log),
	}
	if m.TLS.Enabled() {
		tlsConfig, err := rpc.GetTLSConfig(&m.TLS, m.log)
		if err != nil {
			return nil, errors.Wrap(err, "getting TLS config")
		}
		opts = append(opts, rpc.OptClientTLS(tlsConfig))
	}
	c, err := rpc.NewClient(m.ResolverAddr, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Main) run(stop, abort context.Context) error {
	if m.StatusBind != "" {
		srv := status.NewServer(m.set,
			status.OptMetrics(m.stats.Handler()),
			status.OptStats(m.statsSnapshot),
			status.OptLogger(m.log),
		)
		if err := srv.Listen(m.StatusBind); err != nil {
			return errors.Wrap(err, "starting status server")
		}
		srvCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Serve(srvCtx); err != nil {
				m.log.Printf("status server: %v", err)
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	if m.progress != nil {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			m.progress.Run(ctx, 2*time.Second)
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	if m.NewSource == nil {
		m.log.Printf("no source configured, draining only")
		if err := m.drain(abort); err != nil {
			return err
		}
	} else {
		if err := m.ingest(stop); err != nil {
			return err
		}
		if m.DrainAfter {
			if err := m.drain(abort); err != nil {
				return err
			}
		}
	}
	m.log.Printf("run complete: %d batches, %d redo units, %d affected entities",
		m.batches(), atomic.LoadInt64(&m.drained), m.set.Len())
	return errors.Wrap(m.writeOutput(), "writing affected entities")
}

func (m *Main) ingest(stop context.Context) error {
	src, err := m.NewSource()
	if err != nil {
		return errors.Wrap(err, "getting source")
	}
	if c, ok := src.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				m.log.Printf("closing source: %v", err)
			}
		}()
	}
	m.ingester = erpdk.NewIngester(src, m.d, m.log)
	m.ingester.Concurrency = m.Concurrency

	schedCtx, cancelSched := context.WithCancel(stop)
	defer cancelSched()
	schedErr := make(chan error, 1)
	if m.DrainCron != "" {
		sched, err := erpdk.NewDrainScheduler(m.DrainCron, m.d, m.log)
		if err != nil {
			return errors.Wrap(err, "scheduling drains")
		}
		go func() { schedErr <- sched.Run(schedCtx) }()
	} else {
		schedErr <- nil
	}

	err = m.ingester.Run(stop)
	cancelSched()
	if serr := <-schedErr; err == nil && serr != nil {
		err = serr
	}
	return errors.Wrap(err, "ingesting")
}

func (m *Main) drain(abort context.Context) error {
	atomic.StoreInt32(&m.draining, 1)
	n, err := m.d.Drain(abort)
	atomic.AddInt64(&m.drained, int64(n))
	if errors.Is(err, erpdk.ErrStopped) {
		m.log.Printf("redo drain abandoned after %d units", n)
		return nil
	}
	return errors.Wrap(err, "draining redo queue")
}

func (m *Main) batches() uint64 {
	if m.ingester == nil {
		return 0
	}
	return m.ingester.Batches()
}

func (m *Main) statsSnapshot() map[string]interface{} {
	return map[string]interface{}{
		"batches":   m.batches(),
		"redo":      atomic.LoadInt64(&m.drained),
		"resolver":  m.ResolverAddr,
		"journaled": m.store != nil,
	}
}

func (m *Main) writeOutput() error {
	if m.Output == "" {
		return nil
	}
	var w io.Writer = os.Stdout
	if m.Output != "-" {
		f, err := os.Create(m.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return WriteEntities(w, m.set)
}

// WriteEntities writes the ids in set to w, one per line in ascending order.
func WriteEntities(w io.Writer, set *erpdk.EntitySet) error {
	bw := bufio.NewWriter(w)
	for _, id := range set.IDs() {
		if _, err := fmt.Fprintln(bw, id); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (m *Main) close() {
	var errs []string
	if m.indexer != nil {
		if err := m.indexer.Close(); err != nil {
			errs = append(errs, "closing indexer: "+err.Error())
		}
	}
	if c, ok := m.resolver.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, "closing resolver: "+err.Error())
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			errs = append(errs, "closing journal: "+err.Error())
		}
	}
	if len(errs) > 0 && m.log != nil {
		m.log.Printf("shutting down: %s", strings.Join(errs, "; "))
	}
	if m.logFile != nil {
		m.logFile.Close()
	}
}
