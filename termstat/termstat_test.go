package termstat_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/termstat"
	"github.com/pilosa/erpdk/test"
)

var _ erpdk.Statter = &termstat.Collector{}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCollector(t *testing.T) {
	out := &syncBuffer{}
	c := termstat.NewCollector(out)
	c.Count("records_submitted", 2, 1)
	c.Count("batches", 1, 1)
	c.Count("records_submitted", 3, 1, "op:add")
	c.Timing("resolve_latency", time.Second, 1)
	test.MustBe(t, "batches: 1 records_submitted: 5", c.Line())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	// the changed line is written once by the ticker and again on exit
	test.MustBe(t, 2, strings.Count(out.String(), "\rbatches: 1 records_submitted: 5"))
	if !strings.HasSuffix(out.String(), "\n") {
		t.Fatalf("expected trailing newline, got %q", out.String())
	}
}
