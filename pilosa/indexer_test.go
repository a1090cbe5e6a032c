package pilosa

import (
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/test"
	gopilosa "github.com/pilosa/go-pilosa"
)

func TestChanRecordIterator(t *testing.T) {
	c := newChanRecordIterator()
	c <- gopilosa.Column{RowID: 1, ColumnID: 42}
	close(c)
	rec, err := c.NextRecord()
	if err != nil {
		t.Fatalf("NextRecord: %v", err)
	}
	if col := rec.(gopilosa.Column); col.RowID != 1 || col.ColumnID != 42 {
		t.Fatalf("unexpected record %+v", col)
	}
	if _, err := c.NextRecord(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestAddAffectedDuringClose(t *testing.T) {
	idx := &Indexer{
		log:         erpdk.NopLogger{},
		recordChans: make(map[string]chanRecordIterator),
	}
	c := make(chanRecordIterator)
	idx.recordChans[erpdk.FieldAdded] = c
	idx.importWG.Add(1)
	go func() {
		defer idx.importWG.Done()
		for range c {
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				idx.AddAffected(erpdk.FieldAdded, 0, uint64(j))
			}
		}()
	}
	test.ErrNil(t, idx.Close(), "Close")
	wg.Wait()

	// fields are not set up once closed
	idx.AddAffected(erpdk.FieldRedone, 0, 1)
	test.MustBe(t, 0, len(idx.recordChans))
	test.ErrNil(t, idx.Close(), "second Close")
}

// TestSetupPilosa needs a running Pilosa, given by ERPDK_PILOSA_HOSTS.
func TestSetupPilosa(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	hosts := os.Getenv("ERPDK_PILOSA_HOSTS")
	if hosts == "" {
		t.Skip("ERPDK_PILOSA_HOSTS not set")
	}
	idx, err := SetupPilosa(strings.Split(hosts, ","), "erpdk_test_affected", 2, nil)
	if err != nil {
		t.Fatalf("SetupPilosa: %v", err)
	}
	defer func() {
		if err := idx.Client().DeleteIndex(idx.index); err != nil {
			t.Logf("deleting test index: %v", err)
		}
	}()
	idx.AddAffected(erpdk.FieldAdded, 0, 7)
	idx.AddAffected(erpdk.FieldAdded, 1, 7)
	idx.AddAffected(erpdk.FieldRedone, 0, 9)
	idx.AddAffected("extra", 3, 1)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	resp, err := idx.Client().Query(idx.index.Field(erpdk.FieldAdded).Row(uint64(1)))
	if err != nil {
		t.Fatalf("querying: %v", err)
	}
	cols := resp.Result().Row().Columns
	if len(cols) != 1 || cols[0] != 7 {
		t.Fatalf("unexpected columns in batch 1: %v", cols)
	}
}
