package json_test

import (
	"io"
	"strings"
	"testing"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/json"
	"github.com/pilosa/erpdk/test"
)

func TestSource(t *testing.T) {
	src := json.NewSource(strings.NewReader(`{"DATA_SOURCE":"CUSTOMERS","RECORD_ID":"1001","AMOUNT":100.5}
{"DATA_SOURCE":"CUSTOMERS","RECORD_ID":1002,"GENDER":null,"DATE_OF_BIRTH":""}
`))
	rec, err := src.Record()
	test.ErrNil(t, err, "first record")
	test.MustBe(t, erpdk.Record{"DATA_SOURCE": "CUSTOMERS", "RECORD_ID": "1001", "AMOUNT": "100.5"}, rec)
	rec, err = src.Record()
	test.ErrNil(t, err, "second record")
	test.MustBe(t, erpdk.Record{"DATA_SOURCE": "CUSTOMERS", "RECORD_ID": "1002"}, rec)
	if _, err := src.Record(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}

	_, err = json.ReadRecords(strings.NewReader(`{"RECORD_ID":"1"} {"RECORD_ID":`))
	if err == nil {
		t.Fatal("expected error for truncated json")
	}
}

type named struct {
	io.Reader
	name string
}

func (n named) Close() error { return nil }
func (n named) Name() string { return n.name }

type rawSource []erpdk.NamedReadCloser

func (r *rawSource) NextReader() (erpdk.NamedReadCloser, error) {
	if len(*r) == 0 {
		return nil, io.EOF
	}
	ret := (*r)[0]
	*r = (*r)[1:]
	return ret, nil
}

func TestSourceFromRawSource(t *testing.T) {
	rs := &rawSource{
		named{strings.NewReader(`{"RECORD_ID":"1"}`), "a"},
		named{strings.NewReader(""), "empty"},
		named{strings.NewReader(`{"RECORD_ID":"2"}{"RECORD_ID":"3"}`), "b"},
	}
	src := json.NewSourceFromRawSource(rs)
	var ids []string
	for {
		rec, err := src.Record()
		if err == io.EOF {
			break
		}
		test.ErrNil(t, err, "Record")
		ids = append(ids, rec.RecordID())
	}
	test.MustBe(t, []string{"1", "2", "3"}, ids)
}
