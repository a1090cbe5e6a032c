package csv_test

import (
	"io"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/csv"
	"github.com/pilosa/erpdk/test"
)

func MustGetTempFile(t *testing.T, content string) *os.File {
	f, err := ioutil.TempFile("", "")
	if err != nil {
		t.Fatalf("getting temp file: %v", err)
	}
	n, err := f.WriteString(content)
	if err != nil || n != len(content) {
		t.Fatalf("writing temp file: %v, n: %v", err, n)
	}
	return f
}

func TestCSVSource(t *testing.T) {
	f := MustGetTempFile(t, `DATA_SOURCE,RECORD_ID,PRIMARY_NAME_FULL,ADDR_FULL
CUSTOMERS,1001,Robert Smith,"123 Main St, Las Vegas NV"
CUSTOMERS,1002,,

WATCHLIST,1003,"Bob ""Bobby"" Smith",
`)
	defer os.Remove(f.Name())
	src := csv.NewSource(csv.WithURLs([]string{f.Name()}))
	exp := []erpdk.Record{
		{"DATA_SOURCE": "CUSTOMERS", "RECORD_ID": "1001", "PRIMARY_NAME_FULL": "Robert Smith", "ADDR_FULL": "123 Main St, Las Vegas NV"},
		{"DATA_SOURCE": "CUSTOMERS", "RECORD_ID": "1002"},
		{"DATA_SOURCE": "WATCHLIST", "RECORD_ID": "1003", "PRIMARY_NAME_FULL": `Bob "Bobby" Smith`},
	}
	for i, e := range exp {
		rec, err := src.Record()
		if err != nil {
			t.Fatalf("getting record %d: %v", i, err)
		}
		test.MustBe(t, e, rec, "record")
	}
	if _, err := src.Record(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestCSVSourceBadHeader(t *testing.T) {
	f := MustGetTempFile(t, "RECORD_ID,RECORD_ID\n1,2\n")
	defer os.Remove(f.Name())
	src := csv.NewSource(csv.WithURLs([]string{f.Name()}))
	_, err := src.Record()
	if err == nil || !strings.Contains(err.Error(), "appeared at both") {
		t.Fatalf("expected duplicate header error, got %v", err)
	}
	if _, err := src.Record(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestCSVSourceMissingFile(t *testing.T) {
	src := csv.NewSource(csv.WithURLs([]string{"/nonexistent/file.csv"}), csv.WithMaxRetries(2))
	_, err := src.Record()
	if err == nil || !strings.Contains(err.Error(), "tried 2 times") {
		t.Fatalf("expected retry error, got %v", err)
	}
}

func TestReadRecords(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		exp    []erpdk.Record
		expErr string
	}{
		{
			name: "two records",
			data: "RECORD_ID,GENDER\n1,M\n2,\n",
			exp:  []erpdk.Record{{"RECORD_ID": "1", "GENDER": "M"}, {"RECORD_ID": "2"}},
		},
		{
			name: "empty",
			data: "",
		},
		{
			name:   "short row",
			data:   "RECORD_ID,GENDER\n1\n",
			expErr: "header/row len mismatch",
		},
		{
			name:   "extra data",
			data:   "RECORD_ID\n1,x\n",
			expErr: "non headered",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recs, err := csv.ReadRecords(strings.NewReader(tc.data))
			if tc.expErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.expErr) {
					t.Fatalf("expected error containing %q, got %v", tc.expErr, err)
				}
				return
			}
			test.ErrNil(t, err, "ReadRecords")
			test.MustBe(t, tc.exp, recs)
		})
	}
}
