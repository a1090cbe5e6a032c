// Package format picks a record decoder for a named input by its extension.
package format

import (
	"io"
	"path"
	"strings"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/csv"
	"github.com/pilosa/erpdk/json"
	"github.com/pkg/errors"
)

// Format is an input encoding.
type Format string

const (
	CSV       Format = "csv"
	JSONLines Format = "jsonl"
)

// Of returns the format of the input called name. A ".csv" extension means
// CSV, and everything else is taken to be JSON lines.
func Of(name string) Format {
	if strings.EqualFold(path.Ext(name), ".csv") {
		return CSV
	}
	return JSONLines
}

// Read decodes every record in r, which holds the input called name.
func Read(name string, r io.Reader) ([]erpdk.Record, error) {
	var (
		recs []erpdk.Record
		err  error
	)
	switch Of(name) {
	case CSV:
		recs, err = csv.ReadRecords(r)
	default:
		recs, err = json.ReadRecords(r)
	}
	return recs, errors.Wrapf(err, "decoding %s", name)
}
