package json

import (
	"encoding/json"
	"io"

	"github.com/pilosa/erpdk"
	"github.com/pkg/errors"
)

// Source is an erpdk.RecordSource for reading a stream of json objects, such
// as JSON lines.
type Source struct {
	dec *json.Decoder
}

// NewSource gets a new json source which will decode from the given reader.
func NewSource(r io.Reader) *Source {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &Source{
		dec: dec,
	}
}

// Record implements erpdk.RecordSource. It returns the next json object
// that can be decoded from the reader, converted to a Record.
func (s *Source) Record() (erpdk.Record, error) {
	var res map[string]interface{}
	err := s.dec.Decode(&res)
	if err == io.EOF {
		return nil, err
	} else if err != nil {
		return nil, errors.Wrap(err, "decoding json")
	}
	return erpdk.NewRecord(res)
}

// ReadRecords decodes every object in r.
func ReadRecords(r io.Reader) ([]erpdk.Record, error) {
	s := NewSource(r)
	var ret []erpdk.Record
	for {
		rec, err := s.Record()
		if err == io.EOF {
			return ret, nil
		} else if err != nil {
			return nil, errors.Wrapf(err, "record %d", len(ret)+1)
		}
		ret = append(ret, rec)
	}
}

type rawSourceSource struct {
	rs erpdk.RawSource

	cur erpdk.NamedReadCloser
	s   *Source
}

// NewSourceFromRawSource reads json objects from each reader of rs in turn.
func NewSourceFromRawSource(rs erpdk.RawSource) erpdk.RecordSource {
	return &rawSourceSource{rs: rs}
}

func (r *rawSourceSource) Record() (rec erpdk.Record, err error) {
	for {
		if r.s == nil {
			reader, err := r.rs.NextReader()
			if err == io.EOF {
				return nil, err
			} else if err != nil {
				return nil, errors.Wrap(err, "getting next reader")
			}
			r.cur, r.s = reader, NewSource(reader)
		}
		rec, err = r.s.Record()
		if err != io.EOF {
			return rec, errors.Wrapf(err, "reading %s", r.cur.Name())
		}
		r.cur.Close()
		r.s = nil
	}
}
