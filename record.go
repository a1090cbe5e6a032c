package erpdk

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Names of the fields which identify a record.
const (
	FieldDataSource = "DATA_SOURCE"
	FieldRecordID   = "RECORD_ID"
)

// Record is a single input record, a mapping of field name to value. Fields
// which are not populated are omitted rather than stored as empty strings.
// Records are treated as immutable once handed to a Dispatcher.
type Record map[string]string

// DataSource returns the DATA_SOURCE of the record, or "" if it has none.
func (r Record) DataSource() string { return r[FieldDataSource] }

// RecordID returns the RECORD_ID of the record, or "" if it has none.
func (r Record) RecordID() string { return r[FieldRecordID] }

// Set sets field to val. An empty val removes the field.
func (r Record) Set(field, val string) {
	if val == "" {
		delete(r, field)
		return
	}
	r[field] = val
}

// Copy returns a shallow copy of r.
func (r Record) Copy() Record {
	ret := make(Record, len(r))
	for k, v := range r {
		ret[k] = v
	}
	return ret
}

// Fields returns the populated field names of r in sorted order.
func (r Record) Fields() []string {
	ret := make([]string, 0, len(r))
	for k := range r {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

// String implements fmt.Stringer.
func (r Record) String() string {
	return fmt.Sprintf("%s/%s", r.DataSource(), r.RecordID())
}

// NewRecord converts a decoded document (e.g. from JSON or Avro) into a
// Record. Scalar values are converted to their string form and nil or empty
// values are dropped. Nested values are not supported.
func NewRecord(doc map[string]interface{}) (Record, error) {
	rec := make(Record, len(doc))
	for k, v := range doc {
		s, err := stringify(v)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", k)
		}
		rec.Set(k, s)
	}
	return rec, nil
}

func stringify(val interface{}) (string, error) {
	switch vt := val.(type) {
	case nil:
		return "", nil
	case string:
		return vt, nil
	case []byte:
		return string(vt), nil
	case json.Number:
		return vt.String(), nil
	case bool:
		return strconv.FormatBool(vt), nil
	case float32:
		return strconv.FormatFloat(float64(vt), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(vt, 'f', -1, 64), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", vt), nil
	default:
		return "", errors.Errorf("unsupported value %v of %[1]T", vt)
	}
}

// Validate checks that r can be submitted to a Resolver and returns the data
// source and record id to submit it under. defaultDataSource is used if r has
// no DATA_SOURCE of its own.
func (r Record) Validate(defaultDataSource string) (dataSource, recordID string, err error) {
	dataSource, recordID = r.DataSource(), r.RecordID()
	if dataSource == "" {
		dataSource = defaultDataSource
	}
	if dataSource == "" {
		return "", recordID, errors.Wrapf(ErrInvalidRecord, "record %q has no %s", recordID, FieldDataSource)
	}
	if recordID == "" {
		return dataSource, "", errors.Wrapf(ErrInvalidRecord, "record in %s has no %s", dataSource, FieldRecordID)
	}
	return dataSource, recordID, nil
}

// Schema is an ordered list of the field names a source declares.
type Schema []string

// TruthsetSchema is the set of fields carried by the sample customer records.
var TruthsetSchema = Schema{
	"DATA_SOURCE",
	"RECORD_ID",
	"RECORD_TYPE",
	"PRIMARY_NAME_ORG",
	"SECONDARY_NAME_ORG",
	"PRIMARY_NAME_FULL",
	"NATIVE_NAME_FULL",
	"PRIMARY_NAME_LAST",
	"PRIMARY_NAME_FIRST",
	"PRIMARY_NAME_MIDDLE",
	"GENDER",
	"DATE_OF_BIRTH",
	"PASSPORT_NUMBER",
	"PASSPORT_COUNTRY",
	"DRIVERS_LICENSE_NUMBER",
	"DRIVERS_LICENSE_STATE",
	"SSN_NUMBER",
	"NATIONAL_ID_NUMBER",
	"NATIONAL_ID_COUNTRY",
	"ADDR_TYPE",
	"ADDR_FULL",
	"ADDR_LINE1",
	"ADDR_CITY",
	"ADDR_STATE",
	"ADDR_POSTAL_CODE",
	"ADDR_COUNTRY",
	"PHONE_TYPE",
	"PHONE_NUMBER",
	"EMAIL_ADDRESS",
	"DATE",
	"STATUS",
	"AMOUNT",
}

// Has reports whether field is declared in s.
func (s Schema) Has(field string) bool {
	for _, f := range s {
		if f == field {
			return true
		}
	}
	return false
}

// Project returns a copy of r containing only the fields declared in s.
func (s Schema) Project(r Record) Record {
	ret := make(Record, len(r))
	for _, f := range s {
		if v, ok := r[f]; ok && v != "" {
			ret[f] = v
		}
	}
	return ret
}
