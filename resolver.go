package erpdk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Error is the type of the sentinel errors in this package.
type Error string

func (e Error) Error() string { return string(e) }

const (
	// ErrInvalidRecord means a record (or redo unit) was malformed or
	// incomplete. It is never retried.
	ErrInvalidRecord = Error("invalid record")

	// ErrServiceUnavailable means the resolution engine could not be
	// reached.
	ErrServiceUnavailable = Error("resolution service unavailable")

	// ErrStopped is returned when a batch or drain is interrupted by
	// cancellation between two units of work.
	ErrStopped = Error("stopped")
)

// RedoUnit is an opaque unit of deferred re-evaluation work owned by the
// resolution engine. The empty RedoUnit means there is no work left.
type RedoUnit string

// AffectedEntity describes one resolved entity touched by a resolution call.
type AffectedEntity struct {
	EntityID int64 `json:"ENTITY_ID"`
}

// Result is the "with info" payload returned from a resolution call.
type Result struct {
	DataSource       string           `json:"DATA_SOURCE,omitempty"`
	RecordID         string           `json:"RECORD_ID,omitempty"`
	AffectedEntities []AffectedEntity `json:"AFFECTED_ENTITIES"`
}

// EntityIDs returns the ids of all affected entities in the order reported.
func (r *Result) EntityIDs() []int64 {
	if r == nil {
		return nil
	}
	ret := make([]int64, len(r.AffectedEntities))
	for i, ae := range r.AffectedEntities {
		ret[i] = ae.EntityID
	}
	return ret
}

// ParseResult decodes the engine's info document. An empty document is a
// valid Result with no affected entities.
func ParseResult(info []byte) (*Result, error) {
	res := &Result{}
	if len(info) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(info, res); err != nil {
		return nil, errors.Wrap(err, "decoding resolution info")
	}
	return res, nil
}

// Resolver is the client side of a remote entity resolution engine.
// Implementations must be safe for concurrent use.
type Resolver interface {
	// AddRecord loads rec into the engine under dataSource/recordID. If
	// withInfo is set, the returned Result lists the affected entities.
	AddRecord(ctx context.Context, dataSource, recordID string, rec Record, withInfo bool) (*Result, error)

	// GetRedoRecord returns the next pending redo unit, or "" if there is
	// none. It does not block waiting for work.
	GetRedoRecord(ctx context.Context) (RedoUnit, error)

	// ProcessRedoRecord re-evaluates the entities described by unit.
	ProcessRedoRecord(ctx context.Context, unit RedoUnit, withInfo bool) (*Result, error)
}

// ResolveError is returned when a resolution call fails. It identifies the
// record or redo unit which failed and classifies the failure.
type ResolveError struct {
	Kind       Error
	DataSource string
	RecordID   string
	Redo       RedoUnit
	Err        error
}

func (e *ResolveError) Error() string {
	var subject string
	switch {
	case e.Redo != "":
		subject = fmt.Sprintf("redo unit %.80q", string(e.Redo))
	case e.DataSource != "" || e.RecordID != "":
		subject = fmt.Sprintf("record %s/%s", e.DataSource, e.RecordID)
	default:
		subject = "redo queue"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", subject, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", subject, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolveError) Unwrap() error { return e.Err }

// Is matches e against the sentinel for its Kind.
func (e *ResolveError) Is(target error) bool {
	k, ok := target.(Error)
	return ok && k == e.Kind
}

// KindOf classifies err as ErrInvalidRecord or ErrServiceUnavailable. Errors
// which a Resolver did not classify are treated as the service being
// unavailable.
func KindOf(err error) Error {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, ErrInvalidRecord) {
		return ErrInvalidRecord
	}
	return ErrServiceUnavailable
}
