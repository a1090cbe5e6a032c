package mock

import (
	"context"
	"sync"

	"github.com/pilosa/erpdk"
)

// Call is one call made to a Resolver.
type Call struct {
	Op         string // "add", "get-redo", or "process-redo"
	DataSource string
	RecordID   string
	Redo       erpdk.RedoUnit
	WithInfo   bool
}

// Resolver is a scriptable erpdk.Resolver which records every call made to
// it. The zero value resolves every record to no entities and has no redo
// work. It is threadsafe.
type Resolver struct {
	// AddFunc, if set, produces the result of AddRecord.
	AddFunc func(dataSource, recordID string, rec erpdk.Record) (*erpdk.Result, error)

	// RedoFunc, if set, produces the result of ProcessRedoRecord.
	RedoFunc func(unit erpdk.RedoUnit) (*erpdk.Result, error)

	// GetRedoErr, if set, is returned from every GetRedoRecord call.
	GetRedoErr error

	mu    sync.Mutex
	calls []Call
	redo  []erpdk.RedoUnit
}

// QueueRedo adds units to the pending redo queue.
func (r *Resolver) QueueRedo(units ...erpdk.RedoUnit) {
	r.mu.Lock()
	r.redo = append(r.redo, units...)
	r.mu.Unlock()
}

// Pending returns the number of queued redo units.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.redo)
}

// Calls returns a copy of the calls made so far.
func (r *Resolver) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the calls made to op.
func (r *Resolver) CallsTo(op string) []Call {
	var ret []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			ret = append(ret, c)
		}
	}
	return ret
}

func (r *Resolver) record(c Call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

// AddRecord implements erpdk.Resolver.
func (r *Resolver) AddRecord(ctx context.Context, dataSource, recordID string, rec erpdk.Record, withInfo bool) (*erpdk.Result, error) {
	r.record(Call{Op: "add", DataSource: dataSource, RecordID: recordID, WithInfo: withInfo})
	if r.AddFunc == nil {
		return &erpdk.Result{DataSource: dataSource, RecordID: recordID}, nil
	}
	return r.AddFunc(dataSource, recordID, rec)
}

// GetRedoRecord implements erpdk.Resolver. It pops the oldest queued unit.
func (r *Resolver) GetRedoRecord(ctx context.Context) (erpdk.RedoUnit, error) {
	r.record(Call{Op: "get-redo"})
	if r.GetRedoErr != nil {
		return "", r.GetRedoErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.redo) == 0 {
		return "", nil
	}
	unit := r.redo[0]
	r.redo = r.redo[1:]
	return unit, nil
}

// ProcessRedoRecord implements erpdk.Resolver.
func (r *Resolver) ProcessRedoRecord(ctx context.Context, unit erpdk.RedoUnit, withInfo bool) (*erpdk.Result, error) {
	r.record(Call{Op: "process-redo", Redo: unit, WithInfo: withInfo})
	if r.RedoFunc == nil {
		return &erpdk.Result{}, nil
	}
	return r.RedoFunc(unit)
}

// Entities returns a Result listing ids as affected entities.
func Entities(ids ...int64) *erpdk.Result {
	res := &erpdk.Result{AffectedEntities: make([]erpdk.AffectedEntity, len(ids))}
	for i, id := range ids {
		res.AffectedEntities[i].EntityID = id
	}
	return res
}
