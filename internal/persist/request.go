package persist

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/siohaza/catchd/internal/stats"
)

type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRead
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	default:
		return "unknown"
	}
}

// WriteRequest merges Stats into the record stored under Name.
type WriteRequest struct {
	Name   string
	Table  string
	Schema stats.Schema
	Stats  stats.Record
}

// NewWriteRequest copies schema and record so the caller may keep mutating
// its own values after submission.
func NewWriteRequest(name, table string, schema stats.Schema, rec stats.Record) WriteRequest {
	return WriteRequest{
		Name:   stats.NormalizeName(name),
		Table:  table,
		Schema: schema.Clone(),
		Stats:  rec.Clone(),
	}
}

// ReadRequest loads the record stored under Name.
type ReadRequest struct {
	Name   string
	Table  string
	Schema stats.Schema
}

func NewReadRequest(name, table string, schema stats.Schema) ReadRequest {
	return ReadRequest{
		Name:   stats.NormalizeName(name),
		Table:  table,
		Schema: schema.Clone(),
	}
}

// Result is filled in by a worker. Fields other than Done must only be read
// once Done has returned true.
type Result struct {
	op   Op
	name string

	done   atomic.Bool
	err    error
	record stats.Record
	found  bool
}

func newResult(op Op, name string) *Result {
	return &Result{op: op, name: name}
}

func (r *Result) Op() Op {
	return r.op
}

func (r *Result) Name() string {
	return r.name
}

func (r *Result) Done() bool {
	return r.done.Load()
}

func (r *Result) Err() error {
	return r.err
}

func (r *Result) Record() stats.Record {
	return r.record
}

func (r *Result) Found() bool {
	return r.found
}

// Wait blocks until the result completes or ctx ends. Only for use outside
// the tick loop, such as waiting for table creation at startup.
func (r *Result) Wait(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for !r.Done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return r.err
}

func (r *Result) complete(rec stats.Record, found bool, err error) {
	r.record = rec
	r.found = found
	r.err = err
	r.done.Store(true)
}

type job struct {
	op     Op
	name   string
	table  string
	schema stats.Schema
	stats  stats.Record
	result *Result
}
