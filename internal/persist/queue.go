// Package persist runs stats reads and writes against the shared store on a
// pool of background workers. The tick loop submits requests by value and
// polls the returned Result; it never waits on the store.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/siohaza/catchd/internal/stats"
)

const (
	defaultWorkers    = 4
	defaultQueueSize  = 256
	defaultErrorQueue = 64
)

type Config struct {
	Workers   int
	QueueSize int
	Logger    *slog.Logger
	// Halt is called once when the store reports an integrity violation.
	// Defaults to terminating the process.
	Halt func(error)
}

type Queue struct {
	store  Store
	logger *slog.Logger
	tracer trace.Tracer
	halt   func(error)

	mu      sync.RWMutex
	closed  bool
	workers []chan job
	wg      sync.WaitGroup
	started atomic.Bool
	halted  atomic.Bool
	errs    chan *RequestError
}

func New(store Store, cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := &Queue{
		store:   store,
		logger:  cfg.Logger,
		tracer:  otel.Tracer("github.com/siohaza/catchd/internal/persist"),
		halt:    cfg.Halt,
		workers: make([]chan job, cfg.Workers),
		errs:    make(chan *RequestError, defaultErrorQueue),
	}
	if q.halt == nil {
		q.halt = func(error) { os.Exit(1) }
	}

	perWorker := cfg.QueueSize / cfg.Workers
	if perWorker < 1 {
		perWorker = 1
	}
	for i := range q.workers {
		q.workers[i] = make(chan job, perWorker)
	}
	return q
}

// Start launches the workers. Requests submitted before Start stay queued.
func (q *Queue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i, jobs := range q.workers {
		q.wg.Add(1)
		go q.worker(ctx, i, jobs)
	}
	q.logger.Info("persistence queue started", "workers", len(q.workers), "queue_size", cap(q.workers[0])*len(q.workers))
}

// Stop refuses new requests, lets the workers finish what was accepted and
// waits for them.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, jobs := range q.workers {
		close(jobs)
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("persistence queue stopped")
}

// Errors delivers failed requests. Reports are dropped when nobody reads.
func (q *Queue) Errors() <-chan *RequestError {
	return q.errs
}

func (q *Queue) Halted() bool {
	return q.halted.Load()
}

func (q *Queue) SubmitCreate(table string, schema stats.Schema) (*Result, error) {
	return q.submit(job{op: OpCreate, name: table, table: table, schema: schema.Clone()})
}

func (q *Queue) SubmitWrite(req WriteRequest) (*Result, error) {
	return q.submit(job{
		op:     OpWrite,
		name:   req.Name,
		table:  req.Table,
		schema: req.Schema.Clone(),
		stats:  req.Stats.Clone(),
	})
}

func (q *Queue) SubmitRead(req ReadRequest) (*Result, error) {
	return q.submit(job{
		op:     OpRead,
		name:   req.Name,
		table:  req.Table,
		schema: req.Schema.Clone(),
	})
}

func (q *Queue) submit(j job) (*Result, error) {
	if q.halted.Load() {
		return nil, ErrHalted
	}
	if !stats.ValidIdentifier(j.table) {
		return nil, fmt.Errorf("invalid table name %q", j.table)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrStopped
	}

	j.result = newResult(j.op, j.name)
	jobs := q.workers[q.partition(j.name)]
	select {
	case jobs <- j:
		requestsEnqueued.WithLabelValues(j.op.String()).Inc()
		queueDepth.Inc()
		return j.result, nil
	default:
		requestsShed.Inc()
		return nil, ErrQueueFull
	}
}

// partition keeps every request for one key on the same worker so updates
// to a record are applied in submission order.
func (q *Queue) partition(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(q.workers)))
}

func (q *Queue) worker(ctx context.Context, id int, jobs <-chan job) {
	defer q.wg.Done()
	for j := range jobs {
		queueDepth.Dec()
		if q.halted.Load() {
			j.result.complete(stats.Record{}, false, ErrHalted)
			continue
		}
		q.process(ctx, id, j)
	}
}

func (q *Queue) process(ctx context.Context, worker int, j job) {
	ctx, span := q.tracer.Start(ctx, "persist."+j.op.String(), trace.WithAttributes(
		attribute.String("player.name", j.name),
		attribute.String("stats.table", j.table),
		attribute.Int("persist.worker", worker),
	))
	defer span.End()

	start := time.Now()
	var (
		rec   stats.Record
		found bool
		err   error
	)
	switch j.op {
	case OpCreate:
		err = q.create(ctx, j)
	case OpWrite:
		err = q.write(ctx, j)
	case OpRead:
		rec, found, err = q.read(ctx, j)
	}
	requestDuration.WithLabelValues(j.op.String()).Observe(time.Since(start).Seconds())

	if err == nil {
		requestsProcessed.WithLabelValues(j.op.String()).Inc()
		j.result.complete(rec, found, nil)
		return
	}

	requestsFailed.WithLabelValues(j.op.String()).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var integrity *IntegrityError
	if errors.As(err, &integrity) {
		q.fail(integrity)
		j.result.complete(stats.Record{}, false, err)
		return
	}
	j.result.complete(stats.Record{}, false, err)

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		q.logger.Error("persistence request failed", "op", j.op, "player", j.name, "table", j.table, "step", reqErr.Step, "error", reqErr.Msg)
		select {
		case q.errs <- reqErr:
		default:
			q.logger.Warn("persistence error channel full, dropping report", "player", j.name)
		}
	}
}

func (q *Queue) fail(err *IntegrityError) {
	if !q.halted.CompareAndSwap(false, true) {
		return
	}
	q.logger.Error("store integrity violated, halting", "step", err.Step, "player", err.Name, "table", err.Table, "rows", err.Rows)
	q.halt(err)
}

func (q *Queue) create(ctx context.Context, j job) error {
	if err := q.store.EnsureTable(ctx, j.table, j.schema); err != nil {
		return newRequestError(j, "create", err)
	}
	return nil
}

func (q *Queue) write(ctx context.Context, j job) error {
	tx, err := q.store.Begin(ctx)
	if err != nil {
		return newRequestError(j, "begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	values := j.schema.Values(j.stats)
	old, found, err := tx.Select(ctx, j.table, j.name, j.schema)
	if err != nil {
		return stepError(j, "select", err)
	}

	if !found {
		if err := tx.Insert(ctx, j.table, j.name, j.schema, values); err != nil {
			return newRequestError(j, "insert", err)
		}
	} else {
		merged := j.schema.MergeValues(old, values)
		rows, err := tx.Update(ctx, j.table, j.name, j.schema, merged)
		if err != nil {
			return newRequestError(j, "update", err)
		}
		if rows > 1 || (rows == 0 && j.stats.HasValues()) {
			return &IntegrityError{Step: "update", Name: j.name, Table: j.table, Rows: rows}
		}
	}

	if err := tx.Commit(); err != nil {
		return newRequestError(j, "commit", err)
	}
	committed = true
	return nil
}

func (q *Queue) read(ctx context.Context, j job) (stats.Record, bool, error) {
	tx, err := q.store.Begin(ctx)
	if err != nil {
		return stats.Record{}, false, newRequestError(j, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	values, found, err := tx.Select(ctx, j.table, j.name, j.schema)
	if err != nil {
		return stats.Record{}, false, stepError(j, "select", err)
	}
	if !found {
		return stats.Record{}, false, nil
	}
	return j.schema.Record(values), true, nil
}
