package persist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/siohaza/catchd/internal/stats"
)

type fakeStore struct {
	mu         sync.Mutex
	rows       map[string][]int64
	tables     map[string]bool
	updateRows int64
	selectErr  error
	selects    int
	commits    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:       make(map[string][]int64),
		tables:     make(map[string]bool),
		updateRows: 1,
	}
}

func (s *fakeStore) EnsureTable(ctx context.Context, table string, schema stats.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = true
	return nil
}

func (s *fakeStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	return &fakeTx{store: s}, nil
}

func (s *fakeStore) get(name string) ([]int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[name]
	return v, ok
}

type fakeTx struct {
	store   *fakeStore
	pending map[string][]int64
	done    bool
}

func (t *fakeTx) Select(ctx context.Context, table, name string, schema stats.Schema) ([]int64, bool, error) {
	t.store.selects++
	if t.store.selectErr != nil {
		return nil, false, t.store.selectErr
	}
	v, ok := t.store.rows[name]
	return append([]int64(nil), v...), ok, nil
}

func (t *fakeTx) Insert(ctx context.Context, table, name string, schema stats.Schema, values []int64) error {
	t.stage(name, values)
	return nil
}

func (t *fakeTx) Update(ctx context.Context, table, name string, schema stats.Schema, values []int64) (int64, error) {
	t.stage(name, values)
	return t.store.updateRows, nil
}

func (t *fakeTx) stage(name string, values []int64) {
	if t.pending == nil {
		t.pending = make(map[string][]int64)
	}
	t.pending[name] = append([]int64(nil), values...)
}

func (t *fakeTx) Commit() error {
	for k, v := range t.pending {
		t.store.rows[k] = v
	}
	t.store.commits++
	t.finish()
	return nil
}

func (t *fakeTx) Rollback() error {
	t.finish()
	return nil
}

func (t *fakeTx) finish() {
	if !t.done {
		t.done = true
		t.store.mu.Unlock()
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitDone(t *testing.T, r *Result) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !r.Done() {
		if time.Now().After(deadline) {
			t.Fatalf("result for %q never completed", r.Name())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWriteInsertsThenMerges(t *testing.T) {
	store := newFakeStore()
	q := New(store, Config{Workers: 2, QueueSize: 8, Logger: testLogger()})
	q.Start(context.Background())
	defer q.Stop()

	schema := stats.BaseSchema
	first, err := q.SubmitWrite(NewWriteRequest("alice", "zcatch", schema, stats.Record{Kills: 2, BestSpree: 4}))
	if err != nil {
		t.Fatalf("SubmitWrite() error = %v", err)
	}
	waitDone(t, first)
	if first.Err() != nil {
		t.Fatalf("first write error = %v", first.Err())
	}

	second, err := q.SubmitWrite(NewWriteRequest("alice", "zcatch", schema, stats.Record{Kills: 1, BestSpree: 2, Wins: 1}))
	if err != nil {
		t.Fatalf("SubmitWrite() error = %v", err)
	}
	waitDone(t, second)

	values, ok := store.get("alice")
	if !ok {
		t.Fatalf("record not stored")
	}
	got := schema.Record(values)
	if got.Kills != 3 || got.BestSpree != 4 || got.Wins != 1 {
		t.Fatalf("stored record = %+v", got)
	}
}

func TestSameKeyWritesKeepOrder(t *testing.T) {
	store := newFakeStore()
	q := New(store, Config{Workers: 4, QueueSize: 400, Logger: testLogger()})

	var results []*Result
	for i := 0; i < 50; i++ {
		r, err := q.SubmitWrite(NewWriteRequest("bob", "zcatch", stats.BaseSchema, stats.Record{Kills: 1}))
		if err != nil {
			t.Fatalf("SubmitWrite(%d) error = %v", i, err)
		}
		results = append(results, r)
	}
	q.Start(context.Background())
	for _, r := range results {
		waitDone(t, r)
	}
	q.Stop()

	values, _ := store.get("bob")
	if got := stats.BaseSchema.Record(values).Kills; got != 50 {
		t.Fatalf("kills = %d, want 50", got)
	}
}

func TestMultiRowUpdateHaltsQueue(t *testing.T) {
	store := newFakeStore()
	store.rows["x"] = stats.BaseSchema.Values(stats.Record{Kills: 1})
	store.updateRows = 2

	halted := make(chan error, 1)
	q := New(store, Config{Workers: 1, QueueSize: 4, Logger: testLogger(), Halt: func(err error) { halted <- err }})
	q.Start(context.Background())
	defer q.Stop()

	r, err := q.SubmitWrite(NewWriteRequest("x", "zcatch", stats.BaseSchema, stats.Record{Kills: 1}))
	if err != nil {
		t.Fatalf("SubmitWrite() error = %v", err)
	}
	waitDone(t, r)

	if !errors.Is(r.Err(), ErrIntegrity) {
		t.Fatalf("result error = %v, want integrity violation", r.Err())
	}
	select {
	case err := <-halted:
		if !errors.Is(err, ErrIntegrity) {
			t.Fatalf("halt error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("halt was not called")
	}
	if store.commits != 0 {
		t.Fatalf("commits = %d, want 0", store.commits)
	}
	if values, _ := store.get("x"); values[0] != 1 {
		t.Fatalf("record changed after integrity failure: %v", values)
	}
	if _, err := q.SubmitWrite(NewWriteRequest("y", "zcatch", stats.BaseSchema, stats.Record{Kills: 1})); !errors.Is(err, ErrHalted) {
		t.Fatalf("submit after halt error = %v, want ErrHalted", err)
	}
}

func TestZeroRowUpdateWithValuesHalts(t *testing.T) {
	store := newFakeStore()
	store.rows["x"] = stats.BaseSchema.Values(stats.Record{})
	store.updateRows = 0

	halted := make(chan error, 1)
	q := New(store, Config{Workers: 1, Logger: testLogger(), Halt: func(err error) { halted <- err }})
	q.Start(context.Background())
	defer q.Stop()

	r, _ := q.SubmitWrite(NewWriteRequest("x", "zcatch", stats.BaseSchema, stats.Record{Deaths: 1}))
	waitDone(t, r)
	if !q.Halted() {
		t.Fatalf("queue not halted")
	}
}

func TestDuplicateRowsOnReadHaltsQueue(t *testing.T) {
	store := newFakeStore()
	store.selectErr = &IntegrityError{Step: "select", Name: "x", Table: "zcatch", Rows: 2}

	halted := make(chan error, 1)
	q := New(store, Config{Workers: 1, QueueSize: 4, Logger: testLogger(), Halt: func(err error) { halted <- err }})
	q.Start(context.Background())
	defer q.Stop()

	r, err := q.SubmitRead(NewReadRequest("x", "zcatch", stats.BaseSchema))
	if err != nil {
		t.Fatalf("SubmitRead() error = %v", err)
	}
	waitDone(t, r)

	if !errors.Is(r.Err(), ErrIntegrity) || r.Found() {
		t.Fatalf("result found=%v err=%v, want integrity violation", r.Found(), r.Err())
	}
	select {
	case err := <-halted:
		if !errors.Is(err, ErrIntegrity) {
			t.Fatalf("halt error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("halt was not called")
	}
	if !q.Halted() {
		t.Fatalf("queue not halted")
	}
}

func TestSelectFailureIsReportedOnce(t *testing.T) {
	store := newFakeStore()
	store.selectErr = errors.New(strings.Repeat("e", MaxErrorLen*2))

	q := New(store, Config{Workers: 1, Logger: testLogger()})
	q.Start(context.Background())
	defer q.Stop()

	r, err := q.SubmitWrite(NewWriteRequest("carol", "zcatch", stats.BaseSchema, stats.Record{Kills: 1}))
	if err != nil {
		t.Fatalf("SubmitWrite() error = %v", err)
	}
	waitDone(t, r)
	if r.Err() == nil {
		t.Fatalf("expected request error")
	}

	select {
	case reqErr := <-q.Errors():
		if reqErr.Step != "select" || reqErr.Name != "carol" {
			t.Fatalf("unexpected report: %+v", reqErr)
		}
		if len(reqErr.Msg) > MaxErrorLen {
			t.Fatalf("message length = %d, want <= %d", len(reqErr.Msg), MaxErrorLen)
		}
	case <-time.After(time.Second):
		t.Fatalf("no error reported")
	}
	if q.Halted() {
		t.Fatalf("transient failure halted the queue")
	}
	if store.selects != 1 {
		t.Fatalf("selects = %d, request was retried", store.selects)
	}
}

func TestSubmitDoesNotBlockWhenFull(t *testing.T) {
	q := New(newFakeStore(), Config{Workers: 1, QueueSize: 1, Logger: testLogger()})

	if _, err := q.SubmitWrite(NewWriteRequest("a", "zcatch", stats.BaseSchema, stats.Record{Kills: 1})); err != nil {
		t.Fatalf("first submit error = %v", err)
	}
	if _, err := q.SubmitWrite(NewWriteRequest("a", "zcatch", stats.BaseSchema, stats.Record{Kills: 1})); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second submit error = %v, want ErrQueueFull", err)
	}
}

func TestReadAndCreate(t *testing.T) {
	store := newFakeStore()
	store.rows["dave"] = stats.BaseSchema.Values(stats.Record{Wins: 7})

	q := New(store, Config{Workers: 2, Logger: testLogger()})
	q.Start(context.Background())
	defer q.Stop()

	created, err := q.SubmitCreate("zcatch", stats.BaseSchema)
	if err != nil {
		t.Fatalf("SubmitCreate() error = %v", err)
	}
	found, _ := q.SubmitRead(NewReadRequest("dave", "zcatch", stats.BaseSchema))
	missing, _ := q.SubmitRead(NewReadRequest("erin", "zcatch", stats.BaseSchema))
	waitDone(t, created)
	waitDone(t, found)
	waitDone(t, missing)

	if !store.tables["zcatch"] {
		t.Fatalf("table not created")
	}
	if !found.Found() || found.Record().Wins != 7 {
		t.Fatalf("read = %+v found=%v", found.Record(), found.Found())
	}
	if missing.Found() || missing.Err() != nil {
		t.Fatalf("missing record: found=%v err=%v", missing.Found(), missing.Err())
	}
}

func TestSubmitAfterStop(t *testing.T) {
	q := New(newFakeStore(), Config{Logger: testLogger()})
	q.Start(context.Background())
	q.Stop()
	q.Stop()

	if _, err := q.SubmitWrite(NewWriteRequest("a", "zcatch", stats.BaseSchema, stats.Record{Kills: 1})); !errors.Is(err, ErrStopped) {
		t.Fatalf("submit after stop error = %v, want ErrStopped", err)
	}
	if _, err := q.SubmitRead(NewReadRequest("a", "bad table", stats.BaseSchema)); err == nil {
		t.Fatalf("expected invalid table error")
	}
}

func TestWriteRequestCopiesInput(t *testing.T) {
	rec := stats.Record{Kills: 1}
	req := NewWriteRequest("  frank ", "zcatch", stats.BaseSchema, rec)
	rec.Kills = 99
	if req.Stats.Kills != 1 {
		t.Fatalf("request shares record with caller")
	}
	if req.Name != "frank" {
		t.Fatalf("name = %q, want normalized", req.Name)
	}
}
