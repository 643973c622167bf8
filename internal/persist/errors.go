package persist

import (
	"errors"
	"fmt"
	"strings"
)

// MaxErrorLen bounds the message carried by a RequestError.
const MaxErrorLen = 512

var (
	ErrQueueFull = errors.New("persistence queue is full")
	ErrHalted    = errors.New("persistence queue halted")
	ErrStopped   = errors.New("persistence queue stopped")
	ErrIntegrity = errors.New("store integrity violation")
)

// RequestError reports a failed store step. The request is not retried.
type RequestError struct {
	Op    Op
	Step  string
	Name  string
	Table string
	Msg   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %q in %s failed at %s: %s", e.Op, e.Name, e.Table, e.Step, e.Msg)
}

func newRequestError(j job, step string, err error) *RequestError {
	msg := err.Error()
	if len(msg) > MaxErrorLen {
		msg = strings.ToValidUTF8(msg[:MaxErrorLen], "")
	}
	return &RequestError{
		Op:    j.op,
		Step:  step,
		Name:  j.name,
		Table: j.table,
		Msg:   msg,
	}
}

// IntegrityError means a keyed statement matched the wrong number of rows.
type IntegrityError struct {
	Step  string
	Name  string
	Table string
	Rows  int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s of %q in %s matched %d rows", e.Step, e.Name, e.Table, e.Rows)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// stepError keeps integrity violations intact so they halt the queue and
// wraps everything else as a RequestError.
func stepError(j job, step string, err error) error {
	var integrity *IntegrityError
	if errors.As(err, &integrity) {
		return integrity
	}
	return newRequestError(j, step, err)
}
