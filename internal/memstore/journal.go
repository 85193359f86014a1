package memstore

import (
	"errors"
	"fmt"
)

// journal is the compensation log of one WithTx call.
type journal struct {
	undo []func() error
}

// add on a nil journal is a no-op (writes outside a tx).
func (j *journal) add(fn func() error) {
	if j == nil {
		return
	}
	j.undo = append(j.undo, fn)
}

// rollback runs every compensation, newest first, even if some fail.
func (j *journal) rollback(cause error) error {
	var errs []error
	for i := len(j.undo) - 1; i >= 0; i-- {
		if err := j.undo[i](); err != nil {
			errs = append(errs, err)
		}
	}
	j.undo = nil
	if len(errs) == 0 {
		return cause
	}
	return errors.Join(cause, fmt.Errorf("rollback incomplete: %w", errors.Join(errs...)))
}
