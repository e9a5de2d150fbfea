package storage

import (
	"errors"
	"fmt"
)

// ErrStorageFault is matched by every error the queue store returns except
// ErrUnencodable. It means local persistence is unavailable, corrupt, or out
// of space; the operation had no effect.
var ErrStorageFault = errors.New("storage fault")

// ErrUnencodable is returned by Add when the submission itself cannot be
// serialized. The store is healthy and nothing was written.
var ErrUnencodable = errors.New("submission cannot be stored")

// FaultError describes a failed queue store operation.
type FaultError struct {
	Op  string
	Err error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

func (e *FaultError) Is(target error) bool { return target == ErrStorageFault }

func fault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FaultError{Op: op, Err: err}
}
