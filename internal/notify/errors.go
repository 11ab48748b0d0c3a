package notify

import (
	"errors"
	"fmt"
)

// ErrDispatch matches every DispatchError.
var ErrDispatch = errors.New("notify: dispatch failed")

// DispatchError reports a transport-level send failure. The failed attempt
// has already been written to the ledger when this error is returned.
type DispatchError struct {
	Provider string
	To       string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("notify: %s send to %s failed: %v", e.Provider, e.To, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }
