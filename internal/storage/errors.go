package storage

import (
	"errors"
	"fmt"
)

var (
	ErrMissingLocalFile      = errors.New("local file does not exist")
	ErrMissingCredentials    = errors.New("r2 credentials not found")
	ErrIncompleteCredentials = errors.New("r2 credentials are incomplete")
)

// TransportError wraps a failure reported by the object store or the network.
type TransportError struct {
	Op  string
	Key string
	Err error
}

func (e *TransportError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("r2 %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("r2 %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
