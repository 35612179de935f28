package nnet

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/jnb666/fundus/num"
)

var (
	// ErrConfig is returned for invalid configuration settings.
	ErrConfig = errors.New("configuration error")
	// ErrMissingSplitFiles is returned if the durable train / validation split is required but not found.
	ErrMissingSplitFiles = errors.New("missing split files")
	// ErrBackendUnavailable is recorded when the fast convolution backend falls back to the legacy one.
	ErrBackendUnavailable = num.ErrBackendUnavailable
)

// CallbackError is returned from Trainer.Run when an epoch callback fails.
type CallbackError struct {
	Epoch    int
	Index    int
	Callback string
	Err      error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("epoch %d: callback %d (%s) failed: %s", e.Epoch, e.Index, e.Callback, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// Cause implements the causer interface from github.com/pkg/errors.
func (e *CallbackError) Cause() error { return e.Err }
