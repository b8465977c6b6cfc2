package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthorityMissing means the device does not hold restriction authority.
	ErrAuthorityMissing = errors.New("device restriction authority not held")
	// ErrAlreadyActive means the device already has an active policy.
	ErrAlreadyActive = errors.New("commitment policy already active")
	// ErrNotEligible means the commitment period has not elapsed yet.
	ErrNotEligible = errors.New("commitment period has not elapsed")
	// ErrNoActivePolicy means there is no active policy to act on.
	ErrNoActivePolicy = errors.New("no active commitment policy")
	ErrUnknownPlan    = errors.New("unknown commitment plan")
	ErrInvalidAccount = errors.New("invalid account")
)

// LayerError is one restriction layer or teardown step that failed.
type LayerError struct {
	Layer string
	Err   error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("layer %s: %v", e.Layer, e.Err)
}

func (e *LayerError) Unwrap() error {
	return e.Err
}

// LayerErrors is an ordered batch of layer failures.
type LayerErrors []*LayerError

func (l LayerErrors) Error() string {
	switch len(l) {
	case 0:
		return "no layer errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", l[0].Error(), len(l)-1)
}

// OrNil returns nil for an empty batch so it can be used as an error.
func (l LayerErrors) OrNil() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// Layers lists failed layer names in order.
func (l LayerErrors) Layers() []string {
	out := make([]string, len(l))
	for i, e := range l {
		out[i] = e.Layer
	}
	return out
}

// Map renders the batch as layer -> message.
func (l LayerErrors) Map() map[string]string {
	out := make(map[string]string, len(l))
	for _, e := range l {
		out[e.Layer] = e.Err.Error()
	}
	return out
}

// StorageError reports an unavailable PolicyStore or AccountStore.
type StorageError struct {
	Store string
	Op    string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Store, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(store, op string, err error) error {
	return &StorageError{Store: store, Op: op, Err: err}
}

// IsStorageFailure reports whether err came from a store.
func IsStorageFailure(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
