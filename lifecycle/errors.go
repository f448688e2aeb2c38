package lifecycle

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnknownNode        = errors.New("unknown node")
	ErrNodeExists         = errors.New("node already registered")
	ErrQueueTimeout       = errors.New("timed out waiting for node to become ready")
	ErrProvisioningFailed = errors.New("provisioning failed")
	ErrShutdown           = errors.New("manager is shutting down")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// ProvisioningError is the failure every caller waiting on a provisioning attempt receives.
type ProvisioningError struct {
	Node string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning of node '%s' failed: %s", e.Node, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

func (e *ProvisioningError) Is(target error) bool {
	return target == ErrProvisioningFailed
}

type ErrorKind string

const (
	ErrorKindUnknownNode  ErrorKind = "unknown-node"
	ErrorKindConflict     ErrorKind = "conflict"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindProvisioning ErrorKind = "provisioning"
	ErrorKindShutdown     ErrorKind = "shutdown"
	ErrorKindInvalid      ErrorKind = "invalid"
	ErrorKindCanceled     ErrorKind = "canceled"
	ErrorKindInternal     ErrorKind = "internal"
)

// KindOf classifies an error returned by the Manager.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrUnknownNode):
		return ErrorKindUnknownNode
	case errors.Is(err, ErrNodeExists):
		return ErrorKindConflict
	case errors.Is(err, ErrQueueTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrProvisioningFailed):
		return ErrorKindProvisioning
	case errors.Is(err, ErrShutdown):
		return ErrorKindShutdown
	case errors.Is(err, ErrInvalidConfig):
		return ErrorKindInvalid
	case errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	default:
		return ErrorKindInternal
	}
}

// Retryable reports whether calling again may succeed without changing anything on the caller side.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrorKindUnknownNode, ErrorKindConflict, ErrorKindInvalid, ErrorKindShutdown:
		return false
	default:
		return true
	}
}
