package api

import (
	"fmt"
	"net/http"

	"github.com/gammadia/standby/lifecycle"
)

// Error is the body of every failed admin API call.
type Error struct {
	Message string              `json:"error"`
	Kind    lifecycle.ErrorKind `json:"kind"`

	Status int `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

// Is lets callers match API errors against the lifecycle sentinels.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case lifecycle.ErrorKindUnknownNode:
		return target == lifecycle.ErrUnknownNode
	case lifecycle.ErrorKindConflict:
		return target == lifecycle.ErrNodeExists
	case lifecycle.ErrorKindTimeout:
		return target == lifecycle.ErrQueueTimeout
	case lifecycle.ErrorKindProvisioning:
		return target == lifecycle.ErrProvisioningFailed
	case lifecycle.ErrorKindShutdown:
		return target == lifecycle.ErrShutdown
	case lifecycle.ErrorKindInvalid:
		return target == lifecycle.ErrInvalidConfig
	default:
		return false
	}
}

func statusOf(kind lifecycle.ErrorKind) int {
	switch kind {
	case lifecycle.ErrorKindUnknownNode:
		return http.StatusNotFound
	case lifecycle.ErrorKindConflict:
		return http.StatusConflict
	case lifecycle.ErrorKindInvalid:
		return http.StatusBadRequest
	case lifecycle.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case lifecycle.ErrorKindProvisioning:
		return http.StatusBadGateway
	case lifecycle.ErrorKindShutdown, lifecycle.ErrorKindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
