package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/agencyledger/internal/auditcontext"
)

type Service interface {
	// Authorize checks that actor may perform action on object.
	Authorize(ctx context.Context, actor auditcontext.Actor, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
