package bridge

import (
	"errors"
	"fmt"

	"github.com/mithrel/upbridge/internal/registry"
	"github.com/mithrel/upbridge/pkg/api"
)

// Stage names the step of an operation that failed.
type Stage string

const (
	StageHandle     Stage = "handle"
	StageAttach     Stage = "attach"
	StageListener   Stage = "listener"
	StageEncode     Stage = "topic_encode"
	StageTopic      Stage = "topic"
	StageRegister   Stage = "register"
	StageUnregister Stage = "unregister"
	StageSend       Stage = "send"
	StageConnect    Stage = "connect"
)

// Error reports a failed bridge operation. When the host answered with a
// non-OK status that status is kept and becomes the result.
type Error struct {
	Op     string
	Stage  Stage
	Err    error
	Remote *api.Status
}

func (e *Error) Error() string {
	switch {
	case e.Remote != nil:
		return fmt.Sprintf("bridge: %s failed at %s: %s", e.Op, e.Stage, e.Remote)
	case e.Err != nil:
		return fmt.Sprintf("bridge: %s failed at %s: %v", e.Op, e.Stage, e.Err)
	}
	return fmt.Sprintf("bridge: %s failed at %s", e.Op, e.Stage)
}

func (e *Error) Unwrap() error { return e.Err }

// Status is the status a caller of the transport API sees.
func (e *Error) Status() api.Status {
	if e.Remote != nil {
		return *e.Remote
	}
	if errors.Is(e.Err, registry.ErrHandleCollision) {
		return api.NewStatus(api.CodeAlreadyExists, "%v", e.Err)
	}
	return api.NewStatus(api.CodeInternal, "%s: %s", e.Stage, e.causeText())
}

func (e *Error) causeText() string {
	if e.Err == nil {
		return "failed"
	}
	return e.Err.Error()
}
