// Package handler defines the contract every card-family plugin implements:
// detect whether a card matches, advertise invocable commands, run one, and
// interrogate the card end-to-end for a human-readable summary.
//
// Generalized from the teacher's ServerHandler/HandlerServer pair in
// server/handler_registry.go: there, a plugin calls Register(server) once
// to wire routes and a lifecycle hook; here, a plugin is asked Detect/
// Commands/Execute/Interrogate on demand per card, since card
// handlers react to data already on the card rather than to inbound
// messages.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomkp/card-spy-core/model"
	"github.com/tomkp/card-spy-core/transport"
)

// Sender is what a handler needs from the transport layer: the ability to
// exchange one APDU and get its fully chained response. Handlers never see
// a raw reader driver.
type Sender interface {
	Exchange(ctx context.Context, apdu []byte) (model.Command, model.Response, error)
}

// DesfireSender is the optional capability a handler can type-assert for
// when it needs DESFire native command chaining (transport.Session
// implements both Sender and DesfireSender).
type DesfireSender interface {
	ExchangeDesfire(ctx context.Context, cmd byte, data []byte) (transport.DESFireResponse, error)
}

// CommandContext carries everything a handler needs to act on one card: the
// transport session, the AID it was detected under, and the result of its
// own prior Interrogate call, if any. Handlers hold no state of their own
// so one handler value is safe to share across concurrent sessions.
type CommandContext struct {
	Context  context.Context
	Sender   Sender
	AID      string
	ATR      string
	Previous *InterrogationResult
}

// DetectionResult is a handler's verdict on whether it understands a card,
// along with a UI-facing confidence score. Confidence never gates whether
// the handler can execute commands: a low score is advisory only.
type DetectionResult struct {
	Matched     bool
	Confidence  int
	CardType    string
	Description string
	Metadata    map[string]any
}

// InterrogationResult is the outcome of a handler reading everything it
// knows how to read from a card, for display and for reuse by later
// command invocations via CommandContext.Previous.
type InterrogationResult struct {
	Summary  string
	Fields   map[string]string
	Apps     []model.DiscoveredApp
	Tlv      []model.TlvNode
	Metadata map[string]any
}

// Handler is the plugin contract every card-family implementation
// satisfies. ID must be stable and unique across the registry.
type Handler interface {
	ID() string
	Name() string

	// Detect inspects the card (via ATR and/or a SELECT probe issued
	// through ctx.Sender) and reports whether this handler applies.
	Detect(ctx CommandContext) (DetectionResult, error)

	// Commands lists the operations this handler can invoke on a
	// matched card.
	Commands() []model.CommandDescriptor

	// Execute runs one previously advertised command by ID with the
	// given parameters, returning raw result fields for display.
	Execute(ctx CommandContext, commandID string, params map[string]any) (map[string]any, error)

	// Interrogate performs the handler's full read-everything pass.
	Interrogate(ctx CommandContext) (InterrogationResult, error)
}

// HandlerErrorCode enumerates the closed set of handler-layer failure
// kinds.
type HandlerErrorCode int

const (
	ErrUnknownCommand HandlerErrorCode = iota + 1
	ErrMissingParameter
	ErrInvalidParameter
	ErrCardRejected
)

// HandlerError is the handler-layer error taxonomy, grounded on
// nfc/errors.go's NFCError shape.
type HandlerError struct {
	Code      HandlerErrorCode
	HandlerID string
	Op        string
	Message   string
	Cause     error
}

func (e *HandlerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.HandlerID, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.HandlerID, e.Op, e.Message)
}

func (e *HandlerError) Unwrap() error { return e.Cause }

func (e *HandlerError) Is(target error) bool {
	var t *HandlerError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// RequireParam fetches a required parameter of any type, returning a
// HandlerError of code ErrMissingParameter if absent.
func RequireParam(handlerID, op string, params map[string]any, name string) (any, error) {
	v, ok := params[name]
	if !ok {
		return nil, &HandlerError{Code: ErrMissingParameter, HandlerID: handlerID, Op: op, Message: fmt.Sprintf("missing required parameter %q", name)}
	}
	return v, nil
}

// ParamHexBytes fetches a required hex-string parameter and decodes it.
func ParamHexBytes(handlerID, op string, params map[string]any, name string, decode func(string) ([]byte, error)) ([]byte, error) {
	v, err := RequireParam(handlerID, op, params, name)
	if err != nil {
		return nil, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, &HandlerError{Code: ErrInvalidParameter, HandlerID: handlerID, Op: op, Message: fmt.Sprintf("parameter %q must be a string", name)}
	}
	b, err := decode(s)
	if err != nil {
		return nil, &HandlerError{Code: ErrInvalidParameter, HandlerID: handlerID, Op: op, Message: fmt.Sprintf("parameter %q is not valid hex", name), Cause: err}
	}
	return b, nil
}
