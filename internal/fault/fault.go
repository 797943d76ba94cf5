package fault

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers that dispatch on kind rather
// than message. Errors from the store, engine, manifest, output parser,
// workspace and gateway packages carry one; config loading returns
// plain errors.
type Code string

const (
	NotFound        Code = "not_found"
	InvalidState    Code = "invalid_state"
	ParseError      Code = "parse_error"
	ValidationError Code = "validation_error"
	StoreError      Code = "store_error"
	GatewayError    Code = "gateway_error"
	IOFailure       Code = "io_failure"
)

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// the empty code when err carries none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
