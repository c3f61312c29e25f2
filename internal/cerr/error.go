// Package cerr defines the coded error type every failure of the agent core
// is reported with. Callers branch on Code; Msg is for humans.
package cerr

import (
	"context"
	"errors"
	"fmt"
)

type Error struct {
	Code Code
	Msg  string                 // human readable, returned with Code
	Err  error                  // underlying cause, logged only
	Meta map[string]interface{} // structured details for the caller (e.g. an approval record)
}

func New(code Code, msg string, underlying error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  underlying,
	}
}

// Newf builds an error without an underlying cause.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WithMeta attaches a detail and returns the same error.
func (e *Error) WithMeta(key string, value interface{}) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]interface{})
	}
	e.Meta[key] = value
	return e
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code.String(), e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code.String(), e.Msg, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	var cerr *Error
	for err != nil {
		if !errors.As(err, &cerr) {
			return false
		}
		if cerr.Code == code {
			return true
		}
		err = cerr.Err
	}
	return false
}

// CodeOf returns the outermost code in err's chain. Context cancellation
// maps to Canceled, anything else uncoded to Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled
	}
	return Unknown
}

// As returns the outermost *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr, true
	}
	return nil, false
}

// Wrap coerces err into an *Error, keeping an existing code when present.
func Wrap(err error, fallback Code, msg string) *Error {
	if err == nil {
		return nil
	}
	if cerr, ok := As(err); ok {
		return cerr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return New(Canceled, "operation canceled", err)
	}
	return New(fallback, msg, err)
}
