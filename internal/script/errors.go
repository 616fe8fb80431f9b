package script

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a script error.
type Code string

const (
	CodeSyntax           Code = "syntax"
	CodeUnknownCommand   Code = "unknown-command"
	CodeUnknownReference Code = "unknown-reference"
	CodeArgumentCount    Code = "argument-count"
	CodeType             Code = "type"
	CodeUnexpectedEnd    Code = "unexpected-end"
	CodeIO               Code = "io"
	CodeEngine           Code = "engine"
)

// Error is a compile-time script error. Context holds the annotations added
// while the error travelled outwards, outermost first.
type Error struct {
	Code    Code
	Line    int
	Context []string
	Message string
	Err     error
}

// Error renders "line N: outer: inner: message: cause".
func (e *Error) Error() string {
	var b strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	for _, c := range e.Context {
		b.WriteString(c)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Annotate prepends ctx to the context chain of err. Errors that are not
// script errors become engine errors carrying ctx.
func Annotate(err error, ctx string) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		cp := *se
		cp.Context = append([]string{ctx}, se.Context...)
		return &cp
	}
	return &Error{Code: CodeEngine, Context: []string{ctx}, Message: err.Error()}
}

// atLine records the script line an error came from, keeping the innermost one.
func atLine(err error, line int) error {
	var se *Error
	if errors.As(err, &se) && se.Line == 0 {
		cp := *se
		cp.Line = line
		return &cp
	}
	return err
}

// IsCode reports whether err is a script error with the given code.
func IsCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
