// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package status defines the error taxonomy shared by every tofcore
// component (spec §7): a small set of sentinel errors plus a Code accessor,
// so callers can use errors.Is/errors.As instead of crossing a library
// boundary with panics or untyped strings.
package status

import (
	"errors"
	"fmt"
)

// Code identifies the category of a tofcore error.
type Code int

// Valid Code values.
const (
	CodeUnknown Code = iota
	CodeLogicError
	CodeInvalidValue
	CodeOutOfBounds
	CodeNotImplemented
	CodeTimeout
	CodeRuntimeError
	CodeDisconnected
	CodeWrongState
	CodeValidButUnchanged
	CodeImagerConfigNotFound
	CodeCouldNotOpen
)

func (c Code) String() string {
	switch c {
	case CodeLogicError:
		return "LogicError"
	case CodeInvalidValue:
		return "InvalidValue"
	case CodeOutOfBounds:
		return "OutOfBounds"
	case CodeNotImplemented:
		return "NotImplemented"
	case CodeTimeout:
		return "Timeout"
	case CodeRuntimeError:
		return "RuntimeError"
	case CodeDisconnected:
		return "Disconnected"
	case CodeWrongState:
		return "WrongState"
	case CodeValidButUnchanged:
		return "ValidButUnchanged"
	case CodeImagerConfigNotFound:
		return "ImagerConfigNotFound"
	case CodeCouldNotOpen:
		return "CouldNotOpen"
	default:
		return "Unknown"
	}
}

// Error is a tofcore error carrying a status Code.
type Error struct {
	Code Code
	Msg  string
	Err  error // wrapped low-level cause, if any.
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target has the same Code, so errors.Is(err,
// status.New(status.CodeTimeout, "")) matches any Timeout error regardless
// of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an *Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap creates an *Error with the given code, message and wrapped cause.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf returns the Code of err if it is (or wraps) a *Error, else
// CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Sentinel errors for errors.Is comparisons that don't need a message.
var (
	ErrLogicError           = New(CodeLogicError, "logic error")
	ErrInvalidValue         = New(CodeInvalidValue, "invalid value")
	ErrOutOfBounds          = New(CodeOutOfBounds, "out of bounds")
	ErrNotImplemented       = New(CodeNotImplemented, "not implemented")
	ErrTimeout              = New(CodeTimeout, "timeout")
	ErrRuntimeError         = New(CodeRuntimeError, "runtime error")
	ErrDisconnected         = New(CodeDisconnected, "disconnected")
	ErrWrongState           = New(CodeWrongState, "wrong state")
	ErrValidButUnchanged    = New(CodeValidButUnchanged, "valid but unchanged")
	ErrImagerConfigNotFound = New(CodeImagerConfigNotFound, "imager config not found")
	ErrCouldNotOpen         = New(CodeCouldNotOpen, "could not open")
)
