package common

import (
	"errors"
	"fmt"
)

// Code is a high-level error category, analogous to the UblkErrorCode enum
// this type is modeled on: a small closed set of reasons a core operation
// can fail for, independent of the englsih message attached to any one
// occurrence.
type Code string

const (
	CodeNotFound     Code = "not found"
	CodeExists       Code = "already exists"
	CodeNotDir       Code = "not a directory"
	CodeIsDir        Code = "is a directory"
	CodeDirNotEmpty  Code = "directory not empty"
	CodeBadFd        Code = "bad file descriptor"
	CodePermission   Code = "permission denied"
	CodeNoSpace      Code = "no space left"
	CodeTooBig       Code = "file too large"
	CodeBadPath      Code = "bad path"
	CodeOutOfTables  Code = "out of table slots"
	CodePipeClosed   Code = "pipe closed"
	CodeInterrupted  Code = "interrupted"
	CodeInvalid      Code = "invalid argument"
)

// Error is the structured error returned by every core operation that can
// fail as a user-visible error (spec.md §7 class 1 and 2). Invariant
// violations (class 3) never produce an *Error; they panic.
type Error struct {
	Op    string // operation that failed, e.g. "open", "balloc"
	Path  string // path involved, if any
	Code  Code
	Inner error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// NewError builds a structured error for op/code, with no path or cause.
func NewError(op string, code Code) *Error {
	return &Error{Op: op, Code: code}
}

// NewPathError builds a structured error naming the offending path.
func NewPathError(op, path string, code Code) *Error {
	return &Error{Op: op, Path: path, Code: code}
}

// WrapError attaches op/code to an underlying cause.
func WrapError(op string, code Code, cause error) *Error {
	return &Error{Op: op, Code: code, Inner: cause}
}

// IsCode reports whether err (or something it wraps) carries code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
