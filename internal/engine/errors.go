package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic checks. User-visible failures are
// UserError values so the transport layer can surface them verbatim.
var (
	ErrNotFound     = errors.New("engine: ticket not found")
	ErrStaleBinding = errors.New("engine: stale message binding")
	ErrDispatch     = errors.New("engine: dispatch failed")
)

// UserError is a failure whose text is meant for the actor who
// triggered the action (shown as a callback toast or a reply).
type UserError struct {
	Notice string
	Err    error // optional underlying sentinel
}

func (e *UserError) Error() string { return e.Notice }

func (e *UserError) Unwrap() error { return e.Err }

// notice builds a user-facing failure.
func notice(format string, args ...any) error {
	return &UserError{Notice: fmt.Sprintf(format, args...)}
}

// noticeFor builds a user-facing failure wrapping a sentinel.
func noticeFor(err error, format string, args ...any) error {
	return &UserError{Notice: fmt.Sprintf(format, args...), Err: err}
}

// Notice extracts the user-facing text from an error, or a generic
// fallback when the failure is internal.
func Notice(err error) string {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Notice
	}
	return "Ошибка обработки. Попробуйте ещё раз."
}
