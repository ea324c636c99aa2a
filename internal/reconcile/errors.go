package reconcile

import "errors"

const (
	MsgMissingName       = "missing group name"
	MsgIncompleteMembers = "incomplete member list"
	MsgThemeNotSelected  = "theme not selected"
	MsgThemeUnavailable  = "theme unavailable"
)

var (
	ErrNotReady = errors.New("task detail is still loading")
	ErrBusy     = errors.New("a registration is already in progress")
	ErrClosed   = errors.New("watcher closed")
)

// ValidationError reports bad registration input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ConflictError reports a theme that another group already claims.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}
