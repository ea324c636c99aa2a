package app

import (
	"errors"
	"fmt"
)

// DomainError is a failure the API reports with a fixed status and code.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another DomainError with the same status and code, so
// errors.Is(err, errForbidden) holds for any forbidden error.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Status == other.Status && e.Code == other.Code
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
