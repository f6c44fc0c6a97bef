package app

import (
	"errors"
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errUnauthorized() *DomainError {
	return &DomainError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Unauthorized"}
}

// errForbidden is the single outcome for a ledger miss, a wrong token and an
// already-withdrawn id, so callers cannot probe which ids exist.
func errForbidden() *DomainError {
	return &DomainError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "Forbidden"}
}

func errNotConfigured(message string) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Code: "NOT_CONFIGURED", Message: message}
}

func errInvalidParams(message string) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Code: "INVALID_PARAMS", Message: message}
}

func errServer(message string) *DomainError {
	return &DomainError{Status: http.StatusInternalServerError, Code: "SERVER_ERROR", Message: message}
}

func mapError(err error) (status int, code, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}
