package app

import (
	"fmt"
	"net/http"
)

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

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errArchiveUnavailable = domainError(http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "Export archive storage is not configured", nil)
	errInvalidBody        = domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
)
