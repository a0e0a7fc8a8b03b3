package journal

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("entry not found")
)

// ValidationError reports rejected input. Fields maps a JSON field name to
// the reason it was rejected.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func invalidField(field, reason string) *ValidationError {
	return &ValidationError{
		Message: field + " is invalid",
		Fields:  map[string]string{field: reason},
	}
}
