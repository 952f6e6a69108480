package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MJE43/keyscan/internal/runner"
)

const (
	maxWorkers = 4096
	maxPerPage = 500
)

// FieldError reports a request field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateStartRequest checks the fields the runner does not. Key syntax
// and interval order are left to the runner so they surface with their own
// error types.
func ValidateStartRequest(req *runner.StartRequest) error {
	if req.Resume {
		return nil
	}
	if strings.TrimSpace(req.Target) == "" {
		return &FieldError{Field: "target_address", Message: "target_address is required"}
	}
	if req.Start == "" {
		return &FieldError{Field: "start", Message: "start is required"}
	}
	if req.End == "" {
		return &FieldError{Field: "end", Message: "end is required"}
	}
	if req.Workers < 0 || req.Workers > maxWorkers {
		return &FieldError{Field: "workers", Message: fmt.Sprintf("workers must be between 0 and %d", maxWorkers)}
	}
	if req.PrefixLength < 0 {
		return &FieldError{Field: "prefix_length", Message: "prefix_length must not be negative"}
	}
	if req.Attempts < 0 {
		return &FieldError{Field: "attempts", Message: "attempts must not be negative"}
	}
	return nil
}

// parsePositive parses an optional positive query parameter.
func parsePositive(name, raw string, max int) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &FieldError{Field: name, Message: fmt.Sprintf("%s must be a positive integer", name)}
	}
	if max > 0 && n > max {
		return 0, &FieldError{Field: name, Message: fmt.Sprintf("%s must be at most %d", name, max)}
	}
	return n, nil
}
