package api

// EngineError is the JSON body of every error response.
type EngineError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

func (e EngineError) Error() string {
	return e.Message
}

// Error types
const (
	ErrTypeValidation      = "validation_error"
	ErrTypeInvalidKey      = "invalid_key_format"
	ErrTypeInvalidInterval = "invalid_interval"
	ErrTypeUnknownMode     = "unknown_mode"

	ErrTypeScanRunning = "scan_running"
	ErrTypeNotRunning  = "not_running"
	ErrTypeNotFound    = "not_found"
	ErrTypeForbidden   = "forbidden_origin"

	ErrTypeTimeout            = "timeout"
	ErrTypeInternal           = "internal_error"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// ErrorCategory groups error types for logging.
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryConflict   ErrorCategory = "conflict"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeValidation, ErrTypeInvalidKey, ErrTypeInvalidInterval, ErrTypeUnknownMode, ErrTypeForbidden:
		return CategoryValidation
	case ErrTypeScanRunning, ErrTypeNotRunning, ErrTypeNotFound:
		return CategoryConflict
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

type VersionInfo struct {
	EngineVersion string `json:"engine_version"`
	GitCommit     string `json:"git_commit,omitempty"`
	BuildTime     string `json:"build_time,omitempty"`
	GoVersion     string `json:"go_version"`
	Modified      bool   `json:"modified,omitempty"`
}

// StatusResponse acknowledges a control request.
type StatusResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
}
