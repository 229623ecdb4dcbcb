package analyses

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

const (
	ErrorCodeLLMTimeout     = "LLM_TIMEOUT"
	ErrorCodeLLMRateLimit   = "LLM_RATE_LIMIT"
	ErrorCodeLLMUnavailable = "LLM_UNAVAILABLE"
	ErrorCodeExtraction     = "EXTRACTION_FAILED"
	ErrorCodeStreamEmpty    = "STREAM_EMPTY"
	ErrorCodeStorage        = "STORAGE_ERROR"
	ErrorCodeInternal       = "INTERNAL_ERROR"
)
