package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents pipeline error codes
type ErrorCode string

const (
	ErrCodeConfig           ErrorCode = "CONFIG"
	ErrCodeOpen             ErrorCode = "OPEN"
	ErrCodeBuild            ErrorCode = "BUILD"
	ErrCodeCodecUnavailable ErrorCode = "CODEC_UNAVAILABLE"
	ErrCodeIO               ErrorCode = "IO"
	ErrCodeStopped          ErrorCode = "STOPPED"
)

// PipelineError is an error attributed to one pipeline stage
type PipelineError struct {
	Code    ErrorCode
	Stage   string
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements error interface
func (e *PipelineError) Error() string {
	prefix := string(e.Code)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Code, e.Stage)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new pipeline error
func New(code ErrorCode, stage, message string) *PipelineError {
	return &PipelineError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a pipeline error
func Wrap(err error, code ErrorCode, stage, message string) *PipelineError {
	return &PipelineError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

func NewConfigError(message string) *PipelineError {
	return New(ErrCodeConfig, "config", message)
}

func NewBuildError(stage string, err error) *PipelineError {
	return Wrap(err, ErrCodeBuild, stage, "cannot build transform chain")
}

func NewCodecUnavailableError(codec string, err error) *PipelineError {
	return Wrap(err, ErrCodeCodecUnavailable, "encoder", fmt.Sprintf("codec %q unavailable", codec))
}

func NewOpenError(stage string, err error) *PipelineError {
	return Wrap(err, ErrCodeOpen, stage, "open failed")
}

// GetPipelineError extracts a PipelineError from the error chain
func GetPipelineError(err error) *PipelineError {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe
	}
	return nil
}

// CodeOf returns the code of the first PipelineError in the chain, or ""
func CodeOf(err error) ErrorCode {
	if pe := GetPipelineError(err); pe != nil {
		return pe.Code
	}
	return ""
}

// IsFatal reports errors that abort startup: configuration, transform
// build and codec lookup failures. Everything else is recovered by a
// reconnect loop.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case ErrCodeConfig, ErrCodeBuild, ErrCodeCodecUnavailable:
		return true
	default:
		return false
	}
}
