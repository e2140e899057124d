package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSecurityViolation marks structurally unsafe archives. Never retried.
	ErrSecurityViolation = errors.New("security violation")
	// ErrValidation marks malformed input that retrying cannot fix.
	ErrValidation = errors.New("validation error")
	// ErrExternalTool marks failures of external processes (encoder, TTS binary).
	ErrExternalTool = errors.New("external tool error")
	// ErrProvider marks a synthesis provider failure; the chain advances.
	ErrProvider = errors.New("provider failure")
	// ErrConfiguration marks unusable configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks missing jobs or artifacts.
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks a stage exceeding its wall-clock ceiling.
	ErrTimeout = errors.New("timeout")
	// ErrTransient marks failures worth retrying.
	ErrTransient = errors.New("transient failure")
)

// Kind names the classification of a pipeline error for logs and reports.
type Kind string

const (
	KindSecurity      Kind = "security"
	KindValidation    Kind = "validation"
	KindExternalTool  Kind = "external_tool"
	KindProvider      Kind = "provider"
	KindConfiguration Kind = "configuration"
	KindNotFound      Kind = "not_found"
	KindTimeout       Kind = "timeout"
	KindTransient     Kind = "transient"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails carries the classified, human-facing view of a stage error.
type ErrorDetails struct {
	Kind    Kind
	Message string
	Cause   error
}

// Details classifies err against the sentinel taxonomy and extracts a
// human-readable message with the sentinel prefix stripped.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindTransient}
	}

	kind := KindTransient
	var marker error
	for _, candidate := range []struct {
		sentinel error
		kind     Kind
	}{
		{ErrSecurityViolation, KindSecurity},
		{ErrValidation, KindValidation},
		{ErrExternalTool, KindExternalTool},
		{ErrProvider, KindProvider},
		{ErrConfiguration, KindConfiguration},
		{ErrNotFound, KindNotFound},
		{ErrTimeout, KindTimeout},
		{ErrTransient, KindTransient},
	} {
		if errors.Is(err, candidate.sentinel) {
			kind = candidate.kind
			marker = candidate.sentinel
			break
		}
	}

	message := err.Error()
	if marker != nil {
		message = strings.TrimPrefix(message, marker.Error())
		message = strings.TrimPrefix(message, ": ")
	}

	return ErrorDetails{
		Kind:    kind,
		Message: strings.TrimSpace(message),
		Cause:   errors.Unwrap(err),
	}
}

// Fatal reports whether err must never be retried.
func Fatal(err error) bool {
	return errors.Is(err, ErrSecurityViolation) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConfiguration)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
