package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is the only document error the pipeline returns.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// UnsupportedFormatError carries the rejected MIME type.
type UnsupportedFormatError struct {
	MIMEType string
	Reason   string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %q", ErrUnsupportedFormat, e.MIMEType)
	}
	return fmt.Sprintf("%s: %q: %s", ErrUnsupportedFormat, e.MIMEType, e.Reason)
}

func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}

// PDFFailureKind classifies why a PDF extraction attempt failed.
type PDFFailureKind string

const (
	PDFFailureXrefCorrupted     PDFFailureKind = "xref_corrupted"
	PDFFailurePasswordProtected PDFFailureKind = "password_protected"
	PDFFailureUnsupported       PDFFailureKind = "unsupported_feature"
	PDFFailureParse             PDFFailureKind = "parse_error"
	PDFFailureInit              PDFFailureKind = "init_error"
	PDFFailureTimeout           PDFFailureKind = "timeout"
	PDFFailureInsufficientText  PDFFailureKind = "insufficient_text"
	PDFFailureAbandoned         PDFFailureKind = "abandoned"
)

// PDFAttemptError describes one failed extraction attempt.
type PDFAttemptError struct {
	Config string
	Kind   PDFFailureKind
	Err    error
}

func (e *PDFAttemptError) Error() string {
	return fmt.Sprintf("pdf attempt %q: %s: %v", e.Config, e.Kind, e.Err)
}

func (e *PDFAttemptError) Unwrap() error {
	return e.Err
}

// classifyPDFError maps a parser error onto the failure taxonomy.
func classifyPDFError(err error) PDFFailureKind {
	if errors.Is(err, ErrAttemptAbandoned) {
		return PDFFailureAbandoned
	}
	var attemptErr *PDFAttemptError
	if errors.As(err, &attemptErr) {
		return attemptErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return PDFFailureTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password"):
		return PDFFailurePasswordProtected
	case strings.Contains(msg, "encrypt"), strings.Contains(msg, "unsupported"):
		return PDFFailureUnsupported
	case strings.Contains(msg, "xref"), strings.Contains(msg, "startxref"), strings.Contains(msg, "trailer"):
		return PDFFailureXrefCorrupted
	default:
		return PDFFailureParse
	}
}
