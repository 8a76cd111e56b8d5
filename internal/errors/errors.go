// Package errors provides domain-specific error types for ciesign.
//
// Every failure that crosses the method-call boundary is a [SignError]
// carrying a stable wire code ("busy", "nfc_disabled", ...) and a kind
// that tells the caller whether the failure happened before arming,
// while holding a card, or because the request was aborted.
package errors

import (
	"errors"
	"fmt"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrBusy            = errors.New("a signing request is already running")
	ErrCanceled        = errors.New("NFC signing cancelled")
	ErrHostDetached    = errors.New("host detached")
	ErrCoordinatorDown = errors.New("coordinator stopped")
	ErrUnsupportedCard = errors.New("card does not support this signer")
	ErrInvalidDocument = errors.New("unable to parse PDF")
)

// ── Kinds and codes ──────────────────────────────────────────────────

// Kind groups wire codes by how a caller should react to them.
type Kind int

const (
	KindInternal    Kind = iota
	KindValidation       // bad input, rejected before any state change
	KindAdapter          // reader missing or off, rejected before arming
	KindConcurrency      // another request in flight
	KindHardware         // discovered card cannot be used
	KindSigner           // the signer gateway failed
	KindCanceled         // user or lifecycle abort
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAdapter:
		return "adapter"
	case KindConcurrency:
		return "concurrency"
	case KindHardware:
		return "hardware"
	case KindSigner:
		return "signer"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// Wire codes understood by host applications.
const (
	CodeInvalidArgs       = "invalid_args"
	CodeInvalidPDF        = "invalid_pdf"
	CodeInvalidPIN        = "invalid_pin"
	CodeInvalidAppearance = "invalid_appearance"
	CodeNoActivity        = "no_activity"
	CodeNFCUnavailable    = "nfc_unavailable"
	CodeNFCUnsupported    = "nfc_unsupported"
	CodeNFCDisabled       = "nfc_disabled"
	CodeBusy              = "busy"
	CodeUnsupportedTag    = "unsupported_tag"
	CodeNFCSignFailed     = "nfc_sign_failed"
	CodeMockSignFailed    = "mock_sign_failed"
	CodeCanceled          = "canceled"
	CodeNotImplemented    = "not_implemented"
	CodeInternal          = "internal"
)

var codeKinds = map[string]Kind{
	CodeInvalidArgs:       KindValidation,
	CodeInvalidPDF:        KindValidation,
	CodeInvalidPIN:        KindValidation,
	CodeInvalidAppearance: KindValidation,
	CodeNoActivity:        KindAdapter,
	CodeNFCUnavailable:    KindAdapter,
	CodeNFCUnsupported:    KindAdapter,
	CodeNFCDisabled:       KindAdapter,
	CodeBusy:              KindConcurrency,
	CodeUnsupportedTag:    KindHardware,
	CodeNFCSignFailed:     KindSigner,
	CodeMockSignFailed:    KindSigner,
	CodeCanceled:          KindCanceled,
	CodeNotImplemented:    KindValidation,
}

// ── Structured error types ───────────────────────────────────────────

// SignError is the terminal failure of a signing call.
type SignError struct {
	Kind    Kind
	Code    string // stable wire code
	Message string // human-readable detail, may be empty
	Err     error  // underlying cause (optional)
}

func (e *SignError) Error() string {
	switch {
	case e.Message != "":
		return e.Code + ": " + e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *SignError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // flag name without dashes
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Sign builds a SignError for code, deriving its kind.
func Sign(code, message string) *SignError {
	return &SignError{Kind: kindOf(code), Code: code, Message: message}
}

// Wrap builds a SignError for code around err, using err's text as the
// message.
func Wrap(code string, err error) *SignError {
	se := &SignError{Kind: kindOf(code), Code: code, Err: err}
	if err != nil {
		se.Message = err.Error()
	}
	return se
}

// Canceled builds the failure delivered to a request aborted for reason.
func Canceled(reason error) *SignError {
	if reason == nil {
		reason = ErrCanceled
	}
	return &SignError{Kind: KindCanceled, Code: CodeCanceled, Message: reason.Error(), Err: reason}
}

func kindOf(code string) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindInternal
}

// ── Classification helpers ───────────────────────────────────────────

// CodeOf returns the wire code carried by err, or CodeInternal for
// foreign errors.  A nil error has no code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var se *SignError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// KindOf returns the kind carried by err.
func KindOf(err error) Kind {
	var se *SignError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsCanceled reports whether err is a user or lifecycle abort.
func IsCanceled(err error) bool {
	return KindOf(err) == KindCanceled || errors.Is(err, ErrCanceled)
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use ciesign/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
