// Package errs provides the structured error envelope shared across takt.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing resource (ticker, column, singleton).
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a duplicate insert, such as a second singleton.
	CodeConflict Code = "conflict"
	// CodeExhausted indicates insufficient funds or inventory for an order.
	CodeExhausted Code = "exhausted"
	// CodeUnavailable indicates a transport or stream failure.
	CodeUnavailable Code = "unavailable"
	// CodeInternal captures uncategorized runtime failures.
	CodeInternal Code = "internal"
)

// E captures structured error information produced across the takt runtime.
type E struct {
	// Op names the operation that failed, e.g. "ledger.singleton" or
	// "broker.submit_order".
	Op      string
	Code    Code
	Ticker  string
	OrderID string
	Message string
	// RawMsg carries the verbatim broker failure text, which the order
	// retry loop inspects.
	RawMsg string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:      strings.TrimSpace(op),
		Code:    code,
		Ticker:  "",
		OrderID: "",
		Message: "",
		RawMsg:  "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithTicker records the instrument the failure relates to.
func WithTicker(ticker string) Option {
	trimmed := strings.TrimSpace(ticker)
	return func(e *E) {
		e.Ticker = trimmed
	}
}

// WithOrderID records the client order id the failure relates to.
func WithOrderID(id string) Option {
	trimmed := strings.TrimSpace(id)
	return func(e *E) {
		e.OrderID = trimmed
	}
}

// WithRawMsg captures the raw broker failure message.
func WithRawMsg(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = string(CodeInternal)
	}
	parts = append(parts, "code="+code)

	if e.Ticker != "" {
		parts = append(parts, "ticker="+e.Ticker)
	}
	if e.OrderID != "" {
		parts = append(parts, "order_id="+e.OrderID)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the envelope code from err, walking the unwrap chain.
// Errors outside the envelope report CodeInternal.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.Code
	}
	return CodeInternal
}

// RawMsgOf extracts the raw broker failure text, if any.
func RawMsgOf(err error) string {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.RawMsg
	}
	return ""
}

// IsRetryable reports whether the order retry loop may adjust and resubmit
// after err. Only exhaustion failures carry enough broker context to retry.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeExhausted
}
