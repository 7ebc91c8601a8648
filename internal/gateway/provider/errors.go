package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

type Code string

const (
	CodeRateLimit      Code = "RATE_LIMIT"
	CodeNetwork        Code = "NETWORK_ERROR"
	CodeTimeout        Code = "TIMEOUT"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeCircuitOpen    Code = "CIRCUIT_OPEN"
	CodeUnknown        Code = "UNKNOWN_ERROR"
)

func HTTPCode(status int) Code {
	return Code("HTTP_" + strconv.Itoa(status))
}

// Error is the tagged failure every adapter returns. Callers branch on Code and
// Recoverable via errors.As instead of matching concrete types.
type Error struct {
	Provider    string
	Code        Code
	Status      int
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func IsRecoverable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Recoverable
	}
	return false
}

func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	if err == nil {
		return ""
	}
	return CodeUnknown
}

// StatusError 由 transport 在非 2xx 响应时返回。
type StatusError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("status=%d", e.Status)
	}
	return fmt.Sprintf("status=%d: %s", e.Status, body)
}

func recoverableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func newError(providerID string, code Code, recoverable bool, err error) *Error {
	return &Error{Provider: providerID, Code: code, Recoverable: recoverable, Err: err}
}

func classify(providerID string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Provider != "" {
			return pe
		}
		// 返回副本，不改动 transport 交回的错误值
		cp := *pe
		cp.Provider = providerID
		return &cp
	}
	var se *StatusError
	if errors.As(err, &se) {
		return &Error{
			Provider:    providerID,
			Code:        HTTPCode(se.Status),
			Status:      se.Status,
			Recoverable: recoverableStatus(se.Status),
			Err:         err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(providerID, CodeTimeout, true, err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return newError(providerID, CodeTimeout, true, err)
		}
		return newError(providerID, CodeNetwork, true, err)
	}
	var oe *net.OpError
	if errors.As(err, &oe) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return newError(providerID, CodeNetwork, true, err)
	}
	return newError(providerID, CodeUnknown, false, err)
}

func retryAfter(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
