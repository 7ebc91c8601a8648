package decision

import (
	"errors"
	"fmt"
)

var (
	ErrNoProviders   = errors.New("no enabled providers")
	ErrNoSignals     = errors.New("no usable signals")
	ErrInvalidSignal = errors.New("invalid trading signal")
)

// EnsembleError 表示本轮在当前 fallback 下无法给出结论。
// Cause 包装最后一个 provider 错误，可用 errors.As 取出 *provider.Error。
type EnsembleError struct {
	Symbol             string
	ProvidersAttempted []string
	Responded          int
	Cause              error
}

func (e *EnsembleError) Error() string {
	return fmt.Sprintf("ensemble %s: %d/%d providers usable %v: %v",
		e.Symbol, e.Responded, len(e.ProvidersAttempted), e.ProvidersAttempted, e.Cause)
}

func (e *EnsembleError) Unwrap() error { return e.Cause }
