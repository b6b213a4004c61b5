package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind tells whether a failed exchange may succeed on a later attempt.
type Kind int

const (
	Transient Kind = iota
	Terminal
)

func (k Kind) String() string {
	if k == Terminal {
		return "terminal"
	}
	return "transient"
}

// ErrNoCredential is returned by RefreshNow when nothing is stored.
var ErrNoCredential = &RefreshError{Kind: Terminal, Code: "no_credential", Message: "no stored credential"}

// RefreshError is a classified exchange failure.
type RefreshError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *RefreshError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code == "" {
		return fmt.Sprintf("refresh %s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("refresh %s (%s): %s", e.Kind, e.Code, msg)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Is matches another RefreshError by kind and code, so errors.Is(err,
// ErrNoCredential) works on copies.
func (e *RefreshError) Is(target error) bool {
	t, ok := target.(*RefreshError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// TransientError wraps err as a retryable failure.
func TransientError(code string, err error) *RefreshError {
	return &RefreshError{Kind: Transient, Code: code, Err: err}
}

// TerminalError wraps err as a failure that requires a new login.
func TerminalError(code string, err error) *RefreshError {
	return &RefreshError{Kind: Terminal, Code: code, Err: err}
}

// IsTerminal reports whether err, once classified, is terminal.
func IsTerminal(err error) bool {
	return Classify(err).Kind == Terminal
}

var terminalSentinels = []error{
	common.ErrTokenExpired,
	common.ErrInvalidToken,
	common.ErrSessionExpired,
	common.ErrSessionRevoked,
	common.ErrorUnauthorized,
}

// Keywords that mark an unstructured error message as terminal. Servers
// that predate structured errors report auth failures only in the text.
var terminalKeywords = []string{
	"401", "403", "unauthorized", "forbidden", "invalid", "expired",
	"decodeerror", "token", "已失效", "无效",
}

// Classify turns any exchange error into a *RefreshError. It returns nil
// for a nil error.
func Classify(err error) *RefreshError {
	if err == nil {
		return nil
	}

	var re *RefreshError
	if errors.As(err, &re) {
		return re
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		if kind, known := kindForCode(st.Code()); known {
			return &RefreshError{Kind: kind, Code: strings.ToLower(st.Code().String()), Message: st.Message(), Err: err}
		}
	}

	for _, s := range terminalSentinels {
		if errors.Is(err, s) {
			return TerminalError("auth", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TransientError("timeout", err)
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range terminalKeywords {
		if strings.Contains(msg, kw) {
			return TerminalError("legacy", err)
		}
	}
	return TransientError("", err)
}

func kindForCode(c codes.Code) (Kind, bool) {
	switch c {
	case codes.Unauthenticated, codes.PermissionDenied:
		return Terminal, true
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Internal, codes.Aborted:
		return Transient, true
	}
	return Transient, false
}
