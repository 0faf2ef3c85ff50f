package toolerr

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxBodyInMessage limits how much of a non-JSON body is copied into a message.
const maxBodyInMessage = 256

// Normalize converts any failure into an *Error.
// A nil error yields nil.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := As(err); ok {
		return te
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(KindNetwork, "request timeout: the downstream call took too long to complete").WithCause(err)
	case errors.Is(err, context.Canceled):
		return New(KindNetwork, "request canceled").WithCause(err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return Newf(KindNetwork, "connection refused: %s", err.Error()).WithCause(err)
	}

	if te := FromGRPC(err); te != nil {
		return te
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Newf(KindNetwork, "DNS lookup failed for %s", dnsErr.Name).WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(KindNetwork, "request timeout: the downstream call took too long to complete").WithCause(err)
		}
		return Newf(KindNetwork, "connection error: %s", err.Error()).WithCause(err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Newf(KindNetwork, "connection error: %s", err.Error()).WithCause(err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return Newf(KindUnexpected, "malformed response: %s", err.Error()).WithCause(err)
	}

	return Newf(KindUnexpected, "unexpected error: %s", err.Error()).WithCause(err)
}

// FromStatus maps a non-2xx downstream HTTP status into an *Error.
// It returns nil for 2xx statuses.
func FromStatus(code int, body []byte) *Error {
	if code >= 200 && code < 300 {
		return nil
	}

	var e *Error
	switch {
	case code == http.StatusBadRequest:
		e = Newf(KindBadRequest, "bad request: %s", messageFromBody(body, "invalid request data"))
	case code == http.StatusUnauthorized:
		e = New(KindAuth, "unauthorized: invalid or expired access token")
	case code == http.StatusForbidden:
		e = New(KindAuth, "forbidden: the credential does not have permission for this operation")
	case code == http.StatusNotFound:
		e = New(KindNotFound, "not found: the endpoint or a referenced resource does not exist")
	case code >= 500 && code <= 599:
		e = Newf(KindUpstream, "upstream error: the server returned status %d", code)
	default:
		e = Newf(KindUnexpected, "unexpected status %d: %s", code, messageFromBody(body, http.StatusText(code)))
	}
	e.StatusCode = code
	if len(body) > 0 && json.Valid(body) {
		e.Details = json.RawMessage(body)
	}
	return e
}

// FromGRPC maps a gRPC status error into an *Error.
// It returns nil when err does not carry a gRPC status.
func FromGRPC(err error) *Error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return nil
	}

	var e *Error
	switch st.Code() {
	case codes.InvalidArgument, codes.OutOfRange, codes.FailedPrecondition:
		e = Newf(KindBadRequest, "bad request: %s", st.Message())
	case codes.Unauthenticated:
		e = New(KindAuth, "unauthorized: invalid or expired access token")
	case codes.PermissionDenied:
		e = New(KindAuth, "forbidden: the credential does not have permission for this operation")
	case codes.NotFound:
		e = Newf(KindNotFound, "not found: %s", st.Message())
	case codes.Unavailable:
		e = Newf(KindNetwork, "connection error: %s", st.Message())
	case codes.DeadlineExceeded:
		e = New(KindNetwork, "request timeout: the downstream call took too long to complete")
	case codes.Canceled:
		e = New(KindNetwork, "request canceled")
	case codes.Internal, codes.Unknown, codes.DataLoss:
		e = Newf(KindUpstream, "upstream error: %s", st.Message())
	default:
		e = Newf(KindUnexpected, "unexpected status %s: %s", st.Code().String(), st.Message())
	}
	return e.WithCause(err)
}

// messageFromBody returns the provider message from a JSON error body,
// or a truncated copy of a text body.
func messageFromBody(body []byte, fallback string) string {
	if len(body) == 0 {
		return fallback
	}
	if json.Valid(body) {
		for _, path := range []string{"message", "error.message", "error", "detail"} {
			if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
		return fallback
	}
	s := strings.TrimSpace(string(body))
	if s == "" {
		return fallback
	}
	if len(s) > maxBodyInMessage {
		s = s[:maxBodyInMessage] + "..."
	}
	return s
}

// Wrapf normalizes err and prefixes its message.
func Wrapf(err error, format string, args ...any) *Error {
	te := Normalize(err)
	if te == nil {
		return nil
	}
	prefix := fmt.Sprintf(format, args...)
	if prefix != "" && !strings.HasPrefix(te.Message, prefix) {
		te.Message = prefix + ": " + te.Message
	}
	return te
}
