package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

// ErrorBody is the error envelope returned by downstream services and the
// card gateway. Info carries provider-specific decline details.
type ErrorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Info    json.RawMessage `json:"info,omitempty"`
}

// ReadErrorBody consumes and closes a non-2xx response body and decodes the
// {"error": {...}} envelope. ok is false when the body is not in that shape.
func ReadErrorBody(resp *http.Response) (body ErrorBody, raw []byte, ok bool) {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ErrorBody{}, nil, false
	}

	var env struct {
		Error *ErrorBody `json:"error"`
	}
	if json.Unmarshal(raw, &env) != nil || env.Error == nil {
		return ErrorBody{}, raw, false
	}
	return *env.Error, raw, true
}

// ParseResponseError translates a non-2xx response from serviceName into an
// error carrying the matching apperrors kind.
func ParseResponseError(resp *http.Response, serviceName string) error {
	status := resp.StatusCode
	body, raw, ok := ReadErrorBody(resp)
	if !ok {
		return fmt.Errorf("%s returned status %d: %s", serviceName, status, string(raw))
	}
	return mapDownstreamError(status, body.Code, body.Message, serviceName)
}

func mapDownstreamError(status int, code, message, serviceName string) error {
	msg := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName, message)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(msg)
	case status == http.StatusConflict:
		return apperrors.Conflict(msg)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(msg)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(msg)
	case status == http.StatusGone:
		return apperrors.Gone(msg)
	case status == http.StatusPaymentRequired, status == http.StatusUnprocessableEntity:
		return apperrors.PaymentFailed(msg)
	case status == http.StatusServiceUnavailable:
		return &apperrors.AppError{
			Code:    code,
			Message: msg,
			Status:  http.StatusServiceUnavailable,
			Err:     apperrors.ErrServiceUnavail,
		}
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, code, message)
	default:
		return &apperrors.AppError{Code: code, Message: msg, Status: status}
	}
}
