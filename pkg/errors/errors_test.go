package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestErrorFormatting tests the Error output with and without a wrapped cause.
func TestErrorFormatting(t *testing.T) {
	plain := New(CodeNotFound, "playbook missing")
	assert.Equal(t, "NOT_FOUND: playbook missing", plain.Error())

	cause := stderrors.New("connection refused")
	wrapped := Wrap(cause, CodeFeedFetch, "feed unreachable")
	assert.Equal(t, "FEED_FETCH_ERROR: feed unreachable: connection refused", wrapped.Error())
	assert.Equal(t, cause, wrapped.Unwrap())
	assert.True(t, stderrors.Is(wrapped, cause))
}

// TestIs tests code matching through wrapped chains.
func TestIs(t *testing.T) {
	err := fmt.Errorf("submit failed: %w", New(CodeQueueSaturated, "queue full"))
	assert.True(t, Is(err, CodeQueueSaturated))
	assert.False(t, Is(err, CodeNotFound))
	assert.False(t, Is(stderrors.New("plain"), CodeQueueSaturated))
	assert.False(t, Is(nil, CodeQueueSaturated))
}

// TestAsAppError tests extraction from an error chain.
func TestAsAppError(t *testing.T) {
	inner := Conflict("execution already terminal")
	appErr, ok := AsAppError(fmt.Errorf("cancel: %w", inner))
	require.True(t, ok)
	assert.Equal(t, CodeConflict, appErr.Code)

	_, ok = AsAppError(stderrors.New("plain"))
	assert.False(t, ok)
}

// TestHTTPStatusMapping tests the code to status translation.
func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeBadRequest, http.StatusBadRequest},
		{CodeIOCParse, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeFeedFetch, http.StatusServiceUnavailable},
		{CodeQueueSaturated, http.StatusTooManyRequests},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeTrustEval, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.status, New(tc.code, "x").HTTPStatus)
			assert.Equal(t, tc.status, GetHTTPStatus(New(tc.code, "x")))
		})
	}

	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(stderrors.New("plain")))
}

// TestWithDetail tests detail accumulation and JSON serialization.
func TestWithDetail(t *testing.T) {
	err := StepExecution("contain-host", stderrors.New("connector offline")).
		WithDetail("attempts", 3)

	assert.Equal(t, CodeStepExecution, err.Code)
	assert.Equal(t, "contain-host", err.Details["step_id"])
	assert.Equal(t, 3, err.Details["attempts"])

	payload := string(err.ToJSON())
	assert.Contains(t, payload, `"code":"STEP_EXECUTION_ERROR"`)
	assert.Contains(t, payload, `"step_id":"contain-host"`)
}

// TestConstructors tests the convenience constructors.
func TestConstructors(t *testing.T) {
	assert.Equal(t, CodeValidation, Validation("bad severity").Code)
	assert.Equal(t, "execution exec-1 not found", NotFound("execution exec-1").Message)
	assert.Equal(t, CodeBadRequest, BadRequest("step is automated").Code)
	assert.Equal(t, CodeInternalError, Internal("boom").Code)
	assert.Equal(t, CodeTimeout, Timeout("step deadline exceeded").Code)

	fetch := FeedFetch("abuse-ch", stderrors.New("503"))
	assert.Equal(t, CodeFeedFetch, fetch.Code)
	assert.Contains(t, fetch.Message, "abuse-ch")

	eval := TrustEval(stderrors.New("profile backend down"))
	assert.Equal(t, CodeTrustEval, eval.Code)
}
