package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/sokoni/internal/auth"
	"github.com/dropDatabas3/sokoni/internal/payment"
)

func TestFromError_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&auth.Error{Kind: auth.KindValidation, Field: "email", Message: "bad"}, 400, "validation_error"},
		{&auth.Error{Kind: auth.KindCredentials, Message: "nope"}, 401, "credentials_error"},
		{&auth.Error{Kind: auth.KindAccountCreation}, 422, "account_creation_error"},
		{&auth.Error{Kind: auth.KindServiceUnavailable}, 503, "service_unavailable"},
		{&auth.Error{Kind: auth.KindDemoUnavailable}, 503, "demo_unavailable"},
		{fmt.Errorf("%w: amount", payment.ErrInvalidRequest), 400, "INVALID_PAYMENT"},
		{payment.ErrUnknownProvider, 400, "UNKNOWN_PROVIDER"},
		{payment.ErrProvider, 502, "PAYMENT_PROVIDER_ERROR"},
		{ErrRateLimitExceeded, 429, "RATE_LIMIT_EXCEEDED"},
		{fmt.Errorf("boom"), 500, "INTERNAL_ERROR"},
	}
	for _, c := range cases {
		got := FromError(c.err)
		assert.Equal(t, c.status, got.HTTPStatus, c.err.Error())
		assert.Equal(t, c.code, got.Code)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &auth.Error{Kind: auth.KindValidation, Field: "password", Message: "Password must be at least 6 characters."})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body["code"])
	assert.Equal(t, "password", body["detail"])

	base := ErrBadRequest.WithDetail("x")
	assert.Empty(t, ErrBadRequest.Detail, "base errors are not mutated")
	assert.Equal(t, "x", base.Detail)
}
