package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/terminalpay-backend/pkg/errors"
)

type sampleBody struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Kind   string `json:"kind" validate:"omitempty,oneof=DEBIT CREDIT"`
}

func TestDecodeJSONBodyMessages(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0,"kind":"CASH"}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be greater than 0", details["amount"])
	assert.Equal(t, "must be one of [DEBIT CREDIT]", details["kind"])
}

func TestDecodeJSONBodyRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]struct {
		body    string
		message string
		field   string
	}{
		"empty":         {body: "", message: "request body is required"},
		"two objects":   {body: `{"amount":1}{"amount":2}`, message: "request body must hold a single JSON object"},
		"wrong type":    {body: `{"amount":"ten"}`, message: "validation failed", field: "amount"},
		"unknown field": {body: `{"amount":1,"tip":2}`, message: "invalid request body"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var body sampleBody
			err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)), &body)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
			assert.Equal(t, tc.message, typed.Message())
			if tc.field != "" {
				details, ok := typed.Details().(map[string]string)
				require.True(t, ok)
				assert.Equal(t, "must be of type int64", details[tc.field])
			}
		})
	}
}

func TestPrintableASCIIRule(t *testing.T) {
	var body struct {
		Key string `json:"key" validate:"printascii"`
	}
	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"key":"caf\u00e9-0001"}`)), &body)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, map[string]string{"key": "must contain printable ASCII only"}, typed.Details())
}

func TestDecodeOptionalJSONBodyAcceptsEmpty(t *testing.T) {
	var body struct {
		Reason string `json:"reason" validate:"omitempty,max=4"`
	}
	require.NoError(t, DecodeOptionalJSONBody(httptest.NewRequest(http.MethodPost, "/", nil), &body))

	err := DecodeOptionalJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"too long"}`)), &body)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	withParam := func(value string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("paymentId", value)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	got, err := ParseUUIDParam(withParam(" "+id.String()+" "), "paymentId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUIDParam(withParam("not-a-uuid"), "paymentId")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = ParseUUIDParam(withParam(""), "paymentId")
	assert.Error(t, err)
}

func TestSanitizeHeader(t *testing.T) {
	assert.Equal(t, "cancel-0001", SanitizeHeader("  cancel-\x000001\t ", 128))
	long := strings.Repeat("k", 130)
	assert.Equal(t, long, SanitizeHeader(long, 128))
}
