package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/terminalpay-backend/internal/dispatch"
	"github.com/angelmondragon/terminalpay-backend/internal/lifecycle"
	"github.com/angelmondragon/terminalpay-backend/internal/payments"
	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay-backend/pkg/errors"
	"github.com/angelmondragon/terminalpay-backend/pkg/types"
)

type stubPaymentsService struct {
	intake    *payments.IntakeResult
	view      *payments.PaymentView
	events    []payments.EventView
	cancel    *payments.CancelResult
	err       error
	payReq    payments.PayRequest
	applyReq  payments.ApplyEventRequest
	cancelReq payments.CancelRequest
	gotID     uuid.UUID
}

func (s *stubPaymentsService) CreateOrFetch(_ context.Context, req payments.PayRequest) (*payments.IntakeResult, error) {
	s.payReq = req
	return s.intake, s.err
}

func (s *stubPaymentsService) GetPayment(_ context.Context, id uuid.UUID) (*payments.PaymentView, error) {
	s.gotID = id
	return s.view, s.err
}

func (s *stubPaymentsService) ApplyEvent(_ context.Context, id uuid.UUID, req payments.ApplyEventRequest) (*payments.PaymentView, error) {
	s.gotID = id
	s.applyReq = req
	return s.view, s.err
}

func (s *stubPaymentsService) RequestCancel(_ context.Context, id uuid.UUID, req payments.CancelRequest) (*payments.CancelResult, error) {
	s.gotID = id
	s.cancelReq = req
	return s.cancel, s.err
}

func (s *stubPaymentsService) ListEvents(_ context.Context, id uuid.UUID) ([]payments.EventView, error) {
	s.gotID = id
	return s.events, s.err
}

func (s *stubPaymentsService) RetryPendingDispatch(context.Context, time.Duration, int) (payments.RetryReport, error) {
	return payments.RetryReport{}, nil
}

func (s *stubPaymentsService) Policy() lifecycle.PolicySnapshot {
	return lifecycle.DefaultPolicy().Snapshot()
}

func sampleView(id uuid.UUID, status enums.PaymentStatus) payments.PaymentView {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return payments.PaymentView{
		PaymentID:      id,
		MerchantID:     "m-1",
		StoreID:        "s-1",
		TerminalID:     "t-1",
		Amount:         1250,
		AmountDisplay:  "12.50",
		Type:           enums.CommandOperationPay,
		Status:         status,
		IdempotencyKey: "key-0001",
		RequestedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

const payBody = `{"merchant_id":"m-1","store_id":"s-1","terminal_id":"t-1","amount":1250,"idempotency_key":"key-0001"}`

func withPaymentID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(paymentIDParam, id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestPaymentPayCreatedAndReplay(t *testing.T) {
	id := uuid.New()
	svc := &stubPaymentsService{intake: &payments.IntakeResult{
		Payment:  sampleView(id, enums.PaymentStatusInProgress),
		IsNew:    true,
		Dispatch: &dispatch.Outcome{Operation: enums.CommandOperationPay, Status: dispatch.StatusPublished, MessageID: "msg-1"},
	}}
	handler := PaymentPay(svc, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments/pay", strings.NewReader(payBody)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var envelope struct {
		Data payResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, id, envelope.Data.PaymentID)
	assert.Equal(t, enums.PaymentStatusInProgress, envelope.Data.Status)
	assert.True(t, envelope.Data.IsNew)
	require.NotNil(t, envelope.Data.Dispatch)
	assert.Equal(t, "msg-1", envelope.Data.Dispatch.MessageID)
	assert.Equal(t, int64(1250), svc.payReq.Amount)
	assert.Equal(t, "key-0001", svc.payReq.IdempotencyKey)

	svc.intake.IsNew = false
	svc.intake.Dispatch = nil
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments/pay", strings.NewReader(payBody)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPaymentPayRejectsInvalidBodies(t *testing.T) {
	cases := map[string]struct {
		body  string
		field string
	}{
		"zero amount":     {body: `{"merchant_id":"m","store_id":"s","terminal_id":"t","amount":0,"idempotency_key":"key-0001"}`, field: "amount"},
		"short key":       {body: `{"merchant_id":"m","store_id":"s","terminal_id":"t","amount":5,"idempotency_key":"k"}`, field: "idempotency_key"},
		"missing store":   {body: `{"merchant_id":"m","terminal_id":"t","amount":5,"idempotency_key":"key-0001"}`, field: "store_id"},
		"bad debitcredit": {body: `{"merchant_id":"m","store_id":"s","terminal_id":"t","amount":5,"debit_credit":"CASH","idempotency_key":"key-0001"}`, field: "debit_credit"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubPaymentsService{}
			rec := httptest.NewRecorder()
			PaymentPay(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments/pay", strings.NewReader(tc.body)))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body types.ErrorEnvelope
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, string(pkgerrors.CodeValidation), body.Error.Code)
			details, ok := body.Error.Details.(map[string]any)
			require.True(t, ok)
			assert.Contains(t, details, tc.field)
			assert.Empty(t, svc.payReq.MerchantID)
		})
	}
}

func TestPaymentPayRejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	body := `{"merchant_id":"m","store_id":"s","terminal_id":"t","amount":5,"idempotency_key":"key-0001","tip":1}`
	PaymentPay(&stubPaymentsService{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments/pay", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentPayStorageFailure(t *testing.T) {
	svc := &stubPaymentsService{err: pkgerrors.New(pkgerrors.CodeStorage, "create or fetch payment")}
	rec := httptest.NewRecorder()
	PaymentPay(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments/pay", strings.NewReader(payBody)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPaymentGet(t *testing.T) {
	id := uuid.New()
	view := sampleView(id, enums.PaymentStatusApproved)
	svc := &stubPaymentsService{view: &view}

	rec := httptest.NewRecorder()
	req := withPaymentID(httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+id.String(), nil), id.String())
	PaymentGet(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data payments.PaymentView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, id, envelope.Data.PaymentID)
	assert.Equal(t, "12.50", envelope.Data.AmountDisplay)
	assert.Equal(t, id, svc.gotID)
}

func TestPaymentGetErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := withPaymentID(httptest.NewRequest(http.MethodGet, "/api/v1/payments/nope", nil), "nope")
	PaymentGet(&stubPaymentsService{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id := uuid.New()
	rec = httptest.NewRecorder()
	req = withPaymentID(httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+id.String(), nil), id.String())
	PaymentGet(&stubPaymentsService{err: pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentApplyEventInvalidTransition(t *testing.T) {
	id := uuid.New()
	svc := &stubPaymentsService{err: pkgerrors.New(pkgerrors.CodeInvalidTransition, "transition APPROVED -> DECLINED not allowed")}

	rec := httptest.NewRecorder()
	req := withPaymentID(httptest.NewRequest(http.MethodPost, "/api/v1/payments/"+id.String()+"/events",
		strings.NewReader(`{"target_status":"DECLINED","message":"late decline"}`)), id.String())
	PaymentApplyEvent(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, string(pkgerrors.CodeInvalidTransition), body.Error.Code)
	assert.Equal(t, enums.PaymentStatusDeclined, svc.applyReq.TargetStatus)
	assert.Equal(t, "late decline", svc.applyReq.Message)
}

func TestPaymentApplyEventRequiresTarget(t *testing.T) {
	id := uuid.New()
	rec := httptest.NewRecorder()
	req := withPaymentID(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"x"}`)), id.String())
	PaymentApplyEvent(&stubPaymentsService{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentCancelKeySources(t *testing.T) {
	id := uuid.New()
	newSvc := func() *stubPaymentsService {
		return &stubPaymentsService{cancel: &payments.CancelResult{Payment: sampleView(id, enums.PaymentStatusInProgress)}}
	}

	t.Run("header", func(t *testing.T) {
		svc := newSvc()
		req := withPaymentID(httptest.NewRequest(http.MethodPost, "/", nil), id.String())
		req.Header.Set(idempotencyKeyHeader, "  cancel-0001 ")
		rec := httptest.NewRecorder()
		PaymentCancel(svc, nil).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "cancel-0001", svc.cancelReq.IdempotencyKey)
		assert.Equal(t, id, svc.gotID)
	})

	t.Run("body wins", func(t *testing.T) {
		svc := newSvc()
		req := withPaymentID(httptest.NewRequest(http.MethodPost, "/",
			bytes.NewBufferString(`{"reason":"customer walked away","idempotency_key":"cancel-body-1"}`)), id.String())
		req.Header.Set(idempotencyKeyHeader, "cancel-header-1")
		rec := httptest.NewRecorder()
		PaymentCancel(svc, nil).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "cancel-body-1", svc.cancelReq.IdempotencyKey)
		assert.Equal(t, "customer walked away", svc.cancelReq.Reason)
	})

	t.Run("conflict", func(t *testing.T) {
		svc := &stubPaymentsService{err: pkgerrors.New(pkgerrors.CodeConflict, "payment is APPROVED and cannot be canceled")}
		req := withPaymentID(httptest.NewRequest(http.MethodPost, "/", nil), id.String())
		rec := httptest.NewRecorder()
		PaymentCancel(svc, nil).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestPaymentEventsAndPolicy(t *testing.T) {
	id := uuid.New()
	svc := &stubPaymentsService{events: []payments.EventView{
		{EventID: uuid.New(), EventType: enums.PaymentEventRequested, Payload: map[string]any{}},
		{EventID: uuid.New(), EventType: enums.PaymentEventDispatched, Payload: map[string]any{}},
	}}

	rec := httptest.NewRecorder()
	PaymentEvents(svc, nil).ServeHTTP(rec, withPaymentID(httptest.NewRequest(http.MethodGet, "/", nil), id.String()))
	require.Equal(t, http.StatusOK, rec.Code)
	var events struct {
		Data []payments.EventView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&events))
	require.Len(t, events.Data, 2)
	assert.Equal(t, enums.PaymentEventRequested, events.Data[0].EventType)

	rec = httptest.NewRecorder()
	PaymentPolicy(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/policy", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var policy struct {
		Data lifecycle.PolicySnapshot `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&policy))
	assert.NotEmpty(t, policy.Data.Version)
	assert.Contains(t, policy.Data.Transitions, string(enums.PaymentStatusInProgress))
}

func TestPaymentHandlersWithoutService(t *testing.T) {
	rec := httptest.NewRecorder()
	PaymentPay(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payBody)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
