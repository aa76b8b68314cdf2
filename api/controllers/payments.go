package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay-backend/api/responses"
	"github.com/angelmondragon/terminalpay-backend/api/validators"
	"github.com/angelmondragon/terminalpay-backend/internal/dispatch"
	"github.com/angelmondragon/terminalpay-backend/internal/payments"
	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay-backend/pkg/errors"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
)

const (
	paymentIDParam       = "paymentId"
	idempotencyKeyHeader = "Idempotency-Key"
)

type payResponse struct {
	PaymentID uuid.UUID           `json:"payment_id"`
	Status    enums.PaymentStatus `json:"status"`
	IsNew     bool                `json:"is_new"`
	Dispatch  *dispatch.Outcome   `json:"dispatch,omitempty"`
}

// PaymentPay accepts a terminal's pay request. New payments answer 201; a
// replayed idempotency key answers 200 with the original payment.
func PaymentPay(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var req payments.PayRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithTerminalID(ctx, req.TerminalID)
			ctx = logg.WithMerchantID(ctx, req.MerchantID)
		}

		result, err := svc.CreateOrFetch(ctx, req)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusOK
		if result.IsNew {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, payResponse{
			PaymentID: result.Payment.PaymentID,
			Status:    result.Payment.Status,
			IsNew:     result.IsNew,
			Dispatch:  result.Dispatch,
		})
	}
}

func PaymentGet(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		paymentID, err := validators.ParseUUIDParam(r, paymentIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.GetPayment(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func PaymentEvents(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		paymentID, err := validators.ParseUUIDParam(r, paymentIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, err := svc.ListEvents(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, events)
	}
}

// PaymentApplyEvent moves a payment through the lifecycle policy.
func PaymentApplyEvent(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		paymentID, err := validators.ParseUUIDParam(r, paymentIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req payments.ApplyEventRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.ApplyEvent(r.Context(), paymentID, req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// PaymentCancel records a cancel request and dispatches the CANCEL command.
// The idempotency key may come from the body or the Idempotency-Key header;
// the body wins when both are present.
func PaymentCancel(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		paymentID, err := validators.ParseUUIDParam(r, paymentIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req payments.CancelRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = validators.SanitizeHeader(r.Header.Get(idempotencyKeyHeader), payments.MaxIdempotencyKeyLength)
		}

		result, err := svc.RequestCancel(r.Context(), paymentID, req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, result)
	}
}

func PaymentPolicy(svc payments.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		responses.WriteSuccess(w, svc.Policy())
	}
}
