package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay-backend/internal/dispatch"
	"github.com/angelmondragon/terminalpay-backend/internal/lifecycle"
	"github.com/angelmondragon/terminalpay-backend/internal/paymentevents"
	"github.com/angelmondragon/terminalpay-backend/pkg/db/models"
	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay-backend/pkg/errors"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
	"github.com/angelmondragon/terminalpay-backend/pkg/metrics"
)

const defaultQueryTimeout = 5 * time.Second

var errCancelReplayed = errors.New("cancel already requested with this key")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Dispatcher claims and publishes processor commands.
type Dispatcher interface {
	ClaimAndDispatch(ctx context.Context, payment *models.Payment, cmd dispatch.Command) (dispatch.Outcome, error)
}

// Service is the payment orchestration surface used by the API, the outcome
// consumer and the retry sweeper.
type Service interface {
	CreateOrFetch(ctx context.Context, req PayRequest) (*IntakeResult, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*PaymentView, error)
	ApplyEvent(ctx context.Context, paymentID uuid.UUID, req ApplyEventRequest) (*PaymentView, error)
	RequestCancel(ctx context.Context, paymentID uuid.UUID, req CancelRequest) (*CancelResult, error)
	ListEvents(ctx context.Context, paymentID uuid.UUID) ([]EventView, error)
	RetryPendingDispatch(ctx context.Context, minAge time.Duration, limit int) (RetryReport, error)
	Policy() lifecycle.PolicySnapshot
}

type ServiceParams struct {
	DB           txRunner
	Repo         *Repository
	Events       *paymentevents.Log
	Dispatcher   Dispatcher
	Policy       *lifecycle.Policy
	Logger       *logger.Logger
	Metrics      *metrics.PaymentMetrics
	QueryTimeout time.Duration
	Clock        func() time.Time
}

type service struct {
	db           txRunner
	repo         *Repository
	events       *paymentevents.Log
	dispatcher   Dispatcher
	policy       *lifecycle.Policy
	logg         *logger.Logger
	metrics      *metrics.PaymentMetrics
	queryTimeout time.Duration
	now          func() time.Time
}

// NewService wires the orchestration dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "database client required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment event log required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dispatcher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	policy := params.Policy
	if policy == nil {
		policy = lifecycle.DefaultPolicy()
	}
	timeout := params.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		db:           params.DB,
		repo:         params.Repo,
		events:       params.Events,
		dispatcher:   params.Dispatcher,
		policy:       policy,
		logg:         params.Logger,
		metrics:      params.Metrics,
		queryTimeout: timeout,
		now:          clock,
	}, nil
}

func (s *service) CreateOrFetch(ctx context.Context, req PayRequest) (*IntakeResult, error) {
	req = normalizePayRequest(req)
	if err := validatePayRequest(req); err != nil {
		return nil, err
	}

	now := s.now()
	candidate := &models.Payment{
		PaymentID:      uuid.New(),
		MerchantID:     req.MerchantID,
		StoreID:        req.StoreID,
		TerminalID:     req.TerminalID,
		InvoiceID:      req.InvoiceID,
		Amount:         req.Amount,
		DebitCredit:    req.DebitCredit,
		Type:           enums.CommandOperationPay,
		Status:         enums.PaymentStatusInProgress,
		IdempotencyKey: req.IdempotencyKey,
		RequestedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var (
		payment *models.Payment
		isNew   bool
	)
	err := s.withStorage(ctx, func(storageCtx context.Context) error {
		return s.db.WithTx(storageCtx, func(tx *gorm.DB) error {
			row, created, err := s.repo.WithTx(tx).InsertOrFetch(storageCtx, candidate, now)
			if err != nil {
				return err
			}
			entry := paymentevents.Entry{PaymentID: row.PaymentID, OccurredAt: now}
			if created {
				entry.Type = enums.PaymentEventRequested
				entry.Message = "Payment created and marked IN_PROGRESS"
				entry.Data = map[string]any{
					"merchant_id":  row.MerchantID,
					"store_id":     row.StoreID,
					"terminal_id":  row.TerminalID,
					"invoice_id":   row.InvoiceID,
					"amount":       row.Amount,
					"debit_credit": row.DebitCredit,
				}
			} else {
				entry.Type = enums.PaymentEventIdempotencyReplay
				entry.Message = "Duplicate request returned existing payment"
				entry.Data = map[string]any{
					"idempotency_key": row.IdempotencyKey,
					"status":          row.Status,
					"dispatched":      row.DispatchedAt != nil,
				}
			}
			if _, err := s.events.Append(storageCtx, tx, entry); err != nil {
				return err
			}
			payment, isNew = row, created
			return nil
		})
	})
	if err != nil {
		return nil, storageError(err, "create or fetch payment")
	}

	ctx = s.logg.WithPaymentID(ctx, payment.PaymentID.String())
	ctx = s.logg.WithTerminalID(ctx, payment.TerminalID)
	if isNew {
		s.metrics.IncIntake(metrics.IntakeNew)
		s.logg.Info(ctx, "payment created")
	} else {
		s.metrics.IncIntake(metrics.IntakeReplay)
		s.logg.Info(ctx, "idempotent replay")
	}

	result := &IntakeResult{IsNew: isNew}
	if payment.DispatchedAt == nil && payment.CancelRequestedAt == nil && payment.Status == enums.PaymentStatusInProgress {
		outcome, err := s.dispatcher.ClaimAndDispatch(ctx, payment, dispatch.NewPayCommand(payment))
		if err != nil {
			return nil, err
		}
		result.Dispatch = &outcome
	}
	result.Payment = NewPaymentView(payment)
	return result, nil
}

func (s *service) GetPayment(ctx context.Context, paymentID uuid.UUID) (*PaymentView, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	var payment *models.Payment
	err := s.withStorage(ctx, func(storageCtx context.Context) error {
		row, err := s.repo.FindByID(storageCtx, paymentID)
		payment = row
		return err
	})
	if err != nil {
		return nil, storageError(err, "load payment")
	}
	view := NewPaymentView(payment)
	return &view, nil
}

func (s *service) ApplyEvent(ctx context.Context, paymentID uuid.UUID, req ApplyEventRequest) (*PaymentView, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	target := enums.PaymentStatus(strings.ToUpper(strings.TrimSpace(string(req.TargetStatus))))
	if target == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target status required").
			WithDetails(map[string]string{"target_status": "is required"})
	}
	eventType := req.EventType
	if eventType == "" {
		eventType = enums.PaymentEventStatusChanged
	}

	ctx = s.logg.WithPaymentID(ctx, paymentID.String())
	var payment *models.Payment
	err := s.withStorage(ctx, func(storageCtx context.Context) error {
		return s.db.WithTx(storageCtx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			row, err := repo.LockByID(storageCtx, paymentID)
			if err != nil {
				return err
			}
			from := row.Status
			if err := s.policy.Check(from, target); err != nil {
				return err
			}

			now := s.now()
			message := req.Message
			if message == "" {
				message = fmt.Sprintf("Status changed from %s to %s", from, target)
			}
			if _, err := s.events.Append(storageCtx, tx, paymentevents.Entry{
				PaymentID:  paymentID,
				Type:       eventType,
				Message:    message,
				OccurredAt: now,
				Data: map[string]any{
					"from":           from,
					"to":             target,
					"policy_version": s.policy.Version(),
					"metadata":       req.Metadata,
				},
			}); err != nil {
				return err
			}

			var completedAt *time.Time
			if target.IsTerminal() {
				completedAt = &now
			}
			if err := repo.UpdateStatus(storageCtx, paymentID, target, now, completedAt); err != nil {
				return err
			}
			row.Status = target
			row.UpdatedAt = now
			if completedAt != nil {
				row.CompletedAt = completedAt
			}
			payment = row
			return nil
		})
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeInvalidTransition) {
			s.metrics.IncTransition(string(target), "rejected")
			s.logg.Warn(s.logg.WithField(ctx, "target_status", string(target)), "transition rejected")
		}
		return nil, storageError(err, "apply payment event")
	}

	s.metrics.IncTransition(string(target), "applied")
	s.logg.Info(s.logg.WithField(ctx, "status", string(target)), "payment status changed")
	view := NewPaymentView(payment)
	return &view, nil
}

func (s *service) RequestCancel(ctx context.Context, paymentID uuid.UUID, req CancelRequest) (*CancelResult, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		if err := validateIdempotencyKey(key); err != nil {
			return nil, err
		}
	}

	ctx = s.logg.WithPaymentID(ctx, paymentID.String())
	var (
		payment  *models.Payment
		replayed bool
		now      = s.now()
	)
	err := s.withStorage(ctx, func(storageCtx context.Context) error {
		return s.db.WithTx(storageCtx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			row, err := repo.LockByID(storageCtx, paymentID)
			if err != nil {
				return err
			}
			payment = row
			if row.Status != enums.PaymentStatusInProgress {
				return pkgerrors.Newf(pkgerrors.CodeConflict, "payment is %s and cannot be canceled", row.Status).
					WithDetails(map[string]any{"status": string(row.Status)})
			}

			if key != "" {
				existing, err := s.events.Repo().WithTx(tx).FindByIdempotencyKey(storageCtx, paymentID, enums.PaymentEventCancelRequested, key)
				if err != nil {
					return err
				}
				if existing != nil {
					return errCancelReplayed
				}
			}

			if _, err := s.events.Append(storageCtx, tx, paymentevents.Entry{
				PaymentID:      paymentID,
				Type:           enums.PaymentEventCancelRequested,
				Message:        "Cancel requested",
				IdempotencyKey: key,
				OccurredAt:     now,
				Data: map[string]any{
					"reason":          req.Reason,
					"requested_by":    req.RequestedBy,
					"idempotency_key": key,
				},
			}); err != nil {
				if errors.Is(err, paymentevents.ErrDuplicate) {
					return errCancelReplayed
				}
				return err
			}
			if err := repo.MarkCancelRequested(storageCtx, paymentID, now); err != nil {
				return err
			}
			if row.CancelRequestedAt == nil {
				row.CancelRequestedAt = &now
			}
			row.UpdatedAt = now
			return nil
		})
	})
	if errors.Is(err, errCancelReplayed) {
		replayed = true
		err = nil
	}
	if err != nil {
		return nil, storageError(err, "request cancel")
	}

	ctx = s.logg.WithTerminalID(ctx, payment.TerminalID)
	result := &CancelResult{Replayed: replayed}
	if replayed {
		s.logg.Info(ctx, "cancel request replayed")
		result.Payment = NewPaymentView(payment)
		return result, nil
	}

	s.logg.Info(ctx, "cancel requested")
	outcome, err := s.dispatcher.ClaimAndDispatch(ctx, payment, dispatch.NewCancelCommand(payment, key, req.Reason, now))
	if err != nil {
		return nil, err
	}
	result.Dispatch = &outcome
	result.Payment = NewPaymentView(payment)
	return result, nil
}

func (s *service) ListEvents(ctx context.Context, paymentID uuid.UUID) ([]EventView, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	var rows []models.PaymentEvent
	err := s.withStorage(ctx, func(storageCtx context.Context) error {
		if _, err := s.repo.FindByID(storageCtx, paymentID); err != nil {
			return err
		}
		events, err := s.events.List(storageCtx, paymentID)
		rows = events
		return err
	})
	if err != nil {
		return nil, storageError(err, "list payment events")
	}

	views := make([]EventView, 0, len(rows))
	for _, row := range rows {
		payload := map[string]any{}
		if len(row.Payload) > 0 {
			if err := json.Unmarshal(row.Payload, &payload); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode event payload")
			}
		}
		views = append(views, EventView{
			EventID:        row.EventID,
			EventType:      row.EventType,
			Message:        row.Message,
			Payload:        payload,
			IdempotencyKey: row.IdempotencyKey,
			CreatedAt:      row.CreatedAt,
		})
	}
	return views, nil
}

// RetryPendingDispatch re-runs ClaimAndDispatch for payments whose PAY or
// CANCEL command was never confirmed and is at least minAge old.
func (s *service) RetryPendingDispatch(ctx context.Context, minAge time.Duration, limit int) (RetryReport, error) {
	var report RetryReport
	if limit <= 0 {
		return report, pkgerrors.New(pkgerrors.CodeValidation, "limit must be positive")
	}
	cutoff := s.now().Add(-minAge)

	var pending, canceling []models.Payment
	err := s.withStorage(ctx, func(storageCtx context.Context) error {
		var err error
		if pending, err = s.repo.ListPendingDispatch(storageCtx, cutoff, limit); err != nil {
			return err
		}
		canceling, err = s.repo.ListPendingCancel(storageCtx, cutoff, limit)
		return err
	})
	if err != nil {
		return report, storageError(err, "list pending dispatches")
	}

	var errs []error
	for i := range pending {
		payment := &pending[i]
		outcome, err := s.dispatcher.ClaimAndDispatch(ctx, payment, dispatch.NewPayCommand(payment))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Pay.record(outcome)
		if outcome.Err != nil {
			errs = append(errs, outcome.Err)
		}
	}

	for i := range canceling {
		payment := &canceling[i]
		cmd, err := s.pendingCancelCommand(ctx, payment)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		outcome, err := s.dispatcher.ClaimAndDispatch(ctx, payment, cmd)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Cancel.record(outcome)
		if outcome.Err != nil {
			errs = append(errs, outcome.Err)
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"pay_scanned":      report.Pay.Scanned,
		"pay_published":    report.Pay.Published,
		"cancel_scanned":   report.Cancel.Scanned,
		"cancel_published": report.Cancel.Published,
	})
	s.logg.Info(logCtx, "dispatch retry sweep complete")
	return report, multierr.Combine(errs...)
}

// pendingCancelCommand rebuilds the CANCEL command from the most recent accepted request.
func (s *service) pendingCancelCommand(ctx context.Context, payment *models.Payment) (dispatch.Command, error) {
	var latest *models.PaymentEvent
	err := s.withStorage(ctx, func(storageCtx context.Context) error {
		event, err := s.events.Repo().Latest(storageCtx, payment.PaymentID, enums.PaymentEventCancelRequested)
		latest = event
		return err
	})
	if err != nil {
		return dispatch.Command{}, storageError(err, "load cancel request")
	}

	requestedAt := s.now()
	if payment.CancelRequestedAt != nil {
		requestedAt = *payment.CancelRequestedAt
	}
	var key, reason string
	if latest != nil {
		if latest.IdempotencyKey != nil {
			key = *latest.IdempotencyKey
		}
		var payload struct {
			Reason string `json:"reason"`
		}
		if len(latest.Payload) > 0 {
			if err := json.Unmarshal(latest.Payload, &payload); err != nil {
				logCtx := s.logg.WithPaymentID(ctx, payment.PaymentID.String())
				logCtx = s.logg.WithFields(logCtx, map[string]any{
					"event_id": latest.EventID.String(),
					"error":    err.Error(),
				})
				s.logg.Warn(logCtx, "cancel request payload unreadable; retrying without reason")
			}
			reason = payload.Reason
		}
	}
	return dispatch.NewCancelCommand(payment, key, reason, requestedAt), nil
}

func (s *service) Policy() lifecycle.PolicySnapshot {
	return s.policy.Snapshot()
}

// withStorage bounds fn by the configured query timeout.
func (s *service) withStorage(ctx context.Context, fn func(ctx context.Context) error) error {
	storageCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return fn(storageCtx)
}

func storageError(err error, action string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeStorage, err, action)
}

func normalizePayRequest(req PayRequest) PayRequest {
	req.MerchantID = strings.TrimSpace(req.MerchantID)
	req.StoreID = strings.TrimSpace(req.StoreID)
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.InvoiceID != nil {
		invoice := strings.TrimSpace(*req.InvoiceID)
		if invoice == "" {
			req.InvoiceID = nil
		} else {
			req.InvoiceID = &invoice
		}
	}
	return req
}

func validatePayRequest(req PayRequest) error {
	details := map[string]string{}
	if req.MerchantID == "" {
		details["merchant_id"] = "is required"
	}
	if req.StoreID == "" {
		details["store_id"] = "is required"
	}
	if req.TerminalID == "" {
		details["terminal_id"] = "is required"
	}
	if req.Amount <= 0 {
		details["amount"] = "must be greater than 0"
	}
	if req.DebitCredit != nil && !req.DebitCredit.IsValid() {
		details["debit_credit"] = "is invalid"
	}
	if msg := idempotencyKeyProblem(req.IdempotencyKey); msg != "" {
		details["idempotency_key"] = msg
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return nil
}

func validateIdempotencyKey(key string) error {
	if msg := idempotencyKeyProblem(key); msg != "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"idempotency_key": msg})
	}
	return nil
}

func idempotencyKeyProblem(key string) string {
	switch {
	case key == "":
		return "is required"
	case len(key) < MinIdempotencyKeyLength:
		return fmt.Sprintf("must be at least %d", MinIdempotencyKeyLength)
	case len(key) > MaxIdempotencyKeyLength:
		return fmt.Sprintf("must be at most %d", MaxIdempotencyKeyLength)
	}
	return ""
}
