package outcomes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/terminalpay-backend/internal/payments"
	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay-backend/pkg/errors"
	"github.com/angelmondragon/terminalpay-backend/pkg/idempotency"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
)

type fakeApplier struct {
	err   error
	calls []payments.ApplyEventRequest
	ids   []uuid.UUID
}

func (f *fakeApplier) ApplyEvent(_ context.Context, id uuid.UUID, req payments.ApplyEventRequest) (*payments.PaymentView, error) {
	f.ids = append(f.ids, id)
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &payments.PaymentView{PaymentID: id, Status: req.TargetStatus}, nil
}

type memoryStore struct {
	mu     sync.Mutex
	keys   map[string]bool
	setErr error
}

func (m *memoryStore) Get(context.Context, string) (string, error) { return "", nil }

func (m *memoryStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return false, m.setErr
	}
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "tp:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

type noopReceiver struct{}

func (noopReceiver) Receive(context.Context, func(context.Context, *pubsub.Message)) error {
	return nil
}

func newConsumer(t *testing.T, applier *fakeApplier, store *memoryStore) *Consumer {
	t.Helper()
	guard, err := idempotency.NewGuard(store, ConsumerName, time.Hour)
	require.NoError(t, err)
	logg := logger.New(logger.Options{ServiceName: "outcomes-test", Output: io.Discard})
	consumer, err := NewConsumer(applier, noopReceiver{}, guard, logg, nil)
	require.NoError(t, err)
	return consumer
}

func encode(t *testing.T, msg Message) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestProcessAppliesOutcomeOnce(t *testing.T) {
	applier := &fakeApplier{}
	consumer := newConsumer(t, applier, &memoryStore{})
	paymentID := uuid.New()
	data := encode(t, Message{
		PaymentID:          paymentID,
		Status:             enums.PaymentStatusApproved,
		ProcessorReference: "auth-778",
		Metadata:           map[string]any{"card_brand": "visa"},
	})

	result := consumer.process(context.Background(), "m-1", data)
	assert.Equal(t, resultApplied, result.label)
	assert.False(t, result.nack)
	require.Len(t, applier.calls, 1)
	assert.Equal(t, paymentID, applier.ids[0])
	assert.Equal(t, enums.PaymentStatusApproved, applier.calls[0].TargetStatus)
	assert.Equal(t, "auth-778", applier.calls[0].Metadata["processor_reference"])
	assert.Equal(t, "visa", applier.calls[0].Metadata["card_brand"])
	assert.Equal(t, "m-1", applier.calls[0].Metadata["message_id"])

	result = consumer.process(context.Background(), "m-1", data)
	assert.Equal(t, resultDuplicate, result.label)
	assert.Len(t, applier.calls, 1)
}

func TestProcessAcksBusinessRejections(t *testing.T) {
	cases := map[string]struct {
		err   error
		label string
	}{
		"invalid transition": {err: pkgerrors.New(pkgerrors.CodeInvalidTransition, "APPROVED -> DECLINED"), label: resultRejected},
		"unknown status":     {err: pkgerrors.New(pkgerrors.CodeValidation, "unknown target status"), label: resultRejected},
		"unknown payment":    {err: pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"), label: resultUnknown},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			consumer := newConsumer(t, &fakeApplier{err: tc.err}, &memoryStore{})
			result := consumer.process(context.Background(), "m-2", encode(t, Message{
				PaymentID: uuid.New(),
				Status:    enums.PaymentStatusDeclined,
			}))
			assert.Equal(t, tc.label, result.label)
			assert.False(t, result.nack)
		})
	}
}

func TestProcessNacksStorageErrorsAndClearsMark(t *testing.T) {
	store := &memoryStore{}
	applier := &fakeApplier{err: pkgerrors.Wrap(pkgerrors.CodeStorage, errors.New("conn reset"), "apply payment event")}
	consumer := newConsumer(t, applier, store)
	data := encode(t, Message{PaymentID: uuid.New(), Status: enums.PaymentStatusFailed})

	result := consumer.process(context.Background(), "m-3", data)
	assert.True(t, result.nack)
	assert.Equal(t, resultRetry, result.label)
	assert.Empty(t, store.keys)

	applier.err = nil
	result = consumer.process(context.Background(), "m-3", data)
	assert.Equal(t, resultApplied, result.label)
	assert.Len(t, applier.calls, 2)
}

func TestProcessMalformedMessages(t *testing.T) {
	applier := &fakeApplier{}
	consumer := newConsumer(t, applier, &memoryStore{})

	assert.Equal(t, resultMalformed, consumer.process(context.Background(), "m-4", []byte("{")).label)
	assert.Equal(t, resultMalformed, consumer.process(context.Background(), "m-5", []byte(`{"status":"APPROVED"}`)).label)
	assert.Empty(t, applier.calls)
}

func TestProcessNacksWhenIdempotencyStoreFails(t *testing.T) {
	applier := &fakeApplier{}
	consumer := newConsumer(t, applier, &memoryStore{setErr: errors.New("redis down")})

	result := consumer.process(context.Background(), "m-6", encode(t, Message{PaymentID: uuid.New(), Status: enums.PaymentStatusApproved}))
	assert.True(t, result.nack)
	assert.Empty(t, applier.calls)
}

func TestNewConsumerValidation(t *testing.T) {
	_, err := NewConsumer(nil, noopReceiver{}, nil, nil, nil)
	assert.Error(t, err)
}
