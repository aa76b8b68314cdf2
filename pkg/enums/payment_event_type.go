package enums

// PaymentEventType tags an entry in the payment event log. The set is open:
// outcome producers may record their own tags, so only the core ones are named.
type PaymentEventType string

const (
	PaymentEventRequested         PaymentEventType = "PAYMENT_REQUESTED"
	PaymentEventIdempotencyReplay PaymentEventType = "IDEMPOTENCY_REPLAY"
	PaymentEventDispatched        PaymentEventType = "PAYMENT_DISPATCHED"
	PaymentEventDispatchError     PaymentEventType = "DISPATCH_ERROR"
	PaymentEventStatusChanged     PaymentEventType = "STATUS_CHANGED"
	PaymentEventCancelRequested   PaymentEventType = "CANCEL_REQUESTED"
	PaymentEventCancelDispatched  PaymentEventType = "CANCEL_DISPATCHED"
)

// String implements fmt.Stringer.
func (e PaymentEventType) String() string {
	return string(e)
}
