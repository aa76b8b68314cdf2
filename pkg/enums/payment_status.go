package enums

import "fmt"

// PaymentStatus tracks the lifecycle of a terminal payment.
type PaymentStatus string

const (
	PaymentStatusInProgress PaymentStatus = "IN_PROGRESS"
	PaymentStatusApproved   PaymentStatus = "APPROVED"
	PaymentStatusDeclined   PaymentStatus = "DECLINED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusCanceled   PaymentStatus = "CANCELED"
	PaymentStatusVoided     PaymentStatus = "VOIDED"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusInProgress,
	PaymentStatusApproved,
	PaymentStatusDeclined,
	PaymentStatusFailed,
	PaymentStatusCanceled,
	PaymentStatusVoided,
}

// PaymentStatuses returns every known status in declaration order.
func PaymentStatuses() []PaymentStatus {
	out := make([]PaymentStatus, len(validPaymentStatuses))
	copy(out, validPaymentStatuses)
	return out
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can follow this status.
func (p PaymentStatus) IsTerminal() bool {
	return p.IsValid() && p != PaymentStatusInProgress
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
