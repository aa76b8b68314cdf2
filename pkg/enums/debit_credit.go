package enums

import "fmt"

// DebitCredit selects the card rail a terminal should use.
type DebitCredit string

const (
	DebitCreditDebit  DebitCredit = "DEBIT"
	DebitCreditCredit DebitCredit = "CREDIT"
)

var validDebitCredit = []DebitCredit{
	DebitCreditDebit,
	DebitCreditCredit,
}

// String implements fmt.Stringer.
func (d DebitCredit) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DebitCredit.
func (d DebitCredit) IsValid() bool {
	for _, candidate := range validDebitCredit {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDebitCredit converts raw input into a DebitCredit.
func ParseDebitCredit(value string) (DebitCredit, error) {
	for _, candidate := range validDebitCredit {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid debit/credit value %q", value)
}
