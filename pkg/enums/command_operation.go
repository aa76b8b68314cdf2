package enums

import "fmt"

// CommandOperation is the action a terminal command asks the processor to perform.
type CommandOperation string

const (
	CommandOperationPay    CommandOperation = "PAY"
	CommandOperationCancel CommandOperation = "CANCEL"
)

var validCommandOperations = []CommandOperation{
	CommandOperationPay,
	CommandOperationCancel,
}

// String implements fmt.Stringer.
func (c CommandOperation) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CommandOperation.
func (c CommandOperation) IsValid() bool {
	for _, candidate := range validCommandOperations {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCommandOperation converts raw input into a CommandOperation.
func ParseCommandOperation(value string) (CommandOperation, error) {
	for _, candidate := range validCommandOperations {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid command operation %q", value)
}
