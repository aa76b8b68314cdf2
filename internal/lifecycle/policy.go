package lifecycle

import (
	"fmt"

	"github.com/angelmondragon/terminalpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay-backend/pkg/errors"
)

// DefaultPolicyVersion identifies the transition table the service ships with.
const DefaultPolicyVersion = "2026-03-01"

// Policy is a versioned allowed-transition table. It is immutable once built.
type Policy struct {
	version string
	allowed map[enums.PaymentStatus]map[enums.PaymentStatus]struct{}
}

// Rules maps a current status to the statuses it may move to.
type Rules map[enums.PaymentStatus][]enums.PaymentStatus

// DefaultRules returns the shipped graph: IN_PROGRESS fans out to every outcome,
// every outcome is a sink.
func DefaultRules() Rules {
	return Rules{
		enums.PaymentStatusInProgress: {
			enums.PaymentStatusApproved,
			enums.PaymentStatusDeclined,
			enums.PaymentStatusFailed,
			enums.PaymentStatusCanceled,
			enums.PaymentStatusVoided,
		},
		enums.PaymentStatusApproved: {},
		enums.PaymentStatusDeclined: {},
		enums.PaymentStatusFailed:   {},
		enums.PaymentStatusCanceled: {},
		enums.PaymentStatusVoided:   {},
	}
}

// DefaultPolicy builds the shipped policy.
func DefaultPolicy() *Policy {
	policy, err := NewPolicy(DefaultPolicyVersion, DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("default lifecycle policy invalid: %v", err))
	}
	return policy
}

// NewPolicy validates rules and freezes them. Every known status must appear,
// and terminal statuses must have no outgoing edges.
func NewPolicy(version string, rules Rules) (*Policy, error) {
	if version == "" {
		return nil, fmt.Errorf("policy version required")
	}

	allowed := make(map[enums.PaymentStatus]map[enums.PaymentStatus]struct{}, len(rules))
	for from, targets := range rules {
		if !from.IsValid() {
			return nil, fmt.Errorf("unknown status %q in policy", from)
		}
		if from.IsTerminal() && len(targets) > 0 {
			return nil, fmt.Errorf("terminal status %s cannot have transitions", from)
		}
		set := make(map[enums.PaymentStatus]struct{}, len(targets))
		for _, to := range targets {
			if !to.IsValid() {
				return nil, fmt.Errorf("unknown target status %q from %s", to, from)
			}
			if to == from {
				return nil, fmt.Errorf("self transition %s is not allowed", from)
			}
			set[to] = struct{}{}
		}
		allowed[from] = set
	}

	for _, status := range enums.PaymentStatuses() {
		if _, ok := allowed[status]; !ok {
			return nil, fmt.Errorf("policy missing status %s", status)
		}
	}

	return &Policy{version: version, allowed: allowed}, nil
}

func (p *Policy) Version() string {
	return p.version
}

// Next lists the statuses reachable from the given one, in declaration order.
func (p *Policy) Next(from enums.PaymentStatus) []enums.PaymentStatus {
	set := p.allowed[from]
	out := make([]enums.PaymentStatus, 0, len(set))
	for _, status := range enums.PaymentStatuses() {
		if _, ok := set[status]; ok {
			out = append(out, status)
		}
	}
	return out
}

// Allows reports whether from -> to is a legal edge.
func (p *Policy) Allows(from, to enums.PaymentStatus) bool {
	_, ok := p.allowed[from][to]
	return ok
}

// Check returns a validation error for an unknown target and an invalid
// transition error for a disallowed edge.
func (p *Policy) Check(from, to enums.PaymentStatus) error {
	if !to.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown target status %q", to).
			WithDetails(map[string]any{"target_status": string(to)})
	}
	if p.Allows(from, to) {
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeInvalidTransition, "transition %s -> %s not allowed", from, to).
		WithDetails(map[string]any{
			"from":           string(from),
			"to":             string(to),
			"policy_version": p.version,
			"allowed":        statusStrings(p.Next(from)),
		})
}

// Snapshot renders the table for audit endpoints.
func (p *Policy) Snapshot() PolicySnapshot {
	transitions := make(map[string][]string, len(p.allowed))
	for _, status := range enums.PaymentStatuses() {
		transitions[string(status)] = statusStrings(p.Next(status))
	}
	return PolicySnapshot{Version: p.version, Transitions: transitions}
}

// PolicySnapshot is the serialisable form of a Policy.
type PolicySnapshot struct {
	Version     string              `json:"version"`
	Transitions map[string][]string `json:"transitions"`
}

func statusStrings(statuses []enums.PaymentStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
