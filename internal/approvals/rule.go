// Package approvals implements the approval gate: typed approval rules,
// the verdict resolution algorithm, and approval request records.
package approvals

import (
	"fmt"
	"slices"
	"strings"
)

// Kind discriminates the rule variants.
type Kind string

const (
	KindSingle Kind = "single"
	KindGroup  Kind = "group"
)

// RuleType is the policy a group uses to reach a verdict.
type RuleType string

const (
	// Any accepts on the first approval and rejects only once every member rejected.
	Any RuleType = "any"
	// All accepts once every member approved and rejects on the first rejection.
	All RuleType = "all"
	// Sequential lets members respond one at a time in declared order.
	Sequential RuleType = "sequential"
)

// Rule is the closed set of approval rules: Single or Group.
type Rule interface {
	Kind() Kind
	// Approvers returns the approver ids, in order for Sequential groups.
	Approvers() []string
	rule()
}

// Single requires one named approver.
type Single struct {
	ApproverID string
}

func (Single) Kind() Kind            { return KindSingle }
func (s Single) Approvers() []string { return []string{s.ApproverID} }
func (Single) rule()                 {}

// Group requires a verdict from a set of approvers under a RuleType.
type Group struct {
	ApproverIDs []string
	Type        RuleType
}

func (Group) Kind() Kind            { return KindGroup }
func (g Group) Approvers() []string { return g.ApproverIDs }
func (Group) rule()                 {}

// Spec is the serialized form of a Rule, used in request bodies, circuit
// definitions, and request snapshots.
type Spec struct {
	Kind      Kind     `json:"kind" yaml:"kind"`
	Type      RuleType `json:"type,omitempty" yaml:"type,omitempty"`
	Approvers []string `json:"approvers" yaml:"approvers"`
}

// SpecOf returns the serialized form of r.
func SpecOf(r Rule) Spec {
	switch r := r.(type) {
	case Single:
		return Spec{Kind: KindSingle, Approvers: []string{r.ApproverID}}
	case Group:
		return Spec{Kind: KindGroup, Type: r.Type, Approvers: slices.Clone(r.ApproverIDs)}
	default:
		panic(fmt.Sprintf("approvals: unknown rule %T", r))
	}
}

// Rule validates the spec and returns the typed rule.
// Any and All groups drop duplicate approvers; Sequential groups reject them
// since their order would be ambiguous.
func (s Spec) Rule() (Rule, error) {
	approvers := make([]string, 0, len(s.Approvers))
	for _, a := range s.Approvers {
		a = strings.TrimSpace(a)
		if a == "" {
			return nil, fmt.Errorf("%w: empty approver id", ErrInvalidRule)
		}
		approvers = append(approvers, a)
	}

	switch s.Kind {
	case KindSingle:
		if s.Type != "" {
			return nil, fmt.Errorf("%w: single rule takes no type", ErrInvalidRule)
		}
		if len(approvers) != 1 {
			return nil, fmt.Errorf("%w: single rule needs exactly one approver, got %d", ErrInvalidRule, len(approvers))
		}
		return Single{ApproverID: approvers[0]}, nil

	case KindGroup:
		if len(approvers) == 0 {
			return nil, fmt.Errorf("%w: group rule needs at least one approver", ErrInvalidRule)
		}
		switch s.Type {
		case Any, All:
			return Group{ApproverIDs: dedupe(approvers), Type: s.Type}, nil
		case Sequential:
			if len(dedupe(approvers)) != len(approvers) {
				return nil, fmt.Errorf("%w: sequential group lists an approver twice", ErrInvalidRule)
			}
			return Group{ApproverIDs: approvers, Type: Sequential}, nil
		default:
			return nil, fmt.Errorf("%w: unknown group type %q", ErrInvalidRule, s.Type)
		}

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, s.Kind)
	}
}

// Restrict keeps only the approvers accepted by keep, preserving order.
// The result is not validated: restricting may leave no approvers.
func (s Spec) Restrict(keep func(string) bool) Spec {
	out := Spec{Kind: s.Kind, Type: s.Type, Approvers: make([]string, 0, len(s.Approvers))}
	for _, a := range s.Approvers {
		if keep(a) {
			out.Approvers = append(out.Approvers, a)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
