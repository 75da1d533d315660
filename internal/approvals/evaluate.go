package approvals

import (
	"fmt"
	"time"
)

// Decision is an approver's answer.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == Approve || d == Reject
}

// Response records one approver's decision on a request.
type Response struct {
	ApproverID  string    `json:"approver_id"`
	Decision    Decision  `json:"decision"`
	Comment     string    `json:"comment,omitempty"`
	RespondedAt time.Time `json:"responded_at"`
}

// Verdict is the outcome of evaluating a rule against its responses.
type Verdict string

const (
	Pending  Verdict = "pending"
	Accepted Verdict = "accepted"
	Rejected Verdict = "rejected"
)

// Evaluate resolves the verdict of rule given the responses collected so far.
// Responses from ids outside the rule are ignored. A rule without approvers
// is accepted.
func Evaluate(rule Rule, responses []Response) Verdict {
	approvers := rule.Approvers()
	if len(approvers) == 0 {
		return Accepted
	}

	decided := decisions(responses)

	switch r := rule.(type) {
	case Single:
		switch decided[r.ApproverID] {
		case Approve:
			return Accepted
		case Reject:
			return Rejected
		}
		return Pending

	case Group:
		switch r.Type {
		case Any:
			rejected := 0
			for _, a := range approvers {
				switch decided[a] {
				case Approve:
					return Accepted
				case Reject:
					rejected++
				}
			}
			if rejected == len(approvers) {
				return Rejected
			}
			return Pending

		case All:
			approved := 0
			for _, a := range approvers {
				switch decided[a] {
				case Reject:
					return Rejected
				case Approve:
					approved++
				}
			}
			if approved == len(approvers) {
				return Accepted
			}
			return Pending

		case Sequential:
			for _, a := range approvers {
				switch decided[a] {
				case Reject:
					return Rejected
				case Approve:
					continue
				}
				return Pending
			}
			return Accepted
		}
	}

	panic(fmt.Sprintf("approvals: unknown rule %T", rule))
}

// Awaiting returns the approvers who may respond next: the next in line for
// Sequential groups, otherwise everyone who has not responded. It is empty
// once the verdict is no longer Pending.
func Awaiting(rule Rule, responses []Response) []string {
	if Evaluate(rule, responses) != Pending {
		return []string{}
	}

	decided := decisions(responses)

	if g, ok := rule.(Group); ok && g.Type == Sequential {
		for _, a := range g.ApproverIDs {
			if _, ok := decided[a]; !ok {
				return []string{a}
			}
		}
		return []string{}
	}

	out := make([]string, 0, len(rule.Approvers()))
	for _, a := range rule.Approvers() {
		if _, ok := decided[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}

func decisions(responses []Response) map[string]Decision {
	m := make(map[string]Decision, len(responses))
	for _, r := range responses {
		m[r.ApproverID] = r.Decision
	}
	return m
}
