package audit

import "fmt"

// Action is the routing outcome for an invoice
type Action string

const (
	ActionApproved            Action = "approved"
	ActionHumanReview         Action = "human_review"
	ActionEscalateNegotiation Action = "escalate_negotiation"
)

const (
	// ApprovalThreshold is the lowest score approved without review
	ApprovalThreshold = 80
	// EscalationThreshold is the score below which an invoice is escalated
	EscalationThreshold = 40
)

// Decision is the action taken for an invoice and why
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Decide routes an invoice. It is a pure function of its inputs; a nil
// narrative means the reasoning pass was unavailable.
func Decide(narrative *Narrative, score int, rubric Rubric) Decision {
	duplicate := narrative != nil && narrative.IsDuplicate

	if duplicate {
		return Decision{
			Action: ActionEscalateNegotiation,
			Reason: "Duplicate invoice detected.",
		}
	}
	if score < EscalationThreshold {
		return Decision{
			Action: ActionEscalateNegotiation,
			Reason: fmt.Sprintf("Confidence score %d below escalation threshold %d.", score, EscalationThreshold),
		}
	}

	if formal, ok := rubric.Result(CriterionFormalValidity); ok && formal.DataAvailable &&
		(formal.Verdict == nil || !formal.Verdict.Fulfilled) {
		reason := "Formal validity check failed."
		if formal.Verdict != nil {
			reason = formal.Verdict.Explanation
		}
		return Decision{Action: ActionHumanReview, Reason: reason}
	}

	if score < ApprovalThreshold {
		return Decision{
			Action: ActionHumanReview,
			Reason: fmt.Sprintf("Confidence score %d requires human review (threshold %d).", score, ApprovalThreshold),
		}
	}
	return Decision{Action: ActionApproved, Reason: "No anomalies detected."}
}
