package conversation

import (
	"strings"

	"github.com/ashureev/callagent/internal/domain"
)

// PendingFields returns, in prompt order, the ids still needing an answer:
// required core fields first, then every additional question.
func PendingFields(collected map[string]string, def *domain.AgentDefinition) []string {
	var pending []string
	for _, f := range def.Fields {
		if f.Required && blank(collected[f.ID]) {
			pending = append(pending, f.ID)
		}
	}
	for _, q := range def.Questions {
		if blank(collected[q.ID]) {
			pending = append(pending, q.ID)
		}
	}
	return pending
}

// NeedsMoreData reports whether any required core field or any additional
// question is unanswered.
func NeedsMoreData(collected map[string]string, def *domain.AgentDefinition) bool {
	for _, f := range def.Fields {
		if f.Required && blank(collected[f.ID]) {
			return true
		}
	}
	for _, q := range def.Questions {
		if blank(collected[q.ID]) {
			return true
		}
	}
	return false
}

// CanOfferBooking reports whether all data is in and the call is still open.
func CanOfferBooking(collected map[string]string, step domain.Step, def *domain.AgentDefinition) bool {
	return !NeedsMoreData(collected, def) && step != domain.StepComplete
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
