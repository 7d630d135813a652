package conversation

import (
	"fmt"
	"strings"

	"github.com/ashureev/callagent/internal/domain"
)

var fillerPhrases = []string{
	"Great!",
	"Perfect.",
	"Alright.",
	"Okay.",
	"Got it.",
}

var acknowledgmentPhrases = []string{
	"Oh, sorry about that.",
	"Of course, go ahead.",
	"Sure, I'm listening.",
	"No problem.",
}

var interruptionFragments = map[domain.Step]string{
	domain.StepCollecting: "Let's continue with your information when you're ready.",
	domain.StepConfirming: "Just let me know if the details I read back are correct.",
	domain.StepBooking:    "Would you still like me to schedule that appointment?",
}

const defaultInterruptionFragment = "How can I help you?"

// Tokens matched by case-insensitive containment.
var (
	confirmTokens = []string{"yes", "correct", "right"}
	bookingTokens = []string{"yes", "sure", "book"}
)

const (
	greetingTemplate = "Hi, this is %s. Thanks for taking a moment to talk with me. I just need a few details to get you set up."
	bookingOffer     = "Thank you for confirming! Would you like to schedule an appointment with our team?"
	bookingAccepted  = "Wonderful! Someone from our team will reach out within 24 hours to confirm your appointment. Have a great day!"
	politeClose      = "No problem at all. Thank you for your time, and have a great day!"
	closedReplay     = "This call has already wrapped up. Thank you again for your time!"
	correctionAsk    = "No problem. What would you like to correct? You can tell me which detail, like your email or phone."
	correctionField  = "No problem, let's fix that."
	correctionApply  = "Thanks, I've updated that."
)

func containsAny(message string, tokens []string) bool {
	lower := strings.ToLower(message)
	for _, t := range tokens {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func greetingText(def *domain.AgentDefinition) string {
	name := def.Name
	if name == "" {
		name = "your assistant"
	}
	return fmt.Sprintf(greetingTemplate, name)
}

func promptFor(def *domain.AgentDefinition, id string) string {
	for _, f := range def.Fields {
		if f.ID == id {
			return fmt.Sprintf("Could you please tell me your %s?", strings.ToLower(def.LabelFor(id)))
		}
	}
	return def.LabelFor(id)
}

func summaryText(def *domain.AgentDefinition, collected map[string]string) string {
	var b strings.Builder
	b.WriteString("Let me make sure I have everything right.")
	for _, id := range def.FieldOrder() {
		v := strings.TrimSpace(collected[id])
		if v == "" {
			continue
		}
		fmt.Fprintf(&b, " %s: %s.", strings.TrimSuffix(def.LabelFor(id), "?"), v)
	}
	b.WriteString(" Is all of that correct?")
	return b.String()
}
