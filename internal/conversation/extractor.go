package conversation

import (
	"regexp"
	"strings"
)

const (
	fieldEmail = "email"
	fieldPhone = "phone"

	// maxFreeTextWords is the longest message assigned positionally to the
	// next pending field.
	maxFreeTextWords = 4
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
)

// FieldUpdate is the single field an extraction pass populated.
type FieldUpdate struct {
	FieldID string
	Value   string
}

// OK reports whether the update carries a value.
func (u FieldUpdate) OK() bool {
	return u.FieldID != ""
}

// Extract pulls at most one field value out of message. The email and phone
// patterns only fill their own fields when those are configured and still
// pending; otherwise a short message is assigned to the first pending field.
// A zero FieldUpdate means nothing was recognized.
func Extract(message string, collected map[string]string, pendingOrder []string) FieldUpdate {
	text := strings.TrimSpace(message)
	if text == "" {
		return FieldUpdate{}
	}

	pending := make(map[string]bool, len(pendingOrder))
	for _, id := range pendingOrder {
		if strings.TrimSpace(collected[id]) == "" {
			pending[id] = true
		}
	}

	email := emailPattern.FindString(text)
	if email != "" && pending[fieldEmail] {
		return FieldUpdate{FieldID: fieldEmail, Value: email}
	}

	phone := phonePattern.FindString(text)
	if phone != "" && pending[fieldPhone] {
		return FieldUpdate{FieldID: fieldPhone, Value: phone}
	}

	if email != "" || phone != "" {
		return FieldUpdate{}
	}
	if len(strings.Fields(text)) > maxFreeTextWords {
		return FieldUpdate{}
	}
	for _, id := range pendingOrder {
		if pending[id] {
			return FieldUpdate{FieldID: id, Value: text}
		}
	}
	return FieldUpdate{}
}

// extractPatterns returns email and phone values found in message for fields
// that exist in order, regardless of whether they are already filled.
func extractPatterns(message string, order []string) []FieldUpdate {
	var out []FieldUpdate
	has := func(id string) bool {
		for _, o := range order {
			if o == id {
				return true
			}
		}
		return false
	}
	if v := emailPattern.FindString(message); v != "" && has(fieldEmail) {
		out = append(out, FieldUpdate{FieldID: fieldEmail, Value: v})
	}
	if v := phonePattern.FindString(message); v != "" && has(fieldPhone) {
		out = append(out, FieldUpdate{FieldID: fieldPhone, Value: v})
	}
	return out
}
