package oracle

import (
	"encoding/json"
	"strings"
)

type Status string

const (
	StatusQuestion Status = "question"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusError    Status = "error"
)

// Verdict is the structured outcome of one oracle evaluation. Duration is
// only meaningful for approvals and is clamped later by the protocol engine.
type Verdict struct {
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Duration int    `json:"duration,omitempty"`
}

// ErrorVerdict builds the error-case verdict surfaced to callers on
// transport or parse failures.
func ErrorVerdict(message string) Verdict {
	return Verdict{Status: StatusError, Message: message}
}

// ParseVerdict coerces raw model output into a Verdict. The backend is an
// unreliable text generator: it wraps JSON in code fences, prepends prose,
// or ignores the format contract entirely. The fallback ladder is load
// bearing and must stay: strip fences, extract the outermost braces, then
// classify free text by question mark and approval/denial keywords.
func ParseVerdict(raw string) Verdict {
	text := strings.TrimSpace(raw)

	text = stripCodeFences(text)

	if !strings.HasPrefix(text, "{") {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start != -1 && end > start {
			text = text[start : end+1]
		}
	}

	var v Verdict
	if err := json.Unmarshal([]byte(text), &v); err == nil && validStatus(v.Status) {
		return v
	}

	return classifyFreeText(text)
}

func stripCodeFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	end := len(lines)
	for i := 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:end], "\n"))
}

func validStatus(s Status) bool {
	switch s {
	case StatusQuestion, StatusApproved, StatusDenied, StatusError:
		return true
	}
	return false
}

func classifyFreeText(text string) Verdict {
	if strings.Contains(text, "?") {
		return Verdict{Status: StatusQuestion, Message: text}
	}
	lower := strings.ToLower(text)
	for _, word := range []string{"approved", "granted", "allow", "yes"} {
		if strings.Contains(lower, word) {
			return Verdict{Status: StatusApproved, Duration: 10, Message: text}
		}
	}
	for _, word := range []string{"denied", "reject", "no", "wait"} {
		if strings.Contains(lower, word) {
			return Verdict{Status: StatusDenied, Message: text}
		}
	}
	return Verdict{Status: StatusQuestion, Message: text}
}
