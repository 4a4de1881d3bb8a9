package errors

import (
	"fmt"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	se, ok := err.(*SyncError)
	if !ok {
		se = Wrap(CodeOperationFailed, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", se.Message))

	if len(se.Details) > 0 {
		keys := make([]string, 0, len(se.Details))
		for k := range se.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, se.Details[k]))
		}
	}

	for _, s := range se.Suggestions {
		sb.WriteString(fmt.Sprintf("Suggestion: %s\n", s))
	}

	sb.WriteString(fmt.Sprintf("[%s]", se.Code))
	return sb.String()
}

// Envelope is the structured failure shape every tool returns.
type Envelope struct {
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Message     string            `json:"message"`
	Details     map[string]string `json:"details,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
}

// ToEnvelope converts any error to the tool-surface failure envelope.
func ToEnvelope(err error) Envelope {
	if err == nil {
		return Envelope{Success: true}
	}

	se, ok := err.(*SyncError)
	if !ok {
		se = Wrap(CodeOperationFailed, err)
	}

	return Envelope{
		Success:     false,
		Error:       se.Code,
		Message:     se.Message,
		Details:     se.Details,
		Suggestions: se.Suggestions,
	}
}
