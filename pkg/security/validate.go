package security

import (
	"fmt"
	"strings"

	"github.com/polyagents/polyagents/pkg/fault"
)

const (
	// maxTextLength caps sanitized free-text inputs such as prompts.
	maxTextLength = 10000

	maxConversationIDLength = 100

	minSearchTermLength = 2
	maxSearchTermLength = 500
)

// SanitizeText truncates text to maxLen (maxTextLength when maxLen <= 0)
// and strips control characters other than newline, carriage return, and
// tab, then trims surrounding whitespace.
func SanitizeText(text string, maxLen int) string {
	if text == "" {
		return ""
	}
	if maxLen <= 0 {
		maxLen = maxTextLength
	}
	if len(text) > maxLen {
		text = text[:maxLen]
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// ValidateConversationID accepts non-empty ids of at most 100 characters
// drawn from [A-Za-z0-9_-], which covers UUIDs.
func ValidateConversationID(id string) error {
	const op = "security.ValidateConversationID"

	if id == "" {
		return &fault.Error{Kind: fault.KindValidation, Op: op, Message: "conversation id cannot be empty"}
	}
	if len(id) > maxConversationIDLength {
		return &fault.Error{Kind: fault.KindValidation, Op: op, Message: "conversation id too long"}
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return &fault.Error{Kind: fault.KindValidation, Op: op, Message: "conversation id contains invalid characters"}
		}
	}
	return nil
}

// ValidateSearchTerm bounds and sanitizes a search query, returning the
// sanitized form.
func ValidateSearchTerm(term string) (string, error) {
	const op = "security.ValidateSearchTerm"

	if term == "" {
		return "", &fault.Error{Kind: fault.KindValidation, Op: op, Message: "search term cannot be empty"}
	}
	if len(term) < minSearchTermLength {
		return "", &fault.Error{Kind: fault.KindValidation, Op: op, Message: fmt.Sprintf("search term too short (minimum %d characters)", minSearchTermLength)}
	}
	if len(term) > maxSearchTermLength {
		return "", &fault.Error{Kind: fault.KindValidation, Op: op, Message: fmt.Sprintf("search term too long (maximum %d characters)", maxSearchTermLength)}
	}
	return SanitizeText(term, maxSearchTermLength), nil
}
