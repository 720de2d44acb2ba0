// Package validate holds the field-level validation rules for user-supplied
// ticket content. All checks trim surrounding whitespace first and measure
// length in runes, so multi-byte input is not penalized.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Field length bounds.
const (
	TitleMin       = 3
	TitleMax       = 100
	DescriptionMin = 10
	DescriptionMax = 1000
	// DraftDescriptionMin is the looser bound used during conversational
	// intake, where a short free-form message is acceptable.
	DraftDescriptionMin = 3
	LocationMin         = 2
	LocationMax         = 100
	CommentMax          = 500
	// SanitizeMax caps raw inbound text before any field validation runs.
	SanitizeMax = 10000
)

// Error describes a single failed validation check on a named field.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validate: %s: %s", e.Field, e.Reason)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func tooShort(field string, min int) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf("must be at least %d characters", min)}
}

func tooLong(field string, max int) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf("must be at most %d characters", max)}
}

// Title checks a ticket title and returns the trimmed value.
func Title(s string) (string, error) {
	s = strings.TrimSpace(s)
	if runeLen(s) < TitleMin {
		return "", tooShort("title", TitleMin)
	}
	if runeLen(s) > TitleMax {
		return "", tooLong("title", TitleMax)
	}
	return s, nil
}

// Description checks a full ticket description and returns the trimmed value.
func Description(s string) (string, error) {
	s = strings.TrimSpace(s)
	if runeLen(s) < DescriptionMin {
		return "", tooShort("description", DescriptionMin)
	}
	if runeLen(s) > DescriptionMax {
		return "", tooLong("description", DescriptionMax)
	}
	return s, nil
}

// DraftDescription checks a description captured conversationally, where the
// lower bound is relaxed.
func DraftDescription(s string) (string, error) {
	s = strings.TrimSpace(s)
	if runeLen(s) < DraftDescriptionMin {
		return "", tooShort("description", DraftDescriptionMin)
	}
	if runeLen(s) > DescriptionMax {
		return "", tooLong("description", DescriptionMax)
	}
	return s, nil
}

// Location checks a ticket location and returns the trimmed value.
func Location(s string) (string, error) {
	s = strings.TrimSpace(s)
	if runeLen(s) < LocationMin {
		return "", tooShort("location", LocationMin)
	}
	if runeLen(s) > LocationMax {
		return "", tooLong("location", LocationMax)
	}
	return s, nil
}

// Comment checks a comment body and returns the trimmed value.
func Comment(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &Error{Field: "comment", Reason: "must not be empty"}
	}
	if runeLen(s) > CommentMax {
		return "", tooLong("comment", CommentMax)
	}
	return s, nil
}

// Sanitize collapses whitespace runs in raw inbound text to single spaces
// and caps the result at SanitizeMax runes.
func Sanitize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > SanitizeMax {
		return string(runes[:SanitizeMax])
	}
	return s
}

// TitleFromDescription derives a ticket title from its description by
// truncating to the title limit.
func TitleFromDescription(desc string) string {
	runes := []rune(strings.TrimSpace(desc))
	if len(runes) > TitleMax {
		runes = runes[:TitleMax]
	}
	return string(runes)
}
