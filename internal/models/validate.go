package models

import (
	"fmt"
	"strings"

	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"golang.org/x/text/unicode/norm"
)

// MaxTags is the maximum number of tags kept on a card.
const MaxTags = 10

// ValidationError describes a rejected input. It unwraps to
// errors.ErrValidation so callers can test with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return kerrors.ErrValidation }

// ValidateTitle trims and NFC-normalizes a title. Empty titles are
// rejected.
func ValidateTitle(title string) (string, error) {
	v := norm.NFC.String(strings.TrimSpace(title))
	if v == "" {
		return "", &ValidationError{Field: "title", Message: "Required"}
	}

	return v, nil
}

// ValidateTags trims each tag, drops empties and keeps at most MaxTags.
// Duplicates are kept. The typed input leaves nothing to reject, so
// sanitizing cannot fail.
func ValidateTags(tags []string) []string {
	cleaned := make([]string, 0, min(len(tags), MaxTags))

	for _, t := range tags {
		t = norm.NFC.String(strings.TrimSpace(t))
		if t == "" {
			continue
		}

		cleaned = append(cleaned, t)
		if len(cleaned) == MaxTags {
			break
		}
	}

	return cleaned
}
