package content

import (
	"bytes"
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

const maxIDLength = 64

var (
	policy   = bluemonday.UGCPolicy()
	markdown = goldmark.New()
	idRegex  = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("id", func(fl validator.FieldLevel) bool {
		return ValidateID(fl.Field().String()) == nil
	})
	return v
}

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for message content before it is persisted.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Render converts markdown message content into sanitized HTML.
func Render(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(policy.Sanitize(buf.String())), nil
}

// ValidateID checks that an identifier is non-empty, short and contains only
// alphanumeric characters, dots, dashes and underscores.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if len(id) > maxIDLength {
		return errors.New("id is too long")
	}
	if !idRegex.MatchString(id) {
		return errors.New("id contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// Validate runs the struct's validate tags. The "id" tag applies ValidateID.
func Validate(v any) error {
	return validate.Struct(v)
}
