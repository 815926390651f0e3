package validate

import (
	"fmt"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/SplitFi/go-threads/service/persist"
)

// ValWithTags pairs a value with the validator tags it must satisfy.
type ValWithTags struct {
	Value interface{}
	Tag   string
}

// ValidationMap maps a field name (used in error messages) to its value and tags.
type ValidationMap map[string]ValWithTags

// ErrInvalidInput aggregates every field that failed validation.
type ErrInvalidInput struct {
	Parameters []string
	Reasons    []string
}

func (e ErrInvalidInput) Error() string {
	str := "invalid input:\n"
	for i := range e.Parameters {
		str += fmt.Sprintf("    parameter '%s' failed validation: %s\n", e.Parameters[i], e.Reasons[i])
	}
	return str
}

// WithCustomValidators returns a validator with the project's custom tags registered.
func WithCustomValidators() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("target_type", TargetTypeValidator)
	v.RegisterValidation("comment_content", CommentContentValidator)
	return v
}

// ValidateFields validates each entry of fields and returns a single ErrInvalidInput
// listing every failure, or nil.
func ValidateFields(v *validator.Validate, fields ValidationMap) error {
	var invalid ErrInvalidInput
	for name, valWithTags := range fields {
		if err := v.Var(valWithTags.Value, valWithTags.Tag); err != nil {
			invalid.Parameters = append(invalid.Parameters, name)
			invalid.Reasons = append(invalid.Reasons, err.Error())
		}
	}
	if len(invalid.Parameters) > 0 {
		return invalid
	}
	return nil
}

// TargetTypeValidator accepts the content item kinds comments can hang off.
func TargetTypeValidator(fl validator.FieldLevel) bool {
	switch t := fl.Field().Interface().(type) {
	case persist.TargetType:
		return t.IsValid()
	case string:
		return persist.TargetType(t).IsValid()
	}
	return false
}

// CommentContentValidator rejects content that is empty once whitespace is trimmed.
func CommentContentValidator(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	return ok && strings.TrimSpace(s) != ""
}

var contentPolicy = bluemonday.StrictPolicy()

const maxSanitizePasses = 8

// SanitizeContent strips markup from user-supplied comment text. Mentions and
// plain text pass through untouched. Entities are decoded before the policy runs,
// so encoded markup is stripped too. The result is a fixed point: sanitizing it
// again changes nothing. Content that does not settle is dropped.
func SanitizeContent(s string) string {
	for i := 0; i < maxSanitizePasses; i++ {
		next := sanitizePass(s)
		if next == s {
			return s
		}
		s = next
	}
	return ""
}

func sanitizePass(s string) string {
	return strings.TrimSpace(html.UnescapeString(contentPolicy.Sanitize(html.UnescapeString(s))))
}
