package businessflow

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var aliasPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// newValidator returns a validator with the segment rules registered
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("segment_alias", func(fl validator.FieldLevel) bool {
		return aliasPattern.MatchString(fl.Field().String())
	})
	return v
}

// validationError maps the first failing field to its sentinel
func validationError(err error, sentinels map[string]error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		// dive errors name the element, e.g. ExcludeIDs[2]
		field, _, _ := strings.Cut(verrs[0].StructField(), "[")
		if sentinel, ok := sentinels[field]; ok {
			return NewBusinessErrorf("VALIDATION_ERROR", "Invalid %s", sentinel, verrs[0].Field())
		}
		return NewBusinessErrorf("VALIDATION_ERROR", "Invalid %s", err, verrs[0].Field())
	}
	return NewBusinessError("VALIDATION_ERROR", "Invalid request", err)
}
