// Package validate runs struct-tag validation and reports failures as
// model.ErrValidation.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/papertrade/trading-engine/internal/model"
)

// validator.Validate caches struct metadata and is safe for concurrent use.
var v = validator.New()

// Struct validates s. Failures are flattened into "field: rule" pairs.
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, strings.ToLower(fe.Field())+": "+rule)
	}
	return fmt.Errorf("%w: %s", model.ErrValidation, strings.Join(parts, ", "))
}
