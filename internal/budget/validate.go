package budget

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"budgetsync/internal/model"
)

var (
	// ErrInvalidInput wraps every validation failure from the mutation API.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoUser is returned when the coordinator has no user context.
	ErrNoUser = errors.New("no user configured")
)

var monthRegex = regexp.MustCompile(`^[0-9]{4}-(0[1-9]|1[0-2])$`)

// ItemInput carries the user-editable fields of a line item.
type ItemInput struct {
	Type     model.LineItemType `validate:"required,line_item_type"`
	Category string             `validate:"required,max=64"`
	Name     string             `validate:"required,max=200"`
	Amount   decimal.Decimal    `validate:"gte=0"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// Decimals validate as their float value so numeric tags apply.
		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
		_ = v.RegisterValidation("month", validateMonth)
		_ = v.RegisterValidation("line_item_type", validateLineItemType)
		validate = v
	})
	return validate
}

func validateMonth(fl validator.FieldLevel) bool {
	return monthRegex.MatchString(fl.Field().String())
}

func validateLineItemType(fl validator.FieldLevel) bool {
	switch model.LineItemType(fl.Field().String()) {
	case model.ItemIncome, model.ItemObligation:
		return true
	}
	return false
}

// ValidateMonth checks a YYYY-MM month identifier.
func ValidateMonth(month string) error {
	if err := getValidator().Var(month, "required,month"); err != nil {
		return fmt.Errorf("%w: month %q must be YYYY-MM", ErrInvalidInput, month)
	}
	return nil
}

// Validate checks the item fields.
func (in ItemInput) Validate() error {
	in.Category = strings.TrimSpace(in.Category)
	in.Name = strings.TrimSpace(in.Name)
	if err := getValidator().Struct(in); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}
	return nil
}

func validateAmounts(patch model.Amounts) error {
	for f, v := range patch {
		if !f.Valid() {
			return fmt.Errorf("%w: unknown budget field %q", ErrInvalidInput, f)
		}
		if v.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, f)
		}
	}
	return nil
}

// describe turns validator errors into a short "field: rule" list.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, strings.ToLower(fe.Field())+": "+rule)
	}
	return strings.Join(parts, ", ")
}
