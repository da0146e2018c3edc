package validation

import (
	"fmt"
	"regexp"

	playground "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/skillpay-gateway/internal"
)

const (
	// MaxAmountDigits matches the DECIMAL(10,2) amount column.
	MaxAmountDigits = 8
	AmountScale     = 2
)

var (
	contactNoPattern = regexp.MustCompile(`^[0-9]{10}$`)
	maxAmount        = decimal.New(1, MaxAmountDigits)
	tagValidator     = playground.New()
)

type ValidatorFunc func(interface{}) *errors.AppError

type FieldValidator struct {
	FieldName  string
	Value      interface{}
	Validators []ValidatorFunc
}

type ValidationBuilder struct {
	fields []FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{
		fields: make([]FieldValidator, 0),
	}
}

func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	fv := FieldValidator{
		FieldName:  name,
		Value:      value,
		Validators: make([]ValidatorFunc, 0),
	}
	v.fields = append(v.fields, fv)
	return &v.fields[len(v.fields)-1]
}

// add registers check, which returns a failure message or "" when value
// passes.
func (fv *FieldValidator) add(code errors.ErrorCode, check func(value interface{}) string) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if msg := check(value); msg != "" {
			return fv.fail(msg, code)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Required() *FieldValidator {
	return fv.add(errors.ErrCodeValidationFailed, func(value interface{}) string {
		if isBlank(value) {
			return fv.FieldName + " is required"
		}
		return ""
	})
}

func isBlank(value interface{}) bool {
	switch v := value.(type) {
	case string:
		return v == ""
	case *string:
		return v == nil || *v == ""
	case *decimal.Decimal:
		return v == nil
	}
	return false
}

// PositiveDecimal rejects zero and negative amounts.
func (fv *FieldValidator) PositiveDecimal(code errors.ErrorCode) *FieldValidator {
	return fv.add(code, func(value interface{}) string {
		if d, ok := asDecimal(value); ok && !d.IsPositive() {
			return fv.FieldName + " must be greater than zero"
		}
		return ""
	})
}

func (fv *FieldValidator) MaxScale(places int32, code errors.ErrorCode) *FieldValidator {
	return fv.add(code, func(value interface{}) string {
		if d, ok := asDecimal(value); ok && !d.Equal(d.Truncate(places)) {
			return fmt.Sprintf("%s must have at most %d decimal places", fv.FieldName, places)
		}
		return ""
	})
}

func (fv *FieldValidator) LessThanDecimal(limit decimal.Decimal, code errors.ErrorCode) *FieldValidator {
	return fv.add(code, func(value interface{}) string {
		if d, ok := asDecimal(value); ok && d.GreaterThanOrEqual(limit) {
			return fv.FieldName + " must be less than " + limit.String()
		}
		return ""
	})
}

// Matches checks non-empty strings against pattern.
func (fv *FieldValidator) Matches(pattern *regexp.Regexp, message string, code errors.ErrorCode) *FieldValidator {
	return fv.add(code, func(value interface{}) string {
		if v, ok := value.(string); ok && v != "" && !pattern.MatchString(v) {
			return message
		}
		return ""
	})
}

func (fv *FieldValidator) Email(code errors.ErrorCode) *FieldValidator {
	return fv.add(code, func(value interface{}) string {
		v, ok := value.(string)
		if !ok || v == "" {
			return ""
		}
		if err := tagValidator.Var(v, "email"); err != nil {
			return fv.FieldName + " must be a valid email address"
		}
		return ""
	})
}

func (fv *FieldValidator) MaxLength(max int) *FieldValidator {
	return fv.add(errors.ErrCodeValidationFailed, func(value interface{}) string {
		if v, ok := value.(string); ok && len(v) > max {
			return fmt.Sprintf("%s must not exceed %d characters", fv.FieldName, max)
		}
		return ""
	})
}

func (fv *FieldValidator) Custom(validator func(interface{}) *errors.AppError) *FieldValidator {
	fv.Validators = append(fv.Validators, validator)
	return fv
}

func (fv *FieldValidator) fail(message string, code errors.ErrorCode) *errors.AppError {
	return errors.NewValidationFieldError(fv.FieldName, message, code)
}

// Validate runs every registered check. A field stops at its first failure so
// "amount is required" is not followed by "amount must be greater than zero".
func (v *ValidationBuilder) Validate() *errors.AppError {
	var validationErrors []errors.ValidationError

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			appErr := validator(field.Value)
			if appErr == nil {
				continue
			}
			if details, ok := appErr.Details.(errors.ValidationErrors); ok {
				validationErrors = append(validationErrors, details.Errors...)
			} else {
				validationErrors = append(validationErrors, errors.ValidationError{
					Field:   field.FieldName,
					Message: appErr.Message,
					Code:    string(appErr.Code),
				})
			}
			break
		}
	}

	if len(validationErrors) > 0 {
		return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).
			WithDetails(errors.ValidationErrors{Errors: validationErrors})
	}

	return nil
}

func asDecimal(value interface{}) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, false
		}
		return *v, true
	}
	return decimal.Zero, false
}

// AmountRules applies the payment amount checks to a builder field: positive,
// two decimal places and small enough for the amount column.
func AmountRules(fv *FieldValidator) *FieldValidator {
	return fv.Required().
		PositiveDecimal(errors.ErrCodeInvalidAmount).
		MaxScale(AmountScale, errors.ErrCodeInvalidAmount).
		LessThanDecimal(maxAmount, errors.ErrCodeAmountTooHigh)
}

func ContactNoRules(fv *FieldValidator) *FieldValidator {
	return fv.Required().
		Matches(contactNoPattern, fmt.Sprintf("%s must be exactly 10 digits", fv.FieldName), errors.ErrCodeInvalidContactNo)
}

func EmailRules(fv *FieldValidator) *FieldValidator {
	return fv.Required().
		MaxLength(255).
		Email(errors.ErrCodeInvalidEmail)
}

func ValidateAmount(amount *decimal.Decimal) *errors.AppError {
	validator := NewValidator()
	AmountRules(validator.Field("amount", amount))
	return validator.Validate()
}

func ValidateContactNo(contactNo string) *errors.AppError {
	validator := NewValidator()
	ContactNoRules(validator.Field("contactNo", contactNo))
	return validator.Validate()
}

func ValidateEmail(email string) *errors.AppError {
	validator := NewValidator()
	EmailRules(validator.Field("emailId", email))
	return validator.Validate()
}
