package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOrganization    = errors.New("invalid_organization")
	ErrInvalidName            = errors.New("invalid_name")
	ErrInvalidID              = errors.New("invalid_id")
	ErrNotFound               = errors.New("not_found")
	ErrDuplicateCode          = errors.New("duplicate_tax_class_code")
	ErrInvalidTaxCode         = errors.New("invalid_tax_code")
	ErrInvalidTaxRate         = errors.New("invalid_tax_rate")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidCombinationMode = errors.New("invalid_combination_mode")
	ErrTaxClassDisabled       = errors.New("tax_class_disabled")

	ErrUnsupportedCalculationMode = errors.New("unsupported_calculation_mode")
	ErrUnsupportedCombinationMode = errors.New("unsupported_combination_mode")
)

// UnsupportedError reports a calculation or combination mode the calculator
// does not know. Err is one of the ErrUnsupported* sentinels.
type UnsupportedError struct {
	Err   error
	Value string
}

func (e *UnsupportedError) Error() string {
	switch e.Err {
	case ErrUnsupportedCalculationMode:
		return fmt.Sprintf("calculation mode [%s] not supported", e.Value)
	case ErrUnsupportedCombinationMode:
		return fmt.Sprintf("combination mode [%s] cannot be recalculated", e.Value)
	default:
		return fmt.Sprintf("%v: %s", e.Err, e.Value)
	}
}

func (e *UnsupportedError) Unwrap() error { return e.Err }

// IsUnsupported reports whether err is an unsupported mode error.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedCalculationMode) || errors.Is(err, ErrUnsupportedCombinationMode)
}
