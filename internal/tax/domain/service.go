package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TaxClassResolver returns a usable tax class for a code.
type TaxClassResolver interface {
	Resolve(ctx context.Context, code string) (*TaxClass, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Get(ctx context.Context, code string) (*Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Disable(ctx context.Context, id string) (*Response, error)
	Calculate(ctx context.Context, req CalculateRequest) (*CalculationResponse, error)
}

type ListRequest struct {
	Name      string
	Code      string
	IsEnabled *bool
	SortBy    string
	OrderBy   string
}

type EntryRequest struct {
	Name    string          `json:"name"`
	Percent decimal.Decimal `json:"percent"`
}

type CreateRequest struct {
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	CombinationMode CombinationMode `json:"combination_mode"`
	Entries         []EntryRequest  `json:"entries"`
	Description     *string         `json:"description"`
	Metadata        map[string]any  `json:"metadata"`
	IsEnabled       *bool           `json:"is_enabled"`
}

type UpdateRequest struct {
	ID              string           `json:"id"`
	Name            *string          `json:"name,omitempty"`
	CombinationMode *CombinationMode `json:"combination_mode,omitempty"`
	Entries         []EntryRequest   `json:"entries,omitempty"`
	Description     *string          `json:"description,omitempty"`
}

// CalculateRequest computes taxes for Amount. Inline Entries take precedence
// over TaxClassCode.
type CalculateRequest struct {
	TaxClassCode    string          `json:"tax_class_code"`
	Entries         []EntryRequest  `json:"entries"`
	CombinationMode CombinationMode `json:"combination_mode"`
	CalculationMode CalculationMode `json:"calculation_mode"`
	Amount          decimal.Decimal `json:"amount"`
}

type EntryResponse struct {
	Name    string          `json:"name,omitempty"`
	Percent decimal.Decimal `json:"percent"`
	Amount  decimal.Decimal `json:"amount"`
}

type Response struct {
	ID              string          `json:"id,omitempty"`
	OrganizationID  string          `json:"organization_id,omitempty"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	CombinationMode CombinationMode `json:"combination_mode"`
	Entries         []EntryResponse `json:"entries"`
	Description     *string         `json:"description,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	IsEnabled       bool            `json:"is_enabled"`
	BuiltIn         bool            `json:"built_in"`
	CreatedAt       *time.Time      `json:"created_at,omitempty"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
}

type CalculationResponse struct {
	TaxClassCode    string          `json:"tax_class_code,omitempty"`
	CalculationMode CalculationMode `json:"calculation_mode"`
	CombinationMode CombinationMode `json:"combination_mode"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	Entries         []EntryResponse `json:"entries"`
}
