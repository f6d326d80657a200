package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Built-in tax class codes shipped with the default configuration.
const (
	TaxClassCodeNoTax         = "NO_TAX"
	TaxClassCodeEUVATStandard = "EU_VAT_STANDARD"
)

// CalculationMode selects which amount of a Price is authoritative.
type CalculationMode string

const (
	CalculationFromNet   CalculationMode = "net"   // derive gross from net
	CalculationFromGross CalculationMode = "gross" // derive net from gross
)

// CombinationMode describes how multiple tax rates interact.
type CombinationMode string

const (
	// CombinationCombine applies every rate to the same base.
	CombinationCombine CombinationMode = "combine"
	// CombinationOneAfterAnother applies each rate on top of the previous result.
	CombinationOneAfterAnother CombinationMode = "one_after_another"
)

func (m CombinationMode) Valid() bool {
	return m == CombinationCombine || m == CombinationOneAfterAnother
}

// TaxEntry is a single rate/amount line of a Price. Percent is a plain
// number, 19 means 19%.
type TaxEntry struct {
	Name    string
	Percent decimal.Decimal
	Amount  decimal.Decimal
}

// Price is the subject of a tax calculation. Exactly one of NetAmount and
// GrossAmount is read, the other one is overwritten.
type Price struct {
	NetAmount       decimal.Decimal
	GrossAmount     decimal.Decimal
	TaxEntries      []TaxEntry
	CombinationMode CombinationMode
}

// NewPrice returns a price that combines its tax entries.
func NewPrice(entries ...TaxEntry) *Price {
	return &Price{
		TaxEntries:      entries,
		CombinationMode: CombinationCombine,
	}
}

// TaxAmount is the sum of all entry amounts.
func (p *Price) TaxAmount() decimal.Decimal {
	total := decimal.Zero
	for _, entry := range p.TaxEntries {
		total = total.Add(entry.Amount)
	}
	return total
}

// TaxClassEntry is the stored form of a tax rate within a TaxClass.
type TaxClassEntry struct {
	Name    string          `json:"name" mapstructure:"name"`
	Percent decimal.Decimal `json:"percent" mapstructure:"percent"`
}

// TaxClass is an org-scoped, named set of tax rates.
// NOTE:
// - code is a stable, engine-facing identifier (immutable once created)
// - entry order matters for one_after_another classes
type TaxClass struct {
	ID    snowflake.ID `gorm:"primaryKey"`
	OrgID snowflake.ID `gorm:"column:org_id;not null;uniqueIndex:ux_tax_classes_org_code"`

	Code            string          `gorm:"type:text;not null;uniqueIndex:ux_tax_classes_org_code"`
	Name            string          `gorm:"type:text;not null"`
	CombinationMode CombinationMode `gorm:"column:combination_mode;type:text;not null"`

	Entries     datatypes.JSONSlice[TaxClassEntry] `gorm:"type:json"`
	Description *string                            `gorm:"type:text"`
	Metadata    datatypes.JSONMap                  `gorm:"type:json"`

	IsEnabled bool `gorm:"column:is_enabled;not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TaxClass) TableName() string { return "tax_classes" }

func (t *TaxClass) Validate() error {
	if t.Code == "" {
		return ErrInvalidTaxCode
	}
	if t.Name == "" {
		return ErrInvalidName
	}
	if !t.CombinationMode.Valid() {
		return ErrInvalidCombinationMode
	}
	for _, entry := range t.Entries {
		if entry.Percent.IsNegative() {
			return ErrInvalidTaxRate
		}
	}
	return nil
}

// Price builds a calculation subject from the class rates.
func (t *TaxClass) Price() *Price {
	entries := make([]TaxEntry, 0, len(t.Entries))
	for _, entry := range t.Entries {
		entries = append(entries, TaxEntry{Name: entry.Name, Percent: entry.Percent})
	}
	return &Price{
		TaxEntries:      entries,
		CombinationMode: t.CombinationMode,
	}
}
