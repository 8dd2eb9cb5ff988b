// Package domain contains the invoice basis data model and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// LineType identifies the source kind of an invoice basis line.
type LineType string

const (
	LineTypeTime     LineType = "time"
	LineTypeMaterial LineType = "material"
	LineTypeExpense  LineType = "expense"
	LineTypeMileage  LineType = "mileage"
	LineTypeATA      LineType = "ata"
	LineTypeDiary    LineType = "diary"
)

// SourceRef points back to the record a line was derived from.
type SourceRef struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

// Line is one normalized, billable row of an invoice basis.
type Line struct {
	ID              string            `json:"id"`
	Type            LineType          `json:"type"`
	Source          SourceRef         `json:"source"`
	ArticleCode     string            `json:"article_code"`
	Description     string            `json:"description"`
	Unit            string            `json:"unit"`
	Quantity        decimal.Decimal   `json:"quantity"`
	UnitPrice       decimal.Decimal   `json:"unit_price"`
	DiscountPercent decimal.Decimal   `json:"discount_percent"`
	VATRate         decimal.Decimal   `json:"vat_rate"`
	VATCode         string            `json:"vat_code"`
	Account         string            `json:"account"`
	Dimensions      map[string]string `json:"dimensions,omitempty"`
	Attachments     []string          `json:"attachments,omitempty"`
}

// DiarySummary is the narrative part of a diary line.
type DiarySummary struct {
	Date    string `json:"date"`
	RawText string `json:"raw_text"`
	Summary string `json:"summary"`
	LineID  string `json:"line_id"`
}

// LinesPayload is persisted in the lines_json column.
type LinesPayload struct {
	Lines []Line         `json:"lines"`
	Diary []DiarySummary `json:"diary"`
}

// RateTotals holds the amounts of one VAT-rate bucket.
type RateTotals struct {
	Base  decimal.Decimal `json:"base"`
	VAT   decimal.Decimal `json:"vat"`
	Total decimal.Decimal `json:"total"`
}

// Totals is persisted in the totals column.
type Totals struct {
	Currency    string                `json:"currency"`
	TotalExVAT  decimal.Decimal       `json:"total_ex_vat"`
	TotalVAT    decimal.Decimal       `json:"total_vat"`
	TotalIncVAT decimal.Decimal       `json:"total_inc_vat"`
	PerRate     map[string]RateTotals `json:"per_rate"`
}

// InvoiceBasisSnapshot is one row per (org, project, period). Once Locked is
// set the row is never rewritten by a refresh.
type InvoiceBasisSnapshot struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID   `gorm:"not null;uniqueIndex:ux_invoice_basis_period,priority:1" json:"org_id"`
	ProjectID   snowflake.ID   `gorm:"not null;uniqueIndex:ux_invoice_basis_period,priority:2;index" json:"project_id"`
	PeriodStart datatypes.Date `gorm:"not null;uniqueIndex:ux_invoice_basis_period,priority:3" json:"period_start"`
	PeriodEnd   datatypes.Date `gorm:"not null;uniqueIndex:ux_invoice_basis_period,priority:4" json:"period_end"`

	CustomerID        *snowflake.ID     `gorm:"index" json:"customer_id"`
	InvoiceSeries     *string           `gorm:"type:text" json:"invoice_series"`
	InvoiceNumber     *string           `gorm:"type:text" json:"invoice_number"`
	InvoiceDate       *datatypes.Date   `json:"invoice_date"`
	DueDate           *datatypes.Date   `json:"due_date"`
	PaymentTermsDays  int               `gorm:"not null;default:30" json:"payment_terms_days"`
	PaymentReference  *string           `gorm:"type:text" json:"payment_reference"`
	Currency          string            `gorm:"type:text;not null;default:'SEK'" json:"currency"`
	FXRate            decimal.Decimal   `gorm:"column:fx_rate;type:numeric(12,6);not null;default:1" json:"fx_rate"`
	InternalReference *string           `gorm:"type:text" json:"internal_reference"`
	ExternalReference *string           `gorm:"type:text" json:"external_reference"`
	ReverseCharge     bool              `gorm:"not null;default:false" json:"reverse_charge"`
	ROT               bool              `gorm:"column:rot;not null;default:false" json:"rot"`
	RUT               bool              `gorm:"column:rut;not null;default:false" json:"rut"`
	WorksiteAddress   datatypes.JSONMap `gorm:"type:jsonb" json:"worksite_address"`
	InvoiceAddress    datatypes.JSONMap `gorm:"type:jsonb" json:"invoice_address"`
	DeliveryAddress   datatypes.JSONMap `gorm:"type:jsonb" json:"delivery_address"`
	CostCenter        *string           `gorm:"type:text" json:"cost_center"`
	ResultUnit        *string           `gorm:"type:text" json:"result_unit"`

	LinesJSON datatypes.JSONType[LinesPayload] `gorm:"column:lines_json;not null" json:"lines_json"`
	Totals    datatypes.JSONType[Totals]       `gorm:"column:totals;not null" json:"totals"`

	Locked   bool       `gorm:"not null;default:false" json:"locked"`
	LockedBy *string    `gorm:"type:text" json:"locked_by"`
	LockedAt *time.Time `json:"locked_at"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (InvoiceBasisSnapshot) TableName() string { return "invoice_basis_snapshots" }

// Lines returns the stored lines payload.
func (s *InvoiceBasisSnapshot) Lines() LinesPayload {
	return s.LinesJSON.Data()
}

// ComputedTotals returns the stored totals.
func (s *InvoiceBasisSnapshot) ComputedTotals() Totals {
	return s.Totals.Data()
}
