package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Approval status shared by the approvable sources.
const StatusApproved = "approved"

// Change-order billing types.
const (
	BillingTypeFixed  = "fixed"
	BillingTypeHourly = "hourly"
)

// Project is the subset of the project row the engine needs.
type Project struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"not null;index"`
	Name       string       `gorm:"type:text;not null"`
	Code       *string      `gorm:"type:text"`
	CostCenter *string      `gorm:"type:text"`
	CustomerID *snowflake.ID
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Project) TableName() string { return "projects" }

// Membership carries the hourly rate billed for a user in an org.
type Membership struct {
	ID         snowflake.ID        `gorm:"primaryKey"`
	OrgID      snowflake.ID        `gorm:"not null;index"`
	UserID     snowflake.ID        `gorm:"not null;index"`
	HourlyRate decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	CreatedAt  time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Membership) TableName() string { return "memberships" }

type Phase struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	ProjectID snowflake.ID `gorm:"not null;index"`
	Name      string       `gorm:"type:text;not null"`
}

func (Phase) TableName() string { return "phases" }

type TimeEntry struct {
	ID          snowflake.ID  `gorm:"primaryKey"`
	OrgID       snowflake.ID  `gorm:"not null;index"`
	ProjectID   snowflake.ID  `gorm:"not null;index"`
	UserID      snowflake.ID  `gorm:"not null;index"`
	PhaseID     *snowflake.ID `gorm:"index"`
	StartAt     time.Time     `gorm:"not null"`
	Minutes     *int64
	Description *string   `gorm:"type:text"`
	Status      string    `gorm:"type:text;not null;default:'draft'"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`

	// PhaseName is resolved by the reader, not stored on the row.
	PhaseName *string `gorm:"-"`
}

func (TimeEntry) TableName() string { return "time_entries" }

type Material struct {
	ID            snowflake.ID        `gorm:"primaryKey"`
	OrgID         snowflake.ID        `gorm:"not null;index"`
	ProjectID     snowflake.ID        `gorm:"not null;index"`
	ChangeOrderID *snowflake.ID       `gorm:"index"`
	Name          *string             `gorm:"type:text"`
	Quantity      decimal.NullDecimal `gorm:"type:numeric(14,4)"`
	Unit          *string             `gorm:"type:text"`
	UnitPrice     decimal.NullDecimal `gorm:"type:numeric(14,4)"`
	AttachmentURL *string             `gorm:"type:text"`
	Status        string              `gorm:"type:text;not null;default:'draft'"`
	CreatedAt     time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Material) TableName() string { return "materials" }

type Expense struct {
	ID            snowflake.ID        `gorm:"primaryKey"`
	OrgID         snowflake.ID        `gorm:"not null;index"`
	ProjectID     snowflake.ID        `gorm:"not null;index"`
	ChangeOrderID *snowflake.ID       `gorm:"index"`
	Date          datatypes.Date      `gorm:"not null"`
	Category      *string             `gorm:"type:text"`
	Description   *string             `gorm:"type:text"`
	Amount        decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	VAT           *bool
	ReceiptURL    *string   `gorm:"type:text"`
	Status        string    `gorm:"type:text;not null;default:'draft'"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Expense) TableName() string { return "expenses" }

type MileageEntry struct {
	ID           snowflake.ID        `gorm:"primaryKey"`
	OrgID        snowflake.ID        `gorm:"not null;index"`
	ProjectID    snowflake.ID        `gorm:"not null;index"`
	UserID       snowflake.ID        `gorm:"not null"`
	Date         datatypes.Date      `gorm:"not null"`
	Km           decimal.NullDecimal `gorm:"type:numeric(10,2)"`
	RatePerKm    decimal.NullDecimal `gorm:"type:numeric(10,2)"`
	FromLocation *string             `gorm:"type:text"`
	ToLocation   *string             `gorm:"type:text"`
	Status       string              `gorm:"type:text;not null;default:'draft'"`
	CreatedAt    time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (MileageEntry) TableName() string { return "mileage_entries" }

// ChangeOrder is an ÄTA: billable additional or changed work.
type ChangeOrder struct {
	ID              snowflake.ID        `gorm:"primaryKey"`
	OrgID           snowflake.ID        `gorm:"not null;index"`
	ProjectID       snowflake.ID        `gorm:"not null;index"`
	Number          *string             `gorm:"type:text"`
	Title           *string             `gorm:"type:text"`
	Description     *string             `gorm:"type:text"`
	BillingType     string              `gorm:"type:text;not null;default:'hourly'"`
	Quantity        decimal.NullDecimal `gorm:"type:numeric(14,4)"`
	Unit            *string             `gorm:"type:text"`
	UnitPrice       decimal.NullDecimal `gorm:"type:numeric(14,4)"`
	FixedAmount     decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	MaterialsAmount decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	AttachmentURL   *string             `gorm:"type:text"`
	Status          string              `gorm:"type:text;not null;default:'draft'"`
	CreatedAt       time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ChangeOrder) TableName() string { return "change_orders" }

// IsFixed reports whether the change order is billed at a fixed amount.
func (c ChangeOrder) IsFixed() bool {
	return c.BillingType == BillingTypeFixed
}

// DiaryEntry is a site-diary day. Diary entries have no approval workflow.
type DiaryEntry struct {
	ID            snowflake.ID        `gorm:"primaryKey"`
	OrgID         snowflake.ID        `gorm:"not null;index"`
	ProjectID     snowflake.ID        `gorm:"not null;index"`
	Date          datatypes.Date      `gorm:"not null"`
	WorkPerformed *string             `gorm:"type:text"`
	Obstacles     *string             `gorm:"type:text"`
	Deliveries    *string             `gorm:"type:text"`
	Visitors      *string             `gorm:"type:text"`
	CrewCount     *int                `gorm:""`
	Weather       *string             `gorm:"type:text"`
	TemperatureC  decimal.NullDecimal `gorm:"type:numeric(5,1)"`
	SignatureName *string             `gorm:"type:text"`
	CreatedAt     time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DiaryEntry) TableName() string { return "diary_entries" }

// SourceData is the joined result of all source reads for one refresh.
type SourceData struct {
	Project      Project
	HourlyRates  map[snowflake.ID]decimal.Decimal
	TimeEntries  []TimeEntry
	Materials    []Material
	Expenses     []Expense
	Mileage      []MileageEntry
	ChangeOrders []ChangeOrder
	Diary        []DiaryEntry
}
