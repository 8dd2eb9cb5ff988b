package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ApprovalItem is one newly approved record: the project it belongs to and
// its date ("YYYY-MM-DD").
type ApprovalItem struct {
	ProjectID snowflake.ID `json:"project_id"`
	Date      string       `json:"date"`
}

// Service is the invoice basis library contract.
type Service interface {
	// Refresh recomputes and stores the invoice basis of one project period.
	// A locked snapshot is returned unchanged.
	Refresh(ctx context.Context, orgID, projectID snowflake.ID, periodStart, periodEnd string) (*InvoiceBasisSnapshot, error)
	// RefreshForApprovals refreshes every (project, ISO week) touched by items.
	// Failures are logged per key and never returned.
	RefreshForApprovals(ctx context.Context, orgID snowflake.ID, items []ApprovalItem)
	Get(ctx context.Context, orgID, projectID snowflake.ID, periodStart, periodEnd string) (*InvoiceBasisSnapshot, error)
	Lock(ctx context.Context, orgID, projectID snowflake.ID, periodStart, periodEnd, lockedBy string) (*InvoiceBasisSnapshot, error)
}

// SourceReader reads approved records of one project period. Every method is
// read-only and independent of the others.
type SourceReader interface {
	FindProject(ctx context.Context, orgID, projectID snowflake.ID) (*Project, error)
	ListHourlyRates(ctx context.Context, orgID snowflake.ID) (map[snowflake.ID]decimal.Decimal, error)
	ListApprovedTimeEntries(ctx context.Context, orgID, projectID snowflake.ID, period Period) ([]TimeEntry, error)
	ListApprovedMaterials(ctx context.Context, orgID, projectID snowflake.ID, period Period) ([]Material, error)
	ListApprovedExpenses(ctx context.Context, orgID, projectID snowflake.ID, period Period) ([]Expense, error)
	ListApprovedMileage(ctx context.Context, orgID, projectID snowflake.ID, period Period) ([]MileageEntry, error)
	ListApprovedChangeOrders(ctx context.Context, orgID, projectID snowflake.ID, period Period) ([]ChangeOrder, error)
	ListDiaryEntries(ctx context.Context, orgID, projectID snowflake.ID, period Period) ([]DiaryEntry, error)
}

// SnapshotRepository persists snapshots. Methods take the handle to run on so
// the writer can group them in one transaction.
type SnapshotRepository interface {
	FindByPeriod(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID, period Period, forUpdate bool) (*InvoiceBasisSnapshot, error)
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*InvoiceBasisSnapshot, error)
	Insert(ctx context.Context, db *gorm.DB, snapshot *InvoiceBasisSnapshot) error
	UpdateComputed(ctx context.Context, db *gorm.DB, snapshot *InvoiceBasisSnapshot) error
	MarkLocked(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, lockedBy string, lockedAt time.Time) error
}
