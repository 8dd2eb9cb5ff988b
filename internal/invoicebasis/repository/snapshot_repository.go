package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type snapshotRepo struct{}

func NewSnapshotRepository() domain.SnapshotRepository {
	return &snapshotRepo{}
}

// FindByPeriod returns nil, nil when no row exists. forUpdate takes a row lock
// on dialects that support it.
func (r *snapshotRepo) FindByPeriod(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID, period domain.Period, forUpdate bool) (*domain.InvoiceBasisSnapshot, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.InvoiceBasisSnapshot{}).
		Where("org_id = ? AND project_id = ?", orgID, projectID).
		Where("period_start = ? AND period_end = ?", period.StartDate(), period.EndDate())
	if forUpdate && supportsRowLocks(db) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var rows []domain.InvoiceBasisSnapshot
	if err := stmt.Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	snapshot, ok := firstOrNone(rows)
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

func (r *snapshotRepo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.InvoiceBasisSnapshot, error) {
	var rows []domain.InvoiceBasisSnapshot
	err := db.WithContext(ctx).
		Model(&domain.InvoiceBasisSnapshot{}).
		Where("org_id = ? AND id = ?", orgID, id).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	snapshot, ok := firstOrNone(rows)
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

// Insert creates the row. A concurrent insert of the same period turns into
// an update of the computed columns unless that row is already locked.
func (r *snapshotRepo) Insert(ctx context.Context, db *gorm.DB, snapshot *domain.InvoiceBasisSnapshot) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "org_id"},
				{Name: "project_id"},
				{Name: "period_start"},
				{Name: "period_end"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"lines_json", "totals", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Eq{Column: clause.Column{Table: domain.InvoiceBasisSnapshot{}.TableName(), Name: "locked"}, Value: false},
			}},
		}).
		Create(snapshot).Error
}

// UpdateComputed rewrites lines, totals and updated_at. Workflow metadata and
// locked rows are left untouched.
func (r *snapshotRepo) UpdateComputed(ctx context.Context, db *gorm.DB, snapshot *domain.InvoiceBasisSnapshot) error {
	return db.WithContext(ctx).
		Model(&domain.InvoiceBasisSnapshot{}).
		Where("org_id = ? AND id = ? AND locked = ?", snapshot.OrgID, snapshot.ID, false).
		Updates(map[string]any{
			"lines_json": snapshot.LinesJSON,
			"totals":     snapshot.Totals,
			"updated_at": snapshot.UpdatedAt,
		}).Error
}

func (r *snapshotRepo) MarkLocked(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, lockedBy string, lockedAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.InvoiceBasisSnapshot{}).
		Where("org_id = ? AND id = ? AND locked = ?", orgID, id, false).
		Updates(map[string]any{
			"locked":     true,
			"locked_by":  lockedBy,
			"locked_at":  lockedAt,
			"updated_at": lockedAt,
		}).Error
}

func supportsRowLocks(db *gorm.DB) bool {
	if db == nil || db.Dialector == nil {
		return false
	}
	switch db.Dialector.Name() {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}
