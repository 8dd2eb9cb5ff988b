package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"gorm.io/gorm"
)

type sourceReader struct {
	db *gorm.DB
}

func NewSourceReader(db *gorm.DB) domain.SourceReader {
	return &sourceReader{db: db}
}

func (r *sourceReader) FindProject(ctx context.Context, orgID, projectID snowflake.ID) (*domain.Project, error) {
	var projects []domain.Project
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, org_id, name, code, cost_center, customer_id, created_at
		 FROM projects WHERE org_id = ? AND id = ?
		 LIMIT 1`,
		orgID,
		projectID,
	).Scan(&projects).Error
	if err != nil {
		return nil, err
	}
	project, ok := firstOrNone(projects)
	if !ok {
		return nil, nil
	}
	return &project, nil
}

// ListHourlyRates returns the billed hourly rate per user. When a user has
// several memberships in the org the oldest one wins.
func (r *sourceReader) ListHourlyRates(ctx context.Context, orgID snowflake.ID) (map[snowflake.ID]decimal.Decimal, error) {
	var memberships []domain.Membership
	err := r.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("org_id = ?", orgID).
		Order("user_id asc, created_at asc, id asc").
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}

	byUser := make(map[snowflake.ID][]domain.Membership)
	for _, m := range memberships {
		byUser[m.UserID] = append(byUser[m.UserID], m)
	}

	rates := make(map[snowflake.ID]decimal.Decimal, len(byUser))
	for userID, rows := range byUser {
		m, ok := firstOrNone(rows)
		if !ok || !m.HourlyRate.Valid {
			continue
		}
		rates[userID] = m.HourlyRate.Decimal
	}
	return rates, nil
}

func (r *sourceReader) ListApprovedTimeEntries(ctx context.Context, orgID, projectID snowflake.ID, period domain.Period) ([]domain.TimeEntry, error) {
	var entries []domain.TimeEntry
	err := r.db.WithContext(ctx).
		Model(&domain.TimeEntry{}).
		Where("org_id = ? AND project_id = ? AND status = ?", orgID, projectID, domain.StatusApproved).
		Where("start_at >= ? AND start_at <= ?", period.RangeStart(), period.RangeEnd()).
		Order("start_at asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if err := r.resolvePhaseNames(ctx, orgID, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *sourceReader) resolvePhaseNames(ctx context.Context, orgID snowflake.ID, entries []domain.TimeEntry) error {
	ids := make([]snowflake.ID, 0)
	seen := make(map[snowflake.ID]struct{})
	for _, e := range entries {
		if e.PhaseID == nil {
			continue
		}
		if _, ok := seen[*e.PhaseID]; ok {
			continue
		}
		seen[*e.PhaseID] = struct{}{}
		ids = append(ids, *e.PhaseID)
	}
	if len(ids) == 0 {
		return nil
	}

	var phases []domain.Phase
	err := r.db.WithContext(ctx).
		Model(&domain.Phase{}).
		Where("org_id = ? AND id IN ?", orgID, ids).
		Find(&phases).Error
	if err != nil {
		return err
	}

	byID := make(map[snowflake.ID][]domain.Phase, len(phases))
	for _, p := range phases {
		byID[p.ID] = append(byID[p.ID], p)
	}
	for i := range entries {
		if entries[i].PhaseID == nil {
			continue
		}
		if phase, ok := firstOrNone(byID[*entries[i].PhaseID]); ok {
			name := phase.Name
			entries[i].PhaseName = &name
		}
	}
	return nil
}

// ListApprovedMaterials skips rows bundled into a change order.
func (r *sourceReader) ListApprovedMaterials(ctx context.Context, orgID, projectID snowflake.ID, period domain.Period) ([]domain.Material, error) {
	var materials []domain.Material
	err := r.db.WithContext(ctx).
		Model(&domain.Material{}).
		Where("org_id = ? AND project_id = ? AND status = ?", orgID, projectID, domain.StatusApproved).
		Where("change_order_id IS NULL").
		Where("created_at >= ? AND created_at <= ?", period.RangeStart(), period.RangeEnd()).
		Order("created_at asc, id asc").
		Find(&materials).Error
	if err != nil {
		return nil, err
	}
	return materials, nil
}

// ListApprovedExpenses skips rows bundled into a change order.
func (r *sourceReader) ListApprovedExpenses(ctx context.Context, orgID, projectID snowflake.ID, period domain.Period) ([]domain.Expense, error) {
	var expenses []domain.Expense
	err := r.db.WithContext(ctx).
		Model(&domain.Expense{}).
		Where("org_id = ? AND project_id = ? AND status = ?", orgID, projectID, domain.StatusApproved).
		Where("change_order_id IS NULL").
		Where("date >= ? AND date <= ?", period.StartDate(), period.EndDate()).
		Order("date asc, id asc").
		Find(&expenses).Error
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

func (r *sourceReader) ListApprovedMileage(ctx context.Context, orgID, projectID snowflake.ID, period domain.Period) ([]domain.MileageEntry, error) {
	var entries []domain.MileageEntry
	err := r.db.WithContext(ctx).
		Model(&domain.MileageEntry{}).
		Where("org_id = ? AND project_id = ? AND status = ?", orgID, projectID, domain.StatusApproved).
		Where("date >= ? AND date <= ?", period.StartDate(), period.EndDate()).
		Order("date asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *sourceReader) ListApprovedChangeOrders(ctx context.Context, orgID, projectID snowflake.ID, period domain.Period) ([]domain.ChangeOrder, error) {
	var orders []domain.ChangeOrder
	err := r.db.WithContext(ctx).
		Model(&domain.ChangeOrder{}).
		Where("org_id = ? AND project_id = ? AND status = ?", orgID, projectID, domain.StatusApproved).
		Where("created_at >= ? AND created_at <= ?", period.RangeStart(), period.RangeEnd()).
		Order("created_at asc, id asc").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListDiaryEntries ignores status: the diary has no approval workflow.
func (r *sourceReader) ListDiaryEntries(ctx context.Context, orgID, projectID snowflake.ID, period domain.Period) ([]domain.DiaryEntry, error) {
	var entries []domain.DiaryEntry
	err := r.db.WithContext(ctx).
		Model(&domain.DiaryEntry{}).
		Where("org_id = ? AND project_id = ?", orgID, projectID).
		Where("date >= ? AND date <= ?", period.StartDate(), period.EndDate()).
		Order("date asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
