package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"github.com/smallbiznis/bygglogg/pkg/rls"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// writeSnapshot stores the computed result for one period: lookup, then
// update or insert, then re-read, in one transaction. A locked row is
// returned untouched with locked=true. Failures name the step and are not
// retried.
func (s *Service) writeSnapshot(ctx context.Context, orgID, projectID snowflake.ID, period domain.Period, payload domain.LinesPayload, totals domain.Totals) (snapshot *domain.InvoiceBasisSnapshot, locked bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithOrg(tx, orgID); err != nil {
			return &domain.PersistenceError{Op: domain.OpLookup, Err: err}
		}
		existing, err := s.snapshots.FindByPeriod(ctx, tx, orgID, projectID, period, true)
		if err != nil {
			return &domain.PersistenceError{Op: domain.OpLookup, Err: err}
		}
		if existing != nil && existing.Locked {
			snapshot, locked = existing, true
			return nil
		}

		now := s.clock.Now()
		if existing != nil {
			existing.LinesJSON = datatypes.NewJSONType(payload)
			existing.Totals = datatypes.NewJSONType(totals)
			existing.UpdatedAt = now
			if err := s.snapshots.UpdateComputed(ctx, tx, existing); err != nil {
				return &domain.PersistenceError{Op: domain.OpUpdate, Err: err}
			}
		} else {
			row := &domain.InvoiceBasisSnapshot{
				ID:               s.genID.Generate(),
				OrgID:            orgID,
				ProjectID:        projectID,
				PeriodStart:      period.StartDate(),
				PeriodEnd:        period.EndDate(),
				PaymentTermsDays: s.paymentDays,
				Currency:         s.currency,
				FXRate:           decimal.NewFromInt(1),
				LinesJSON:        datatypes.NewJSONType(payload),
				Totals:           datatypes.NewJSONType(totals),
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := s.snapshots.Insert(ctx, tx, row); err != nil {
				return &domain.PersistenceError{Op: domain.OpInsert, Err: err}
			}
		}

		// Re-read by period: a concurrent insert may own the row.
		stored, err := s.snapshots.FindByPeriod(ctx, tx, orgID, projectID, period, false)
		if err != nil {
			return &domain.PersistenceError{Op: domain.OpReread, Err: err}
		}
		if stored == nil {
			return &domain.PersistenceError{Op: domain.OpReread, Err: domain.ErrSnapshotNotFound}
		}
		snapshot, locked = stored, stored.Locked
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return snapshot, locked, nil
}
