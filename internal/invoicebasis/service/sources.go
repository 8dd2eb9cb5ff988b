package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"github.com/smallbiznis/bygglogg/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// readSources issues every source read concurrently and joins them. The first
// failure cancels the rest and aborts the refresh; nothing partial is
// returned.
func (s *Service) readSources(ctx context.Context, orgID, projectID snowflake.ID, period domain.Period) (*domain.SourceData, error) {
	data := &domain.SourceData{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.traced(gctx, "projects", func(ctx context.Context) (int, error) {
			project, err := s.sources.FindProject(ctx, orgID, projectID)
			if err != nil {
				return 0, err
			}
			if project == nil {
				return 0, domain.ErrProjectNotFound
			}
			data.Project = *project
			return 1, nil
		})
	})
	g.Go(func() error {
		return s.traced(gctx, "memberships", func(ctx context.Context) (int, error) {
			rates, err := s.sources.ListHourlyRates(ctx, orgID)
			data.HourlyRates = rates
			return len(rates), err
		})
	})
	g.Go(func() error {
		return s.traced(gctx, "time_entries", func(ctx context.Context) (int, error) {
			rows, err := s.sources.ListApprovedTimeEntries(ctx, orgID, projectID, period)
			data.TimeEntries = rows
			return len(rows), err
		})
	})
	g.Go(func() error {
		return s.traced(gctx, "materials", func(ctx context.Context) (int, error) {
			rows, err := s.sources.ListApprovedMaterials(ctx, orgID, projectID, period)
			data.Materials = rows
			return len(rows), err
		})
	})
	g.Go(func() error {
		return s.traced(gctx, "expenses", func(ctx context.Context) (int, error) {
			rows, err := s.sources.ListApprovedExpenses(ctx, orgID, projectID, period)
			data.Expenses = rows
			return len(rows), err
		})
	})
	g.Go(func() error {
		return s.traced(gctx, "mileage_entries", func(ctx context.Context) (int, error) {
			rows, err := s.sources.ListApprovedMileage(ctx, orgID, projectID, period)
			data.Mileage = rows
			return len(rows), err
		})
	})
	g.Go(func() error {
		return s.traced(gctx, "change_orders", func(ctx context.Context) (int, error) {
			rows, err := s.sources.ListApprovedChangeOrders(ctx, orgID, projectID, period)
			data.ChangeOrders = rows
			return len(rows), err
		})
	})
	g.Go(func() error {
		return s.traced(gctx, "diary_entries", func(ctx context.Context) (int, error) {
			rows, err := s.sources.ListDiaryEntries(ctx, orgID, projectID, period)
			data.Diary = rows
			return len(rows), err
		})
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

// traced runs one source read in its own span. Read errors other than a
// missing project are wrapped with the source name.
func (s *Service) traced(ctx context.Context, source string, read func(ctx context.Context) (int, error)) error {
	ctx, span := tracing.StartSpan(ctx, "invoicebasis.source."+source, attribute.String("source", source))
	rows, err := read(ctx)
	if err != nil && !errors.Is(err, domain.ErrProjectNotFound) {
		err = &domain.SourceReadError{Source: source, Err: err}
	}
	span.SetAttributes(attribute.Int("rows", rows))
	tracing.EndSpan(span, err)
	if err != nil {
		return err
	}
	s.promMetrics.AddSourceRows(source, rows)
	return nil
}
