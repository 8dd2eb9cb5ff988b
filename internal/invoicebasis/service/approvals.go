package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"github.com/smallbiznis/bygglogg/internal/observability/logger"
	"go.uber.org/zap"
)

// approvalKey is one (project, ISO week) refresh.
type approvalKey struct {
	ProjectID snowflake.ID
	Week      domain.Period
}

// groupApprovals maps each item to the Monday-start week of its date and
// dedupes. Items without a project or with an unparseable date are returned
// separately.
func groupApprovals(items []domain.ApprovalItem) ([]approvalKey, []domain.ApprovalItem) {
	seen := make(map[string]struct{}, len(items))
	keys := make([]approvalKey, 0, len(items))
	var invalid []domain.ApprovalItem

	for _, item := range items {
		date, err := domain.ParseDate(dateOnly(item.Date))
		if item.ProjectID == 0 || err != nil {
			invalid = append(invalid, item)
			continue
		}
		key := approvalKey{ProjectID: item.ProjectID, Week: domain.WeekOf(date)}
		id := key.ProjectID.String() + "|" + key.Week.Key()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProjectID != keys[j].ProjectID {
			return keys[i].ProjectID < keys[j].ProjectID
		}
		return keys[i].Week.Start.Before(keys[j].Week.Start)
	})
	return keys, invalid
}

// dateOnly accepts "YYYY-MM-DD" as well as RFC 3339 timestamps. Timestamps
// are bucketed by their UTC date, the same boundary the time entry and change
// order readers filter on.
func dateOnly(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > len(domain.DateLayout) {
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t.UTC().Format(domain.DateLayout)
		}
	}
	return value
}

// RefreshForApprovals refreshes every (project, week) touched by items and
// waits for all of them to settle. Failures are logged per key and never
// returned.
func (s *Service) RefreshForApprovals(ctx context.Context, orgID snowflake.ID, items []domain.ApprovalItem) {
	log := logger.WithOrg(logger.WithContext(ctx, s.log), orgID.String())
	if orgID == 0 {
		log.Warn("invoicebasis.approvals.invalid_org", zap.Int("items", len(items)))
		return
	}

	keys, invalid := groupApprovals(items)
	for _, item := range invalid {
		log.Warn("invoicebasis.approvals.invalid_item",
			zap.String("project_id", item.ProjectID.String()),
			zap.String("date", item.Date),
		)
	}
	if len(keys) == 0 {
		return
	}

	s.otelMetrics.RecordApprovalItems(ctx, orgID.String(), len(items))
	s.promMetrics.AddApprovalKeys(len(keys))
	log.Info("invoicebasis.approvals.scheduled", zap.Int("items", len(items)), zap.Int("keys", len(keys)))

	var sem chan struct{}
	if s.maxParallel > 0 {
		sem = make(chan struct{}, s.maxParallel)
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			s.settle(ctx, log, orgID, key)
		}()
	}
	wg.Wait()
}

// settle runs one key and swallows its failure, panics included.
func (s *Service) settle(ctx context.Context, log *zap.Logger, orgID snowflake.ID, key approvalKey) {
	fields := []zap.Field{
		zap.String("project_id", key.ProjectID.String()),
		zap.String("period_start", key.Week.StartString()),
		zap.String("period_end", key.Week.EndString()),
	}
	defer func() {
		if r := recover(); r != nil {
			s.promMetrics.IncApprovalFailure()
			log.Error("invoicebasis.approvals.refresh_panic", append(fields, zap.Any("panic", r))...)
		}
	}()

	if err := s.refreshKey(ctx, orgID, key); err != nil {
		s.promMetrics.IncApprovalFailure()
		log.Warn("invoicebasis.approvals.refresh_failed", append(fields, zap.Error(err))...)
	}
}

func (s *Service) refreshApprovalKey(ctx context.Context, orgID snowflake.ID, key approvalKey) error {
	_, err := s.refresh(ctx, triggerApproval, orgID, key.ProjectID, key.Week.StartString(), key.Week.EndString())
	return err
}
