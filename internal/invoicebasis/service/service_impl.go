package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bygglogg/internal/clock"
	"github.com/smallbiznis/bygglogg/internal/config"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"github.com/smallbiznis/bygglogg/internal/keylock"
	"github.com/smallbiznis/bygglogg/internal/observability"
	"github.com/smallbiznis/bygglogg/internal/observability/logger"
	"github.com/smallbiznis/bygglogg/internal/observability/metrics"
	"github.com/smallbiznis/bygglogg/internal/observability/tracing"
	"github.com/smallbiznis/bygglogg/pkg/rls"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	triggerManual   = "manual"
	triggerApproval = "approval"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Defaults  config.InvoiceBasisConfig
	Sources   domain.SourceReader
	Snapshots domain.SnapshotRepository

	ObsConfig      observability.Config         `optional:"true"`
	Locker         keylock.Locker               `optional:"true"`
	Metrics        *metrics.Metrics             `optional:"true"`
	RefreshMetrics *metrics.InvoiceBasisMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	sources    domain.SourceReader
	snapshots  domain.SnapshotRepository
	normalizer *Normalizer

	currency    string
	paymentDays int
	maxParallel int
	slowRefresh time.Duration

	locker      keylock.Locker
	lockTTL     time.Duration
	lockWait    time.Duration
	otelMetrics *metrics.Metrics
	promMetrics *metrics.InvoiceBasisMetrics

	// refreshKey runs one approval-triggered refresh. Replaced in tests.
	refreshKey func(ctx context.Context, orgID snowflake.ID, key approvalKey) error
}

func New(p Params) domain.Service {
	currency := strings.ToUpper(strings.TrimSpace(p.Config.InvoiceBasis.DefaultCurrency))
	if currency == "" {
		currency = "SEK"
	}
	paymentDays := p.Config.InvoiceBasis.DefaultPaymentDays
	if paymentDays <= 0 {
		paymentDays = 30
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}

	svc := &Service{
		db:          p.DB,
		log:         p.Log.Named("invoicebasis.service"),
		genID:       p.GenID,
		clock:       clk,
		sources:     p.Sources,
		snapshots:   p.Snapshots,
		normalizer:  NewNormalizer(p.Defaults),
		currency:    currency,
		paymentDays: paymentDays,
		maxParallel: p.Config.InvoiceBasis.MaxParallelRefresh,
		slowRefresh: p.ObsConfig.SlowRefreshThreshold,
		locker:      p.Locker,
		lockTTL:     p.Config.RefreshLock.TTL,
		lockWait:    p.Config.RefreshLock.WaitTimeout,
		otelMetrics: p.Metrics,
		promMetrics: p.RefreshMetrics,
	}
	if svc.lockTTL <= 0 {
		svc.lockTTL = time.Minute
	}
	svc.refreshKey = svc.refreshApprovalKey
	return svc
}

func (s *Service) Refresh(ctx context.Context, orgID, projectID snowflake.ID, periodStart, periodEnd string) (*domain.InvoiceBasisSnapshot, error) {
	return s.refresh(ctx, triggerManual, orgID, projectID, periodStart, periodEnd)
}

func (s *Service) refresh(ctx context.Context, trigger string, orgID, projectID snowflake.ID, periodStart, periodEnd string) (snapshot *domain.InvoiceBasisSnapshot, err error) {
	period, err := validateKey(orgID, projectID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "invoicebasis.refresh",
		attribute.String("org_id", orgID.String()),
		attribute.String("project_id", projectID.String()),
		attribute.String("period", period.Key()),
		attribute.String("trigger", trigger),
	)
	started := time.Now()
	outcome := metrics.OutcomeFailed
	log := logger.WithPeriod(logger.WithContext(ctx, s.log), projectID.String(), period.StartString(), period.EndString())
	defer func() {
		duration := time.Since(started)
		s.promMetrics.ObserveRefresh(trigger, outcome, duration, err)
		s.otelMetrics.RecordRefresh(ctx, orgID.String(), trigger, outcome)
		span.SetAttributes(attribute.String("outcome", outcome))
		tracing.EndSpan(span, err)
		if err != nil {
			log.Warn("invoicebasis.refresh.failed",
				zap.String("trigger", trigger),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
			return
		}
		if s.slowRefresh > 0 && duration > s.slowRefresh {
			log.Warn("invoicebasis.refresh.slow",
				zap.String("trigger", trigger),
				zap.String("outcome", outcome),
				zap.Duration("duration", duration),
				zap.Duration("threshold", s.slowRefresh),
			)
		}
	}()

	log.Debug("invoicebasis.refresh.start", zap.String("trigger", trigger))

	release, err := s.acquireRefreshLock(ctx, orgID, projectID, period)
	if err != nil {
		return nil, err
	}
	defer release()

	// A finalized snapshot short-circuits before any source is read.
	existing, err := s.snapshots.FindByPeriod(ctx, s.db, orgID, projectID, period, false)
	if err != nil {
		return nil, &domain.PersistenceError{Op: domain.OpLookup, Err: err}
	}
	if existing != nil && existing.Locked {
		outcome = metrics.OutcomeLocked
		log.Info("invoicebasis.refresh.locked", zap.String("snapshot_id", existing.ID.String()))
		return existing, nil
	}

	data, err := s.readSources(ctx, orgID, projectID, period)
	if err != nil {
		return nil, err
	}

	lines, diary := s.normalizer.Normalize(*data)
	totals := ComputeTotals(lines, s.currency)
	s.recordLines(lines)

	snapshot, locked, err := s.writeSnapshot(ctx, orgID, projectID, period, domain.LinesPayload{Lines: lines, Diary: diary}, totals)
	if err != nil {
		return nil, err
	}
	if locked {
		outcome = metrics.OutcomeLocked
		log.Info("invoicebasis.refresh.locked", zap.String("snapshot_id", snapshot.ID.String()))
		return snapshot, nil
	}

	outcome = metrics.OutcomeRefreshed
	log.Info("invoicebasis.refresh.completed",
		zap.String("trigger", trigger),
		zap.String("snapshot_id", snapshot.ID.String()),
		zap.Int("lines", len(lines)),
		zap.Int("diary", len(diary)),
		zap.String("total_inc_vat", totals.TotalIncVAT.StringFixed(2)),
	)
	return snapshot, nil
}

// acquireRefreshLock serializes refreshes of one period across processes when
// a Locker is configured. Without one it is a no-op and concurrent refreshes
// of the same period resolve last-write-wins.
func (s *Service) acquireRefreshLock(ctx context.Context, orgID, projectID snowflake.ID, period domain.Period) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	key := refreshLockKey(orgID, projectID, period)
	waitStarted := time.Now()
	token, err := keylock.Acquire(ctx, s.locker, key, s.lockTTL, s.lockWait)
	s.promMetrics.ObserveLockWait(time.Since(waitStarted))
	if err != nil {
		if errors.Is(err, keylock.ErrLockTimeout) {
			return nil, domain.ErrRefreshInProgress
		}
		return nil, fmt.Errorf("acquire refresh lock: %w", err)
	}

	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("invoicebasis.refresh.lock_release_failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func refreshLockKey(orgID, projectID snowflake.ID, period domain.Period) string {
	return fmt.Sprintf("invoicebasis:refresh:%s:%s:%s:%s", orgID, projectID, period.StartString(), period.EndString())
}

func (s *Service) recordLines(lines []domain.Line) {
	if s.promMetrics == nil {
		return
	}
	counts := make(map[domain.LineType]int)
	for _, line := range lines {
		counts[line.Type]++
	}
	for lineType, count := range counts {
		s.promMetrics.AddLines(string(lineType), count)
	}
}

func (s *Service) Get(ctx context.Context, orgID, projectID snowflake.ID, periodStart, periodEnd string) (*domain.InvoiceBasisSnapshot, error) {
	period, err := validateKey(orgID, projectID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.snapshots.FindByPeriod(ctx, s.db, orgID, projectID, period, false)
	if err != nil {
		return nil, &domain.PersistenceError{Op: domain.OpLookup, Err: err}
	}
	if snapshot == nil {
		return nil, domain.ErrSnapshotNotFound
	}
	return snapshot, nil
}

// Lock finalizes a stored snapshot. Locking an already locked snapshot
// returns it unchanged.
func (s *Service) Lock(ctx context.Context, orgID, projectID snowflake.ID, periodStart, periodEnd, lockedBy string) (*domain.InvoiceBasisSnapshot, error) {
	period, err := validateKey(orgID, projectID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	lockedBy = strings.TrimSpace(lockedBy)
	if lockedBy == "" {
		return nil, domain.ErrInvalidLockedBy
	}

	var result *domain.InvoiceBasisSnapshot
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithOrg(tx, orgID); err != nil {
			return &domain.PersistenceError{Op: domain.OpLookup, Err: err}
		}
		existing, err := s.snapshots.FindByPeriod(ctx, tx, orgID, projectID, period, true)
		if err != nil {
			return &domain.PersistenceError{Op: domain.OpLookup, Err: err}
		}
		if existing == nil {
			return domain.ErrSnapshotNotFound
		}
		if existing.Locked {
			result = existing
			return nil
		}

		if err := s.snapshots.MarkLocked(ctx, tx, orgID, existing.ID, lockedBy, s.clock.Now()); err != nil {
			return &domain.PersistenceError{Op: domain.OpLock, Err: err}
		}
		locked, err := s.snapshots.FindByID(ctx, tx, orgID, existing.ID)
		if err != nil {
			return &domain.PersistenceError{Op: domain.OpReread, Err: err}
		}
		if locked == nil {
			return &domain.PersistenceError{Op: domain.OpReread, Err: domain.ErrSnapshotNotFound}
		}
		result = locked
		return nil
	})

	outcome := metrics.OutcomeLocked
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	s.otelMetrics.RecordLock(ctx, orgID.String(), outcome)
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("invoicebasis.lock.completed",
		zap.String("snapshot_id", result.ID.String()),
		zap.String("locked_by", lockedBy),
	)
	return result, nil
}

func validateKey(orgID, projectID snowflake.ID, periodStart, periodEnd string) (domain.Period, error) {
	if orgID == 0 {
		return domain.Period{}, domain.ErrInvalidOrganization
	}
	if projectID == 0 {
		return domain.Period{}, domain.ErrInvalidProject
	}
	return domain.ParsePeriod(periodStart, periodEnd)
}
