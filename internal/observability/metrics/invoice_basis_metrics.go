package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"gorm.io/gorm"
)

// Refresh outcomes.
const (
	OutcomeRefreshed = "refreshed"
	OutcomeLocked    = "locked"
	OutcomeFailed    = "failed"
)

// Failure reasons.
const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonValidation           = "validation"
	ReasonNotFound             = "not_found"
	ReasonInProgress           = "in_progress"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonDB                   = "db"
	ReasonUnknown              = "unknown"
)

// InvoiceBasisMetrics captures refresh pipeline health on the Prometheus
// registry served at /metrics.
type InvoiceBasisMetrics struct {
	refreshRuns      *prometheus.CounterVec
	refreshDuration  *prometheus.HistogramVec
	refreshErrors    *prometheus.CounterVec
	sourceRows       *prometheus.CounterVec
	linesProduced    *prometheus.CounterVec
	approvalKeys     prometheus.Counter
	approvalFailures prometheus.Counter
	lockWait         prometheus.Observer
}

var (
	invoiceBasisMetricsOnce sync.Once
	invoiceBasisMetrics     *InvoiceBasisMetrics
)

// InvoiceBasis returns the singleton registered on the default registerer.
func InvoiceBasis() *InvoiceBasisMetrics {
	return InvoiceBasisWithConfig(Config{})
}

// InvoiceBasisWithConfig returns the singleton using config labels.
func InvoiceBasisWithConfig(cfg Config) *InvoiceBasisMetrics {
	invoiceBasisMetricsOnce.Do(func() {
		invoiceBasisMetrics = NewInvoiceBasisMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return invoiceBasisMetrics
}

// ResetInvoiceBasisMetricsForTest resets the singleton for tests.
func ResetInvoiceBasisMetricsForTest() {
	invoiceBasisMetricsOnce = sync.Once{}
	invoiceBasisMetrics = nil
}

// NewInvoiceBasisMetrics registers the collectors on registerer. Tests pass a
// fresh prometheus.NewRegistry().
func NewInvoiceBasisMetrics(registerer prometheus.Registerer, cfg Config) *InvoiceBasisMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName(cfg),
		"env":     environment,
	}

	refreshRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bygglogg_invoice_basis_refresh_runs_total",
		Help:        "Invoice basis refreshes by trigger and outcome.",
		ConstLabels: constLabels,
	}, []string{"trigger", "outcome"})
	refreshDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "bygglogg_invoice_basis_refresh_duration_seconds",
		Help:        "Invoice basis refresh latency from source reads to re-read.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"trigger"})
	refreshErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bygglogg_invoice_basis_refresh_errors_total",
		Help:        "Invoice basis refresh failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"trigger", "reason"})
	sourceRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bygglogg_invoice_basis_source_rows_total",
		Help:        "Approved source rows read per source.",
		ConstLabels: constLabels,
	}, []string{"source"})
	linesProduced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bygglogg_invoice_basis_lines_total",
		Help:        "Normalized invoice basis lines by line type.",
		ConstLabels: constLabels,
	}, []string{"type"})
	approvalKeys := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "bygglogg_invoice_basis_approval_keys_total",
		Help:        "Distinct (project, week) refreshes scheduled from approvals.",
		ConstLabels: constLabels,
	})
	approvalFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "bygglogg_invoice_basis_approval_failures_total",
		Help:        "Approval-triggered refreshes that failed and were skipped.",
		ConstLabels: constLabels,
	})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "bygglogg_invoice_basis_refresh_lock_wait_seconds",
		Help:        "Time spent waiting for the per-period refresh lock.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		refreshRuns,
		refreshDuration,
		refreshErrors,
		sourceRows,
		linesProduced,
		approvalKeys,
		approvalFailures,
		lockWait,
	)

	return &InvoiceBasisMetrics{
		refreshRuns:      refreshRuns,
		refreshDuration:  refreshDuration,
		refreshErrors:    refreshErrors,
		sourceRows:       sourceRows,
		linesProduced:    linesProduced,
		approvalKeys:     approvalKeys,
		approvalFailures: approvalFailures,
		lockWait:         lockWait,
	}
}

// ObserveRefresh records one finished refresh.
func (m *InvoiceBasisMetrics) ObserveRefresh(trigger, outcome string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.refreshRuns.WithLabelValues(trigger, outcome).Inc()
	m.refreshDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	if err != nil {
		m.refreshErrors.WithLabelValues(trigger, ClassifyRefreshError(err)).Inc()
	}
}

func (m *InvoiceBasisMetrics) AddSourceRows(source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sourceRows.WithLabelValues(source).Add(float64(count))
}

func (m *InvoiceBasisMetrics) AddLines(lineType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.linesProduced.WithLabelValues(lineType).Add(float64(count))
}

func (m *InvoiceBasisMetrics) AddApprovalKeys(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.approvalKeys.Add(float64(count))
}

func (m *InvoiceBasisMetrics) IncApprovalFailure() {
	if m == nil {
		return
	}
	m.approvalFailures.Inc()
}

func (m *InvoiceBasisMetrics) ObserveLockWait(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.lockWait.Observe(duration.Seconds())
}

// ClassifyRefreshError maps refresh errors to low-cardinality reasons.
func ClassifyRefreshError(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case errors.Is(err, domain.ErrInvalidOrganization),
		errors.Is(err, domain.ErrInvalidProject),
		errors.Is(err, domain.ErrInvalidPeriod):
		return ReasonValidation
	case errors.Is(err, domain.ErrProjectNotFound), errors.Is(err, domain.ErrSnapshotNotFound):
		return ReasonNotFound
	case errors.Is(err, domain.ErrRefreshInProgress):
		return ReasonInProgress
	case hasPGCode(err, "55P03"):
		return ReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return ReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return ReasonUniqueViolation
	case isDBError(err):
		return ReasonDB
	default:
		return ReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true
	}
	var persistErr *domain.PersistenceError
	return errors.As(err, &persistErr)
}
