package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"github.com/smallbiznis/bygglogg/internal/keylock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	weekStart = "2025-01-06"
	weekEnd   = "2025-01-12"
)

func TestRefreshBuildsSnapshotFromApprovedSources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	timeID := f.addTime(t, at("2025-01-07", 7), 120, domain.StatusApproved)
	f.addTime(t, at("2025-01-07", 12), 60, "draft")
	matID := f.addMaterial(t, at("2025-01-08", 9), "3", "10.005", nil)
	coID := f.addChangeOrder(t, at("2025-01-09", 10), "5000", "1200")
	f.addMaterial(t, at("2025-01-09", 11), "10", "99", &coID)

	require.NoError(t, f.db.Create(&domain.DiaryEntry{
		ID:            f.node.Generate(),
		OrgID:         f.orgID,
		ProjectID:     f.project.ID,
		Date:          day("2025-01-08"),
		WorkPerformed: strPtr("Gipsning"),
		CreatedAt:     at("2025-01-08", 16),
	}).Error)

	snapshot, err := f.svc.Refresh(ctx, f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	assert.Equal(t, []string{
		timeID.String(),
		matID.String(),
		coID.String(),
		coID.String() + "-material",
		lineIDs(snapshot)[4],
	}, lineIDs(snapshot))
	assert.Equal(t, domain.LineTypeDiary, snapshot.Lines().Lines[4].Type)
	require.Len(t, snapshot.Lines().Diary, 1)
	assert.Equal(t, "Utfört arbete: Gipsning", snapshot.Lines().Diary[0].Summary)

	// 2h x 650 = 1300; 30.02; 5000 + 1200; all at 25 %.
	totals := snapshot.ComputedTotals()
	assert.Equal(t, "SEK", totals.Currency)
	assertDec(t, "7530.02", totals.PerRate["25"].Base)
	assertDec(t, "1882.51", totals.PerRate["25"].VAT)
	assertDec(t, "9412.53", totals.TotalIncVAT)

	assert.False(t, snapshot.Locked)
	assert.Equal(t, 30, snapshot.PaymentTermsDays)
	assert.Equal(t, "SEK", snapshot.Currency)
	assertDec(t, "1", snapshot.FXRate)
	assert.Nil(t, snapshot.CustomerID)
	assert.Nil(t, snapshot.InvoiceNumber)
	assert.Equal(t, weekStart, domain.FormatDate(snapshot.PeriodStart))
	assert.Equal(t, weekEnd, domain.FormatDate(snapshot.PeriodEnd))
}

func TestRefreshExcludesMaterialsBundledInChangeOrder(t *testing.T) {
	f := newFixture(t)
	coID := f.addChangeOrder(t, at("2025-01-07", 8), "1000", "0")
	bundled := f.addMaterial(t, at("2025-01-07", 9), "1", "500", &coID)

	snapshot, err := f.svc.Refresh(context.Background(), f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)

	assert.NotContains(t, lineIDs(snapshot), bundled.String())
	assert.Equal(t, []string{coID.String()}, lineIDs(snapshot))
}

func TestRefreshRespectsPeriodBounds(t *testing.T) {
	f := newFixture(t)
	first := f.addTime(t, at(weekStart, 0), 60, domain.StatusApproved)
	last := f.addTime(t, at(weekEnd, 23), 60, domain.StatusApproved)
	f.addTime(t, at("2025-01-13", 0), 60, domain.StatusApproved)
	f.addTime(t, at("2025-01-05", 23), 60, domain.StatusApproved)

	require.NoError(t, f.db.Create(&domain.Expense{
		ID: f.node.Generate(), OrgID: f.orgID, ProjectID: f.project.ID,
		Date: day(weekEnd), Amount: nd("100"), Status: domain.StatusApproved, CreatedAt: f.clock.Now(),
	}).Error)
	require.NoError(t, f.db.Create(&domain.Expense{
		ID: f.node.Generate(), OrgID: f.orgID, ProjectID: f.project.ID,
		Date: day("2025-01-13"), Amount: nd("100"), Status: domain.StatusApproved, CreatedAt: f.clock.Now(),
	}).Error)

	snapshot, err := f.svc.Refresh(context.Background(), f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)

	ids := lineIDs(snapshot)
	require.Len(t, ids, 3)
	assert.Equal(t, first.String(), ids[0])
	assert.Equal(t, last.String(), ids[1])
	assert.Equal(t, domain.LineTypeExpense, snapshot.Lines().Lines[2].Type)
}

func TestRefreshIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTime(t, at("2025-01-07", 7), 45, domain.StatusApproved)
	f.addMaterial(t, at("2025-01-08", 9), "2", "149.90", nil)

	first, err := f.svc.Refresh(ctx, f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second, err := f.svc.Refresh(ctx, f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.JSONEq(t, mustJSON(t, first.LinesJSON), mustJSON(t, second.LinesJSON))
	assert.JSONEq(t, mustJSON(t, first.Totals), mustJSON(t, second.Totals))

	var count int64
	require.NoError(t, f.db.Model(&domain.InvoiceBasisSnapshot{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRefreshLogsSlowRuns(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.InfoLevel)
	f.svc.log = zap.New(core)
	f.addTime(t, at("2025-01-07", 7), 45, domain.StatusApproved)

	f.svc.slowRefresh = 0
	_, err := f.svc.Refresh(context.Background(), f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("invoicebasis.refresh.slow").Len())

	f.svc.slowRefresh = time.Nanosecond
	_, err = f.svc.Refresh(context.Background(), f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)
	slow := logs.FilterMessage("invoicebasis.refresh.slow").All()
	require.Len(t, slow, 1)
	assert.Equal(t, "manual", slow[0].ContextMap()["trigger"])
	assert.Equal(t, "refreshed", slow[0].ContextMap()["outcome"])
}

func TestRefreshUpdatesUnlockedRowAndKeepsMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMaterial(t, at("2025-01-08", 9), "1", "100", nil)

	first, err := f.svc.Refresh(ctx, f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&domain.InvoiceBasisSnapshot{}).
		Where("id = ?", first.ID).
		Update("invoice_number", "F-2025-001").Error)

	f.addMaterial(t, at("2025-01-09", 9), "1", "50", nil)
	f.clock.Advance(time.Hour)
	second, err := f.svc.Refresh(ctx, f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.InvoiceNumber)
	assert.Equal(t, "F-2025-001", *second.InvoiceNumber)
	assertDec(t, "150", second.ComputedTotals().TotalExVAT)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestRefreshNeverRewritesLockedSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addMaterial(t, at("2025-01-08", 9), "1", "100", nil)

	before, err := f.svc.Refresh(ctx, f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)
	locked, err := f.svc.Lock(ctx, f.orgID, f.project.ID, weekStart, weekEnd, "anna@example.se")
	require.NoError(t, err)
	assert.True(t, locked.Locked)
	require.NotNil(t, locked.LockedBy)
	assert.Equal(t, "anna@example.se", *locked.LockedBy)
	require.NotNil(t, locked.LockedAt)

	f.addMaterial(t, at("2025-01-09", 9), "10", "1000", nil)
	after, err := f.svc.Refresh(ctx, f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)

	assert.True(t, after.Locked)
	assert.Equal(t, before.ID, after.ID)
	assert.JSONEq(t, mustJSON(t, before.LinesJSON), mustJSON(t, after.LinesJSON))
	assert.JSONEq(t, mustJSON(t, before.Totals), mustJSON(t, after.Totals))
}

func TestLockIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Refresh(ctx, f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)

	first, err := f.svc.Lock(ctx, f.orgID, f.project.ID, weekStart, weekEnd, "anna")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second, err := f.svc.Lock(ctx, f.orgID, f.project.ID, weekStart, weekEnd, "bertil")
	require.NoError(t, err)

	assert.Equal(t, "anna", *second.LockedBy)
	assert.True(t, first.LockedAt.Equal(*second.LockedAt))
}

func TestLockValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Lock(ctx, f.orgID, f.project.ID, weekStart, weekEnd, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidLockedBy)

	_, err = f.svc.Lock(ctx, f.orgID, f.project.ID, weekStart, weekEnd, "anna")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestRefreshValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, f.orgID, f.project.ID, weekEnd, weekStart)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	_, err = f.svc.Refresh(ctx, f.orgID, f.project.ID, "2025-13-01", weekEnd)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	_, err = f.svc.Refresh(ctx, 0, f.project.ID, weekStart, weekEnd)
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)

	_, err = f.svc.Refresh(ctx, f.orgID, 0, weekStart, weekEnd)
	assert.ErrorIs(t, err, domain.ErrInvalidProject)
}

func TestRefreshFailsForProjectOutsideOrg(t *testing.T) {
	f := newFixture(t)
	f.addTime(t, at("2025-01-07", 7), 60, domain.StatusApproved)

	_, err := f.svc.Refresh(context.Background(), f.node.Generate(), f.project.ID, weekStart, weekEnd)
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)

	var count int64
	require.NoError(t, f.db.Model(&domain.InvoiceBasisSnapshot{}).Count(&count).Error)
	assert.Zero(t, count)
}

type failingSources struct {
	domain.SourceReader
	err error
}

func (s failingSources) ListApprovedExpenses(context.Context, snowflake.ID, snowflake.ID, domain.Period) ([]domain.Expense, error) {
	return nil, s.err
}

func TestRefreshAbortsOnAnySourceFailure(t *testing.T) {
	f := newFixture(t)
	f.addTime(t, at("2025-01-07", 7), 60, domain.StatusApproved)
	boom := errors.New("connection reset")

	params := newParams(f.db, f.node, f.clock)
	params.Sources = failingSources{SourceReader: params.Sources, err: boom}
	svc := New(params)

	_, err := svc.Refresh(context.Background(), f.orgID, f.project.ID, weekStart, weekEnd)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var readErr *domain.SourceReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "expenses", readErr.Source)

	var count int64
	require.NoError(t, f.db.Model(&domain.InvoiceBasisSnapshot{}).Count(&count).Error)
	assert.Zero(t, count)
}

type mockSnapshotRepository struct {
	mock.Mock
}

func (m *mockSnapshotRepository) FindByPeriod(ctx context.Context, db *gorm.DB, orgID, projectID snowflake.ID, period domain.Period, forUpdate bool) (*domain.InvoiceBasisSnapshot, error) {
	args := m.Called(ctx, db, orgID, projectID, period, forUpdate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InvoiceBasisSnapshot), args.Error(1)
}

func (m *mockSnapshotRepository) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.InvoiceBasisSnapshot, error) {
	args := m.Called(ctx, db, orgID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InvoiceBasisSnapshot), args.Error(1)
}

func (m *mockSnapshotRepository) Insert(ctx context.Context, db *gorm.DB, snapshot *domain.InvoiceBasisSnapshot) error {
	return m.Called(ctx, db, snapshot).Error(0)
}

func (m *mockSnapshotRepository) UpdateComputed(ctx context.Context, db *gorm.DB, snapshot *domain.InvoiceBasisSnapshot) error {
	return m.Called(ctx, db, snapshot).Error(0)
}

func (m *mockSnapshotRepository) MarkLocked(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, lockedBy string, lockedAt time.Time) error {
	return m.Called(ctx, db, orgID, id, lockedBy, lockedAt).Error(0)
}

func TestRefreshNamesFailingPersistenceStep(t *testing.T) {
	f := newFixture(t)
	diskFull := errors.New("disk full")

	repo := &mockSnapshotRepository{}
	repo.On("FindByPeriod", mock.Anything, mock.Anything, f.orgID, f.project.ID, mock.Anything, mock.Anything).Return(nil, nil)
	repo.On("Insert", mock.Anything, mock.Anything, mock.Anything).Return(diskFull).Once()

	params := newParams(f.db, f.node, f.clock)
	params.Snapshots = repo
	svc := New(params)

	_, err := svc.Refresh(context.Background(), f.orgID, f.project.ID, weekStart, weekEnd)
	require.Error(t, err)
	var persistErr *domain.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, domain.OpInsert, persistErr.Op)
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, "invoice basis insert: disk full", err.Error())
	repo.AssertNumberOfCalls(t, "Insert", 1)
}

func TestRefreshReturnsRowLockedDuringComputation(t *testing.T) {
	f := newFixture(t)
	lockedRow := &domain.InvoiceBasisSnapshot{ID: 42, OrgID: f.orgID, ProjectID: f.project.ID, Locked: true}

	repo := &mockSnapshotRepository{}
	repo.On("FindByPeriod", mock.Anything, mock.Anything, f.orgID, f.project.ID, mock.Anything, false).Return(nil, nil).Once()
	repo.On("FindByPeriod", mock.Anything, mock.Anything, f.orgID, f.project.ID, mock.Anything, true).Return(lockedRow, nil).Once()

	params := newParams(f.db, f.node, f.clock)
	params.Snapshots = repo
	svc := New(params)

	got, err := svc.Refresh(context.Background(), f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)
	assert.Same(t, lockedRow, got)
	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpdateComputed", mock.Anything, mock.Anything, mock.Anything)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, f.orgID, f.project.ID, weekStart, weekEnd)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	created, err := f.svc.Refresh(ctx, f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)
	got, err := f.svc.Get(ctx, f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

type heldLocker struct{}

func (heldLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	return "", false, nil
}

func (heldLocker) Release(context.Context, string, string) error { return nil }

type recordingLocker struct {
	keys     []string
	released []string
}

func (l *recordingLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.keys = append(l.keys, key)
	return "token", true, nil
}

func (l *recordingLocker) Release(_ context.Context, key, _ string) error {
	l.released = append(l.released, key)
	return nil
}

func TestRefreshWithLockHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	params := newParams(f.db, f.node, f.clock)
	params.Locker = heldLocker{}
	params.Config.RefreshLock.WaitTimeout = 60 * time.Millisecond
	svc := New(params)

	_, err := svc.Refresh(context.Background(), f.orgID, f.project.ID, weekStart, weekEnd)
	assert.ErrorIs(t, err, domain.ErrRefreshInProgress)
}

func TestRefreshAcquiresAndReleasesPeriodLock(t *testing.T) {
	f := newFixture(t)
	locker := &recordingLocker{}
	params := newParams(f.db, f.node, f.clock)
	params.Locker = locker
	svc := New(params)

	_, err := svc.Refresh(context.Background(), f.orgID, f.project.ID, weekStart, weekEnd)
	require.NoError(t, err)

	want := "invoicebasis:refresh:" + f.orgID.String() + ":" + f.project.ID.String() + ":2025-01-06:2025-01-12"
	assert.Equal(t, []string{want}, locker.keys)
	assert.Equal(t, []string{want}, locker.released)
}

var _ keylock.Locker = heldLocker{}

func mustJSON[T any](t *testing.T, v datatypes.JSONType[T]) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}
