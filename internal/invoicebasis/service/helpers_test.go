package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/bygglogg/internal/clock"
	"github.com/smallbiznis/bygglogg/internal/config"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/repository"
	"github.com/smallbiznis/bygglogg/internal/migration"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	svc     *Service
	orgID   snowflake.ID
	project domain.Project
	userID  snowflake.ID
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps the in-memory database alive and serializes access.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(db))
	return db
}

func newParams(db *gorm.DB, node *snowflake.Node, clk clock.Clock) Params {
	return Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Config: config.Config{
			InvoiceBasis: config.InvoiceBasisRuntimeConfig{DefaultCurrency: "SEK", DefaultPaymentDays: 30},
		},
		Defaults:  config.DefaultInvoiceBasisConfig(),
		Sources:   repository.NewSourceReader(db),
		Snapshots: repository.NewSnapshotRepository(),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))

	f := &fixture{
		db:     db,
		node:   node,
		clock:  clk,
		orgID:  node.Generate(),
		userID: node.Generate(),
	}
	f.project = domain.Project{ID: node.Generate(), OrgID: f.orgID, Name: "Villa Ek", Code: strPtr("P-100"), CreatedAt: clk.Now()}
	require.NoError(t, db.Create(&f.project).Error)
	require.NoError(t, db.Create(&domain.Membership{
		ID:         node.Generate(),
		OrgID:      f.orgID,
		UserID:     f.userID,
		HourlyRate: nd("650"),
		CreatedAt:  clk.Now(),
	}).Error)

	f.svc = New(newParams(db, node, clk)).(*Service)
	return f
}

func at(date string, hour int) time.Time {
	t, _ := domain.ParseDate(date)
	return t.Add(time.Duration(hour) * time.Hour)
}

func (f *fixture) addTime(t *testing.T, start time.Time, minutes int64, status string) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&domain.TimeEntry{
		ID:        id,
		OrgID:     f.orgID,
		ProjectID: f.project.ID,
		UserID:    f.userID,
		StartAt:   start,
		Minutes:   &minutes,
		Status:    status,
		CreatedAt: start,
	}).Error)
	return id
}

func (f *fixture) addMaterial(t *testing.T, createdAt time.Time, qty, price string, changeOrderID *snowflake.ID) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&domain.Material{
		ID:            id,
		OrgID:         f.orgID,
		ProjectID:     f.project.ID,
		ChangeOrderID: changeOrderID,
		Name:          strPtr("Gipsskiva"),
		Quantity:      nd(qty),
		UnitPrice:     nd(price),
		Status:        domain.StatusApproved,
		CreatedAt:     createdAt,
	}).Error)
	return id
}

func (f *fixture) addChangeOrder(t *testing.T, createdAt time.Time, fixed, materials string) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&domain.ChangeOrder{
		ID:              id,
		OrgID:           f.orgID,
		ProjectID:       f.project.ID,
		Number:          strPtr("1"),
		Title:           strPtr("Extra fönster"),
		BillingType:     domain.BillingTypeFixed,
		FixedAmount:     nd(fixed),
		MaterialsAmount: nd(materials),
		Status:          domain.StatusApproved,
		CreatedAt:       createdAt,
	}).Error)
	return id
}

func lineIDs(s *domain.InvoiceBasisSnapshot) []string {
	ids := make([]string, 0)
	for _, line := range s.Lines().Lines {
		ids = append(ids, line.ID)
	}
	return ids
}
