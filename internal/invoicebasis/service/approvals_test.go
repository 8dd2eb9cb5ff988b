package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGroupApprovalsDedupesByProjectAndWeek(t *testing.T) {
	items := []domain.ApprovalItem{
		{ProjectID: 2, Date: "2025-01-08"},
		{ProjectID: 1, Date: "2025-01-12"},
		{ProjectID: 1, Date: "2025-01-06"},
		{ProjectID: 1, Date: "2025-01-13T08:30:00Z"},
		{ProjectID: 0, Date: "2025-01-08"},
		{ProjectID: 3, Date: "not-a-date"},
	}

	keys, invalid := groupApprovals(items)

	require.Len(t, keys, 3)
	assert.Equal(t, snowflake.ID(1), keys[0].ProjectID)
	assert.Equal(t, "2025-01-06..2025-01-12", keys[0].Week.Key())
	assert.Equal(t, snowflake.ID(1), keys[1].ProjectID)
	assert.Equal(t, "2025-01-13..2025-01-19", keys[1].Week.Key())
	assert.Equal(t, snowflake.ID(2), keys[2].ProjectID)
	assert.Equal(t, "2025-01-06..2025-01-12", keys[2].Week.Key())
	assert.Len(t, invalid, 2)
}

func TestGroupApprovalsSundayBelongsToPrecedingWeek(t *testing.T) {
	keys, invalid := groupApprovals([]domain.ApprovalItem{{ProjectID: 9, Date: "2025-01-05"}})
	require.Empty(t, invalid)
	require.Len(t, keys, 1)
	assert.Equal(t, "2024-12-30", keys[0].Week.StartString())
	assert.Equal(t, "2025-01-05", keys[0].Week.EndString())
}

func TestGroupApprovalsBucketsTimestampsByUTCDate(t *testing.T) {
	keys, invalid := groupApprovals([]domain.ApprovalItem{
		{ProjectID: 4, Date: "2025-01-13T00:30:00+01:00"},
		{ProjectID: 5, Date: "2025-01-12T23:30:00-02:00"},
	})
	require.Empty(t, invalid)
	require.Len(t, keys, 2)
	assert.Equal(t, "2025-01-06..2025-01-12", keys[0].Week.Key())
	assert.Equal(t, "2025-01-13..2025-01-19", keys[1].Week.Key())
}

func TestRefreshForApprovalsRunsOneRefreshPerKey(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	calls := map[string]int{}
	f.svc.refreshKey = func(_ context.Context, _ snowflake.ID, key approvalKey) error {
		mu.Lock()
		defer mu.Unlock()
		calls[key.ProjectID.String()+"|"+key.Week.Key()]++
		return nil
	}

	f.svc.RefreshForApprovals(context.Background(), f.orgID, []domain.ApprovalItem{
		{ProjectID: f.project.ID, Date: "2025-01-07"},
		{ProjectID: f.project.ID, Date: "2025-01-09"},
		{ProjectID: f.project.ID, Date: "2025-01-14"},
	})

	assert.Equal(t, map[string]int{
		f.project.ID.String() + "|2025-01-06..2025-01-12": 1,
		f.project.ID.String() + "|2025-01-13..2025-01-19": 1,
	}, calls)
}

func TestRefreshForApprovalsIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.DebugLevel)
	f.svc.log = zap.New(core)

	var calls atomic.Int32
	f.svc.refreshKey = func(_ context.Context, _ snowflake.ID, key approvalKey) error {
		calls.Add(1)
		switch key.ProjectID {
		case 1:
			return errors.New("source down")
		case 2:
			panic("boom")
		}
		return nil
	}

	require.NotPanics(t, func() {
		f.svc.RefreshForApprovals(context.Background(), f.orgID, []domain.ApprovalItem{
			{ProjectID: 1, Date: "2025-01-07"},
			{ProjectID: 2, Date: "2025-01-07"},
			{ProjectID: 3, Date: "2025-01-07"},
		})
	})

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, logs.FilterMessage("invoicebasis.approvals.refresh_failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("invoicebasis.approvals.refresh_panic").Len())
}

func TestRefreshForApprovalsRespectsParallelLimit(t *testing.T) {
	f := newFixture(t)
	f.svc.maxParallel = 1

	var running, peak atomic.Int32
	f.svc.refreshKey = func(context.Context, snowflake.ID, approvalKey) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		running.Add(-1)
		return nil
	}

	f.svc.RefreshForApprovals(context.Background(), f.orgID, []domain.ApprovalItem{
		{ProjectID: 1, Date: "2025-01-07"},
		{ProjectID: 2, Date: "2025-01-07"},
		{ProjectID: 3, Date: "2025-01-07"},
		{ProjectID: 4, Date: "2025-01-07"},
	})

	assert.Equal(t, int32(1), peak.Load())
}

func TestRefreshForApprovalsIgnoresMissingOrg(t *testing.T) {
	f := newFixture(t)
	called := false
	f.svc.refreshKey = func(context.Context, snowflake.ID, approvalKey) error {
		called = true
		return nil
	}

	f.svc.RefreshForApprovals(context.Background(), 0, []domain.ApprovalItem{{ProjectID: 1, Date: "2025-01-07"}})
	assert.False(t, called)
}

func TestRefreshForApprovalsWritesWeeklySnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry := f.addTime(t, at("2025-01-08", 7), 90, domain.StatusApproved)
	f.addTime(t, at("2025-01-14", 7), 60, domain.StatusApproved)

	f.svc.RefreshForApprovals(ctx, f.orgID, []domain.ApprovalItem{{ProjectID: f.project.ID, Date: "2025-01-08"}})

	snapshot, err := f.svc.Get(ctx, f.orgID, f.project.ID, "2025-01-06", "2025-01-12")
	require.NoError(t, err)
	assert.Equal(t, []string{entry.String()}, lineIDs(snapshot))
	assertDec(t, "975", snapshot.ComputedTotals().TotalExVAT)

	_, err = f.svc.Get(ctx, f.orgID, f.project.ID, "2025-01-13", "2025-01-19")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}
