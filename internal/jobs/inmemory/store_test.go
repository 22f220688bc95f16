package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledgerx-smoke/internal/jobs"
)

func TestStore_SaveRequiresID(t *testing.T) {
	s := NewStore()
	err := s.SaveJob(context.Background(), &jobs.ExportJob{})
	require.Error(t, err)
}

func TestStore_SaveStoresCopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	job := &jobs.ExportJob{JobID: "a", Status: jobs.JobStatusPending}
	require.NoError(t, s.SaveJob(ctx, job))

	job.Status = jobs.JobStatusDone
	got, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status)
}

func TestStore_GetMissing(t *testing.T) {
	_, err := NewStore().GetJob(context.Background(), "nope")
	require.Error(t, err)
}

func TestStore_ListJobsFiltersAndOrders(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, j := range []*jobs.ExportJob{
		{JobID: "c", ExportID: 3, UserID: 1, Status: jobs.JobStatusDone, CreatedAt: base.Add(2 * time.Minute)},
		{JobID: "a", ExportID: 1, UserID: 1, Status: jobs.JobStatusPending, CreatedAt: base},
		{JobID: "b", ExportID: 2, UserID: 2, Status: jobs.JobStatusDone, CreatedAt: base.Add(time.Minute)},
		{JobID: "d", ExportID: 4, UserID: 1, Status: jobs.JobStatusDone, CreatedAt: base.Add(2 * time.Minute)},
	} {
		require.NoError(t, s.SaveJob(ctx, j))
	}

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	ids := make([]int64, len(all))
	for i, j := range all {
		ids[i] = j.ExportID
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)

	user1Done, err := s.ListJobs(ctx, jobs.JobFilter{UserID: 1, Status: jobs.JobStatusDone})
	require.NoError(t, err)
	require.Len(t, user1Done, 2)
	assert.Equal(t, int64(3), user1Done[0].ExportID)

	page, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].ExportID)

	empty, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_UpdateJobStatus(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.SaveJob(ctx, &jobs.ExportJob{JobID: "x", Status: jobs.JobStatusRunning}))

	require.NoError(t, s.UpdateJobStatus(ctx, "x", jobs.JobStatusError, "failed"))
	got, err := s.GetJob(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusError, got.Status)
	assert.Equal(t, "failed", got.Error)

	assert.Error(t, s.UpdateJobStatus(ctx, "missing", jobs.JobStatusDone, ""))
}
