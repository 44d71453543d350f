package jobs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairpulse/internal/events"
	"repairpulse/internal/jobs"
	"repairpulse/internal/testsupport"
)

func countingJob(name string, runs *atomic.Int32) jobs.Job {
	return jobs.JobFunc{JobName: name, Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}
}

func TestRegisterRejectsInvalidSchedule(t *testing.T) {
	s := jobs.NewScheduler(testsupport.GetLogger())
	var runs atomic.Int32

	err := s.Register("every tuesday", countingJob("bad", &runs))
	assert.Error(t, err)
	assert.NoError(t, s.Register("15 3 * * *", countingJob("good", &runs)))
	assert.NoError(t, s.Register(jobs.GeoDBReloadSchedule, countingJob("hourly", &runs)))
}

func TestRunJobSkipsOverlappingRunsOfTheSameJob(t *testing.T) {
	s := jobs.NewScheduler(testsupport.GetLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	var slowRuns atomic.Int32
	slow := jobs.JobFunc{JobName: "slow", Fn: func(context.Context) error {
		if slowRuns.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}}

	done := make(chan struct{})
	go func() {
		s.RunJob(slow)
		close(done)
	}()
	<-started

	s.RunJob(slow)
	assert.Equal(t, int32(1), slowRuns.Load(), "overlapping run should be skipped")

	var otherRuns atomic.Int32
	otherDone := make(chan struct{})
	go func() {
		s.RunJob(countingJob("other", &otherRuns))
		close(otherDone)
	}()

	// Other jobs wait for the running one instead of being skipped.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, otherRuns.Load())

	close(release)
	<-done
	<-otherDone
	assert.Equal(t, int32(1), otherRuns.Load())

	s.RunJob(slow)
	assert.Equal(t, int32(2), slowRuns.Load())
}

func TestRunJobRecoversFromPanics(t *testing.T) {
	s := jobs.NewScheduler(testsupport.GetLogger())

	assert.NotPanics(t, func() {
		s.RunJob(jobs.JobFunc{JobName: "boom", Fn: func(context.Context) error { panic("boom") }})
	})

	var runs atomic.Int32
	s.RunJob(countingJob("after", &runs))
	assert.Equal(t, int32(1), runs.Load())
}

func TestStartRunsJobsOnceAndStopCancelsThem(t *testing.T) {
	s := jobs.NewScheduler(testsupport.GetLogger())

	var runs atomic.Int32
	var cancelled atomic.Bool
	require.NoError(t, s.Register("0 0 1 1 *", countingJob("yearly", &runs)))
	require.NoError(t, s.Register("0 0 1 1 *", jobs.JobFunc{JobName: "waits", Fn: func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}}))

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 10*time.Millisecond)

	s.Stop()
	assert.True(t, cancelled.Load())
	assert.False(t, s.IsRunning())
	s.Stop()
}

type fakePruner struct {
	calls  int
	cutoff time.Time
	err    error
}

func (p *fakePruner) PruneAggregationMarks(_ context.Context, cutoff time.Time) (int64, error) {
	p.calls++
	p.cutoff = cutoff
	return 3, p.err
}

func TestLedgerCleanupJobUsesRetention(t *testing.T) {
	pruner := &fakePruner{}
	job := jobs.NewLedgerCleanupJob(pruner, testsupport.GetLogger(), 30)

	before := time.Now().UTC().AddDate(0, 0, -30)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, pruner.calls)
	assert.WithinDuration(t, before, pruner.cutoff, time.Minute)

	pruner.err = errors.New("database is locked")
	assert.Error(t, job.Run(context.Background()))

	disabled := &fakePruner{}
	require.NoError(t, jobs.NewLedgerCleanupJob(disabled, testsupport.GetLogger(), 0).Run(context.Background()))
	assert.Zero(t, disabled.calls)
}

func TestLedgerCleanupJobPrunesStore(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	old := time.Now().UTC().AddDate(0, 0, -45)
	recent := time.Now().UTC().AddDate(0, 0, -1)
	require.NoError(t, db.Create(&[]events.AggregationMark{
		{EventID: "01HZZZZZZZZZZZZZZZZZZZZZZ1", Stage: "session", AggregatedAt: old},
		{EventID: "01HZZZZZZZZZZZZZZZZZZZZZZ1", Stage: "rollup", AggregatedAt: old},
		{EventID: "01HZZZZZZZZZZZZZZZZZZZZZZ2", Stage: "session", AggregatedAt: recent},
	}).Error)

	job := jobs.NewLedgerCleanupJob(events.NewStore(db, logger), logger, 30)
	require.NoError(t, job.Run(context.Background()))

	var remaining int64
	require.NoError(t, db.Model(&events.AggregationMark{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}

type fakeReplayer struct {
	replayed int
	err      error
}

func (r *fakeReplayer) ReplayDeadLetters(context.Context) (int, error) {
	return r.replayed, r.err
}

func TestDeadLetterReplayJob(t *testing.T) {
	logger := testsupport.GetLogger()

	assert.NoError(t, jobs.NewDeadLetterReplayJob(&fakeReplayer{replayed: 4}, logger).Run(context.Background()))
	assert.NoError(t, jobs.NewDeadLetterReplayJob(&fakeReplayer{}, logger).Run(context.Background()))

	err := jobs.NewDeadLetterReplayJob(&fakeReplayer{err: errors.New("pipeline is not running")}, logger).Run(context.Background())
	assert.EqualError(t, err, "pipeline is not running")
}

type fakeReloader struct {
	reloads int
}

func (r *fakeReloader) Reload() { r.reloads++ }

func TestGeoDBReloadJobReloadsOnlyWhenFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "GeoLite2-Country.mmdb")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	reloader := &fakeReloader{}
	job := jobs.NewGeoDBReloadJob(path, reloader, testsupport.GetLogger())

	require.NoError(t, job.Run(context.Background()))
	assert.Zero(t, reloader.reloads)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, reloader.reloads)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, reloader.reloads)

	require.NoError(t, os.Remove(path))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, reloader.reloads)
}
