package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	obsmetrics "github.com/smallbiznis/bulkbuy/internal/observability/metrics"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/proctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T, h *proctest.Harness, lifecycle domain.LifecycleController, cfg Config) (*Scheduler, *prometheus.Registry) {
	t.Helper()
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	if lifecycle == nil {
		lifecycle = h.Lifecycle
	}

	sched, err := New(Params{
		DB:        h.DB,
		Log:       zap.NewNop(),
		Repo:      h.Repo,
		Lifecycle: lifecycle,
		GenID:     node,
		Clock:     h.Clock,
		Config:    cfg,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	sched.metrics = obsmetrics.ResetSweepMetricsForTest(reg)
	sched.gatherer = reg
	return sched, reg
}

type recordingPusher struct {
	pushes int
	err    error
	seen   []string
}

func (p *recordingPusher) Push(_ context.Context, gatherer prometheus.Gatherer) error {
	p.pushes++
	families, err := gatherer.Gather()
	if err != nil {
		return err
	}
	for _, family := range families {
		p.seen = append(p.seen, family.GetName())
	}
	return p.err
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, m := range family.GetMetric() {
			for _, pair := range m.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func status(t *testing.T, h *proctest.Harness, groupID snowflake.ID) domain.GroupStatus {
	t.Helper()
	detail, err := h.Directory.Get(context.Background(), groupID, "")
	require.NoError(t, err)
	return detail.Group.Status
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnce_DeadlineSweep(t *testing.T) {
	h := proctest.New(t)
	ctx := context.Background()

	starved := h.CreateGroup(t, 5, 10).Group.ID

	collecting := h.CreateGroup(t, 2, 10).Group.ID
	h.Admit(t, collecting, "u1")
	_, err := h.Lifecycle.AdvanceToCollecting(ctx, collecting, proctest.Creator)
	require.NoError(t, err)

	laterReq := proctest.GroupRequest(3, 10)
	laterReq.OrderDeadline = proctest.Epoch.Add(30 * 24 * time.Hour)
	later, err := h.Lifecycle.CreateGroup(ctx, laterReq)
	require.NoError(t, err)

	sched, reg := newTestScheduler(t, h, nil, Config{})
	h.Clock.Advance(7*24*time.Hour + time.Minute)

	require.NoError(t, sched.RunOnce(ctx))

	assert.Equal(t, domain.GroupStatusCancelled, status(t, h, starved))
	assert.Equal(t, domain.GroupStatusProcessing, status(t, h, collecting))
	assert.Equal(t, domain.GroupStatusOpen, status(t, h, later.Group.ID))

	assert.Equal(t, 1.0, counterValue(t, reg, "bulkbuy_sweep_groups_total", map[string]string{"sweep": JobDeadlineSweep, "outcome": "CANCELLED"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "bulkbuy_sweep_groups_total", map[string]string{"sweep": JobDeadlineSweep, "outcome": "PROCESSING"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "bulkbuy_sweep_job_runs_total", map[string]string{"sweep": JobDeadlineSweep}))

	transitions := len(h.Events.OfType(domain.EventGroupTransitioned))
	require.NoError(t, sched.RunOnce(ctx))
	assert.Len(t, h.Events.OfType(domain.EventGroupTransitioned), transitions)
}

func TestRunOnce_DeadlineSweepPagesThroughBatches(t *testing.T) {
	h := proctest.New(t)
	var ids []snowflake.ID
	for i := 0; i < 5; i++ {
		ids = append(ids, h.CreateGroup(t, 3, 10).Group.ID)
	}

	sched, _ := newTestScheduler(t, h, nil, Config{BatchSize: 2, EnabledJobs: []string{JobDeadlineSweep}})
	h.Clock.Advance(8 * 24 * time.Hour)

	require.NoError(t, sched.RunOnce(context.Background()))
	for _, id := range ids {
		assert.Equal(t, domain.GroupStatusCancelled, status(t, h, id))
	}
}

func TestRunOnce_QuorumSweep(t *testing.T) {
	h := proctest.New(t)
	ctx := context.Background()

	ready := h.CreateGroup(t, 2, 10).Group.ID
	h.Admit(t, ready, "u1")
	waiting := h.CreateGroup(t, 3, 10).Group.ID
	h.Admit(t, waiting, "u1")

	expiringReq := proctest.GroupRequest(1, 10)
	expiringReq.OrderDeadline = proctest.Epoch.Add(time.Hour)
	expiring, err := h.Lifecycle.CreateGroup(ctx, expiringReq)
	require.NoError(t, err)

	sched, reg := newTestScheduler(t, h, nil, Config{EnabledJobs: []string{"QUORUM_SWEEP"}})
	h.Clock.Advance(2 * time.Hour)

	require.NoError(t, sched.RunOnce(ctx))

	assert.Equal(t, domain.GroupStatusCollecting, status(t, h, ready))
	assert.Equal(t, domain.GroupStatusOpen, status(t, h, waiting))
	assert.Equal(t, domain.GroupStatusOpen, status(t, h, expiring.Group.ID))
	assert.Zero(t, counterValue(t, reg, "bulkbuy_sweep_job_runs_total", map[string]string{"sweep": JobDeadlineSweep}))
}

type blockingLifecycle struct {
	domain.LifecycleController
}

func (blockingLifecycle) EvaluateDeadline(ctx context.Context, _ snowflake.ID) (domain.Snapshot, error) {
	<-ctx.Done()
	return domain.Snapshot{}, ctx.Err()
}

func TestRunOnce_JobTimeoutIsSoft(t *testing.T) {
	h := proctest.New(t)
	h.CreateGroup(t, 3, 10)

	sched, reg := newTestScheduler(t, h, blockingLifecycle{}, Config{
		JobTimeout:  20 * time.Millisecond,
		EnabledJobs: []string{JobDeadlineSweep},
	})
	h.Clock.Advance(8 * 24 * time.Hour)

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 1.0, counterValue(t, reg, "bulkbuy_sweep_job_timeouts_total", map[string]string{"sweep": JobDeadlineSweep}))
}

type failingLifecycle struct {
	domain.LifecycleController
	err   error
	calls int
}

func (f *failingLifecycle) EvaluateDeadline(context.Context, snowflake.ID) (domain.Snapshot, error) {
	f.calls++
	return domain.Snapshot{}, f.err
}

func TestRunOnce_GroupFailuresDoNotStopTheSweep(t *testing.T) {
	h := proctest.New(t)
	h.CreateGroup(t, 3, 10)
	h.CreateGroup(t, 3, 10)
	h.Clock.Advance(8 * 24 * time.Hour)

	t.Run("fatal", func(t *testing.T) {
		fatal := errors.New("disk on fire")
		lifecycle := &failingLifecycle{err: fatal}
		sched, reg := newTestScheduler(t, h, lifecycle, Config{EnabledJobs: []string{JobDeadlineSweep}})

		err := sched.RunOnce(context.Background())
		assert.ErrorIs(t, err, fatal)
		assert.Equal(t, 2, lifecycle.calls)
		assert.Equal(t, 2.0, counterValue(t, reg, "bulkbuy_sweep_groups_total", map[string]string{"outcome": "failed"}))
		assert.Equal(t, 1.0, counterValue(t, reg, "bulkbuy_sweep_job_errors_total", map[string]string{"sweep": JobDeadlineSweep}))
	})

	t.Run("contended", func(t *testing.T) {
		lifecycle := &failingLifecycle{err: domain.ErrLockUnavailable}
		sched, reg := newTestScheduler(t, h, lifecycle, Config{EnabledJobs: []string{JobDeadlineSweep}})

		require.NoError(t, sched.RunOnce(context.Background()))
		assert.Equal(t, 2, lifecycle.calls)
		assert.Equal(t, 2.0, counterValue(t, reg, "bulkbuy_sweep_groups_total", map[string]string{"outcome": "deferred"}))
	})
}

func TestRunOnce_PushesMetricsAfterEachCycle(t *testing.T) {
	h := proctest.New(t)
	sched, _ := newTestScheduler(t, h, nil, Config{})
	pusher := &recordingPusher{}
	sched.pusher = pusher

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 1, pusher.pushes)
	assert.Contains(t, pusher.seen, "bulkbuy_sweep_job_runs_total")

	pusher.err = errors.New("gateway down")
	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 2, pusher.pushes)
}
