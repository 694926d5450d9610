package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
)

const (
	outcomeUnchanged = "unchanged"
	outcomeDeferred  = "deferred"
	outcomeFailed    = "failed"
)

var dueStatuses = []domain.GroupStatus{domain.GroupStatusOpen, domain.GroupStatusCollecting}

type evaluateFunc func(ctx context.Context, groupID snowflake.ID) (domain.Snapshot, error)

type fetchFunc func(ctx context.Context, afterID snowflake.ID, limit int) ([]*domain.Group, error)

// DeadlineSweepJob evaluates every open or collecting group whose order
// deadline has passed.
func (s *Scheduler) DeadlineSweepJob(ctx context.Context) error {
	now := s.clock.Now()
	return s.sweep(ctx, JobDeadlineSweep,
		func(ctx context.Context, afterID snowflake.ID, limit int) ([]*domain.Group, error) {
			return s.repo.ListDueGroups(ctx, s.db, now, dueStatuses, afterID, limit)
		},
		s.lifecycle.EvaluateDeadline,
	)
}

// QuorumSweepJob advances open groups that have reached quorum before their deadline.
func (s *Scheduler) QuorumSweepJob(ctx context.Context) error {
	now := s.clock.Now()
	return s.sweep(ctx, JobQuorumSweep,
		func(ctx context.Context, afterID snowflake.ID, limit int) ([]*domain.Group, error) {
			return s.repo.ListOpenGroupsBefore(ctx, s.db, now, afterID, limit)
		},
		s.lifecycle.EvaluateQuorum,
	)
}

// sweep walks candidates in id order. A group that fails is logged and
// skipped; it is picked up again on the next run.
func (s *Scheduler) sweep(ctx context.Context, job string, fetch fetchFunc, evaluate evaluateFunc) error {
	ctx, run, owner := s.ensureJobRun(ctx, job, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	var (
		jobErr  error
		afterID snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		groups, err := fetch(ctx, afterID, s.cfg.BatchSize)
		if err != nil {
			s.logGroupError(ctx, run, job, 0, err)
			return errors.Join(jobErr, err)
		}
		if len(groups) == 0 {
			break
		}

		for _, group := range groups {
			afterID = group.ID

			snapshot, err := evaluate(ctx, group.ID)
			switch {
			case err == nil:
				run.AddProcessed(1)
				if snapshot.Group.Status == group.Status {
					s.metrics.AddGroupsSwept(job, outcomeUnchanged, 1)
					continue
				}
				s.metrics.AddGroupsSwept(job, string(snapshot.Group.Status), 1)
				s.logGroupTransitioned(ctx, job, *group, snapshot.Group)
			case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
				return errors.Join(jobErr, err)
			case errors.Is(err, domain.ErrGroupNotFound):
				s.metrics.AddGroupsSwept(job, outcomeUnchanged, 1)
			case domain.Retryable(err):
				s.metrics.AddGroupsSwept(job, outcomeDeferred, 1)
				s.logGroupError(ctx, run, job, group.ID, err)
			default:
				s.metrics.AddGroupsSwept(job, outcomeFailed, 1)
				s.logGroupError(ctx, run, job, group.ID, err)
				jobErr = errors.Join(jobErr, err)
			}
		}

		if len(groups) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}
