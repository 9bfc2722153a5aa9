// Package scheduler implements the L8 job driver of spec.md §4.8: periodic
// CRS recomputation, tier evaluation, consolidation, key rotation, and
// archive purge, each running per-user, cooperatively cancellable, and
// idempotent. It follows the teacher's internal/core/api_scheduler.go
// cooperative-slot/phase-state-machine shape, adapted from "API call slot"
// scheduling to "per-user maintenance job" scheduling.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"acms/internal/crypto"
	"acms/internal/domain"
	"acms/internal/logging"
	"acms/internal/tier"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// JobKind identifies one row of spec.md §4.8's job table. CRS batch
// recompute, tier evaluation, and consolidation are modeled as one job kind
// (JobRecomputeEvaluateConsolidate) because internal/tier.Manager's
// EvaluateAndApply fuses them: evaluation needs freshly computed scores in
// the same pass, and consolidation is applied as part of handling the
// promotions that pass evaluates produce. They still satisfy spec.md's
// per-row "nightly, after recompute" / "nightly, after evaluation" ordering
// since all three happen, strictly in that order, inside one call.
type JobKind string

const (
	JobRecomputeEvaluateConsolidate JobKind = "crs_recompute_evaluate_consolidate"
	JobKeyRotation                  JobKind = "key_rotation"
	JobArchivePurge                 JobKind = "archive_purge"
)

// JobPhase mirrors the teacher's ShardPhase state machine, narrowed to a
// single job run's lifecycle instead of a shard's API-call lifecycle.
type JobPhase int

const (
	PhasePending JobPhase = iota
	PhaseRunning
	PhaseCompleted
	PhaseFailed
)

func (p JobPhase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// RunState tracks one job run for one user, kept around after completion so
// a caller (or the boundary layer) can inspect recent run history.
type RunState struct {
	RunID     string
	Kind      JobKind
	UserID    string
	Phase     JobPhase
	Attempts  int
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
}

// ProfileSource resolves the per-user CRS/tier configuration the
// recompute/evaluate/consolidate job needs. It is intentionally the only
// place in the core that asks "where does UserProfile come from" — the
// scheduler is the natural owner of refreshing it before a nightly run,
// but how it's built/persisted is this interface's implementer's concern,
// not the scheduler's.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
}

// TopicLister is the narrow slice of internal/store.Store the key-rotation
// job needs to find which topic key rings are actually in use.
type TopicLister interface {
	ListTopics(ctx context.Context, userID string) ([]string, error)
}

// KeyRotator is the narrow slice of internal/crypto.Manager the key-rotation
// job needs.
type KeyRotator interface {
	RotateTopic(topicID string) (crypto.KeyVersion, error)
}

// EvaluateApplier is the narrow slice of internal/tier.Manager the fused
// recompute/evaluate/consolidate job needs.
type EvaluateApplier interface {
	EvaluateAndApply(ctx context.Context, profile *domain.UserProfile, now time.Time) (tier.RunResult, error)
}

// ArchiveSweeper is the narrow slice of internal/tier.Manager the archive
// purge job needs.
type ArchiveSweeper interface {
	SweepArchives(ctx context.Context, userID string, now time.Time) (int, error)
}

// maxRetryAttempts caps transient-failure retries per spec.md §4.8
// ("transient failures retry with exponential backoff capped at 5
// attempts").
const maxRetryAttempts = 5

// Scheduler drives the job table of spec.md §4.8 with per-user isolation:
// concurrent jobs for different users run unimpeded, but a given user's
// jobs are serialized through a per-user lock (spec.md §5 "per-user
// lightweight lock"), mirroring the teacher's per-shard state tracking.
type Scheduler struct {
	profiles  ProfileSource
	evaluator EvaluateApplier
	sweeper   ArchiveSweeper
	topics    TopicLister
	keys      KeyRotator

	userLocks sync.Map // userID -> *sync.Mutex

	mu      sync.RWMutex
	history map[string][]RunState // userID -> recent runs, newest last
}

// NewScheduler constructs a Scheduler. Any dependency left nil disables the
// job(s) that need it: RunJob returns a KindInternal "not configured" error
// rather than panicking, so a deployment that, say, never rotates keys can wire a nil
// KeyRotator.
func NewScheduler(profiles ProfileSource, evaluator EvaluateApplier, sweeper ArchiveSweeper, topics TopicLister, keys KeyRotator) *Scheduler {
	return &Scheduler{
		profiles:  profiles,
		evaluator: evaluator,
		sweeper:   sweeper,
		topics:    topics,
		keys:      keys,
		history:   make(map[string][]RunState),
	}
}

func (s *Scheduler) lockFor(userID string) *sync.Mutex {
	v, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// RunJob runs one job kind for one user, serialized against that user's
// other jobs, cooperatively cancellable via ctx, and retried with bounded
// exponential backoff on transient failures (spec.md §4.8).
func (s *Scheduler) RunJob(ctx context.Context, kind JobKind, userID string) (RunState, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	run := RunState{
		RunID:     uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		Phase:     PhaseRunning,
		StartedAt: time.Now(),
	}

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		run.Attempts++
		err := s.dispatch(ctx, kind, userID)
		if err == nil {
			return nil
		}
		if domain.KindOf(err) == domain.KindValidation || domain.KindOf(err) == domain.KindNotFound {
			// Fatal: retrying a bad request or a missing user never helps.
			return backoff.Permanent(err)
		}
		logging.SchedulerDebug(
			"job attempt failed, will retry: kind=%s user=%s attempt=%d: %v", kind, userID, run.Attempts, err)
		return err
	}

	// WithMaxRetries counts retries after the first try, so maxRetryAttempts-1
	// retries caps the total number of attempts at maxRetryAttempts.
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetryAttempts-1)
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))

	run.EndedAt = time.Now()
	if err != nil {
		run.Phase = PhaseFailed
		run.Err = err
		logging.SchedulerError(
			"job failed after %d attempts: kind=%s user=%s: %v", run.Attempts, kind, userID, err)
	} else {
		run.Phase = PhaseCompleted
		logging.Scheduler("job completed: kind=%s user=%s attempts=%d duration=%s",
			kind, userID, run.Attempts, run.EndedAt.Sub(run.StartedAt))
	}

	s.recordHistory(userID, run)
	return run, err
}

func (s *Scheduler) dispatch(ctx context.Context, kind JobKind, userID string) error {
	switch kind {
	case JobRecomputeEvaluateConsolidate:
		return s.runRecomputeEvaluateConsolidate(ctx, userID)
	case JobKeyRotation:
		return s.runKeyRotation(ctx, userID)
	case JobArchivePurge:
		return s.runArchivePurge(ctx, userID)
	default:
		return domain.New(domain.KindValidation, "unknown job kind: "+string(kind))
	}
}

func (s *Scheduler) runRecomputeEvaluateConsolidate(ctx context.Context, userID string) error {
	if s.profiles == nil || s.evaluator == nil {
		return domain.New(domain.KindInternal, "recompute/evaluate/consolidate job not configured")
	}
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "load user profile", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = s.evaluator.EvaluateAndApply(ctx, profile, time.Now())
	return err
}

// runKeyRotation rotates every topic's key ring the user currently has
// live items in. It checks ctx between topics (spec.md §4.8 "cooperative:
// check a cancellation signal between items") and is idempotent: rotating
// an already-current-version ring just creates the next version, which
// RotateTopic always does safely regardless of how many times it's called.
func (s *Scheduler) runKeyRotation(ctx context.Context, userID string) error {
	if s.topics == nil || s.keys == nil {
		return domain.New(domain.KindInternal, "key rotation job not configured")
	}
	topicIDs, err := s.topics.ListTopics(ctx, userID)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "list topics for rotation", err)
	}
	for _, topicID := range topicIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.keys.RotateTopic(topicID); err != nil {
			return domain.Wrap(domain.KindInternal, "rotate topic "+topicID, err)
		}
	}
	return nil
}

func (s *Scheduler) runArchivePurge(ctx context.Context, userID string) error {
	if s.sweeper == nil {
		return domain.New(domain.KindInternal, "archive purge job not configured")
	}
	_, err := s.sweeper.SweepArchives(ctx, userID, time.Now())
	return err
}

// maxHistoryPerUser bounds in-memory run history; older runs are dropped.
const maxHistoryPerUser = 50

func (s *Scheduler) recordHistory(userID string, run RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[userID], run)
	if len(h) > maxHistoryPerUser {
		h = h[len(h)-maxHistoryPerUser:]
	}
	s.history[userID] = h
}

// History returns the recent run history for a user, newest last.
func (s *Scheduler) History(userID string) []RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunState, len(s.history[userID]))
	copy(out, s.history[userID])
	return out
}

// RunNightly runs the full per-user nightly cycle in spec.md §4.8's stated
// order: recompute+evaluate+consolidate, then archive purge. It stops at
// the first job that fails after retries, leaving later jobs for the next
// scheduled cycle rather than running them against a possibly-stale state.
func (s *Scheduler) RunNightly(ctx context.Context, userID string) ([]RunState, error) {
	var runs []RunState
	for _, kind := range []JobKind{JobRecomputeEvaluateConsolidate, JobArchivePurge} {
		run, err := s.RunJob(ctx, kind, userID)
		runs = append(runs, run)
		if err != nil {
			return runs, err
		}
	}
	return runs, nil
}
