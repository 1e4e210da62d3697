// Package service implements the operations behind the HTTP API: scoring
// students, rating groups and running allocations.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aidenrawles/synergy/internal/adapters/lock"
	eventqueue "github.com/aidenrawles/synergy/internal/adapters/mq/queue"
	workerpool "github.com/aidenrawles/synergy/internal/adapters/mq/worker"
	"github.com/aidenrawles/synergy/internal/adapters/repository"
	"github.com/aidenrawles/synergy/internal/domain/allocation"
	"github.com/aidenrawles/synergy/internal/domain/dedupe"
	"github.com/aidenrawles/synergy/internal/domain/model"
	"github.com/aidenrawles/synergy/internal/domain/scoring"
	"github.com/aidenrawles/synergy/internal/domain/transcript"
	"github.com/aidenrawles/synergy/internal/domain/types"
	"github.com/aidenrawles/synergy/pkg/logger"
	"github.com/aidenrawles/synergy/pkg/metrics"
)

// Run is the outcome of one allocation run together with the input it was
// computed from.
type Run struct {
	Snapshot model.Snapshot
	Result   model.AllocationResult
	Stats    allocation.Stats
	Loads    []types.ProjectLoad
	Duration time.Duration
}

// Service implements the API dependencies for the allocation system.
type Service struct {
	mu sync.RWMutex

	store      repository.Store
	locker     lock.Locker
	deduper    dedupe.Deduper
	queue      eventqueue.Queue
	pool       *workerpool.Pool
	aggregator *scoring.Aggregator
	engine     *allocation.Engine

	workerCount int
	queueSize   int
	dedupeSize  int
	minMembers  int

	started bool
	runs    int64
	lastRun *model.AllocationResult

	// refreshLocks holds one *sync.Mutex per group id.
	refreshLocks sync.Map

	now    func() time.Time
	logger logger.Logger
}

// New constructs a Service. Background refresh workers start with Start.
func New(opts ...Option) *Service {
	s := &Service{
		store:       repository.NewMemoryStore(),
		locker:      lock.NewLocalLock(),
		workerCount: runtime.NumCPU(),
		queueSize:   10000,
		dedupeSize:  50000,
		minMembers:  5,
		now:         time.Now,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.aggregator = scoring.NewAggregator(
		scoring.WithMinMembers(s.minMembers),
		scoring.WithLogger(s.logger.Named("aggregator")),
	)
	s.engine = allocation.NewEngine(allocation.WithLogger(s.logger.Named("engine")))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	return s
}

// Start launches the group refresh workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s,
		workerpool.WithLogger(s.logger),
		workerpool.WithReleaser(s.deduper),
	)
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "allocation service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("min_group_members", s.minMembers),
	)
	return nil
}

// Stop drains the refresh queue and stops the workers.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	err := s.pool.Shutdown(ctx)
	s.logger.Info(ctx, "allocation service stopped")
	return err
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ScoreStudent computes and stores a student's skill scores from their
// course marks, then schedules a rating refresh for each of their groups.
func (s *Service) ScoreStudent(ctx context.Context, studentID string, marks model.Marks) (model.IndividualScore, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidInput)
	}

	start := time.Now()
	score := scoring.Individual(marks)
	metrics.RecordScoringLatency("individual", float64(time.Since(start).Microseconds())/1000)
	metrics.RecordIndividualScore()

	if err := s.store.SaveIndividualScore(ctx, studentID, score); err != nil {
		return nil, fmt.Errorf("%w: individual score of %s: %w", ErrPersist, studentID, err)
	}
	s.cascade(ctx, studentID)
	return score, nil
}

// ParseTranscript extracts course marks from transcript text, stores them
// and scores the student from them.
func (s *Service) ParseTranscript(ctx context.Context, studentID, text string) (model.Marks, model.IndividualScore, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, nil, fmt.Errorf("%w: missing user_id", ErrInvalidInput)
	}
	parsed := transcript.Parse(text)
	metrics.RecordTranscriptParsed(len(parsed))
	marks := transcript.Filter(parsed)

	if err := s.store.SaveTranscript(ctx, studentID, marks); err != nil {
		return nil, nil, fmt.Errorf("%w: transcript of %s: %w", ErrPersist, studentID, err)
	}
	score, err := s.ScoreStudent(ctx, studentID, marks)
	if err != nil {
		return nil, nil, err
	}
	return marks, score, nil
}

// RateGroup aggregates the roster and stores the result as the group's
// rating. Ineligible rosters store an empty rating.
func (s *Service) RateGroup(ctx context.Context, roster model.Roster) (scoring.GroupResult, error) {
	start := time.Now()
	res := s.aggregator.Aggregate(ctx, roster)
	metrics.RecordScoringLatency("group", float64(time.Since(start).Microseconds())/1000)
	metrics.RecordGroupRating(res.Eligible)
	metrics.RecordUnknownSkills(len(res.UnknownSkills))

	if err := s.store.SaveGroupRating(ctx, roster.GroupID, res.Rating); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return res, fmt.Errorf("%w: %d", ErrUnknownGroup, roster.GroupID)
		}
		return res, fmt.Errorf("%w: rating of group %d: %w", ErrPersist, roster.GroupID, err)
	}
	return res, nil
}

// RefreshGroup re-rates a group from its stored roster. Refreshes of the
// same group run one at a time so an older roster is never written last.
func (s *Service) RefreshGroup(ctx context.Context, groupID int64) error {
	mu := s.refreshLock(groupID)
	mu.Lock()
	defer mu.Unlock()

	roster, err := s.store.Roster(ctx, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUnknownGroup, groupID)
		}
		return fmt.Errorf("read roster of group %d: %w", groupID, err)
	}
	_, err = s.RateGroup(ctx, roster)
	return err
}

func (s *Service) refreshLock(groupID int64) *sync.Mutex {
	mu, _ := s.refreshLocks.LoadOrStore(groupID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// cascade schedules a refresh for every group the student belongs to.
// Failures are logged; the student's own score is already stored.
func (s *Service) cascade(ctx context.Context, studentID string) {
	s.mu.RLock()
	q, started := s.queue, s.started
	s.mu.RUnlock()
	if !started {
		return
	}

	groups, err := s.store.GroupsForStudent(ctx, studentID)
	if err != nil {
		s.logger.Warn(ctx, "cannot list groups for refresh",
			logger.String("student_id", studentID), logger.Error(err))
		return
	}
	for _, id := range groups {
		if s.deduper.SeenAndRecord(ctx, id) {
			continue
		}
		e := model.GroupRefresh{GroupID: id, StudentID: studentID, RequestedAt: time.Now()}
		if err := q.Enqueue(ctx, e); err != nil {
			s.deduper.Unrecord(ctx, id)
			s.logger.Warn(ctx, "group refresh dropped",
				logger.Int64("group_id", id), logger.Error(err))
		}
	}
}

// RunAllocation reads every project and group, partitions the groups and
// replaces the stored partition. Only one run may be in flight.
func (s *Service) RunAllocation(ctx context.Context) (Run, error) {
	unlock, err := s.locker.TryLock(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			_ = metrics.RecordAllocationRun(metrics.OutcomeLocked)
			return Run{}, ErrRunInProgress
		}
		_ = metrics.RecordAllocationRun(metrics.OutcomeLockUnavailable)
		return Run{}, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn(ctx, "release run lock", logger.Error(err))
		}
	}()

	start := time.Now()
	projects, err := s.store.Projects(ctx)
	if err != nil {
		_ = metrics.RecordAllocationRun(metrics.OutcomeReadError)
		return Run{}, fmt.Errorf("%w: %w", ErrFetchProjects, err)
	}
	groups, err := s.store.GroupPreferences(ctx)
	if err != nil {
		_ = metrics.RecordAllocationRun(metrics.OutcomeReadError)
		return Run{}, fmt.Errorf("%w: %w", ErrFetchPreferences, err)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })

	snap := model.Snapshot{Projects: projects, Groups: groups}
	result, stats := s.engine.Run(ctx, snap)
	result.RunID = uuid.NewString()
	result.CompletedAt = s.now().UTC()

	if err := s.store.ReplaceAllocation(ctx, result); err != nil {
		_ = metrics.RecordAllocationRun(metrics.OutcomeWriteError)
		return Run{}, fmt.Errorf("%w: %w", ErrPersistAllocation, err)
	}

	elapsed := time.Since(start)
	_ = metrics.RecordAllocationRun(metrics.OutcomeSuccess)
	metrics.RecordAllocationDuration(float64(elapsed.Microseconds()) / 1000)
	metrics.RecordAllocationCandidates(stats.Candidates, stats.Skipped)
	metrics.UpdateAllocationPartition(len(result.Allocated), len(result.Unallocated),
		stats.SlotsRemaining, result.CompletedAt.Unix())

	s.mu.Lock()
	s.runs++
	last := result
	s.lastRun = &last
	s.mu.Unlock()

	s.logger.Info(ctx, "allocation run complete",
		logger.String("run_id", result.RunID),
		logger.Int("groups", len(groups)),
		logger.Int("projects", len(projects)),
		logger.Int("allocated", len(result.Allocated)),
		logger.Int("unallocated", len(result.Unallocated)),
		logger.Int("skipped", stats.Skipped),
		logger.Duration("elapsed", elapsed),
	)
	return Run{
		Snapshot: snap,
		Result:   result,
		Stats:    stats,
		Loads:    types.Loads(snap, result),
		Duration: elapsed,
	}, nil
}

// CurrentAllocation returns the stored partition.
func (s *Service) CurrentAllocation(ctx context.Context) (types.AllocationView, error) {
	r, err := s.store.Allocation(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return types.AllocationView{}, ErrNoAllocation
		}
		return types.AllocationView{}, fmt.Errorf("read allocation: %w", err)
	}
	return types.NewAllocationView(r), nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":         s.started,
		"workerCount":     s.workerCount,
		"queueSize":       s.queueSize,
		"minGroupMembers": s.minMembers,
		"allocationRuns":  s.runs,
		"pendingRefresh":  s.deduper.Size(),
	}
	if s.started {
		stats["queueLength"] = s.queue.Len(context.Background())
		stats["refreshesProcessed"] = s.pool.Processed()
	}
	if s.lastRun != nil {
		stats["lastRunID"] = s.lastRun.RunID
		stats["lastRunAt"] = s.lastRun.CompletedAt
		stats["lastAllocated"] = len(s.lastRun.Allocated)
		stats["lastUnallocated"] = len(s.lastRun.Unallocated)
	}
	return stats
}
