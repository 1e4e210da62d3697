package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aidenrawles/synergy/internal/adapters/lock"
	"github.com/aidenrawles/synergy/internal/adapters/repository"
	service "github.com/aidenrawles/synergy/internal/app"
	"github.com/aidenrawles/synergy/internal/domain/model"
	"github.com/aidenrawles/synergy/internal/domain/skill"
	"github.com/aidenrawles/synergy/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

type faultyStore struct {
	repository.Store
	projectsErr error
	prefsErr    error
	replaceErr  error
	replaced    int
}

func (f *faultyStore) Projects(ctx context.Context) ([]model.Project, error) {
	if f.projectsErr != nil {
		return nil, f.projectsErr
	}
	return f.Store.Projects(ctx)
}

func (f *faultyStore) GroupPreferences(ctx context.Context) ([]model.Group, error) {
	if f.prefsErr != nil {
		return nil, f.prefsErr
	}
	return f.Store.GroupPreferences(ctx)
}

func (f *faultyStore) ReplaceAllocation(ctx context.Context, r model.AllocationResult) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced++
	return f.Store.ReplaceAllocation(ctx, r)
}

// slowRosterStore delays roster reads and records how many overlap.
type slowRosterStore struct {
	repository.Store
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowRosterStore) Roster(ctx context.Context, groupID int64) (model.Roster, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return s.Store.Roster(ctx, groupID)
}

type brokenLocker struct{}

func (brokenLocker) TryLock(context.Context) (lock.Unlock, error) {
	return nil, fmt.Errorf("%w: dial tcp: connection refused", lock.ErrUnavailable)
}

// allocationRuns reads the run counter for one outcome from the registry.
func allocationRuns(outcome string) float64 {
	families, _ := metrics.GetRegistry().Gather()
	for _, mf := range families {
		if mf.GetName() != "synergy_allocator_allocation_runs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// seedAllocation stores two competing rated groups and one unrated group.
func seedAllocation(ctx context.Context, store *repository.MemoryStore) {
	_ = store.PutProject(model.Project{ID: "P1", Slots: 1, Tags: []model.TagWeight{{Tag: skill.Backend, Weight: 1}}})
	_ = store.PutProject(model.Project{ID: "P2", Slots: 1, Tags: []model.TagWeight{{Tag: skill.Database, Weight: 1}}})
	prefs := []model.Preference{{ProjectID: "P1", Rank: 1}, {ProjectID: "P2", Rank: 2}}

	// Inserted out of id order; runs must not depend on it.
	for _, id := range []int64{3, 2, 1} {
		store.PutGroup(id, 5, nil)
		_ = store.PutPreferences(id, prefs)
	}
	_ = store.SaveGroupRating(ctx, 1, model.GroupRating{skill.Backend: 8})
	_ = store.SaveGroupRating(ctx, 2, model.GroupRating{skill.Backend: 6, skill.Database: 9})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithWorkerCount(2), service.WithQueueSize(16))
		Reset(func() { _ = svc.Stop(ctx) })

		Convey("When starting it twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then stats report it as started", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["workerCount"], ShouldEqual, 2)
				So(stats["queueLength"], ShouldEqual, 0)
			})

			Convey("And stopping is idempotent", func() {
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_ScoreStudent(t *testing.T) {
	Convey("Given a service over a memory store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := service.New(service.WithStore(store))

		Convey("When a student is scored", func() {
			score, err := svc.ScoreStudent(ctx, "s1", model.Marks{"COMP3311": 80, "COMP9315": 70})

			Convey("Then every category is scored and stored", func() {
				So(err, ShouldBeNil)
				So(len(score), ShouldEqual, 6)
				So(score[skill.Database], ShouldEqual, 8)
				So(score[skill.AI], ShouldEqual, 0)
			})
		})

		Convey("When the student id is missing", func() {
			_, err := svc.ScoreStudent(ctx, " ", model.Marks{})

			Convey("Then the input is rejected", func() {
				So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
			})
		})
	})
}

func TestService_ParseTranscript(t *testing.T) {
	Convey("Given a transcript with catalogued and other courses", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := service.New(service.WithStore(store))
		text := "COMP 3311 Database Systems 80 DN\nMATH 1131 Mathematics 1A 90 HD\nCOMP 9315 Database Implementation 70 DN\n"

		marks, score, err := svc.ParseTranscript(ctx, "s1", text)

		Convey("Then the filtered marks are stored and scored", func() {
			So(err, ShouldBeNil)
			So(marks["COMP3311"], ShouldEqual, 80.0)
			So(marks["COMP1531"], ShouldEqual, 0.0)
			So(score[skill.Database], ShouldEqual, 8)

			stored, err := store.Transcript(ctx, "s1")
			So(err, ShouldBeNil)
			So(stored["COMP9315"], ShouldEqual, 70.0)
		})
	})
}

func TestService_RateGroup(t *testing.T) {
	Convey("Given a stored group of five", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		store.PutGroup(9, 5, []string{"a", "b", "c", "d", "e"})
		svc := service.New(service.WithStore(store))

		roster := model.Roster{GroupID: 9, MembersCount: 5}
		for _, v := range []float64{7, 9, 3, 8, 1} {
			roster.Members = append(roster.Members, model.MemberScores{StudentRatings: map[string]float64{"AI": v}})
		}

		Convey("When it is rated", func() {
			res, err := svc.RateGroup(ctx, roster)

			Convey("Then the top two scores are averaged and stored", func() {
				So(err, ShouldBeNil)
				So(res.Eligible, ShouldBeTrue)
				So(res.Rating[skill.AI], ShouldEqual, 8.5)

				groups, _ := store.GroupPreferences(ctx)
				So(groups[0].Rating[skill.AI], ShouldEqual, 8.5)
			})
		})

		Convey("When the roster is short", func() {
			roster.Members = roster.Members[:4]
			res, err := svc.RateGroup(ctx, roster)

			Convey("Then an empty rating is stored", func() {
				So(err, ShouldBeNil)
				So(res.Eligible, ShouldBeFalse)
				So(res.Rating, ShouldBeEmpty)
			})
		})

		Convey("When the group is unknown", func() {
			roster.GroupID = 404
			_, err := svc.RateGroup(ctx, roster)

			Convey("Then ErrUnknownGroup is returned", func() {
				So(errors.Is(err, service.ErrUnknownGroup), ShouldBeTrue)
			})
		})
	})
}

func TestService_RefreshGroup(t *testing.T) {
	Convey("Given a group whose roster is slow to read", t, func() {
		ctx := context.Background()
		mem := repository.NewMemoryStore()
		mem.PutGroup(4, 5, []string{"a", "b", "c", "d", "e"})
		store := &slowRosterStore{Store: mem}
		svc := service.New(service.WithStore(store))

		Convey("When it is refreshed from several goroutines", func() {
			var wg sync.WaitGroup
			errs := make(chan error, 6)
			for i := 0; i < 6; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- svc.RefreshGroup(ctx, 4)
				}()
			}
			wg.Wait()
			close(errs)

			Convey("Then the refreshes never overlap", func() {
				for err := range errs {
					So(err, ShouldBeNil)
				}
				So(store.peak.Load(), ShouldEqual, int32(1))
			})
		})

		Convey("When the group is unknown", func() {
			err := svc.RefreshGroup(ctx, 77)

			Convey("Then ErrUnknownGroup is returned", func() {
				So(errors.Is(err, service.ErrUnknownGroup), ShouldBeTrue)
			})
		})
	})
}

func TestService_Cascade(t *testing.T) {
	Convey("Given a started service and a group of five students", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		members := []string{"s1", "s2", "s3", "s4", "s5"}
		store.PutGroup(1, 5, members)
		svc := service.New(service.WithStore(store), service.WithWorkerCount(2))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		Convey("When every member is scored", func() {
			for _, id := range members {
				_, err := svc.ScoreStudent(ctx, id, model.Marks{"COMP1531": 100})
				So(err, ShouldBeNil)
			}

			Convey("Then the group rating is refreshed in the background", func() {
				var rating model.GroupRating
				deadline := time.Now().Add(2 * time.Second)
				for time.Now().Before(deadline) {
					groups, _ := store.GroupPreferences(ctx)
					rating = groups[0].Rating
					if rating.Ratable() {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(rating.Ratable(), ShouldBeTrue)
				So(rating[skill.Backend], ShouldEqual, 2.0)
			})
		})
	})
}

func TestService_RunAllocation(t *testing.T) {
	Convey("Given a seeded store", t, func() {
		ctx := context.Background()
		mem := repository.NewMemoryStore()
		seedAllocation(ctx, mem)
		store := &faultyStore{Store: mem}
		at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		svc := service.New(
			service.WithStore(store),
			service.WithClock(func() time.Time { return at }),
		)

		Convey("When the allocation runs", func() {
			run, err := svc.RunAllocation(ctx)

			Convey("Then groups are placed by compatibility", func() {
				So(err, ShouldBeNil)
				So(run.Result.Allocated, ShouldResemble, map[int64]string{1: "P1", 2: "P2"})
				So(run.Result.Unallocated, ShouldResemble, []int64{3})
				So(run.Result.RunID, ShouldNotBeEmpty)
				So(run.Result.CompletedAt.Equal(at), ShouldBeTrue)
				So(run.Result.Validate(run.Snapshot), ShouldBeNil)
			})

			Convey("And the snapshot is in group id order", func() {
				So(run.Snapshot.Groups[0].ID, ShouldEqual, int64(1))
				So(run.Snapshot.Groups[2].ID, ShouldEqual, int64(3))
			})

			Convey("And the partition is stored", func() {
				view, err := svc.CurrentAllocation(ctx)
				So(err, ShouldBeNil)
				So(view.RunID, ShouldEqual, run.Result.RunID)
				So(len(view.Placements), ShouldEqual, 2)
				So(view.Unallocated, ShouldResemble, []int64{3})
				So(svc.GetStats()["allocationRuns"], ShouldEqual, int64(1))
			})

			Convey("And project loads are reported", func() {
				So(len(run.Loads), ShouldEqual, 2)
				So(run.Loads[0].Allocated, ShouldEqual, 1)
			})
		})

		Convey("When no run has happened", func() {
			_, err := svc.CurrentAllocation(ctx)

			Convey("Then ErrNoAllocation is returned", func() {
				So(errors.Is(err, service.ErrNoAllocation), ShouldBeTrue)
			})
		})

		Convey("When projects cannot be read", func() {
			store.projectsErr = errors.New("connection reset")
			_, err := svc.RunAllocation(ctx)

			Convey("Then the run aborts without writing", func() {
				So(errors.Is(err, service.ErrFetchProjects), ShouldBeTrue)
				So(store.replaced, ShouldEqual, 0)
			})
		})

		Convey("When preferences cannot be read", func() {
			store.prefsErr = errors.New("timeout")
			_, err := svc.RunAllocation(ctx)

			Convey("Then the run aborts without writing", func() {
				So(errors.Is(err, service.ErrFetchPreferences), ShouldBeTrue)
				So(store.replaced, ShouldEqual, 0)
			})
		})

		Convey("When the partition cannot be written", func() {
			store.replaceErr = errors.New("disk full")
			_, err := svc.RunAllocation(ctx)

			Convey("Then ErrPersistAllocation is returned", func() {
				So(errors.Is(err, service.ErrPersistAllocation), ShouldBeTrue)
				_, err := svc.CurrentAllocation(ctx)
				So(errors.Is(err, service.ErrNoAllocation), ShouldBeTrue)
			})
		})
	})

	Convey("Given tied preferences declared out of rank order", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		flat := []model.TagWeight{{Tag: skill.Backend, Weight: 0}}
		So(store.PutProject(model.Project{ID: "A", Slots: 1, Tags: flat}), ShouldBeNil)
		So(store.PutProject(model.Project{ID: "B", Slots: 1, Tags: flat}), ShouldBeNil)
		store.PutGroup(1, 5, nil)
		declared := []model.Preference{{ProjectID: "B", Rank: 2}, {ProjectID: "A", Rank: 1}}
		So(store.PutPreferences(1, declared), ShouldBeNil)
		So(store.SaveGroupRating(ctx, 1, model.GroupRating{skill.Backend: 7}), ShouldBeNil)
		svc := service.New(service.WithStore(store))

		Convey("When the allocation runs", func() {
			run, err := svc.RunAllocation(ctx)

			Convey("Then the first declared preference wins", func() {
				So(err, ShouldBeNil)
				So(run.Snapshot.Groups[0].Preferences, ShouldResemble, declared)
				So(run.Result.Allocated, ShouldResemble, map[int64]string{1: "B"})
			})
		})
	})

	Convey("Given an unreachable lock backend", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithLocker(brokenLocker{}))
		unavailable := allocationRuns(metrics.OutcomeLockUnavailable)
		locked := allocationRuns(metrics.OutcomeLocked)

		Convey("When a run starts", func() {
			_, err := svc.RunAllocation(ctx)

			Convey("Then it fails as unavailable, not as a conflict", func() {
				So(errors.Is(err, service.ErrLockUnavailable), ShouldBeTrue)
				So(errors.Is(err, service.ErrRunInProgress), ShouldBeFalse)
				So(allocationRuns(metrics.OutcomeLockUnavailable), ShouldEqual, unavailable+1)
				So(allocationRuns(metrics.OutcomeLocked), ShouldEqual, locked)
			})
		})
	})

	Convey("Given a run already in flight", t, func() {
		ctx := context.Background()
		l := lock.NewLocalLock()
		unlock, err := l.TryLock(ctx)
		So(err, ShouldBeNil)
		svc := service.New(service.WithLocker(l))
		Reset(func() { _ = unlock(ctx) })

		Convey("When another run starts", func() {
			_, err := svc.RunAllocation(ctx)

			Convey("Then it is refused", func() {
				So(errors.Is(err, service.ErrRunInProgress), ShouldBeTrue)
			})
		})

		Convey("When the first run finishes", func() {
			So(unlock(ctx), ShouldBeNil)
			_, err := svc.RunAllocation(ctx)

			Convey("Then a new run succeeds", func() {
				So(err, ShouldBeNil)
			})
		})
	})
}
