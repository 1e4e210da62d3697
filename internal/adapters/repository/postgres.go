package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aidenrawles/synergy/internal/domain/model"
)

const backendPostgres = "postgres"

//go:embed schema.sql
var schemaSQL string

// PostgresStore is a Store backed by a pgx connection pool.
type PostgresStore struct {
	pool           *pgxpool.Pool
	maxConns       int32
	minConns       int32
	connectTimeout time.Duration
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens a pool for dsn and fails fast when the database
// cannot be reached.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	s := &PostgresStore{
		maxConns:       defaultMaxConns,
		minConns:       defaultMinConns,
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = s.maxConns
	cfg.MinConns = min(s.minConns, s.maxConns)
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	s.pool = pool
	return s, nil
}

// EnsureSchema creates missing tables.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases every pooled connection.
func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, studentID string, marks model.Marks) (err error) {
	defer func(start time.Time) { observe(backendPostgres, "save_transcript", start, err) }(time.Now())
	raw, err := marshalJSON(marks)
	if err != nil {
		return err
	}
	const q = `
insert into students (user_id, transcript_data)
values ($1, $2::jsonb)
on conflict (user_id) do update set transcript_data = excluded.transcript_data;
`
	_, err = s.pool.Exec(ctx, q, studentID, raw)
	return err
}

func (s *PostgresStore) Transcript(ctx context.Context, studentID string) (_ model.Marks, err error) {
	defer func(start time.Time) { observe(backendPostgres, "transcript", start, err) }(time.Now())
	const q = `select transcript_data from students where user_id = $1;`
	var raw []byte
	if err = s.pool.QueryRow(ctx, q, studentID).Scan(&raw); err != nil {
		return nil, notFound(err, "student "+studentID)
	}
	marks := model.Marks{}
	if err = json.Unmarshal(raw, &marks); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return marks, nil
}

func (s *PostgresStore) SaveIndividualScore(ctx context.Context, studentID string, score model.IndividualScore) (err error) {
	defer func(start time.Time) { observe(backendPostgres, "save_individual_score", start, err) }(time.Now())
	raw, err := marshalJSON(score)
	if err != nil {
		return err
	}
	const q = `
insert into students (user_id, individual_marks)
values ($1, $2::jsonb)
on conflict (user_id) do update set individual_marks = excluded.individual_marks;
`
	_, err = s.pool.Exec(ctx, q, studentID, raw)
	return err
}

func (s *PostgresStore) GroupsForStudent(ctx context.Context, studentID string) (_ []int64, err error) {
	defer func(start time.Time) { observe(backendPostgres, "groups_for_student", start, err) }(time.Now())
	const q = `select group_id from group_members where user_id = $1 order by group_id;`
	rows, err := s.pool.Query(ctx, q, studentID)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Roster(ctx context.Context, groupID int64) (_ model.Roster, err error) {
	defer func(start time.Time) { observe(backendPostgres, "roster", start, err) }(time.Now())
	r := model.Roster{GroupID: groupID}
	const qGroup = `select members_count from groups where group_id = $1;`
	if err = s.pool.QueryRow(ctx, qGroup, groupID).Scan(&r.MembersCount); err != nil {
		return model.Roster{}, notFound(err, fmt.Sprintf("group %d", groupID))
	}

	const qMembers = `
select s.user_id, s.individual_marks
from group_members m
join students s on s.user_id = m.user_id
where m.group_id = $1
order by s.user_id;
`
	rows, err := s.pool.Query(ctx, qMembers, groupID)
	if err != nil {
		return model.Roster{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err = rows.Scan(&id, &raw); err != nil {
			return model.Roster{}, err
		}
		ratings := map[string]float64{}
		if err = json.Unmarshal(raw, &ratings); err != nil {
			return model.Roster{}, fmt.Errorf("decode scores of %s: %w", id, err)
		}
		r.Members = append(r.Members, model.MemberScores{StudentID: id, StudentRatings: ratings})
	}
	if err = rows.Err(); err != nil {
		return model.Roster{}, err
	}
	return r, nil
}

func (s *PostgresStore) SaveGroupRating(ctx context.Context, groupID int64, rating model.GroupRating) (err error) {
	defer func(start time.Time) { observe(backendPostgres, "save_group_rating", start, err) }(time.Now())
	raw, err := marshalJSON(rating)
	if err != nil {
		return err
	}
	const q = `update groups set group_ratings = $2::jsonb where group_id = $1;`
	ct, err := s.pool.Exec(ctx, q, groupID, raw)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Projects(ctx context.Context) (_ []model.Project, err error) {
	defer func(start time.Time) { observe(backendPostgres, "projects", start, err) }(time.Now())
	const q = `select project_id, slots, tags from projects order by created_at, project_id;`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Project, 0, 16)
	for rows.Next() {
		var (
			p   model.Project
			raw []byte
		)
		if err = rows.Scan(&p.ID, &p.Slots, &raw); err != nil {
			return nil, err
		}
		if err = json.Unmarshal(raw, &p.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GroupPreferences(ctx context.Context) (_ []model.Group, err error) {
	defer func(start time.Time) { observe(backendPostgres, "group_preferences", start, err) }(time.Now())
	const qGroups = `select group_id, group_ratings from groups order by group_id;`
	rows, err := s.pool.Query(ctx, qGroups)
	if err != nil {
		return nil, err
	}
	var (
		out   []model.Group
		index = map[int64]int{}
	)
	for rows.Next() {
		var (
			g   model.Group
			raw []byte
		)
		if err = rows.Scan(&g.ID, &raw); err != nil {
			rows.Close()
			return nil, err
		}
		g.Rating = model.GroupRating{}
		if err = json.Unmarshal(raw, &g.Rating); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode rating of %d: %w", g.ID, err)
		}
		index[g.ID] = len(out)
		out = append(out, g)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	const qPrefs = `
select group_id, project_id, preference_rank
from group_preferences
order by group_id, position;
`
	rows, err = s.pool.Query(ctx, qPrefs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			groupID int64
			p       model.Preference
		)
		if err = rows.Scan(&groupID, &p.ProjectID, &p.Rank); err != nil {
			return nil, err
		}
		if i, ok := index[groupID]; ok {
			out[i].Preferences = append(out[i].Preferences, p)
		}
	}
	return out, rows.Err()
}

// ReplaceAllocation overwrites the stored partition inside one transaction,
// so readers never see a mix of two runs.
func (s *PostgresStore) ReplaceAllocation(ctx context.Context, r model.AllocationResult) (err error) {
	defer func(start time.Time) { observe(backendPostgres, "replace_allocation", start, err) }(time.Now())
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, `delete from allocations;`); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `delete from unallocated_groups;`); err != nil {
		return err
	}

	allocated := make([][]any, 0, len(r.Allocated))
	for _, id := range r.AllocatedGroupIDs() {
		allocated = append(allocated, []any{id, r.Allocated[id]})
	}
	if _, err = tx.CopyFrom(ctx, pgx.Identifier{"allocations"},
		[]string{"group_id", "project_id"}, pgx.CopyFromRows(allocated)); err != nil {
		return fmt.Errorf("write allocations: %w", err)
	}

	unallocated := make([][]any, 0, len(r.Unallocated))
	for i, id := range r.Unallocated {
		unallocated = append(unallocated, []any{id, i})
	}
	if _, err = tx.CopyFrom(ctx, pgx.Identifier{"unallocated_groups"},
		[]string{"group_id", "position"}, pgx.CopyFromRows(unallocated)); err != nil {
		return fmt.Errorf("write unallocated: %w", err)
	}

	const qRun = `
insert into allocation_runs (singleton, run_id, completed_at)
values (true, $1, $2)
on conflict (singleton) do update set run_id = excluded.run_id, completed_at = excluded.completed_at;
`
	if _, err = tx.Exec(ctx, qRun, r.RunID, r.CompletedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Allocation(ctx context.Context) (_ model.AllocationResult, err error) {
	defer func(start time.Time) { observe(backendPostgres, "allocation", start, err) }(time.Now())
	out := model.NewAllocationResult()
	const qRun = `select run_id, completed_at from allocation_runs where singleton;`
	if err = s.pool.QueryRow(ctx, qRun).Scan(&out.RunID, &out.CompletedAt); err != nil {
		return model.AllocationResult{}, notFound(err, "allocation")
	}

	rows, err := s.pool.Query(ctx, `select group_id, project_id from allocations;`)
	if err != nil {
		return model.AllocationResult{}, err
	}
	for rows.Next() {
		var (
			id      int64
			project string
		)
		if err = rows.Scan(&id, &project); err != nil {
			rows.Close()
			return model.AllocationResult{}, err
		}
		out.Allocated[id] = project
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return model.AllocationResult{}, err
	}

	rows, err = s.pool.Query(ctx, `select group_id from unallocated_groups order by position;`)
	if err != nil {
		return model.AllocationResult{}, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return model.AllocationResult{}, err
	}
	out.Unallocated = append(out.Unallocated, ids...)
	return out, nil
}

// Seed upserts a fixture in one transaction.
func (s *PostgresStore) Seed(ctx context.Context, f Fixture) (err error) {
	defer func(start time.Time) { observe(backendPostgres, "seed", start, err) }(time.Now())
	if err = f.validateGroups(); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, p := range f.Projects {
		tags, err := marshalJSON(p.Tags)
		if err != nil {
			return err
		}
		const q = `
insert into projects (project_id, slots, tags)
values ($1, $2, $3::jsonb)
on conflict (project_id) do update set slots = excluded.slots, tags = excluded.tags;
`
		if _, err := tx.Exec(ctx, q, p.ID, p.Slots, tags); err != nil {
			return fmt.Errorf("seed project %s: %w", p.ID, err)
		}
	}

	for _, st := range f.Students {
		marks, err := marshalJSON(st.Transcript)
		if err != nil {
			return err
		}
		const q = `
insert into students (user_id, transcript_data)
values ($1, $2::jsonb)
on conflict (user_id) do update set transcript_data = excluded.transcript_data;
`
		if _, err := tx.Exec(ctx, q, st.ID, marks); err != nil {
			return fmt.Errorf("seed student %s: %w", st.ID, err)
		}
	}

	for _, g := range f.Groups {
		rating := g.Rating
		if rating == nil {
			rating = model.GroupRating{}
		}
		raw, err := marshalJSON(rating)
		if err != nil {
			return err
		}
		const qGroup = `
insert into groups (group_id, members_count, group_ratings)
values ($1, $2, $3::jsonb)
on conflict (group_id) do update set members_count = excluded.members_count, group_ratings = excluded.group_ratings;
`
		if _, err := tx.Exec(ctx, qGroup, g.ID, g.MembersCount, raw); err != nil {
			return fmt.Errorf("seed group %d: %w", g.ID, err)
		}
		for _, m := range g.Members {
			const qMember = `
insert into students (user_id) values ($1) on conflict (user_id) do nothing;
`
			if _, err := tx.Exec(ctx, qMember, m); err != nil {
				return err
			}
			const qLink = `
insert into group_members (group_id, user_id) values ($1, $2) on conflict do nothing;
`
			if _, err := tx.Exec(ctx, qLink, g.ID, m); err != nil {
				return classify(err, fmt.Sprintf("group %d member %s", g.ID, m))
			}
		}
		if _, err := tx.Exec(ctx, `delete from group_preferences where group_id = $1;`, g.ID); err != nil {
			return err
		}
		for i, p := range g.Preferences {
			const qPref = `
insert into group_preferences (group_id, project_id, preference_rank, position) values ($1, $2, $3, $4);
`
			if _, err := tx.Exec(ctx, qPref, g.ID, p.ProjectID, p.Rank, i); err != nil {
				return classify(err, fmt.Sprintf("group %d preference %s", g.ID, p.ProjectID))
			}
		}
	}
	return tx.Commit(ctx)
}

func marshalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return string(raw), nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// classify maps constraint violations to ErrInvalidInput.
func classify(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503", "23514":
			return fmt.Errorf("%w: %s: %s", ErrInvalidInput, what, pgErr.Message)
		}
	}
	return err
}
