package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aidenrawles/synergy/internal/domain/model"
)

// Fixture is a YAML description of projects, students and groups used to
// seed a store.
type Fixture struct {
	Projects []model.Project  `yaml:"projects"`
	Students []StudentFixture `yaml:"students"`
	Groups   []GroupFixture   `yaml:"groups"`
}

// StudentFixture seeds one student's transcript.
type StudentFixture struct {
	ID         string      `yaml:"user_id"`
	Transcript model.Marks `yaml:"transcript_data"`
}

// GroupFixture seeds one group. Rating is optional; when absent the
// group is rated from its members' scores.
type GroupFixture struct {
	ID           int64              `yaml:"group_id"`
	MembersCount int                `yaml:"members_count"`
	Members      []string           `yaml:"members"`
	Rating       model.GroupRating  `yaml:"group_ratings"`
	Preferences  []model.Preference `yaml:"preferred_projects"`
}

// LoadFixture reads a YAML fixture from path.
func LoadFixture(path string) (Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture %s: %w", path, err)
	}
	return ParseFixture(raw)
}

// ParseFixture decodes a YAML fixture. Unknown fields are rejected.
func ParseFixture(raw []byte) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Fixture{}, fmt.Errorf("%w: decode fixture: %v", ErrInvalidInput, err)
	}
	for _, p := range f.Projects {
		if p.ID == "" || p.Slots < 0 {
			return Fixture{}, fmt.Errorf("%w: project %q slots %d", ErrInvalidInput, p.ID, p.Slots)
		}
		for _, tw := range p.Tags {
			if !tw.Tag.Valid() {
				return Fixture{}, fmt.Errorf("%w: project %s tag %q", ErrInvalidInput, p.ID, tw.Tag)
			}
		}
	}
	if err := f.validateGroups(); err != nil {
		return Fixture{}, err
	}
	return f, nil
}

func (f Fixture) validateGroups() error {
	for _, g := range f.Groups {
		if g.ID <= 0 {
			return fmt.Errorf("%w: group id %d", ErrInvalidInput, g.ID)
		}
		if err := model.ValidatePreferences(g.Preferences); err != nil {
			return fmt.Errorf("%w: group %d: %w", ErrInvalidInput, g.ID, err)
		}
	}
	return nil
}

// Snapshot returns the allocation input described by the fixture, using
// only the ratings spelled out in it.
func (f Fixture) Snapshot() model.Snapshot {
	s := model.Snapshot{Projects: f.Projects}
	for _, g := range f.Groups {
		rating := g.Rating
		if rating == nil {
			rating = model.GroupRating{}
		}
		s.Groups = append(s.Groups, model.Group{ID: g.ID, Rating: rating, Preferences: g.Preferences})
	}
	return s
}

// Seed loads a fixture into the memory store.
func (s *MemoryStore) Seed(ctx context.Context, f Fixture) error {
	for _, p := range f.Projects {
		if err := s.PutProject(p); err != nil {
			return err
		}
	}
	for _, st := range f.Students {
		if err := s.SaveTranscript(ctx, st.ID, st.Transcript); err != nil {
			return err
		}
	}
	for _, g := range f.Groups {
		s.PutGroup(g.ID, g.MembersCount, g.Members)
		if g.Rating != nil {
			if err := s.SaveGroupRating(ctx, g.ID, g.Rating); err != nil {
				return err
			}
		}
		if err := s.PutPreferences(g.ID, g.Preferences); err != nil {
			return err
		}
	}
	return nil
}
