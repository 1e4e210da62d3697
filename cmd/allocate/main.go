// Command allocate runs one allocation over a YAML fixture and prints the
// partition as YAML.
//
//	go run ./cmd/allocate -in fixture.yaml [-validate] [-log-level debug]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aidenrawles/synergy/internal/adapters/repository"
	app "github.com/aidenrawles/synergy/internal/app"
	"github.com/aidenrawles/synergy/internal/domain/types"
	"github.com/aidenrawles/synergy/pkg/logger"
)

var errUsage = errors.New("usage: allocate -in <fixture.yaml> [-validate] [-min-members n] [-log-level level]")

type report struct {
	Result types.AllocationView `yaml:"result"`
	Loads  []types.ProjectLoad  `yaml:"loads"`
	Valid  *bool                `yaml:"valid,omitempty"`
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("allocate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		in         = fs.String("in", "", "YAML fixture with projects, students and groups")
		validate   = fs.Bool("validate", false, "check the partition against the fixture")
		minMembers = fs.Int("min-members", 5, "smallest group that can be rated")
		logLevel   = fs.String("log-level", "warn", "debug, info, warn or error")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errUsage
	}

	if err := logger.Init(logger.WithWriter(stderr)); err != nil {
		return err
	}
	if err := logger.SetLevelString(*logLevel); err != nil {
		return err
	}
	log := logger.Get()

	f, err := repository.LoadFixture(*in)
	if err != nil {
		return err
	}
	store := repository.NewMemoryStore()
	if err := store.Seed(ctx, f); err != nil {
		return fmt.Errorf("seed %s: %w", *in, err)
	}

	svc := app.New(
		app.WithStore(store),
		app.WithMinGroupMembers(*minMembers),
		app.WithLogger(log),
	)

	// Students first so that groups without a spelled-out rating can be
	// rated from their members.
	for _, st := range f.Students {
		if _, err := svc.ScoreStudent(ctx, st.ID, st.Transcript); err != nil {
			return err
		}
	}
	for _, g := range f.Groups {
		if g.Rating != nil {
			continue
		}
		if err := svc.RefreshGroup(ctx, g.ID); err != nil {
			return err
		}
	}

	res, err := svc.RunAllocation(ctx)
	if err != nil {
		return err
	}

	out := report{
		Result: types.NewAllocationView(res.Result),
		Loads:  res.Loads,
	}
	var invalid error
	if *validate {
		invalid = res.Result.Validate(res.Snapshot)
		ok := invalid == nil
		out.Valid = &ok
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return invalid
}
