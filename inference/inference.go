// Package inference drives an external genealogical inference engine over
// date partitions of a sample container. Partitions are processed one at a
// time, oldest first, each running the engine's three phases in order and
// persisting one tree sequence file.
package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"github.com/carbocation/pfx"
	"github.com/carbocation/sarscov2ts/convert"
	"github.com/carbocation/sarscov2ts/logging"
	"github.com/carbocation/sarscov2ts/samples"
)

// State of a partition. A partition moves forward one state per completed
// phase; any failure moves it to StateFailed and nothing further runs for it.
type State int

const (
	StateLoaded State = iota
	StateAncestorsGenerated
	StateAncestorsMatched
	StateSamplesMatched
	StatePersisted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "LOADED"
	case StateAncestorsGenerated:
		return "ANCESTORS_GENERATED"
	case StateAncestorsMatched:
		return "ANCESTORS_MATCHED"
	case StateSamplesMatched:
		return "SAMPLES_MATCHED"
	case StatePersisted:
		return "PERSISTED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Partition describes one inference run.
type Partition struct {
	// Date formatted as YYYY-MM-DD
	Label string
	Date  civil.Date

	NumSamples  int
	SamplesPath string
	OutputPath  string

	State State
	Err   error
}

// OutputPath is where the tree sequence for label is written.
func OutputPath(prefix, label string) string {
	return prefix + label + ".ts"
}

type Orchestrator struct {
	Engine Engine
	Config Config

	// Intermediate files (partition containers, ancestors) go in a fresh
	// directory under WorkDir, or under the system temp dir if empty. The
	// directory is removed afterwards unless KeepIntermediate is set.
	WorkDir          string
	KeepIntermediate bool
}

// Run infers one tree sequence per cutoff date (every distinct collection
// date when cutoffs is empty), writing each to OutputPath(outputPrefix, date).
// With whole set, d is inferred as a single partition labelled with its
// latest collection date.
//
// A partition whose engine call fails is marked StateFailed and skipped; the
// remaining partitions still run. The returned error joins every failure.
func (o *Orchestrator) Run(ctx context.Context, d *samples.Data, outputPrefix string, cutoffs []civil.Date, whole bool) ([]Partition, error) {
	if o.Engine == nil {
		return nil, fmt.Errorf("%w: no engine", ErrInvalidConfig)
	}
	if err := o.Config.Validate(); err != nil {
		return nil, err
	}

	if o.WorkDir != "" {
		if err := os.MkdirAll(o.WorkDir, 0o755); err != nil {
			return nil, pfx.Err(err)
		}
	}
	workDir, err := os.MkdirTemp(o.WorkDir, "sc2ts-infer-")
	if err != nil {
		return nil, pfx.Err(err)
	}
	if o.KeepIntermediate {
		logging.Infof("Keeping intermediate files in %s", workDir)
	} else {
		defer os.RemoveAll(workDir)
	}

	if whole {
		p, err := o.runWhole(ctx, d, outputPrefix, workDir)
		return []Partition{p}, err
	}

	var partitions []Partition
	var errs []error
	for split, err := range convert.SplitSamples(d, filepath.Join(workDir, "samples-"), cutoffs) {
		if err != nil {
			errs = append(errs, err)
			break
		}

		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		p := Partition{
			Label:       split.Date.String(),
			Date:        split.Date,
			NumSamples:  split.Data.NumSamples(),
			SamplesPath: split.Data.Path(),
			OutputPath:  OutputPath(outputPrefix, split.Date.String()),
		}
		o.runPartition(ctx, &p, workDir)
		if p.Err != nil {
			errs = append(errs, p.Err)
		}
		partitions = append(partitions, p)
	}

	return partitions, errors.Join(errs...)
}

func (o *Orchestrator) runWhole(ctx context.Context, d *samples.Data, outputPrefix, workDir string) (Partition, error) {
	dates, err := convert.CutoffDates(d)
	if err != nil {
		return Partition{}, err
	}

	p := Partition{
		Label:       "all",
		NumSamples:  d.NumSamples(),
		SamplesPath: d.Path(),
	}
	if len(dates) > 0 {
		p.Date = dates[len(dates)-1]
		p.Label = p.Date.String()
	}
	p.OutputPath = OutputPath(outputPrefix, p.Label)

	o.runPartition(ctx, &p, workDir)

	return p, p.Err
}

type step struct {
	phase Phase
	next  State
	run   func() error
}

// runPartition takes p from StateLoaded to StatePersisted or StateFailed.
// Nothing is retried.
func (o *Orchestrator) runPartition(ctx context.Context, p *Partition, workDir string) {
	p.State = StateLoaded
	progress := o.Config.progress()

	logging.Infof("Inferring %d samples up to %s", p.NumSamples, p.Label)

	ancestors := filepath.Join(workDir, p.Label+".ancestors")
	ancestorsTrees := filepath.Join(workDir, p.Label+".ancestors.trees")
	tmpOutput := filepath.Join(filepath.Dir(p.OutputPath), "."+filepath.Base(p.OutputPath)+".tmp")
	defer os.Remove(tmpOutput)

	steps := []step{
		{PhaseGenerateAncestors, StateAncestorsGenerated, func() error {
			return o.Engine.GenerateAncestors(ctx, p.SamplesPath, ancestors, o.Config)
		}},
		{PhaseMatchAncestors, StateAncestorsMatched, func() error {
			return o.Engine.MatchAncestors(ctx, p.SamplesPath, ancestors, ancestorsTrees, o.Config)
		}},
		{PhaseMatchSamples, StateSamplesMatched, func() error {
			return o.Engine.MatchSamples(ctx, p.SamplesPath, ancestorsTrees, tmpOutput, o.Config)
		}},
	}

	for _, s := range steps {
		progress.PhaseStarted(p.Label, s.phase)
		start := time.Now()
		err := s.run()
		progress.PhaseFinished(p.Label, s.phase, time.Since(start), err)

		if err != nil {
			p.fail(fmt.Errorf("%s: %w", s.phase, err))
			return
		}
		p.State = s.next
	}

	if _, err := os.Stat(tmpOutput); err != nil {
		p.fail(fmt.Errorf("%s produced no output: %w", PhaseMatchSamples, err))
		return
	}
	if err := os.Rename(tmpOutput, p.OutputPath); err != nil {
		p.fail(pfx.Err(err))
		return
	}
	p.State = StatePersisted

	logging.Infof("Wrote %s", p.OutputPath)
}

func (p *Partition) fail(err error) {
	p.State = StateFailed
	p.Err = fmt.Errorf("partition %s: %w", p.Label, err)
}
