package inference

import (
	"errors"
	"fmt"
	"time"

	"github.com/carbocation/sarscov2ts/logging"
	"gopkg.in/guregu/null.v3"
)

var ErrInvalidConfig = errors.New("invalid inference configuration")

// Config is handed to every engine call. It replaces any process-wide engine
// settings: nothing about threads, progress or mismatches is global.
type Config struct {
	// Matching threads; 0 lets the engine choose.
	NumThreads int

	// Unset means the engine default, which is not the same as an explicit 0.
	NumMismatches null.Float

	// Nil means NopProgress.
	Progress Progress
}

func (c Config) Validate() error {
	if c.NumThreads < 0 {
		return fmt.Errorf("%w: num threads %d is negative", ErrInvalidConfig, c.NumThreads)
	}
	if c.NumMismatches.Valid && c.NumMismatches.Float64 < 0 {
		return fmt.Errorf("%w: num mismatches %g is negative", ErrInvalidConfig, c.NumMismatches.Float64)
	}

	return nil
}

func (c Config) progress() Progress {
	if c.Progress == nil {
		return NopProgress{}
	}
	return c.Progress
}

// Progress receives phase boundaries for each partition.
type Progress interface {
	PhaseStarted(label string, phase Phase)
	PhaseFinished(label string, phase Phase, elapsed time.Duration, err error)
}

type NopProgress struct{}

func (NopProgress) PhaseStarted(string, Phase) {}
func (NopProgress) PhaseFinished(string, Phase, time.Duration, error) {}

// LogProgress reports phases through the logging package.
type LogProgress struct{}

func (LogProgress) PhaseStarted(label string, phase Phase) {
	logging.Infof("%s: starting %s", label, phase)
}

func (LogProgress) PhaseFinished(label string, phase Phase, elapsed time.Duration, err error) {
	if err != nil {
		logging.Warnf("%s: %s failed after %s: %v", label, phase, elapsed.Round(time.Millisecond), err)
		return
	}
	logging.Infof("%s: %s finished in %s", label, phase, elapsed.Round(time.Millisecond))
}
