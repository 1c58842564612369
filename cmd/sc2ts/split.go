package main

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/araddon/dateparse"
	"github.com/carbocation/sarscov2ts/convert"
	"github.com/carbocation/sarscov2ts/logging"
	"github.com/carbocation/sarscov2ts/samples"
	"github.com/spf13/cobra"
)

func newSplitCmd(verbosity *int) *cobra.Command {
	var cutoffValues []string

	cmd := &cobra.Command{
		Use:   "split-samples <samples-file> <output-prefix>",
		Short: "Write one samples file per collection date",
		Long: `Write one samples file per collection date

For each date, writes <output-prefix><YYYY-MM-DD>.samples holding every
individual collected on or before that date, with all sites. Dates default to
each distinct collection date in the input; --cutoff picks them explicitly.

This command logs at INFO without -v and at DEBUG with it.
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup(*verbosity + 1)

			cutoffs, err := parseCutoffs(cutoffValues)
			if err != nil {
				return err
			}

			d, err := samples.Open(args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			for split, err := range convert.SplitSamples(d, args[1], cutoffs) {
				if err != nil {
					return err
				}
				logging.Infof("Wrote %d samples to %s", split.Data.NumSamples(), split.Data.Path())
			}

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&cutoffValues, "cutoff", nil, "Cutoff date, e.g. 2020-03-31; repeatable")

	return cmd
}

// parseCutoffs accepts any unambiguous date format and keeps the calendar day.
func parseCutoffs(values []string) ([]civil.Date, error) {
	cutoffs := make([]civil.Date, 0, len(values))
	for _, value := range values {
		t, err := dateparse.ParseStrict(value)
		if err != nil {
			return nil, fmt.Errorf("--cutoff %q: %w", value, err)
		}
		cutoffs = append(cutoffs, civil.DateOf(t))
	}

	return cutoffs, nil
}
