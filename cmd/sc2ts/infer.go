package main

import (
	"fmt"

	"github.com/carbocation/sarscov2ts/inference"
	"github.com/carbocation/sarscov2ts/logging"
	"github.com/carbocation/sarscov2ts/samples"
	"github.com/spf13/cobra"
	"gopkg.in/guregu/null.v3"
)

func newInferCmd() *cobra.Command {
	var (
		numMismatches    float64
		numThreads       int
		engine           string
		engineArgs       []string
		workDir          string
		keepIntermediate bool
		cutoffValues     []string
		whole            bool
	)

	cmd := &cobra.Command{
		Use:   "infer <samples-file> <output-prefix>",
		Short: "Infer one tree sequence per collection date",
		Long: `Infer one tree sequence per collection date

Splits the samples file by collection date (see split-samples) and, oldest
first, runs the engine's generate-ancestors, match-ancestors and
match-samples phases on each subset. Each result is written to
<output-prefix><YYYY-MM-DD>.ts. With --whole the samples file is inferred in
one run, labelled with its latest date.

A partition that fails is reported and skipped; later partitions still run
and the command exits non-zero.

Example usage:

	sc2ts infer usher.samples out/usher- --num-threads 8 --num-mismatches 3
	sc2ts infer usher.samples out/usher- --engine python3 --engine-arg=-m --engine-arg=tsinfer
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := inference.Config{
				NumThreads: numThreads,
				Progress:   inference.LogProgress{},
			}
			if cmd.Flags().Changed("num-mismatches") {
				cfg.NumMismatches = null.FloatFrom(numMismatches)
			}

			cutoffs, err := parseCutoffs(cutoffValues)
			if err != nil {
				return err
			}

			d, err := samples.Open(args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			o := inference.Orchestrator{
				Engine:           inference.ExecEngine{Binary: engine, Args: engineArgs},
				Config:           cfg,
				WorkDir:          workDir,
				KeepIntermediate: keepIntermediate,
			}

			partitions, err := o.Run(cmd.Context(), d, args[1], cutoffs, whole)

			failed := 0
			for _, p := range partitions {
				if p.State == inference.StateFailed {
					failed++
					continue
				}
				logging.Infof("%s: %d samples, %s", p.Label, p.NumSamples, p.OutputPath)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d partitions failed: %w", failed, len(partitions), err)
			}

			return err
		},
	}

	cmd.Flags().IntVar(&numThreads, "num-threads", 0, "Matching threads; 0 lets the engine choose")
	cmd.Flags().Float64Var(&numMismatches, "num-mismatches", 0, "Mismatch ratio for matching; unset uses the engine default")
	cmd.Flags().StringVar(&engine, "engine", "tsinfer", "Inference engine binary")
	cmd.Flags().StringArrayVar(&engineArgs, "engine-arg", nil, "Argument placed before the phase name; repeatable")
	cmd.Flags().StringArrayVar(&cutoffValues, "cutoff", nil, "Cutoff date, e.g. 2020-03-31; repeatable")
	cmd.Flags().BoolVar(&whole, "whole", false, "Infer the whole samples file in one run")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Directory for intermediate files; defaults to the system temp dir")
	cmd.Flags().BoolVar(&keepIntermediate, "keep-intermediate", false, "Do not delete intermediate files")
	cmd.Flags().SortFlags = false
	cmd.MarkFlagsMutuallyExclusive("whole", "cutoff")

	return cmd
}
