// sc2ts converts UShER SARS-CoV-2 data into sample containers, splits them
// by collection date and infers a tree sequence for each date.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/carbocation/sarscov2ts/compileinfo"
	"github.com/carbocation/sarscov2ts/logging"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalln(err)
	}
}

func newRootCmd() *cobra.Command {
	var verbosity int

	rootCmd := &cobra.Command{
		Use:   "sc2ts",
		Short: "Infer SARS-CoV-2 tree sequences from UShER data",
		Long: `Infer SARS-CoV-2 tree sequences from UShER data.

A typical run imports the UShER VCF and metadata into a samples file, then
infers one tree sequence per collection date:

	sc2ts import-usher-vcf public.vcf.gz metadata.tsv.gz usher.samples
	sc2ts infer usher.samples out/usher- --num-threads 8 -v
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.Setup(verbosity)
			logging.Infof("%s", compileinfo.Get())
		},
	}

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase logging; repeat for debug output")

	rootCmd.AddCommand(
		newImportCmd(),
		newSplitCmd(&verbosity),
		newInferCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
