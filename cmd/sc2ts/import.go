package main

import (
	"github.com/carbocation/sarscov2ts"
	"github.com/carbocation/sarscov2ts/convert"
	"github.com/carbocation/sarscov2ts/logging"
	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	var (
		delimiter     string
		progressEvery int
	)

	cmd := &cobra.Command{
		Use:   "import-usher-vcf <vcf> <metadata> <output>",
		Short: "Convert an UShER VCF and metadata table into a samples file",
		Long: `Convert an UShER VCF and metadata table into a samples file

Every VCF sample with a dated metadata row becomes one haploid individual,
ordered by collection date. Rows dated "?" are dropped. Partial dates are
padded to the last day they could mean: 2020 becomes 2020-12-31 and 2020-02
becomes 2020-02-29.

Inputs may be gzip, bzip2, xz or zip compressed, and may be gs:// paths.
`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sep, err := sarscov2ts.ParseDelimiter(delimiter)
			if err != nil {
				return err
			}

			d, report, err := convert.ToSamples(cmd.Context(), args[0], args[1], args[2], convert.Options{
				Delimiter: sep,
				Progress:  siteProgress(progressEvery),
			})
			if err != nil {
				return err
			}
			defer d.Close()

			report.Log()

			return nil
		},
	}

	cmd.Flags().StringVar(&delimiter, "delimiter", "tab", "Metadata delimiter: tab, comma, a single character, or auto to detect it")
	cmd.Flags().IntVar(&progressEvery, "progress-every", 10000, "Log progress every N sites; 0 disables it")
	cmd.Flags().SortFlags = false

	return cmd
}

// siteProgress logs the running site count every n sites.
func siteProgress(n int) func(sites int) {
	if n <= 0 {
		return nil
	}

	return func(sites int) {
		if sites%n == 0 {
			logging.Infof("Wrote %d sites", sites)
		}
	}
}
