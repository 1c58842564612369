// Package convert turns UShER VCF and metadata files into sample data
// containers, and splits containers into cumulative date-bounded subsets.
package convert

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"github.com/carbocation/pfx"
	"github.com/carbocation/sarscov2ts"
	"github.com/carbocation/sarscov2ts/logging"
	"github.com/carbocation/sarscov2ts/metadata"
	"github.com/carbocation/sarscov2ts/samples"
	"github.com/carbocation/vcfgo"
)

var (
	ErrPloidy          = errors.New("only haploid genotypes are supported")
	ErrDuplicateSample = errors.New("sample appears more than once in the VCF header")
)

var BufferSize = 4096 * 8

type Options struct {
	// Delimiter of the metadata table; zero means detect it.
	Delimiter rune

	// Progress, if set, is called after every site written.
	Progress func(sites int)
}

// Report counts what a conversion kept and what it dropped.
type Report struct {
	VCFSamples   int
	MetadataRows int

	// Metadata rows dropped for having no collection date
	MissingDates int

	// VCF samples with no usable metadata row
	NotInMetadata int

	// Dated metadata rows with no VCF sample
	NotInVCF int

	Individuals int
	Sites       int
}

func (r Report) Log() {
	logging.Infof("Read %d VCF samples and %d metadata rows", r.VCFSamples, r.MetadataRows)
	if r.MissingDates > 0 {
		logging.Warnf("Dropped %d metadata rows with missing dates", r.MissingDates)
	}
	if r.NotInMetadata > 0 {
		logging.Warnf("Dropped %d VCF samples without dated metadata", r.NotInMetadata)
	}
	if r.NotInVCF > 0 {
		logging.Infof("%d dated metadata rows have no VCF sample", r.NotInVCF)
	}
	logging.Infof("Wrote %d individuals and %d sites", r.Individuals, r.Sites)
}

// ToSamples converts an UShER VCF and metadata table into a sample container
// at outputPath. Individuals are the VCF samples that have a dated metadata
// row, ordered by collection date; every VCF record becomes a site.
func ToSamples(ctx context.Context, vcfPath, metadataPath, outputPath string, opts Options) (*samples.Data, Report, error) {
	var report Report

	rows, err := metadata.Load(ctx, metadataPath, opts.Delimiter)
	if err != nil {
		return nil, report, err
	}
	report.MetadataRows = len(rows)

	prepared, err := metadata.Prepare(rows)
	if err != nil {
		return nil, report, pfx.Err(fmt.Errorf("%s: %w", metadataPath, err))
	}
	report.MissingDates = prepared.MissingDates

	fraw, err := sarscov2ts.OpenInput(ctx, vcfPath)
	if err != nil {
		return nil, report, err
	}
	defer fraw.Close()

	rdr, err := vcfgo.NewReader(bufio.NewReaderSize(fraw, BufferSize), true)
	if err != nil {
		if rdr == nil {
			return nil, report, pfx.Err(fmt.Errorf("%s: invalid VCF: %w", vcfPath, err))
		}
		logging.Warnf("VCF %s has invalid features, attempting to continue: %v", vcfPath, err)
		rdr.Clear()
	}

	sampleColumns := make(map[string]int, len(rdr.Header.SampleNames))
	for i, name := range rdr.Header.SampleNames {
		if _, exists := sampleColumns[name]; exists {
			return nil, report, fmt.Errorf("%s: %w: %q", vcfPath, ErrDuplicateSample, name)
		}
		sampleColumns[name] = i
	}
	report.VCFSamples = len(rdr.Header.SampleNames)

	// Metadata is already sorted by date, so this keeps individuals in date
	// order.
	individuals := make([]metadata.Record, 0, len(prepared.Records))
	columns := make([]int, 0, len(prepared.Records))
	for _, rec := range prepared.Records {
		col, exists := sampleColumns[rec.Strain]
		if !exists {
			report.NotInVCF++
			continue
		}
		individuals = append(individuals, rec)
		columns = append(columns, col)
	}
	report.Individuals = len(individuals)
	report.NotInMetadata = report.VCFSamples - report.Individuals

	b, err := samples.Create(outputPath, individuals)
	if err != nil {
		return nil, report, err
	}
	defer b.Abort()

	genotypes := make([]int8, len(columns))
	for i := 0; ; i++ {
		variant := rdr.Read()
		if variant == nil {
			break
		}

		if err := rdr.Header.ParseSamples(variant); err != nil {
			return nil, report, pfx.Err(fmt.Errorf("%s:%d: %w", variant.Chromosome, variant.Pos, err))
		}

		alleles := siteAlleles(variant)
		for j, col := range columns {
			gt, err := haploidGenotype(variant, col)
			if err != nil {
				return nil, report, fmt.Errorf("%s:%d sample %q: %w", variant.Chromosome, variant.Pos, rdr.Header.SampleNames[col], err)
			}
			genotypes[j] = gt
		}

		if err := b.AddSite(variant.Pos, alleles, genotypes); err != nil {
			return nil, report, err
		}

		if i%1000 == 0 {
			logging.Debugf("Processed %d variants. Last %s:%d", i, variant.Chromosome, variant.Pos)
		}
		if opts.Progress != nil {
			opts.Progress(b.NumSites())
		}
	}
	if err := rdr.Error(); err != nil {
		return nil, report, pfx.Err(fmt.Errorf("%s: %w", vcfPath, err))
	}
	report.Sites = b.NumSites()

	sd, err := b.Finalise()
	if err != nil {
		return nil, report, err
	}

	return sd, report, nil
}

// siteAlleles lists REF followed by the ALT alleles. A "." ALT means the
// record has no alternate allele.
func siteAlleles(variant *vcfgo.Variant) []string {
	alleles := []string{variant.Ref()}
	for _, alt := range variant.Alt() {
		if alt == "." || alt == "" {
			continue
		}
		alleles = append(alleles, alt)
	}

	return alleles
}

// haploidGenotype returns the allele index called for the sample in column
// col, or -1 when the call is missing.
func haploidGenotype(variant *vcfgo.Variant, col int) (int8, error) {
	if col >= len(variant.Samples) {
		return -1, nil
	}

	sample := variant.Samples[col]
	if sample == nil || len(sample.GT) == 0 {
		return -1, nil
	}
	if len(sample.GT) > 1 {
		return 0, fmt.Errorf("%w: GT has %d alleles", ErrPloidy, len(sample.GT))
	}
	if sample.GT[0] < 0 {
		return -1, nil
	}
	if sample.GT[0] >= samples.MaxAlleles {
		return 0, fmt.Errorf("%w: allele index %d", samples.ErrInvalidGenotype, sample.GT[0])
	}

	return int8(sample.GT[0]), nil
}
