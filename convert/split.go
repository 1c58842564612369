package convert

import (
	"fmt"
	"iter"
	"slices"

	"cloud.google.com/go/civil"
	"github.com/carbocation/pfx"
	"github.com/carbocation/sarscov2ts/samples"
)

// Split is one date-bounded subset of a container: every individual collected
// on or before Date.
type Split struct {
	Date civil.Date
	Data *samples.Data
}

// SplitPath is where the subset for date is written.
func SplitPath(prefix string, date civil.Date) string {
	return prefix + date.String() + ".samples"
}

// CutoffDates lists the distinct collection dates in d, ascending.
func CutoffDates(d *samples.Data) ([]civil.Date, error) {
	dates, err := individualDates(d)
	if err != nil {
		return nil, err
	}

	return normaliseCutoffs(dates), nil
}

func individualDates(d *samples.Data) ([]civil.Date, error) {
	individuals, err := d.Individuals()
	if err != nil {
		return nil, err
	}

	dates := make([]civil.Date, len(individuals))
	for i, ind := range individuals {
		dates[i], err = ind.Metadata.CivilDate()
		if err != nil {
			return nil, pfx.Err(fmt.Errorf("individual %d (%s): %w", ind.ID, ind.Metadata.Strain, err))
		}
	}

	return dates, nil
}

// normaliseCutoffs returns a sorted, de-duplicated copy.
func normaliseCutoffs(cutoffs []civil.Date) []civil.Date {
	out := slices.Clone(cutoffs)
	slices.SortFunc(out, func(a, b civil.Date) int {
		switch {
		case a.Before(b):
			return -1
		case a.After(b):
			return 1
		}
		return 0
	})

	return slices.Compact(out)
}

// SplitSamples writes one sub-container per cutoff date, each holding the
// individuals of d collected on or before that date, in container order, with
// all of d's sites. With no cutoffs, every distinct collection date in d is
// used. Cutoffs are visited in ascending order, so each subset contains every
// earlier one.
//
// The sequence is lazy and can only be ranged over once. Each yielded Data is
// closed when the loop body returns; its file stays on disk at
// SplitPath(prefix, Date).
func SplitSamples(d *samples.Data, prefix string, cutoffs []civil.Date) iter.Seq2[Split, error] {
	used := false

	return func(yield func(Split, error) bool) {
		if used {
			yield(Split{}, fmt.Errorf("SplitSamples: sequence already consumed"))
			return
		}
		used = true

		dates, err := individualDates(d)
		if err != nil {
			yield(Split{}, err)
			return
		}

		wanted := cutoffs
		if len(wanted) == 0 {
			wanted = dates
		}

		for _, cutoff := range normaliseCutoffs(wanted) {
			ids := make([]int, 0, len(dates))
			for id, date := range dates {
				if !date.After(cutoff) {
					ids = append(ids, id)
				}
			}

			sub, err := d.Subset(SplitPath(prefix, cutoff), ids)
			if err != nil {
				yield(Split{Date: cutoff}, err)
				return
			}

			more := yield(Split{Date: cutoff, Data: sub}, nil)
			sub.Close()
			if !more {
				return
			}
		}
	}
}
