package metadata

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/carbocation/pfx"
	"github.com/carbocation/sarscov2ts"
	"github.com/gocarina/gocsv"
	"gopkg.in/guregu/null.v3"
)

var (
	ErrMissingColumn   = errors.New("metadata is missing a required column")
	ErrDuplicateStrain = errors.New("duplicate strain in metadata")
	ErrMalformedLength = errors.New("malformed sequence length")
)

// RequiredColumns must be present in the metadata header.
var RequiredColumns = []string{"strain", "date"}

// RawRecord is one row of an UShER metadata table as read from disk. Columns
// not named here are ignored.
type RawRecord struct {
	Strain           string `csv:"strain"`
	GenbankAccession string `csv:"genbank_accession"`
	Date             string `csv:"date"`
	Country          string `csv:"country"`
	Host             string `csv:"host"`
	Length           string `csv:"length"`
	PangolinLineage  string `csv:"pangolin_lineage"`
	NextstrainClade  string `csv:"Nextstrain_clade"`
}

// Record is a normalized metadata row. Its JSON form is the per-individual
// metadata stored in a sample container.
type Record struct {
	Strain           string      `json:"strain"`
	Date             string      `json:"date"`
	NextstrainClade  string      `json:"Nextstrain_clade"`
	PangolinLineage  string      `json:"pangolin_lineage"`
	Host             string      `json:"host"`
	Country          null.String `json:"country"`
	GenbankAccession null.String `json:"genbank_accession"`
	Length           float64     `json:"length"`
}

// CivilDate parses the (already padded) collection date.
func (r Record) CivilDate() (civil.Date, error) {
	return civil.ParseDate(r.Date)
}

// Prepared is the output of Prepare.
type Prepared struct {
	Records []Record

	// Rows dropped because their date was MissingDate
	MissingDates int
}

// Load reads an UShER metadata table from a local or gs:// path, compressed or
// not. A zero delimiter is detected from the first lines of the file.
func Load(ctx context.Context, path string, delimiter rune) ([]RawRecord, error) {
	rc, err := sarscov2ts.OpenInput(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	rows, err := Parse(rc, delimiter)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}

	return rows, nil
}

// Parse reads a metadata table. A zero delimiter is detected from the data.
func Parse(r io.Reader, delimiter rune) ([]RawRecord, error) {
	fileBytes, err := io.ReadAll(r)
	if err != nil {
		return nil, pfx.Err(err)
	}

	if delimiter == 0 {
		delimiter = sarscov2ts.DetermineDelimiter(bytes.NewReader(headLines(fileBytes, 10)))
	}

	if err := checkHeader(fileBytes, delimiter); err != nil {
		return nil, err
	}

	cr := csv.NewReader(bytes.NewReader(fileBytes))
	cr.Comma = delimiter
	cr.LazyQuotes = true

	records := []RawRecord{}
	if err := gocsv.UnmarshalCSV(cr, &records); err != nil {
		return nil, pfx.Err(err)
	}

	return records, nil
}

func headLines(b []byte, n int) []byte {
	end := 0
	for i := 0; i < n; i++ {
		next := bytes.IndexByte(b[end:], '\n')
		if next < 0 {
			return b
		}
		end += next + 1
	}
	return b[:end]
}

func checkHeader(fileBytes []byte, delimiter rune) error {
	sc := bufio.NewScanner(bytes.NewReader(fileBytes))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !sc.Scan() {
		return fmt.Errorf("%w: empty file", ErrMissingColumn)
	}

	present := make(map[string]struct{})
	for _, col := range strings.Split(strings.TrimRight(sc.Text(), "\r"), string(delimiter)) {
		present[strings.TrimSpace(col)] = struct{}{}
	}

	for _, col := range RequiredColumns {
		if _, exists := present[col]; !exists {
			return fmt.Errorf("%w: %q", ErrMissingColumn, col)
		}
	}

	return nil
}

// Prepare drops rows with a missing date, pads the remaining dates to a full
// YYYY-MM-DD, and sorts rows by date. The sort is stable, so rows sharing a
// date keep their input order. A malformed date, length or a repeated strain
// aborts preparation.
func Prepare(rows []RawRecord) (Prepared, error) {
	out := Prepared{
		Records: make([]Record, 0, len(rows)),
	}

	seen := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		date := strings.TrimSpace(row.Date)
		if date == MissingDate {
			out.MissingDates++
			continue
		}

		if _, exists := seen[row.Strain]; exists {
			return Prepared{}, fmt.Errorf("%w: %q (row %d)", ErrDuplicateStrain, row.Strain, i+1)
		}
		seen[row.Strain] = struct{}{}

		padded, err := PadDate(date)
		if err != nil {
			return Prepared{}, fmt.Errorf("strain %q (row %d): %w", row.Strain, i+1, err)
		}

		length, err := strconv.ParseFloat(strings.TrimSpace(row.Length), 64)
		if err != nil {
			return Prepared{}, fmt.Errorf("%w: strain %q (row %d): %q", ErrMalformedLength, row.Strain, i+1, row.Length)
		}

		out.Records = append(out.Records, Record{
			Strain:           row.Strain,
			Date:             padded,
			NextstrainClade:  row.NextstrainClade,
			PangolinLineage:  row.PangolinLineage,
			Host:             row.Host,
			Country:          optional(row.Country),
			GenbankAccession: optional(row.GenbankAccession),
			Length:           length,
		})
	}

	sort.SliceStable(out.Records, func(i, j int) bool {
		return out.Records[i].Date < out.Records[j].Date
	})

	return out, nil
}

func optional(value string) null.String {
	value = strings.TrimSpace(value)
	return null.NewString(value, value != "")
}
