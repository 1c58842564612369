// Package samples stores sample data for genealogical inference: a fixed set
// of sites, each with its alleles and one genotype per individual, and the
// metadata of every individual. A container lives in a single sqlite file and
// is immutable once written.
package samples

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"strconv"

	"github.com/carbocation/pfx"
	"github.com/carbocation/sarscov2ts/metadata"
	"github.com/jmoiron/sqlx"
)

var ErrFormat = errors.New("not a sample data container")

type Site struct {
	ID       int
	Position uint64

	// Alleles[0] is the reference allele.
	Alleles []string
}

// Variant is a site together with the genotypes of every individual, in
// container order. A genotype of -1 is missing data.
type Variant struct {
	Site
	Genotypes []int8
}

type Individual struct {
	ID       int
	Metadata metadata.Record
}

// Data is a read-only sample container. Each individual carries exactly one
// sample.
type Data struct {
	path string
	db   *sqlx.DB

	numSites       int
	numIndividuals int
}

// Open opens an existing container for reading.
func Open(path string) (*Data, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, pfx.Err(err)
	}

	db, err := connect(path, true)
	if err != nil {
		return nil, pfx.Err(err)
	}

	d := &Data{path: path, db: db}
	if err := d.readHeader(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return d, nil
}

func (d *Data) readHeader() error {
	rows := []containerRow{}
	if err := d.db.Select(&rows, "SELECT key, value FROM container"); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}

	header := make(map[string]string, len(rows))
	for _, row := range rows {
		header[row.Key] = row.Value
	}

	if header["format_name"] != FormatName {
		return fmt.Errorf("%w: format name %q", ErrFormat, header["format_name"])
	}

	var err error
	if d.numSites, err = strconv.Atoi(header["num_sites"]); err != nil {
		return fmt.Errorf("%w: num_sites: %v", ErrFormat, err)
	}
	if d.numIndividuals, err = strconv.Atoi(header["num_individuals"]); err != nil {
		return fmt.Errorf("%w: num_individuals: %v", ErrFormat, err)
	}

	return nil
}

func (d *Data) Path() string {
	return d.path
}

func (d *Data) NumSites() int {
	return d.numSites
}

func (d *Data) NumIndividuals() int {
	return d.numIndividuals
}

// NumSamples equals NumIndividuals: the data are haploid.
func (d *Data) NumSamples() int {
	return d.numIndividuals
}

func (d *Data) Close() error {
	return d.db.Close()
}

// Individuals returns every individual in container order.
func (d *Data) Individuals() ([]Individual, error) {
	rows := []individualRow{}
	if err := d.db.Select(&rows, "SELECT id, strain, date, metadata FROM individual ORDER BY id"); err != nil {
		return nil, pfx.Err(err)
	}

	out := make([]Individual, len(rows))
	for i, row := range rows {
		out[i].ID = row.ID
		if err := json.Unmarshal([]byte(row.Metadata), &out[i].Metadata); err != nil {
			return nil, pfx.Err(fmt.Errorf("individual %d: %w", row.ID, err))
		}
	}

	return out, nil
}

// Variants yields every site in position order. Iteration stops at the first
// error, which is yielded with a zero Variant.
func (d *Data) Variants() iter.Seq2[Variant, error] {
	return func(yield func(Variant, error) bool) {
		rows, err := d.db.Queryx("SELECT id, position, alleles, genotypes FROM site ORDER BY id")
		if err != nil {
			yield(Variant{}, pfx.Err(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row siteRow
			if err := rows.StructScan(&row); err != nil {
				yield(Variant{}, pfx.Err(err))
				return
			}

			v, err := row.variant()
			if err != nil {
				yield(Variant{}, err)
				return
			}

			if !yield(v, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(Variant{}, pfx.Err(err))
		}
	}
}

func (row siteRow) variant() (Variant, error) {
	v := Variant{
		Site: Site{
			ID:       row.ID,
			Position: uint64(row.Position),
		},
		Genotypes: make([]int8, len(row.Genotypes)),
	}

	if err := json.Unmarshal([]byte(row.Alleles), &v.Alleles); err != nil {
		return Variant{}, pfx.Err(fmt.Errorf("site %d: %w", row.ID, err))
	}

	for i, b := range row.Genotypes {
		v.Genotypes[i] = int8(b)
	}

	return v, nil
}

// Subset writes a new container at path holding the given individuals, in
// the given order, and every site of d with its genotypes re-windowed to
// those individuals.
func (d *Data) Subset(path string, ids []int) (*Data, error) {
	individuals, err := d.Individuals()
	if err != nil {
		return nil, err
	}

	records := make([]metadata.Record, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(individuals) {
			return nil, fmt.Errorf("individual %d out of range [0, %d)", id, len(individuals))
		}
		records[i] = individuals[id].Metadata
	}

	b, err := Create(path, records)
	if err != nil {
		return nil, err
	}
	defer b.Abort()

	genotypes := make([]int8, len(ids))
	for v, err := range d.Variants() {
		if err != nil {
			return nil, err
		}

		for i, id := range ids {
			genotypes[i] = v.Genotypes[id]
		}
		if err := b.AddSite(v.Position, v.Alleles, genotypes); err != nil {
			return nil, err
		}
	}

	return b.Finalise()
}
