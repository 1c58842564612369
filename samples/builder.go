package samples

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/carbocation/pfx"
	"github.com/carbocation/sarscov2ts/metadata"
	"github.com/jmoiron/sqlx"
)

var (
	ErrInvalidGenotype     = errors.New("genotype is not an index into the site's alleles")
	ErrWrongGenotypeCount  = errors.New("number of genotypes does not match number of individuals")
	ErrInvalidAlleles      = errors.New("invalid allele list")
	ErrBuilderFinished     = errors.New("sample data builder already finalised or aborted")
	ErrDuplicateIndividual = errors.New("individual appears more than once")
)

// MaxAlleles is the most alleles a site can carry; genotypes are stored as
// one signed byte per individual.
const MaxAlleles = 127

// Builder writes a new sample container. Everything goes into a temporary file
// next to the destination, which is only renamed into place by Finalise, so a
// reader never observes a partial container. Abort is safe to defer right
// after Create: it is a no-op once Finalise has succeeded.
type Builder struct {
	path    string
	tmpPath string

	db         *sqlx.DB
	tx         *sqlx.Tx
	insertSite *sqlx.Stmt

	numIndividuals int
	numSites       int
	done           bool
}

// Create starts a container at path whose individuals are the given records,
// in the given order.
func Create(path string, individuals []metadata.Record) (*Builder, error) {
	path = filepath.Clean(path)

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, pfx.Err(err)
	}
	tmpPath := f.Name()
	f.Close()

	b := &Builder{
		path:           path,
		tmpPath:        tmpPath,
		numIndividuals: len(individuals),
	}

	if err := b.init(individuals); err != nil {
		b.Abort()
		return nil, err
	}

	return b, nil
}

func (b *Builder) init(individuals []metadata.Record) error {
	var err error

	b.db, err = connect(b.tmpPath, false)
	if err != nil {
		return pfx.Err(err)
	}

	if _, err := b.db.Exec(schema); err != nil {
		return pfx.Err(err)
	}

	b.tx, err = b.db.Beginx()
	if err != nil {
		return pfx.Err(err)
	}

	insertIndividual, err := b.tx.Preparex("INSERT INTO individual (id, strain, date, metadata) VALUES (?, ?, ?, ?)")
	if err != nil {
		return pfx.Err(err)
	}
	defer insertIndividual.Close()

	seen := make(map[string]struct{}, len(individuals))
	for i, rec := range individuals {
		if _, exists := seen[rec.Strain]; exists {
			return pfx.Err(fmt.Errorf("%w: %q", ErrDuplicateIndividual, rec.Strain))
		}
		seen[rec.Strain] = struct{}{}

		md, err := json.Marshal(rec)
		if err != nil {
			return pfx.Err(err)
		}
		if _, err := insertIndividual.Exec(i, rec.Strain, rec.Date, string(md)); err != nil {
			return pfx.Err(err)
		}
	}

	b.insertSite, err = b.tx.Preparex("INSERT INTO site (id, position, alleles, genotypes) VALUES (?, ?, ?, ?)")
	if err != nil {
		return pfx.Err(err)
	}

	return nil
}

// AddSite appends a site. alleles[0] is the reference allele; genotypes holds
// one allele index per individual, or -1 where the call is missing.
func (b *Builder) AddSite(position uint64, alleles []string, genotypes []int8) error {
	if b.done {
		return ErrBuilderFinished
	}

	if len(alleles) == 0 || len(alleles) > MaxAlleles {
		return fmt.Errorf("%w: position %d has %d alleles", ErrInvalidAlleles, position, len(alleles))
	}
	if len(genotypes) != b.numIndividuals {
		return fmt.Errorf("%w: position %d has %d, expected %d", ErrWrongGenotypeCount, position, len(genotypes), b.numIndividuals)
	}

	encoded := make([]byte, len(genotypes))
	for i, gt := range genotypes {
		if gt < -1 || int(gt) >= len(alleles) {
			return fmt.Errorf("%w: position %d, individual %d, genotype %d with %d alleles", ErrInvalidGenotype, position, i, gt, len(alleles))
		}
		encoded[i] = byte(gt)
	}

	alleleJSON, err := json.Marshal(alleles)
	if err != nil {
		return pfx.Err(err)
	}

	if _, err := b.insertSite.Exec(b.numSites, int64(position), string(alleleJSON), encoded); err != nil {
		return pfx.Err(err)
	}
	b.numSites++

	return nil
}

// NumSites is the number of sites added so far.
func (b *Builder) NumSites() int {
	return b.numSites
}

// Finalise commits the container, moves it into place and reopens it for
// reading.
func (b *Builder) Finalise() (*Data, error) {
	if b.done {
		return nil, ErrBuilderFinished
	}

	for _, kv := range []containerRow{
		{"format_name", FormatName},
		{"format_version", FormatVersion},
		{"num_sites", strconv.Itoa(b.numSites)},
		{"num_individuals", strconv.Itoa(b.numIndividuals)},
		{"created", time.Now().UTC().Format(time.RFC3339)},
	} {
		if _, err := b.tx.Exec("INSERT INTO container (key, value) VALUES (?, ?)", kv.Key, kv.Value); err != nil {
			b.Abort()
			return nil, pfx.Err(err)
		}
	}

	b.insertSite.Close()
	b.insertSite = nil

	if err := b.tx.Commit(); err != nil {
		b.tx = nil
		b.Abort()
		return nil, pfx.Err(err)
	}
	b.tx = nil

	if err := b.db.Close(); err != nil {
		b.db = nil
		b.Abort()
		return nil, pfx.Err(err)
	}
	b.db = nil

	if err := os.Rename(b.tmpPath, b.path); err != nil {
		b.Abort()
		return nil, pfx.Err(err)
	}
	b.done = true

	return Open(b.path)
}

// Abort discards the temporary container. It returns nil if the builder has
// already been finalised or aborted.
func (b *Builder) Abort() error {
	if b.done {
		return nil
	}
	b.done = true

	if b.insertSite != nil {
		b.insertSite.Close()
	}
	if b.tx != nil {
		b.tx.Rollback()
	}
	if b.db != nil {
		b.db.Close()
	}

	if err := os.Remove(b.tmpPath); err != nil && !os.IsNotExist(err) {
		return pfx.Err(err)
	}

	return nil
}
