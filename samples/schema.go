package samples

import (
	"strings"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"
)

const (
	FormatName    = "sarscov2ts.samples"
	FormatVersion = "1.0"
)

const schema = `
CREATE TABLE container (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE individual (
	id       INTEGER PRIMARY KEY,
	strain   TEXT NOT NULL UNIQUE,
	date     TEXT NOT NULL,
	metadata TEXT NOT NULL
);

CREATE TABLE site (
	id        INTEGER PRIMARY KEY,
	position  INTEGER NOT NULL,
	alleles   TEXT NOT NULL,
	genotypes BLOB NOT NULL
);
`

type containerRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

type individualRow struct {
	ID       int    `db:"id"`
	Strain   string `db:"strain"`
	Date     string `db:"date"`
	Metadata string `db:"metadata"`
}

type siteRow struct {
	ID        int    `db:"id"`
	Position  int64  `db:"position"`
	Alleles   string `db:"alleles"`
	Genotypes []byte `db:"genotypes"`
}

// connect opens a sqlite database. URI filenames have to begin with 'file:';
// see https://www.sqlite.org/c3ref/open.html
func connect(path string, readOnly bool) (*sqlx.DB, error) {
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	if readOnly {
		path += "?mode=ro"
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// A single connection keeps the builder's transaction and reads on the
	// same handle.
	db.SetMaxOpenConns(1)

	return db, nil
}
