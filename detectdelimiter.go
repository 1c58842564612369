package sarscov2ts

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/csimplestring/go-csv/detector"
)

// DetermineDelimiter guesses the delimiter of a CSV-like table from its first
// lines. UShER metadata is tab separated, so a tab is assumed when nothing
// stands out.
func DetermineDelimiter(r io.Reader) rune {
	for _, candidate := range detector.New().DetectDelimiter(r, '"') {
		if utf8.RuneCountInString(candidate) == 1 {
			delimiter, _ := utf8.DecodeRuneInString(candidate)
			return delimiter
		}
	}

	return '\t'
}

// ParseDelimiter turns a --delimiter value into a rune. "tab" and `\t` mean a
// tab, "comma" a comma, and any other single character itself. "auto" (or
// empty) returns 0, meaning detect from the data.
func ParseDelimiter(value string) (rune, error) {
	switch value {
	case "", "auto":
		return 0, nil
	case "tab", `\t`:
		return '\t', nil
	case "comma":
		return ',', nil
	}

	if utf8.RuneCountInString(value) != 1 {
		return 0, fmt.Errorf("delimiter %q is not tab, comma, auto or a single character", value)
	}
	delimiter, _ := utf8.DecodeRuneInString(value)

	return delimiter, nil
}
