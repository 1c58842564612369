package metadata

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
)

// MissingDate is the value UShER metadata uses for an unknown collection date.
const MissingDate = "?"

var ErrMalformedDate = errors.New("malformed date")

// YYYY, YYYY-MM or YYYY-MM-DD
var dateShape = regexp.MustCompile(`^(\d{4})(?:-(\d{2})(?:-(\d{2}))?)?$`)

// PadDate resolves a possibly imprecise date to the last day of the period it
// names: a bare year becomes December 31 of that year, a year and month
// becomes the last day of that month. Complete dates are validated and
// returned unchanged.
func PadDate(value string) (string, error) {
	d, err := ParsePaddedDate(value)
	if err != nil {
		return "", err
	}

	return d.String(), nil
}

// ParsePaddedDate is PadDate returning a civil.Date.
func ParsePaddedDate(value string) (civil.Date, error) {
	parts := dateShape.FindStringSubmatch(value)
	if parts == nil {
		return civil.Date{}, fmt.Errorf("%w: %q", ErrMalformedDate, value)
	}

	year, _ := strconv.Atoi(parts[1])

	switch {
	case parts[2] == "":
		return civil.Date{Year: year, Month: time.December, Day: 31}, nil
	case parts[3] == "":
		month, _ := strconv.Atoi(parts[2])
		if month < 1 || month > 12 {
			return civil.Date{}, fmt.Errorf("%w: %q has no month %d", ErrMalformedDate, value, month)
		}
		// December + 1 rolls over into January of the next year.
		firstOfNext := civil.Date{Year: year, Month: time.Month(month) + 1, Day: 1}
		return firstOfNext.AddDays(-1), nil
	}

	d, err := civil.ParseDate(value)
	if err != nil {
		return civil.Date{}, fmt.Errorf("%w: %q: %v", ErrMalformedDate, value, err)
	}

	return d, nil
}
