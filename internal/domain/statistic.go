package domain

import (
	"fmt"
	"strings"
)

// Statistic is a zonal summary statistic. The declaration order is the
// column order of every output table.
type Statistic int

const (
	Count Statistic = iota
	Minimum
	Mean
	Maximum
	Median
	Mode
	Std
	Sum
	Variance
)

// NumStatistics is the size of the Statistic enumeration.
const NumStatistics = int(Variance) + 1

var statisticNames = [NumStatistics]string{
	Count:    "COUNT",
	Minimum:  "MINIMUM",
	Mean:     "MEAN",
	Maximum:  "MAXIMUM",
	Median:   "MEDIAN",
	Mode:     "MODE",
	Std:      "STD",
	Sum:      "SUM",
	Variance: "VARIANCE",
}

func (s Statistic) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Statistic(%d)", int(s))
	}
	return statisticNames[s]
}

// Valid reports whether s is a member of the enumeration.
func (s Statistic) Valid() bool {
	return s >= 0 && int(s) < NumStatistics
}

// MarshalText encodes s by name.
func (s Statistic) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: unknown statistic %d", ErrInvalidInput, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a statistic name.
func (s *Statistic) UnmarshalText(text []byte) error {
	v, err := ParseStatistic(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// AllStatistics returns every statistic in enumeration order.
func AllStatistics() []Statistic {
	out := make([]Statistic, NumStatistics)
	for i := range out {
		out[i] = Statistic(i)
	}
	return out
}

// ParseStatistic resolves a statistic name, case-insensitively.
func ParseStatistic(name string) (Statistic, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range statisticNames {
		if n == name {
			return Statistic(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown statistic %q", ErrInvalidInput, name)
}

// ParseStatistics parses a comma-separated statistic list. The result is
// deduplicated and sorted into enumeration order, so column order never
// depends on how the list was written.
func ParseStatistics(list string) ([]Statistic, error) {
	var seen [NumStatistics]bool
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := ParseStatistic(part)
		if err != nil {
			return nil, err
		}
		seen[s] = true
	}

	var out []Statistic
	for i, ok := range seen {
		if ok {
			out = append(out, Statistic(i))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no statistics selected", ErrInvalidInput)
	}
	return out, nil
}
