package model

import "math"

// CountersSummary tallies check outcomes for one component on one date.
type CountersSummary struct {
	NoData    int `json:"noData"`
	Failed    int `json:"failed"`
	Warning   int `json:"warning"`
	Succeeded int `json:"succeeded"`
}

func (s CountersSummary) Total() int {
	return s.NoData + s.Failed + s.Warning + s.Succeeded
}

// Score is the weighted pass ratio in percent: succeeded checks count twice,
// warnings once. Zero when there is nothing to score.
func (s CountersSummary) Score() int {
	denominator := 2*s.Succeeded + 2*s.Failed + s.Warning
	if denominator == 0 {
		return 0
	}
	return int(math.Round(100 * float64(2*s.Succeeded) / float64(denominator)))
}

// Add sums another summary into s element-wise.
func (s *CountersSummary) Add(other CountersSummary) {
	s.NoData += other.NoData
	s.Failed += other.Failed
	s.Warning += other.Warning
	s.Succeeded += other.Succeeded
}

// Tally counts n results with the given value for a check of the given severity.
// Failures of non critical/high checks are warnings.
func (s *CountersSummary) Tally(value CheckValue, severity Severity, n int) {
	switch value {
	case CheckValueFailed:
		if severity == SeverityCritical || severity == SeverityHigh {
			s.Failed += n
		} else {
			s.Warning += n
		}
	case CheckValueSucceeded:
		s.Succeeded += n
	default:
		s.NoData += n
	}
}
