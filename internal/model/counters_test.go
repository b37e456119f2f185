package model

import "testing"

func TestCountersSummary(t *testing.T) {
	tests := []struct {
		name      string
		summary   CountersSummary
		wantTotal int
		wantScore int
	}{
		{"empty", CountersSummary{}, 0, 0},
		{"only no data", CountersSummary{NoData: 5}, 5, 0},
		{"all succeeded", CountersSummary{Succeeded: 4}, 4, 100},
		{"all failed", CountersSummary{Failed: 3}, 3, 0},
		{"mixed", CountersSummary{NoData: 1, Failed: 1, Warning: 2, Succeeded: 3}, 7, 60},
		{"rounds down", CountersSummary{Succeeded: 1, Failed: 1, Warning: 2}, 4, 33},
		{"rounds half away from zero", CountersSummary{Succeeded: 1, Failed: 7}, 8, 13},
		{"warnings weigh half", CountersSummary{Succeeded: 1, Warning: 2}, 3, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.summary.Total(); got != tt.wantTotal {
				t.Errorf("Total() = %d, want %d", got, tt.wantTotal)
			}
			if got := tt.summary.Score(); got != tt.wantScore {
				t.Errorf("Score() = %d, want %d", got, tt.wantScore)
			}
		})
	}
}

func TestCountersSummary_Tally(t *testing.T) {
	var s CountersSummary
	s.Tally(CheckValueFailed, SeverityCritical, 1)
	s.Tally(CheckValueFailed, SeverityHigh, 2)
	s.Tally(CheckValueFailed, SeverityMedium, 3)
	s.Tally(CheckValueFailed, SeverityUnknown, 1)
	s.Tally(CheckValueSucceeded, SeverityLow, 4)
	s.Tally(CheckValueInProgress, SeverityHigh, 1)
	s.Tally(CheckValueNoData, SeverityHigh, 2)

	want := CountersSummary{NoData: 3, Failed: 3, Warning: 4, Succeeded: 4}
	if s != want {
		t.Errorf("Tally() = %+v, want %+v", s, want)
	}

	var sum CountersSummary
	sum.Add(s)
	sum.Add(CountersSummary{NoData: 1, Failed: 1, Warning: 1, Succeeded: 1})
	if sum.Total() != s.Total()+4 {
		t.Errorf("Add() total = %d, want %d", sum.Total(), s.Total()+4)
	}
}
