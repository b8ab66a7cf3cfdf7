package model

import "testing"

func TestPassed(t *testing.T) {
	tests := []struct {
		score, total int
		want         bool
	}{
		{7, 10, true},
		{69, 100, false},
		{70, 100, true},
		{126, 180, true},
		{125, 180, false},
		{2, 3, false},
		{3, 3, true},
		{0, 0, false},
		{5, -1, false},
	}
	for _, tt := range tests {
		if got := Passed(tt.score, tt.total); got != tt.want {
			t.Errorf("Passed(%d, %d) = %v, want %v", tt.score, tt.total, got, tt.want)
		}
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		score, total int
		want         int
	}{
		{7, 10, 70},
		{69, 100, 69},
		{2, 3, 67},
		{1, 3, 33},
		{1, 8, 13},
		{180, 180, 100},
		{0, 5, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := Percentage(tt.score, tt.total); got != tt.want {
			t.Errorf("Percentage(%d, %d) = %d, want %d", tt.score, tt.total, got, tt.want)
		}
	}
}
