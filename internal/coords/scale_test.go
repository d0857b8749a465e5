package coords

import (
	"errors"
	"testing"
)

func TestScale(t *testing.T) {
	video := Range{0, 640}
	display := Range{0, 1280}

	tests := []struct {
		name  string
		value float64
		from  Range
		to    Range
		want  int
	}{
		{"midpoint", 320, video, display, 640},
		{"below range clamps", -10, video, display, 0},
		{"above range clamps", 700, video, display, 1280},
		{"quarter", 160, video, display, 320},
		{"fraction truncates down", 0.75, Range{0, 1}, Range{0, 10}, 7},
		{"negative truncates toward zero", 0.25, Range{0, 1}, Range{-10, 0}, -7},
		{"negative target start", 0, video, Range{-5, 5}, -5},
		{"reversed source range", 10, Range{20, 0}, Range{0, 100}, 50},
		{"reversed target range", 160, video, Range{1280, 0}, 960},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Scale(tt.value, tt.from, tt.to)
			if err != nil {
				t.Fatalf("Scale() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Scale(%v, %v, %v) = %d, want %d", tt.value, tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestScaleEmptyRange(t *testing.T) {
	_, err := Scale(5, Range{3, 3}, Range{0, 100})
	if !errors.Is(err, ErrEmptyRange) {
		t.Errorf("expected ErrEmptyRange, got %v", err)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want float64
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{11, 0, 10, 10},
		{0, 0, 0, 0},
	}

	for _, tt := range tests {
		if got := Clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("Clamp(%v, %v, %v) = %v, want %v", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}
