package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStringSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{
			name:     "identical strings",
			a:        "EDF Paris",
			b:        "EDF Paris",
			expected: 100,
		},
		{
			name:     "case and spacing insensitive",
			a:        "  edf   PARIS ",
			b:        "EDF Paris",
			expected: 100,
		},
		{
			name:     "completely different",
			a:        "abcd",
			b:        "wxyz",
			expected: 0,
		},
		{
			name:     "one edit over six characters",
			a:        "orange",
			b:        "orangs",
			expected: 100 * (1 - 1.0/6.0),
		},
		{
			name:     "empty left side",
			a:        "",
			b:        "EDF",
			expected: 0,
		},
		{
			name:     "empty right side",
			a:        "EDF",
			b:        "",
			expected: 0,
		},
		{
			name:     "both empty",
			a:        "",
			b:        "",
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StringSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("StringSimilarity(%q, %q) = %v, expected %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestStringSimilaritySymmetry(t *testing.T) {
	pairs := [][2]string{
		{"EDF", "PRLV EDF PARIS"},
		{"Orange SA", "ORANGE FACTURE 12345"},
		{"Fournitures Dupont", "CARTE 1234 DUPONT"},
		{"abc", "xyz"},
	}

	for _, pair := range pairs {
		forward := StringSimilarity(pair[0], pair[1])
		backward := StringSimilarity(pair[1], pair[0])
		if forward != backward {
			t.Errorf("StringSimilarity(%q, %q) = %v but reversed = %v", pair[0], pair[1], forward, backward)
		}
	}
}

func TestDateProximityScore(t *testing.T) {
	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		other    time.Time
		window   int
		expected float64
	}{
		{"same day", base, 7, 100},
		{"same day different hours", base.Add(13 * time.Hour), 7, 100},
		{"one day apart", base.AddDate(0, 0, 1), 7, 95},
		{"three days apart", base.AddDate(0, 0, 3), 7, 80},
		{"five days apart", base.AddDate(0, 0, 5), 7, 70},
		{"seven days apart", base.AddDate(0, 0, 7), 7, 60},
		{"eight days outside window", base.AddDate(0, 0, 8), 7, 0},
		{"within a relaxed window", base.AddDate(0, 0, 12), 15, 60},
		{"date before the facture", base.AddDate(0, 0, -3), 7, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DateProximityScore(base, tt.other, tt.window)
			if got != tt.expected {
				t.Errorf("DateProximityScore = %v, expected %v", got, tt.expected)
			}

			reversed := DateProximityScore(tt.other, base, tt.window)
			if reversed != got {
				t.Errorf("DateProximityScore not symmetric: %v vs %v", got, reversed)
			}
		})
	}
}

func TestAmountProximityScore(t *testing.T) {
	tests := []struct {
		name      string
		a         float64
		b         float64
		tolerance float64
		expected  float64
	}{
		{"exact match", 118.50, 118.50, 2.0, 100},
		{"sign-insensitive", 118.50, -118.50, 2.0, 100},
		{"within half a percent", 1000, 1004, 2.0, 98},
		{"within one percent", 1000, 1008, 2.0, 95},
		{"within tolerance", 1000, 1015, 2.0, 85},
		{"outside tolerance", 1000, 1030, 2.0, 0},
		{"strict tolerance rejects one percent band overflow", 1000, 1015, 0.5, 0},
		{"both zero", 0, 0, 2.0, 100},
		{"one zero", 0, 50, 2.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := decimal.NewFromFloat(tt.a)
			b := decimal.NewFromFloat(tt.b)

			got := AmountProximityScore(a, b, tt.tolerance)
			if got != tt.expected {
				t.Errorf("AmountProximityScore(%v, %v, %v) = %v, expected %v",
					tt.a, tt.b, tt.tolerance, got, tt.expected)
			}
		})
	}
}
