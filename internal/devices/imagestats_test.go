package devices

import (
	"math"
	"testing"
)

func TestMeanADU(t *testing.T) {
	if got := MeanADU(nil); got != 0 {
		t.Errorf("Expected 0 for empty image, got %f", got)
	}
	if got := MeanADU([]int32{100, 200, 300, 400}); got != 250 {
		t.Errorf("Expected 250, got %f", got)
	}
}

func TestMedianHFR(t *testing.T) {
	tests := []struct {
		name  string
		sigma float64
		stars [][2]int
		want  float64
	}{
		{"Sharp stars", 1.5, [][2]int{{30, 30}, {80, 40}, {50, 70}}, 1.86},
		{"Soft stars", 2.5, [][2]int{{30, 30}, {80, 40}, {50, 70}}, 3.12},
		{"Single star", 2.0, [][2]int{{50, 50}}, 2.49},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pixels, w, h := rowMajor(starField(100, 90, tt.sigma, tt.stars))
			got := MedianHFR(pixels, w, h)
			if math.Abs(got-tt.want) > 0.05 {
				t.Errorf("Expected HFR %.2f, got %.3f", tt.want, got)
			}
		})
	}
}

func TestMedianHFRWithoutStars(t *testing.T) {
	pixels, w, h := rowMajor(starField(64, 64, 2, nil))
	if got := MedianHFR(pixels, w, h); got != 0 {
		t.Errorf("Expected 0 for a blank frame, got %f", got)
	}

	// A lone hot pixel is not a star.
	pixels[32*64+32] = 60000
	if got := MedianHFR(pixels, w, h); got != 0 {
		t.Errorf("Expected hot pixel to be rejected, got %f", got)
	}

	if got := MedianHFR(pixels[:10], 5, 2); got != 0 {
		t.Errorf("Expected 0 for an image smaller than a star box, got %f", got)
	}
}

func TestBestFocus(t *testing.T) {
	tests := []struct {
		name  string
		curve []focusSample
		want  int
	}{
		{
			name:  "Symmetric V",
			curve: []focusSample{{900, 4}, {1000, 2}, {1100, 4}},
			want:  1000,
		},
		{
			name:  "Skewed toward inner side",
			curve: []focusSample{{900, 3}, {1000, 2}, {1100, 4}},
			want:  983,
		},
		{
			name:  "Minimum on edge",
			curve: []focusSample{{900, 1.5}, {1000, 2}, {1100, 3}},
			want:  900,
		},
		{
			name:  "Gap in samples",
			curve: []focusSample{{700, 4}, {1000, 2}, {1100, 4}},
			want:  1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bestFocus(tt.curve, 100); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}
