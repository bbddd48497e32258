package facematch

import (
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	tests := []struct {
		name     string
		bbox1    []float64
		bbox2    []float64
		expected float64
	}{
		{
			name:     "identical boxes",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{0, 0, 10, 10},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{20, 20, 30, 30},
			expected: 0.0,
		},
		{
			name:     "touching edges",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{10, 0, 20, 10},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{5, 5, 15, 15},
			expected: 25.0 / 175.0, // intersection=25, union=100+100-25
		},
		{
			name:     "one inside other",
			bbox1:    []float64{0, 0, 20, 20},
			bbox2:    []float64{5, 5, 15, 15},
			expected: 100.0 / 400.0,
		},
		{
			name:     "invalid bbox1",
			bbox1:    []float64{0, 0, 10},
			bbox2:    []float64{0, 0, 10, 10},
			expected: 0.0,
		},
		{
			name:     "empty bboxes",
			bbox1:    []float64{},
			bbox2:    []float64{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeIoU(tt.bbox1, tt.bbox2)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ComputeIoU(%v, %v) = %v, want %v", tt.bbox1, tt.bbox2, result, tt.expected)
			}
		})
	}
}

func TestDisplayRelativeBBox(t *testing.T) {
	tests := []struct {
		name        string
		bbox        []float64
		width       int // raw file width from PhotoPrism
		height      int // raw file height from PhotoPrism
		orientation int
		expected    []float64
	}{
		{
			name:        "orientation 1 (normal), no dimension swap",
			bbox:        []float64{100, 200, 300, 400},
			width:       1000,
			height:      800,
			orientation: 1,
			expected:    []float64{0.1, 0.25, 0.2, 0.25}, // x, y, w, h
		},
		{
			name:        "orientation 3 (180 rotation), no dimension swap",
			bbox:        []float64{100, 200, 300, 400},
			width:       1000,
			height:      800,
			orientation: 3,
			expected:    []float64{0.1, 0.25, 0.2, 0.25},
		},
		{
			name:        "orientation 6 (90 CW), display dimensions swapped",
			bbox:        []float64{100, 200, 300, 400},
			width:       1000, // raw width of the landscape file
			height:      800,
			orientation: 6,
			// detector saw the rotated 800x1000 image, so divide by those
			expected: []float64{0.125, 0.2, 0.25, 0.2},
		},
		{
			name:        "orientation 8 (90 CCW), display dimensions swapped",
			bbox:        []float64{100, 200, 300, 400},
			width:       1000,
			height:      800,
			orientation: 8,
			expected:    []float64{0.125, 0.2, 0.25, 0.2},
		},
		{
			name:        "orientation 5 (transpose), display dimensions swapped",
			bbox:        []float64{100, 200, 300, 400},
			width:       1000,
			height:      800,
			orientation: 5,
			expected:    []float64{0.125, 0.2, 0.25, 0.2},
		},
		{
			name:        "invalid bbox passed through",
			bbox:        []float64{100, 200},
			width:       1000,
			height:      800,
			orientation: 1,
			expected:    []float64{100, 200},
		},
		{
			name:        "zero width passed through",
			bbox:        []float64{100, 200, 300, 400},
			width:       0,
			height:      800,
			orientation: 1,
			expected:    []float64{100, 200, 300, 400},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DisplayRelativeBBox(tt.bbox, tt.width, tt.height, tt.orientation)
			if len(result) != len(tt.expected) {
				t.Errorf("DisplayRelativeBBox() length = %d, want %d", len(result), len(tt.expected))
				return
			}
			for i := range result {
				if math.Abs(result[i]-tt.expected[i]) > 0.0001 {
					t.Errorf("DisplayRelativeBBox()[%d] = %v, want %v (full result: %v)", i, result[i], tt.expected[i], result)
				}
			}
		})
	}
}

func TestCornerBBox(t *testing.T) {
	result := CornerBBox(0.1, 0.2, 0.3, 0.4)
	expected := []float64{0.1, 0.2, 0.4, 0.6}
	for i := range result {
		if math.Abs(result[i]-expected[i]) > 0.0001 {
			t.Errorf("CornerBBox() = %v, want %v", result, expected)
			break
		}
	}
}
