package latex

import (
	"math"
	"testing"
)

func TestDefaultLayoutConfig(t *testing.T) {
	cfg := DefaultLayoutConfig()
	if cfg.MarginMM <= 0 {
		t.Error("margin should be positive")
	}
	if cfg.Columns != 5 {
		t.Errorf("expected 5 columns, got %d", cfg.Columns)
	}
}

func TestContentWidth(t *testing.T) {
	cfg := DefaultLayoutConfig()
	// 210 - 2*15 = 180
	expected := 180.0
	got := cfg.ContentWidth()
	if math.Abs(got-expected) > 0.01 {
		t.Errorf("ContentWidth: expected %.2f, got %.2f", expected, got)
	}
}

func TestCanvasHeight(t *testing.T) {
	cfg := DefaultLayoutConfig()
	// 297 - 2*15 - 6 - 8 = 253
	expected := 253.0
	got := cfg.CanvasHeight()
	if math.Abs(got-expected) > 0.01 {
		t.Errorf("CanvasHeight: expected %.2f, got %.2f", expected, got)
	}
}

func TestZonesHeight(t *testing.T) {
	cfg := DefaultLayoutConfig()
	// Top margin(15) + header(6) + canvas(253) + footer(8) + bottom margin(15) = 297
	total := cfg.MarginMM + cfg.HeaderHeightMM + cfg.CanvasHeight() + cfg.FooterHeightMM + cfg.MarginMM
	if math.Abs(total-PageH) > 0.01 {
		t.Errorf("zones should sum to page height: got %.2f, expected %.2f", total, PageH)
	}
}

func TestCellWidth(t *testing.T) {
	cfg := DefaultLayoutConfig()
	// (180 - 4*4) / 5 = 164 / 5 = 32.8
	expected := 32.8
	got := cfg.CellWidth()
	if math.Abs(got-expected) > 0.01 {
		t.Errorf("CellWidth: expected %.2f, got %.2f", expected, got)
	}
}

func TestCellHeight(t *testing.T) {
	cfg := DefaultLayoutConfig()
	// 32.8 + 4 = 36.8
	expected := 36.8
	got := cfg.CellHeight()
	if math.Abs(got-expected) > 0.01 {
		t.Errorf("CellHeight: expected %.2f, got %.2f", expected, got)
	}
}

func TestRowsFor(t *testing.T) {
	cfg := DefaultLayoutConfig()
	tests := []struct {
		name     string
		height   float64
		expected int
	}{
		// (253 + 4) / (36.8 + 4) = 6.29 → 6
		{"full canvas", cfg.CanvasHeight(), 6},
		// (239 + 4) / 40.8 = 5.95 → 5
		{"canvas minus heading", cfg.CanvasHeight() - PersonHeadingHeightMM, 5},
		{"one row exactly", 36.8, 1},
		{"too small for a row", 20.0, 0},
		{"zero height", 0, 0},
		{"negative height", -50.0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.RowsFor(tt.height)
			if got != tt.expected {
				t.Errorf("RowsFor(%.1f): expected %d, got %d", tt.height, tt.expected, got)
			}
		})
	}
}

func TestCellsPerPage(t *testing.T) {
	cfg := DefaultLayoutConfig()
	// 6 rows * 5 columns
	if got := cfg.CellsPerPage(false); got != 30 {
		t.Errorf("CellsPerPage(false): expected 30, got %d", got)
	}
	// Heading costs one row: 5 rows * 5 columns
	if got := cfg.CellsPerPage(true); got != 25 {
		t.Errorf("CellsPerPage(true): expected 25, got %d", got)
	}
}

func TestGridFitsCanvas(t *testing.T) {
	cfg := DefaultLayoutConfig()
	const eps = 0.01

	// 6 rows: 6*36.8 + 5*4 = 240.8 must fit into 253
	rows := cfg.RowsFor(cfg.CanvasHeight())
	used := float64(rows)*cfg.CellHeight() + float64(rows-1)*cfg.CellGapMM
	if used > cfg.CanvasHeight()+eps {
		t.Errorf("grid height %.2f exceeds canvas height %.2f", used, cfg.CanvasHeight())
	}

	// One more row would overflow
	overflow := float64(rows+1)*cfg.CellHeight() + float64(rows)*cfg.CellGapMM
	if overflow <= cfg.CanvasHeight() {
		t.Errorf("RowsFor is not maximal: %d+1 rows (%.2f) still fit %.2f", rows, overflow, cfg.CanvasHeight())
	}
}

// --- ColOffset ---

func TestColOffset(t *testing.T) {
	cfg := DefaultLayoutConfig()
	const eps = 0.01

	tests := []struct {
		col      int
		expected float64
	}{
		{0, 0},
		{1, 36.8},
		{2, 73.6},
		{4, 147.2},
	}
	for _, tt := range tests {
		got := cfg.ColOffset(tt.col)
		if math.Abs(got-tt.expected) > eps {
			t.Errorf("ColOffset(%d): expected %.4f, got %.4f", tt.col, tt.expected, got)
		}
	}

	// Last column's right edge lands exactly on the content right edge
	rightEdge := cfg.ColOffset(cfg.Columns-1) + cfg.CellWidth()
	if math.Abs(rightEdge-cfg.ContentWidth()) > eps {
		t.Errorf("last column right edge: expected %.2f, got %.2f", cfg.ContentWidth(), rightEdge)
	}
}

// --- CellRect ---

func TestCellRect(t *testing.T) {
	cfg := DefaultLayoutConfig()
	const eps = 0.01

	t.Run("origin cell", func(t *testing.T) {
		r := cfg.CellRect(0, 0)
		if math.Abs(r.X) > eps || math.Abs(r.Y) > eps {
			t.Errorf("expected origin at (0, 0), got (%.2f, %.2f)", r.X, r.Y)
		}
		if math.Abs(r.W-32.8) > eps || math.Abs(r.H-32.8) > eps {
			t.Errorf("expected 32.8x32.8 crop, got %.2fx%.2f", r.W, r.H)
		}
	})

	t.Run("second row third column", func(t *testing.T) {
		r := cfg.CellRect(1, 2)
		// X = 2 * (32.8 + 4) = 73.6
		if math.Abs(r.X-73.6) > eps {
			t.Errorf("expected X=73.60, got %.2f", r.X)
		}
		// Y = 1 * (36.8 + 4) = 40.8
		if math.Abs(r.Y-40.8) > eps {
			t.Errorf("expected Y=40.80, got %.2f", r.Y)
		}
	})

	t.Run("crop is square", func(t *testing.T) {
		for row := range 3 {
			for col := range cfg.Columns {
				r := cfg.CellRect(row, col)
				if math.Abs(r.W-r.H) > eps {
					t.Errorf("cell (%d,%d): expected square crop, got %.2fx%.2f", row, col, r.W, r.H)
				}
			}
		}
	})
}
