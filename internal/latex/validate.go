package latex

import (
	"fmt"
	"math"
)

// ValidationWarning describes a layout issue found during validation.
type ValidationWarning struct {
	PageNumber int
	CellIndex  int
	Message    string
	Severity   string // "error" or "warning"
}

// ValidatePages checks all pages for layout integrity issues.
func ValidatePages(sections []TemplateSection, config LayoutConfig) []ValidationWarning {
	var warnings []ValidationWarning
	for _, sec := range sections {
		for _, page := range sec.Pages {
			warnings = append(warnings, validatePage(page, config)...)
		}
	}
	return warnings
}

func validatePage(page TemplatePage, config LayoutConfig) []ValidationWarning {
	var warnings []ValidationWarning
	const eps = 0.01

	for i, cell := range page.Cells {
		if !cell.HasFace {
			continue
		}

		// Zone integrity: cell clip rect within canvas bounds
		if cell.ClipX < page.ContentLeftX-eps {
			warnings = append(warnings, ValidationWarning{
				PageNumber: page.PageNumber,
				CellIndex:  i,
				Message:    fmt.Sprintf("clip X (%.2f) extends past content left edge (%.2f)", cell.ClipX, page.ContentLeftX),
				Severity:   "error",
			})
		}
		if cell.ClipX+cell.ClipW > page.ContentRightX+eps {
			warnings = append(warnings, ValidationWarning{
				PageNumber: page.PageNumber,
				CellIndex:  i,
				Message:    fmt.Sprintf("clip right edge (%.2f) extends past content right edge (%.2f)", cell.ClipX+cell.ClipW, page.ContentRightX),
				Severity:   "error",
			})
		}
		if cell.ClipY < page.CanvasBottomY-eps {
			warnings = append(warnings, ValidationWarning{
				PageNumber: page.PageNumber,
				CellIndex:  i,
				Message:    fmt.Sprintf("clip bottom (%.2f) extends below canvas bottom (%.2f)", cell.ClipY, page.CanvasBottomY),
				Severity:   "error",
			})
		}
		if cell.ClipY+cell.ClipH > page.CanvasTopY+eps {
			warnings = append(warnings, ValidationWarning{
				PageNumber: page.PageNumber,
				CellIndex:  i,
				Message:    fmt.Sprintf("clip top (%.2f) extends above canvas top (%.2f)", cell.ClipY+cell.ClipH, page.CanvasTopY),
				Severity:   "error",
			})
		}
	}

	// Grid alignment: cell X offsets should match column edges
	warnings = append(warnings, validateGridAlignment(page, config)...)

	// No overlaps: check all pairs of cells
	for i := 0; i < len(page.Cells); i++ {
		ci := page.Cells[i]
		if !ci.HasFace {
			continue
		}
		for j := i + 1; j < len(page.Cells); j++ {
			cj := page.Cells[j]
			if !cj.HasFace {
				continue
			}
			if rectsOverlap(ci.ClipX, ci.ClipY, ci.ClipW, ci.ClipH, cj.ClipX, cj.ClipY, cj.ClipW, cj.ClipH, eps) {
				warnings = append(warnings, ValidationWarning{
					PageNumber: page.PageNumber,
					CellIndex:  i,
					Message:    fmt.Sprintf("cell %d overlaps with cell %d", i, j),
					Severity:   "error",
				})
			}
		}
	}

	return warnings
}

// validateGridAlignment checks that each cell's X offset aligns with a column edge.
func validateGridAlignment(page TemplatePage, config LayoutConfig) []ValidationWarning {
	var warnings []ValidationWarning
	const eps = 0.01

	// Build set of valid column offsets (relative to content left)
	colOffsets := make([]float64, config.Columns)
	for c := range config.Columns {
		colOffsets[c] = config.ColOffset(c)
	}

	for i, cell := range page.Cells {
		if !cell.HasFace {
			continue
		}

		cellX := cell.ClipX - page.ContentLeftX
		matched := false
		for _, off := range colOffsets {
			if math.Abs(cellX-off) < eps {
				matched = true
				break
			}
		}
		if !matched {
			warnings = append(warnings, ValidationWarning{
				PageNumber: page.PageNumber,
				CellIndex:  i,
				Message:    fmt.Sprintf("cell X offset %.2f does not align with any column edge", cellX),
				Severity:   "warning",
			})
		}
	}
	return warnings
}

// rectsOverlap checks if two axis-aligned rectangles overlap with tolerance.
func rectsOverlap(x1, y1, w1, h1, x2, y2, w2, h2, eps float64) bool {
	if x1+w1 <= x2+eps || x2+w2 <= x1+eps {
		return false
	}
	if y1+h1 <= y2+eps || y2+h2 <= y1+eps {
		return false
	}
	return true
}
