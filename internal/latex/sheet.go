package latex

// Page dimensions in mm (A4 portrait).
const (
	PageW = 210.0
	PageH = 297.0
)

// PersonHeadingHeightMM is the vertical space reserved for the person
// heading on the first page of each person (rule + name + stats).
const PersonHeadingHeightMM = 14.0

// LayoutConfig holds the contact sheet grid and page zone configuration.
type LayoutConfig struct {
	MarginMM        float64 // 15mm on every side
	HeaderHeightMM  float64 // 6mm running header zone
	FooterHeightMM  float64 // 8mm folio zone
	Columns         int     // 5 crops per row
	CellGapMM       float64 // 4mm between cells
	CaptionHeightMM float64 // 4mm caption strip under each crop
}

// DefaultLayoutConfig returns the print-ready layout configuration.
func DefaultLayoutConfig() LayoutConfig {
	return LayoutConfig{
		MarginMM:        15.0,
		HeaderHeightMM:  6.0,
		FooterHeightMM:  8.0,
		Columns:         5,
		CellGapMM:       4.0,
		CaptionHeightMM: 4.0,
	}
}

// ContentWidth returns the usable horizontal space.
// 210 - 2*15 = 180mm.
func (c LayoutConfig) ContentWidth() float64 {
	return PageW - 2*c.MarginMM
}

// CanvasHeight returns the vertical space left for the crop grid.
// 297 - 2*15 - 6 - 8 = 253mm.
func (c LayoutConfig) CanvasHeight() float64 {
	return PageH - 2*c.MarginMM - c.HeaderHeightMM - c.FooterHeightMM
}

// CellWidth returns the width of one grid cell.
// (180 - 4*4) / 5 = 32.8mm.
func (c LayoutConfig) CellWidth() float64 {
	return (c.ContentWidth() - float64(c.Columns-1)*c.CellGapMM) / float64(c.Columns)
}

// CellHeight returns the height of one grid cell: a square crop plus the
// caption strip.
func (c LayoutConfig) CellHeight() float64 {
	return c.CellWidth() + c.CaptionHeightMM
}

// RowsFor returns how many grid rows fit into the given canvas height.
func (c LayoutConfig) RowsFor(canvasHeight float64) int {
	rows := int((canvasHeight + c.CellGapMM) / (c.CellHeight() + c.CellGapMM))
	if rows < 0 {
		return 0
	}
	return rows
}

// CellsPerPage returns the grid capacity of a page; withHeading reduces
// the canvas by the person heading.
func (c LayoutConfig) CellsPerPage(withHeading bool) int {
	h := c.CanvasHeight()
	if withHeading {
		h -= PersonHeadingHeightMM
	}
	return c.RowsFor(h) * c.Columns
}

// ColOffset returns the X offset of a 0-indexed column from the content left edge.
func (c LayoutConfig) ColOffset(col int) float64 {
	return float64(col) * (c.CellWidth() + c.CellGapMM)
}

// SlotRect defines a cell position in the canvas zone (mm, origin at top-left of canvas).
type SlotRect struct {
	X, Y, W, H float64
}

// CellRect returns the crop rectangle of the cell at a 0-indexed grid
// position. The caption strip below the crop is not part of the rect.
func (c LayoutConfig) CellRect(row, col int) SlotRect {
	return SlotRect{
		X: c.ColOffset(col),
		Y: float64(row) * (c.CellHeight() + c.CellGapMM),
		W: c.CellWidth(),
		H: c.CellWidth(),
	}
}
